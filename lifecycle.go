package ioruntime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/ioruntime/internal/constants"
	"github.com/ehrlich-b/ioruntime/internal/logging"
	"github.com/ehrlich-b/ioruntime/internal/pending"
	"github.com/ehrlich-b/ioruntime/internal/reactor"
	"github.com/ehrlich-b/ioruntime/internal/worker"
)

// State is the runtime's lifecycle state, following the spec's
// Uninit -> Inited -> Running -> Stopping -> Exited progression.
// Grounded on the teacher's DeviceState (Created/Running/Stopped)
// in backend.go, extended with the Inited/Stopping transitional
// states the external C-ABI's separate init/start/stop/exit calls
// require.
type State int32

const (
	StateUninit State = iota
	StateInited
	StateRunning
	StateStopping
	StateExited
)

// String renders the state name for logging.
func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateInited:
		return "inited"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Runtime is the top-level handle: the worker pool, reactor, pending
// table, and metrics/observer for one running instance. Adapted from
// the teacher's Device in backend.go (there: one ublk block device
// with its queue runners; here: one async-I/O runtime with its
// worker pool and reactor).
type Runtime struct {
	cfg     Config
	table    *pending.Table
	pool     *worker.Pool
	reactor  *reactor.Reactor
	backend  reactor.Backend
	metrics  *Metrics
	observer Observer

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	logger *logging.Logger
}

// Init allocates the runtime's resources — reactor backend, pending
// table, timer wheel — without creating the worker pool or starting
// the reactor loop, transitioning from Uninit to Inited. Per spec.md
// §4.1, init() "creates reactor, pending-op table, timer wheel; does
// not yet create workers" — the worker pool and its goroutines are
// created by Start instead. Mirrors the separation the external C-ABI
// exposes between ioruntime_init and ioruntime_start.
func Init(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	backend, err := reactor.NewDefaultBackend(cfg.RingEntries)
	if err != nil {
		return nil, WrapError("Init", err)
	}

	table := pending.NewTable(constants.DefaultPendingTableInitialSize)

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	r := &Runtime{
		cfg:      *cfg,
		table:    table,
		backend:  backend,
		metrics:  metrics,
		observer: observer,
		logger:   logging.Default(),
	}
	r.reactor = reactor.New(backend, table)
	r.state.Store(int32(StateInited))
	return r, nil
}

// State returns the runtime's current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Start transitions Inited -> Running, launching the reactor's turn
// loop on its own goroutine. Returns ErrCodeAlreadyRunning if called
// twice.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if State(r.state.Load()) != StateInited {
		return NewError("Start", ErrCodeAlreadyRunning, "runtime already started or not initialized")
	}

	r.pool = worker.NewPool(&worker.Config{
		NumWorkers:       r.cfg.NumWorkers,
		Fairness:         r.cfg.WorkerFairness,
		InjectorCapacity: r.cfg.SubmissionRingCapacity,
	})
	r.reactor.SetPool(r.pool)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.reactor.Run(runCtx)

	if !r.awaitReactorStart() {
		cancel()
		r.cancel = nil
		return NewError("Start", ErrCodeBackendUnavail, "reactor did not complete its first turn before startup timeout")
	}

	r.state.Store(int32(StateRunning))
	r.logger.Info("runtime started", "workers", r.pool.NumWorkers())
	return nil
}

// awaitReactorStart polls for the reactor goroutine to finish its
// first turn, at RuntimeStartupPoll intervals, bounded by
// RuntimeStartupTimeout. Reports whether it started in time.
func (r *Runtime) awaitReactorStart() bool {
	deadline := time.Now().Add(constants.RuntimeStartupTimeout)
	ticker := time.NewTicker(constants.RuntimeStartupPoll)
	defer ticker.Stop()

	for {
		select {
		case <-r.reactor.Started():
			return true
		case <-ticker.C:
			if time.Now().After(deadline) {
				select {
				case <-r.reactor.Started():
					return true
				default:
					return false
				}
			}
		}
	}
}

// Stop transitions Running -> Stopping: signals that no further
// submissions are welcome (enqueue starts rejecting new work with
// ErrCodeShuttingDown) but does not wait for in-flight operations to
// resolve and does not tear down the reactor, backend, or worker pool.
// Mirrors spec.md's stop(), which "signals workers to park after
// draining but does not wait". Safe to call more than once; calls
// after the first are no-ops. Call Exit to block until shutdown is
// complete and release the runtime's resources.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if State(r.state.Load()) != StateRunning {
		return nil
	}
	r.state.Store(int32(StateStopping))
	r.logger.Info("runtime stopping")
	return nil
}

// Exit transitions any post-init state (Inited, Running, or Stopping)
// to Exited, per spec.md §4.1's state machine. From Running or
// Stopping it first blocks until the pending-op table is empty and
// the timer wheel holds no non-tombstoned entries (per spec.md §3's
// shutdown-completion invariant), then cancels the reactor context and
// joins its goroutine — mirroring spec.md's exit(), which "blocks
// until every in-flight operation has completed and every callback has
// returned, then joins all threads". From Inited the reactor loop
// never ran and there is nothing to drain or join. Either way, the
// backend, worker pool (if Start ever created one), and metrics are
// released. Calling Exit without a prior Stop is permitted and implies
// one; calling Exit without a prior Start is also permitted. Safe to
// call once; subsequent calls are no-ops.
func (r *Runtime) Exit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := State(r.state.Load())
	if state == StateUninit || state == StateExited {
		return nil
	}

	if state == StateRunning || state == StateStopping {
		r.state.Store(int32(StateStopping))
		if !r.reactor.Drain(constants.RuntimeShutdownGrace) {
			r.logger.Warn("runtime exit: pending ops/timers still outstanding after drain timeout")
		}
		if r.cancel != nil {
			r.cancel()
		}
		r.reactor.Stop()
	}

	r.backend.Close()
	if r.pool != nil {
		r.pool.Stop()
	}
	r.metrics.Stop()

	r.state.Store(int32(StateExited))
	r.logger.Info("runtime exited")
	return nil
}

// Metrics returns the runtime's metrics instance.
func (r *Runtime) Metrics() *Metrics {
	return r.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the runtime's
// metrics.
func (r *Runtime) MetricsSnapshot() MetricsSnapshot {
	return r.metrics.Snapshot()
}
