package reactor

import (
	"context"
	"runtime"
	"time"

	"github.com/ehrlich-b/ioruntime/internal/constants"
	"github.com/ehrlich-b/ioruntime/internal/dispatcher"
	"github.com/ehrlich-b/ioruntime/internal/logging"
	"github.com/ehrlich-b/ioruntime/internal/pending"
	"github.com/ehrlich-b/ioruntime/internal/timer"
	"github.com/ehrlich-b/ioruntime/internal/worker"
)

// Reactor owns the Backend, the pending-op table, the timer heap, and
// the submission ring, and runs the single-goroutine turn loop that
// ties them together. Grounded on the teacher's internal/queue/runner.go
// ioLoop, which similarly pins itself to an OS thread
// (runtime.LockOSThread) and alternates between draining completions
// and submitting new requests.
type Reactor struct {
	backend Backend
	table   *pending.Table
	wheel   *timer.Wheel
	ring    *SubRing
	pool    *worker.Pool
	logger  *logging.Logger

	stop    chan struct{}
	done    chan struct{}
	started chan struct{}
}

// New constructs a Reactor over the given Backend. The caller chooses
// the backend (io_uring on Linux when available, epoll otherwise) via
// NewDefaultBackend. Built with no worker pool yet, matching spec.md
// §4.1's init() contract ("creates reactor, pending-op table, timer
// wheel; does not yet create workers") — the caller must SetPool
// before Run, once Start actually creates the pool.
func New(backend Backend, table *pending.Table) *Reactor {
	return &Reactor{
		backend: backend,
		table:   table,
		wheel:   timer.New(),
		ring:    NewSubRing(constants.DefaultSubmissionRingCapacity),
		logger:  logging.Default(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// SetPool attaches the worker pool the dispatcher hands resolved
// completions to. Must be called before Run; Start does this after
// constructing the pool, which init() deliberately leaves uncreated.
func (r *Reactor) SetPool(pool *worker.Pool) {
	r.pool = pool
}

// Started returns a channel that closes once Run has completed its
// first turn (one submit-drain/wait/advance cycle). Start polls this
// (bounded by constants.RuntimeStartupTimeout) to confirm the reactor
// goroutine is actually turning before reporting StateRunning.
func (r *Reactor) Started() <-chan struct{} {
	return r.started
}

// Enqueue hands a submission to the reactor via the lock-free ring.
// Safe to call from any worker goroutine. Returns false if the ring is
// momentarily full; the caller should retry on the next scheduling
// quantum.
func (r *Reactor) Enqueue(s Submission) bool {
	return r.ring.Push(s)
}

// ArmTimer arms a one-shot deadline in the timer heap. fire is invoked
// on the reactor's own goroutine when the deadline elapses.
func (r *Reactor) ArmTimer(id pending.OpId, deadline time.Time) {
	r.wheel.Insert(uint64(id), deadline, func(raw uint64) {
		r.resolve(pending.OpId(raw), 0, 0)
	})
}

// CancelTimer disarms a previously armed timer.
func (r *Reactor) CancelTimer(id pending.OpId) bool {
	return r.wheel.Cancel(uint64(id))
}

// ResolveCancelled releases id's pending-table slot and dispatches its
// callback immediately, for the case where CancelTimer successfully
// disarmed the deadline before it fired: Advance will never call
// resolve for an id tombstoned out of the heap, so the caller
// (ioruntime.Runtime.Cancel) must drive the same release/dispatch path
// resolve would have taken once the deadline elapsed.
func (r *Reactor) ResolveCancelled(id pending.OpId) {
	r.resolve(id, 0, 0)
}

// Run pins the calling goroutine to its OS thread (mirroring the
// teacher's ioLoop) and runs turns until Stop is called.
func (r *Reactor) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)

	var batch []Submission
	first := true
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		batch = r.ring.DrainInto(batch[:0])
		if len(batch) > 0 {
			if err := r.backend.Submit(batch); err != nil {
				r.logger.Error("reactor: submit failed", "error", err)
			}
		}

		timeout := r.nextWait()
		completions, err := r.backend.Wait(timeout)
		if err != nil {
			r.logger.Error("reactor: wait failed", "error", err)
			if first {
				first = false
				close(r.started)
			}
			continue
		}
		for _, c := range completions {
			r.resolve(c.ID, c.Res, c.Errno)
		}

		r.wheel.Advance(time.Now())

		if first {
			first = false
			close(r.started)
		}
	}
}

// nextWait computes how long Wait should block: the time until the
// timer heap's next deadline (zero if it has already passed), capped
// at 100ms, or 100ms if no timer is armed. It does not look at the
// submission ring.
func (r *Reactor) nextWait() time.Duration {
	const maxWait = 100 * time.Millisecond
	deadline, ok := r.wheel.NextDeadline()
	if !ok {
		return maxWait
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

// resolve looks up id in the pending table, releases its slot, and
// dispatches its callback with the observed result.
func (r *Reactor) resolve(id pending.OpId, res int64, errno int32) {
	op := r.table.Release(id)
	if op == nil {
		return // stale completion for an already-released/reused slot
	}
	err := dispatcher.Dispatch(context.Background(), r.pool, dispatcher.Completion{
		ID:     id,
		Op:     op,
		Result: res,
		Errno:  errno,
	})
	if err != nil {
		r.logger.Error("reactor: dispatch failed", "error", err)
	}
}

// Drain polls until the pending-op table is empty and the timer wheel
// holds no non-tombstoned entries, or until timeout elapses, per
// spec.md's "Shutdown completes only when the pending-op table is
// empty and the timer wheel holds no non-tombstoned entries". Callers
// (ioruntime.Runtime.Exit) call this, while Run is still turning,
// before calling Stop so in-flight ops get a chance to actually
// resolve rather than being abandoned mid-flight.
func (r *Reactor) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for r.table.Len() > 0 || r.wheel.Len() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// Stop signals Run to exit and waits for it to finish its current
// turn.
func (r *Reactor) Stop() {
	close(r.stop)
	<-r.done
}
