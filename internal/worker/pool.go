package worker

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/ioruntime/internal/constants"
	"github.com/ehrlich-b/ioruntime/internal/logging"
)

// Worker owns a single Chase-Lev deque and runs its own dedicated
// loop goroutine, mirroring the teacher's one-goroutine-per-queue
// ioLoop in internal/queue/runner.go (there pinned to a kernel queue;
// here pinned to a deque index).
type Worker struct {
	id       int
	deque    *Deque
	pool     *Pool
	rng      *rand.Rand
	parked   atomic.Bool
	wakeCh   chan struct{}
}

// Pool is the fixed-size set of Workers sharing a global injector
// queue for overflow pushes and cross-worker submission (e.g. the
// reactor delivering a completion callback to whichever worker is
// least busy).
type Pool struct {
	workers  []*Worker
	injector chan *Task
	fairness int
	logger   *logging.Logger
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// Config controls Pool construction.
type Config struct {
	// NumWorkers is the number of worker goroutines to run. Zero
	// selects runtime.GOMAXPROCS(0).
	NumWorkers int
	// Fairness is how many local-deque pops a worker performs before
	// checking the injector/steal path.
	Fairness int
	// InjectorCapacity bounds the shared overflow queue.
	InjectorCapacity int
	Logger           *logging.Logger
}

// DefaultConfig returns sensible worker pool defaults.
func DefaultConfig(numWorkers int) *Config {
	return &Config{
		NumWorkers:       numWorkers,
		Fairness:         constants.DefaultWorkerFairness,
		InjectorCapacity: constants.DefaultSubmissionRingCapacity,
		Logger:           logging.Default(),
	}
}

// NewPool constructs and starts a worker pool. Call Stop to shut it
// down; Stop blocks until all workers have exited their loops.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig(0)
	}
	n := cfg.NumWorkers
	if n == 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n < constants.MinWorkers {
		n = constants.MinWorkers
	}
	if n > constants.MaxWorkers {
		n = constants.MaxWorkers
	}
	p := &Pool{
		injector: make(chan *Task, cfg.InjectorCapacity),
		fairness: cfg.Fairness,
		logger:   cfg.Logger,
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	p.workers = make([]*Worker, n)
	for i := 0; i < n; i++ {
		w := &Worker{
			id:     i,
			deque:  NewDeque(constants.DefaultLocalQueueCapacity),
			pool:   p,
			rng:    rand.New(rand.NewSource(int64(i) + 1)),
			wakeCh: make(chan struct{}, 1),
		}
		p.workers[i] = w
	}
	p.wg.Add(n)
	for _, w := range p.workers {
		go w.loop()
	}
	return p
}

// NumWorkers returns the number of worker goroutines in the pool.
func (p *Pool) NumWorkers() int { return len(p.workers) }

// Submit enqueues a task on the shared injector and wakes the
// least-loaded worker to pick it up. A deque is pushed only by its
// owning worker, and the caller of Submit is never that owner, so
// Submit does not push onto a deque directly. If the injector is full,
// Submit blocks until a worker drains it or ctx is done.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	target := p.leastLoaded()
	select {
	case p.injector <- &t:
		target.wake()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitGlobal pushes directly to the shared injector queue, used by
// the reactor to hand off a completion callback without favoring any
// one worker's locality.
func (p *Pool) SubmitGlobal(ctx context.Context, t Task) error {
	select {
	case p.injector <- &t:
		p.wakeAny()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) leastLoaded() *Worker {
	best := p.workers[0]
	bestLen := best.deque.Len()
	for _, w := range p.workers[1:] {
		if l := w.deque.Len(); l < bestLen {
			best, bestLen = w, l
		}
	}
	return best
}

func (p *Pool) wakeAny() {
	for _, w := range p.workers {
		if w.parked.Load() {
			w.wake()
			return
		}
	}
}

// Stop signals every worker to drain and exit, then waits for them.
func (p *Pool) Stop() {
	if p.stopping.Swap(true) {
		return
	}
	close(p.injector)
	for _, w := range p.workers {
		w.wake()
	}
	p.wg.Wait()
}

func (w *Worker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// loop is the worker's dedicated event loop: pop local work up to the
// fairness budget, then drain the injector, then attempt to steal from
// a random peer, then park until woken. Panic recovery around task
// execution follows cloudwego/gopkg's concurrency/gopool convention of
// recovering and logging rather than letting one bad task take down
// the whole pool.
func (w *Worker) loop() {
	defer w.pool.wg.Done()
	for {
		ran := 0
		for ran < w.pool.fairness {
			t := w.deque.PopBottom()
			if t == nil {
				break
			}
			w.run(*t)
			ran++
		}

		if t, ok := w.tryInjector(); ok {
			w.run(*t)
			continue
		}

		if t := w.trySteal(); t != nil {
			w.run(*t)
			continue
		}

		if w.pool.stopping.Load() {
			return
		}

		w.park()
		if w.pool.stopping.Load() && w.deque.Len() == 0 {
			if _, ok := w.tryInjector(); !ok {
				return
			}
		}
	}
}

func (w *Worker) tryInjector() (*Task, bool) {
	select {
	case t, ok := <-w.pool.injector:
		if !ok {
			return nil, false
		}
		return t, true
	default:
		return nil, false
	}
}

// trySteal makes up to DefaultStealAttempts*N attempts (the spec's
// documented default, N being the pool size) at a random victim,
// claiming up to half of whichever victim's deque yields first: one
// task is run immediately and the rest are pushed onto the thief's own
// deque for later local pops and further stealing.
func (w *Worker) trySteal() *Task {
	n := len(w.pool.workers)
	if n <= 1 {
		return nil
	}
	attempts := constants.DefaultStealAttempts * n
	start := w.rng.Intn(n)
	for i := 0; i < attempts; i++ {
		victim := w.pool.workers[(start+i)%n]
		if victim == w {
			continue
		}
		stolen := victim.deque.StealHalf()
		if stolen == nil {
			continue
		}
		for _, t := range stolen[1:] {
			w.deque.PushBottom(t)
		}
		return stolen[0]
	}
	return nil
}

func (w *Worker) park() {
	w.parked.Store(true)
	<-w.wakeCh
	w.parked.Store(false)
}

func (w *Worker) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Errorf("worker %d: task panic: %v", w.id, r)
		}
	}()
	t()
}
