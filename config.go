package ioruntime

import (
	"runtime"

	"github.com/ehrlich-b/ioruntime/internal/constants"
)

// Config controls Runtime construction. Adapted from the teacher's
// DeviceParams/DefaultParams pattern in backend.go, generalized from
// ublk device knobs (queue depth, block size, discard alignment) to
// runtime knobs (worker count, ring sizes, fairness).
type Config struct {
	// NumWorkers is the number of scheduler worker goroutines. Zero
	// selects runtime.GOMAXPROCS(0).
	NumWorkers int

	// RingEntries is the depth of the reactor's SQE/CQE ring.
	RingEntries uint32

	// SubmissionRingCapacity bounds the worker pool's shared injector
	// queue, which carries completion callbacks to the workers. The
	// reactor's lock-free MPSC submission ring is always sized by
	// constants.DefaultSubmissionRingCapacity; this field does not
	// change it.
	SubmissionRingCapacity int

	// WorkerFairness bounds consecutive local-deque pops before a
	// worker checks the injector/steal path.
	WorkerFairness int

	// Observer receives per-operation metrics callbacks. Defaults to a
	// MetricsObserver backed by a fresh Metrics instance if nil.
	Observer Observer
}

// DefaultConfig returns sensible runtime defaults, one worker per
// logical CPU.
func DefaultConfig() *Config {
	return &Config{
		NumWorkers:             runtime.GOMAXPROCS(0),
		RingEntries:            constants.DefaultRingEntries,
		SubmissionRingCapacity: constants.DefaultSubmissionRingCapacity,
		WorkerFairness:         constants.DefaultWorkerFairness,
	}
}
