// Package reactor implements the runtime's I/O multiplexing core: a
// Backend abstraction over completion-based io_uring and
// readiness-based epoll, a lock-free MPSC submission ring workers push
// into, and the Reactor turn loop that drains completions, advances
// the timer heap, and hands resolved completions to the dispatcher.
//
// Grounded on the teacher's internal/queue/runner.go (the per-queue
// ioLoop: Prime, submitInitialFetchReq, processRequests,
// handleCompletion) for the turn structure, and on the raw io_uring
// syscall plumbing in the teacher's internal/uring/minimal.go and
// cloudwego/gopkg's internal/iouring package (reference only; that
// package is unimportable across module boundaries since it lives
// under another module's internal/, per Go's visibility rules).
package reactor

import (
	"time"

	"github.com/ehrlich-b/ioruntime/internal/pending"
)

// Submission is one operation ready to hand to the kernel: a
// pre-packed description plus the OpId the caller should get back on
// completion.
type Submission struct {
	ID     pending.OpId
	Op     *pending.Op
	Fd     int32
	Off    uint64
	Addr   uintptr
	Len    uint32
	Arg    uint64
	Opcode uint8
}

// RawCompletion is what a Backend reports once the kernel (or,
// for epoll, a synchronous syscall performed after a readiness
// notification) has resolved an operation.
type RawCompletion struct {
	ID    pending.OpId
	Res   int64
	Errno int32
}

// Backend is the interface both the io_uring and epoll
// implementations satisfy. A Reactor is constructed over exactly one
// Backend for its lifetime.
type Backend interface {
	// Submit hands a batch of submissions to the kernel. It may block
	// briefly to perform the enter/ctl syscall but must not wait for
	// completions.
	Submit(batch []Submission) error

	// Wait blocks up to timeout for at least one completion, or
	// returns immediately with whatever is already available. A
	// negative timeout blocks indefinitely; a zero timeout polls.
	Wait(timeout time.Duration) ([]RawCompletion, error)

	// Close releases kernel resources (ring fd, epoll fd, mmaps).
	Close() error
}
