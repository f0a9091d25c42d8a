// Package callback defines the tagged-union completion payload handed
// from the reactor to a caller, and the Func type the C-ABI shim
// (cmd/ioruntimeabi) and the pure-Go API (ioruntime) both implement
// against. Grounded on the shape of the teacher's
// internal/interfaces.Backend callback-style hooks, generalized to a
// single tagged completion record per SPEC_FULL.md §4.7.
package callback

import "github.com/ehrlich-b/ioruntime/internal/opcode"

// Result is the tagged completion payload delivered for one operation.
// Only the fields relevant to Shape are populated; the rest are zero.
type Result struct {
	// Op is the operation this result completes.
	Op opcode.Op

	// Value is the primary result: bytes transferred for I/O ops, the
	// new fd for Socket/Accept, 0 for ops with no positive result.
	Value int64

	// Errno is the positive errno value on failure (e.g. ECANCELED for
	// a cancelled op), or 0 on success.
	Errno int32

	// Buffer is populated for ShapeResultBuffer completions: the
	// caller-owned slice that was read into or written from, resliced
	// to the number of bytes actually transferred on success; on error
	// or cancellation it is the whole slice as submitted.
	Buffer []byte

	// Peer is populated for ShapeResultPeer completions (Accept):
	// the raw sockaddr bytes of the connecting peer.
	Peer []byte

	// NewFD is populated for ShapeResultNewFD completions (Socket,
	// Accept).
	NewFD int32
}

// Func is invoked exactly once per submitted operation, on a worker
// pool goroutine (the dispatcher hands each completion to the pool
// rather than running it on the reactor's goroutine). Implementations
// must not block: long work should be handed off.
type Func func(id uint64, res Result)

// NoOp is a Func that discards its result; used when a caller submits
// an op with a nil CompletionFunc.
func NoOp(uint64, Result) {}
