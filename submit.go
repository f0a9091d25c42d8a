package ioruntime

import (
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"github.com/ehrlich-b/ioruntime/internal/callback"
	"github.com/ehrlich-b/ioruntime/internal/opcode"
	"github.com/ehrlich-b/ioruntime/internal/pending"
	"github.com/ehrlich-b/ioruntime/internal/reactor"
)

// OpId is the handle returned on submission and passed to the
// completion callback. Aliased from internal/pending so callers never
// import that package directly.
type OpId = pending.OpId

// Op identifies the kind of operation a completion belongs to.
type Op = opcode.Op

// Public names for the operations a caller can submit or observe in a
// completion, re-exported from internal/opcode.
const (
	OpShutdown  = opcode.Shutdown
	OpRead      = opcode.Read
	OpWrite     = opcode.Write
	OpFsync     = opcode.Fsync
	OpTruncate  = opcode.Truncate
	OpSymlinkat = opcode.Symlinkat
	OpLinkat    = opcode.Linkat
	OpClose     = opcode.Close
	OpSocket    = opcode.Socket
	OpBind      = opcode.Bind
	OpListen    = opcode.Listen
	OpAccept    = opcode.Accept
	OpConnect   = opcode.Connect
	OpSend      = opcode.Send
	OpRecv      = opcode.Recv
	OpTimeout   = opcode.Timeout
	OpCancel    = opcode.Cancel
)

// Result is what a CompletionFunc receives: the resolved value/errno
// plus whichever of Buffer/Peer/NewFD the op's CallbackShape carries.
type Result = callback.Result

// CompletionFunc is invoked, on a worker goroutine (never the reactor's
// own goroutine), once an operation resolves. The one exception is a
// Timeout with a negative duration, whose callback runs synchronously
// on the caller's goroutine before Timeout returns.
type CompletionFunc func(id OpId, res Result)

// submission bundles the pieces every op-submitting method needs to
// assemble a pending.Op and a reactor.Submission.
type submission struct {
	opcode opcode.Op
	fd     int32
	off    uint64
	buf    []byte
	arg    uint64
}

// enqueue registers cb against a fresh OpId, builds the backend
// submission, and hands it to the reactor, retrying briefly if the
// lock-free ring is momentarily full. This is the common path every
// public op method funnels through.
func (r *Runtime) enqueue(s submission, cb CompletionFunc) (OpId, error) {
	switch State(r.state.Load()) {
	case StateRunning:
		// proceed
	case StateStopping:
		return 0, NewError("Submit", ErrCodeShuttingDown, "runtime is shutting down")
	default:
		return 0, NewError("Submit", ErrCodeNotRunning, "runtime is not running")
	}

	submitTime := time.Now()
	op := &pending.Op{Opcode: s.opcode, Buffer: s.buf}
	op.Callback = func(rawID uint64, res callback.Result) {
		latency := time.Since(submitTime)
		success := res.Errno == 0
		var n uint64
		if success {
			n = uint64(res.Value)
			if n > uint64(1<<32) {
				n = 0
			}
		}
		r.observer.ObserveCompletion(res.Op, n, uint64(latency), success)
		if cb != nil {
			cb(OpId(rawID), res)
		}
	}

	id := r.table.Insert(op)

	var addr uintptr
	if len(s.buf) > 0 {
		addr = uintptr(unsafe.Pointer(&s.buf[0]))
	}
	sub := reactor.Submission{
		ID:     id,
		Op:     op,
		Fd:     s.fd,
		Off:    s.off,
		Addr:   addr,
		Len:    uint32(len(s.buf)),
		Arg:    s.arg,
		Opcode: reactor.RawOpcode(s.opcode),
	}

	const maxAttempts = 1000
	for attempt := 0; !r.reactor.Enqueue(sub); attempt++ {
		if attempt >= maxAttempts {
			r.table.Release(id)
			return 0, NewOpError("Submit", uint64(id), ErrCodeBackendUnavail, "submission ring full")
		}
		runtime.Gosched()
	}

	r.observer.ObserveSubmit()
	return id, nil
}

// Read submits a pread at off into buf. The completion's Result.Buffer
// is buf truncated to the number of bytes actually read.
func (r *Runtime) Read(fd int32, buf []byte, off int64, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Read, fd: fd, off: uint64(off), buf: buf}, cb)
}

// Write submits a pwrite of buf at off.
func (r *Runtime) Write(fd int32, buf []byte, off int64, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Write, fd: fd, off: uint64(off), buf: buf}, cb)
}

// Fsync flushes fd's data (and metadata) to storage.
func (r *Runtime) Fsync(fd int32, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Fsync, fd: fd}, cb)
}

// Truncate resizes fd to size bytes.
func (r *Runtime) Truncate(fd int32, size int64, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Truncate, fd: fd, off: uint64(size)}, cb)
}

// Symlinkat creates a symlink at linkpath (relative to newdirfd)
// pointing at target.
func (r *Runtime) Symlinkat(target string, newdirfd int32, linkpath string, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{
		opcode: opcode.Symlinkat,
		fd:     newdirfd,
		buf:    packPaths(target, linkpath),
	}, cb)
}

// Linkat creates a hard link at newpath (relative to newdirfd) for
// oldpath (relative to olddirfd).
func (r *Runtime) Linkat(olddirfd int32, oldpath string, newdirfd int32, newpath string, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{
		opcode: opcode.Linkat,
		fd:     newdirfd,
		off:    uint64(uint32(olddirfd)),
		buf:    packPaths(oldpath, newpath),
	}, cb)
}

// Close closes fd.
func (r *Runtime) Close(fd int32, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Close, fd: fd}, cb)
}

// Shutdown values for the how parameter of Shutdown, matching the
// kernel's SHUT_RD/SHUT_WR/SHUT_RDWR.
const (
	ShutRD   = 0
	ShutWR   = 1
	ShutRDWR = 2
)

// Shutdown shuts down part or all of the connected socket fd (how is
// one of ShutRD, ShutWR, ShutRDWR).
func (r *Runtime) Shutdown(fd int32, how int, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Shutdown, fd: fd, arg: uint64(uint32(how))}, cb)
}

// Socket creates a new socket; the completion's Result.NewFD carries
// the created descriptor.
func (r *Runtime) Socket(domain, typ, protocol int, cb CompletionFunc) (OpId, error) {
	arg := uint64(uint32(typ))<<32 | uint64(uint32(protocol))
	return r.enqueue(submission{opcode: opcode.Socket, off: uint64(uint32(domain)), arg: arg}, cb)
}

// Bind binds fd to the given address. addrLen follows SPEC_FULL.md §9's
// resolution of the spec's bind address-length Open Question: a
// pointer-only contract, dereferenced at submit time for the address
// length to bind (clamped to len(addr)) rather than accepted by-value.
// On success it is overwritten with that submitted length once the
// completion resolves (before cb is invoked); it is not re-read from
// the kernel. Callers must not read *addrLen until cb has run.
func (r *Runtime) Bind(fd int32, addr []byte, addrLen *uint32, cb CompletionFunc) (OpId, error) {
	n := uint32(len(addr))
	if addrLen != nil {
		n = *addrLen
		if int(n) > len(addr) {
			n = uint32(len(addr))
		}
	}
	wrapped := func(id OpId, res Result) {
		if addrLen != nil && res.Errno == 0 {
			*addrLen = n
		}
		if cb != nil {
			cb(id, res)
		}
	}
	return r.enqueue(submission{opcode: opcode.Bind, fd: fd, buf: addr[:n]}, wrapped)
}

// Listen marks fd as a passive socket with the given backlog.
func (r *Runtime) Listen(fd int32, backlog int, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Listen, fd: fd, arg: uint64(uint32(backlog))}, cb)
}

// Accept accepts a connection on the listening socket fd. The
// completion's Result.NewFD carries the accepted descriptor and
// Result.Peer carries the encoded peer address (see DecodeAddr).
func (r *Runtime) Accept(fd int32, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Accept, fd: fd}, cb)
}

// Connect initiates a connection from fd to addr.
func (r *Runtime) Connect(fd int32, addr []byte, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Connect, fd: fd, buf: addr}, cb)
}

// Send writes buf to the connected socket fd.
func (r *Runtime) Send(fd int32, buf []byte, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Send, fd: fd, buf: buf}, cb)
}

// Recv reads from the connected socket fd into buf.
func (r *Runtime) Recv(fd int32, buf []byte, cb CompletionFunc) (OpId, error) {
	return r.enqueue(submission{opcode: opcode.Recv, fd: fd, buf: buf}, cb)
}

// Timeout arms a one-shot deadline on the reactor's timer heap,
// invoking cb once d elapses. Unlike the other ops this never reaches
// a Backend; it is resolved entirely by the timer heap.
func (r *Runtime) Timeout(d time.Duration, cb CompletionFunc) (OpId, error) {
	switch State(r.state.Load()) {
	case StateRunning:
		// proceed
	case StateStopping:
		return 0, NewError("Timeout", ErrCodeShuttingDown, "runtime is shutting down")
	default:
		return 0, NewError("Timeout", ErrCodeNotRunning, "runtime is not running")
	}

	if d < 0 {
		// Resolved Open Question (SPEC_FULL.md §9): a negative duration
		// is rejected synchronously with -EINVAL delivered via immediate
		// callback invocation, never accepted and silently clamped.
		if cb != nil {
			cb(0, callback.Result{Op: opcode.Timeout, Errno: int32(syscall.EINVAL)})
		}
		return 0, nil
	}

	op := &pending.Op{Opcode: opcode.Timeout}
	submitTime := time.Now()
	op.Callback = func(rawID uint64, res callback.Result) {
		r.observer.ObserveCompletion(res.Op, 0, uint64(time.Since(submitTime)), res.Errno == 0)
		if cb != nil {
			cb(OpId(rawID), res)
		}
	}
	id := r.table.Insert(op)
	r.reactor.ArmTimer(id, submitTime.Add(d))
	r.observer.ObserveSubmit()
	return id, nil
}

// Cancel requests cancellation of a previously submitted, still
// in-flight operation. The operation's own callback still fires, with
// Result.Errno reporting ECANCELED, once the backend (or timer heap)
// actually resolves it. Returns ErrCodeUnknownOp if id is stale or
// already resolved.
func (r *Runtime) Cancel(id OpId) error {
	op := r.table.Lookup(id)
	if op == nil {
		return NewOpError("Cancel", uint64(id), ErrCodeUnknownOp, "operation not found or already completed")
	}
	if !opcode.Cancellable(op.Opcode) {
		return NewOpError("Cancel", uint64(id), ErrCodeInvalidParameters, "operation is not cancellable")
	}
	op.Cancel()
	if op.Opcode == opcode.Timeout {
		if r.reactor.CancelTimer(id) {
			// The deadline was disarmed before it fired, so Advance will
			// never drive this id's resolve/dispatch; do it here instead.
			r.reactor.ResolveCancelled(id)
		}
	}
	return nil
}

// packPaths concatenates two NUL-terminated strings into one buffer,
// the wire format internal/reactor's Symlinkat/Linkat handlers expect.
func packPaths(a, b string) []byte {
	buf := make([]byte, 0, len(a)+len(b)+2)
	buf = append(buf, a...)
	buf = append(buf, 0)
	buf = append(buf, b...)
	buf = append(buf, 0)
	return buf
}
