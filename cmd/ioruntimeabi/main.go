// Command ioruntimeabi is the stable C-ABI shim described in
// spec.md §6: a process-wide singleton runtime exported as plain C
// functions, every one of them non-blocking and callback-terminated.
// This is the only file in the module that imports "C"; everything
// else is pure Go, exercised both through this shim and through
// ioruntime's own Go-facing API in submit.go.
package main

/*
#include <stdint.h>
#include <stddef.h>

typedef void (*ioruntime_result_cb)(int32_t result);
typedef void (*ioruntime_buf_cb)(int32_t result, uint8_t *buf, size_t buf_len);
typedef void (*ioruntime_peer_cb)(int32_t result, void *peer);

static inline void ioruntime_invoke_result_cb(ioruntime_result_cb cb, int32_t result) {
    if (cb != NULL) cb(result);
}
static inline void ioruntime_invoke_buf_cb(ioruntime_buf_cb cb, int32_t result, uint8_t *buf, size_t buf_len) {
    if (cb != NULL) cb(result, buf, buf_len);
}
static inline void ioruntime_invoke_peer_cb(ioruntime_peer_cb cb, int32_t result, void *peer) {
    if (cb != NULL) cb(result, peer);
}
*/
import "C"

import (
	"context"
	"sync"
	"time"
	"unsafe"

	ioruntime "github.com/ehrlich-b/ioruntime"
)

// rt is the process-wide singleton the spec's init/start/stop/exit
// calls operate on. Grounded on the teacher's single-Device-per-process
// assumption in backend.go (ublk-mem's main.go constructs exactly one
// Device), generalized here to a package-level guarded pointer instead
// of a CLI-owned local variable, since the ABI has no place to thread a
// handle through.
var (
	rtMu sync.Mutex
	rt   *ioruntime.Runtime
)

// negErrno packs a callback.Result into the ABI's single signed i32:
// non-negative success payload, or the negated errno (spec.md §6's
// "Result encoding").
func negErrno(res ioruntime.Result) int32 {
	if res.Errno != 0 {
		return -res.Errno
	}
	return int32(res.Value)
}

//export ioruntime_init
func ioruntime_init() {
	rtMu.Lock()
	defer rtMu.Unlock()
	if rt != nil {
		panic("ioruntime: already initialised")
	}
	r, err := ioruntime.Init(ioruntime.DefaultConfig())
	if err != nil {
		panic(err)
	}
	rt = r
}

//export ioruntime_try_init
func ioruntime_try_init() C.int32_t {
	rtMu.Lock()
	defer rtMu.Unlock()
	if rt != nil {
		return C.int32_t(-int32(ErrAlreadyInitialized))
	}
	r, err := ioruntime.Init(ioruntime.DefaultConfig())
	if err != nil {
		return C.int32_t(-int32(ErrInitFailed))
	}
	rt = r
	return 0
}

// ErrAlreadyInitialized and ErrInitFailed are the runtime's own
// synthetic ABI error codes for try_init, distinct from any kernel
// errno (mirroring spec.md §7's "the runtime introduces only one new
// code" for −ECANCELED, extended here for the one other case the ABI
// needs a code that has no kernel equivalent).
const (
	ErrAlreadyInitialized = 200
	ErrInitFailed         = 201
)

//export ioruntime_start
func ioruntime_start() {
	rtMu.Lock()
	r := rt
	rtMu.Unlock()
	if r == nil {
		panic("ioruntime: start called before init")
	}
	if err := r.Start(context.Background()); err != nil {
		panic(err)
	}
}

// ioruntime_stop signals the controller to stop accepting new
// submissions (Running -> Stopping) without waiting for in-flight
// operations to resolve, per spec.md §4.1's non-blocking stop().
// Callers must still call ioruntime_exit to release resources.
//
//export ioruntime_stop
func ioruntime_stop() {
	rtMu.Lock()
	r := rt
	rtMu.Unlock()
	if r == nil {
		return
	}
	r.Stop(context.Background())
}

// ioruntime_exit blocks until every in-flight operation has completed
// and every callback has returned, then joins the reactor and worker
// threads and releases the singleton, per spec.md §4.1's blocking
// exit(). Safe to call without a prior ioruntime_stop.
//
//export ioruntime_exit
func ioruntime_exit() {
	rtMu.Lock()
	r := rt
	rtMu.Unlock()
	if r == nil {
		return
	}
	r.Exit(context.Background())

	rtMu.Lock()
	rt = nil
	rtMu.Unlock()
}

func current() *ioruntime.Runtime {
	rtMu.Lock()
	defer rtMu.Unlock()
	return rt
}

// opIDOrZero converts a submit error into the ABI's "0 means rejected
// synchronously, cb still fires with the negated errno" convention
// (spec.md §7: "Reported synchronously as a negative result prior to
// returning an OpId, or via immediate callback invocation with a
// negated errno" — this shim picks the latter, uniformly, so every
// submit function's return type stays a plain OpId rather than a
// union of OpId-or-error).
func opIDOrZero(id ioruntime.OpId, err error, cb C.ioruntime_result_cb) C.uint64_t {
	if err != nil {
		C.ioruntime_invoke_result_cb(cb, -int32(ErrSubmitFailed))
		return 0
	}
	return C.uint64_t(id)
}

// ErrSubmitFailed is the synthetic code reported to cb when a
// submission is rejected before reaching the reactor (runtime not
// running, submission ring full after retry).
const ErrSubmitFailed = 202

// ioruntime_cancel requests cancellation of a previously submitted,
// still in-flight op (scenario 6 of spec.md §8). Not part of the
// nineteen-function list in §6 itself — spec.md never gives the ABI a
// way to learn an op's id if every submit function returns void, so
// every submit function below returns the OpId synchronously and this
// export is added to act on it, per SPEC_FULL.md §9's "silence is an
// invitation" supplement rule.
//
//export ioruntime_cancel
func ioruntime_cancel(id C.uint64_t) C.int32_t {
	if err := current().Cancel(ioruntime.OpId(id)); err != nil {
		return C.int32_t(-int32(ErrSubmitFailed))
	}
	return 0
}

//export ioruntime_shutdown
func ioruntime_shutdown(fd C.int32_t, how C.int32_t, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Shutdown(int32(fd), int(how), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_symlinkat
func ioruntime_symlinkat(newDirFd C.int32_t, target, linkpath *C.char, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Symlinkat(C.GoString(target), int32(newDirFd), C.GoString(linkpath), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_linkat
func ioruntime_linkat(oldDirFd C.int32_t, oldPath *C.char, newDirFd C.int32_t, newPath *C.char, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Linkat(int32(oldDirFd), C.GoString(oldPath), int32(newDirFd), C.GoString(newPath), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_fsync
func ioruntime_fsync(fd C.int32_t, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Fsync(int32(fd), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

// cBuf wraps a C-owned buffer as a Go slice without copying. The
// caller's memory must outlive the call per spec.md §8 invariant 2
// ("the buffer pointer passed to the callback equals the pointer
// submitted"): this shim never reallocates or copies the buffer, only
// borrows it for the duration of the op.
func cBuf(buf *C.uint8_t, bufLen C.size_t) []byte {
	if buf == nil || bufLen == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(bufLen))
}

//export ioruntime_write
func ioruntime_write(fd C.int32_t, buf *C.uint8_t, bufLen C.size_t, offset C.int64_t, cb C.ioruntime_buf_cb) C.uint64_t {
	b := cBuf(buf, bufLen)
	id, err := current().Write(int32(fd), b, int64(offset), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_buf_cb(cb, negErrno(res), buf, bufLen)
	})
	if err != nil {
		C.ioruntime_invoke_buf_cb(cb, -int32(ErrSubmitFailed), buf, bufLen)
		return 0
	}
	return C.uint64_t(id)
}

//export ioruntime_read
func ioruntime_read(fd C.int32_t, buf *C.uint8_t, bufLen C.size_t, offset C.int64_t, cb C.ioruntime_buf_cb) C.uint64_t {
	b := cBuf(buf, bufLen)
	id, err := current().Read(int32(fd), b, int64(offset), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_buf_cb(cb, negErrno(res), buf, bufLen)
	})
	if err != nil {
		C.ioruntime_invoke_buf_cb(cb, -int32(ErrSubmitFailed), buf, bufLen)
		return 0
	}
	return C.uint64_t(id)
}

//export ioruntime_truncate
func ioruntime_truncate(fd C.int32_t, length C.uint64_t, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Truncate(int32(fd), int64(length), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_socket
func ioruntime_socket(domain, ty, proto C.int32_t, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Socket(int(domain), int(ty), int(proto), func(_ ioruntime.OpId, res ioruntime.Result) {
		result := negErrno(res)
		if res.Errno == 0 {
			result = res.NewFD
		}
		C.ioruntime_invoke_result_cb(cb, result)
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_bind
func ioruntime_bind(fd C.int32_t, addr *C.uint8_t, addrLen *C.uint32_t, cb C.ioruntime_result_cb) C.uint64_t {
	n := uint32(*addrLen)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
	goLen := n
	id, err := current().Bind(int32(fd), buf, &goLen, func(_ ioruntime.OpId, res ioruntime.Result) {
		*addrLen = C.uint32_t(goLen)
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_listen
func ioruntime_listen(fd, backlog C.int32_t, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Listen(int32(fd), int(backlog), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_accept
func ioruntime_accept(fd C.int32_t, cb C.ioruntime_peer_cb) C.uint64_t {
	id, err := current().Accept(int32(fd), func(_ ioruntime.OpId, res ioruntime.Result) {
		result := negErrno(res)
		if res.Errno == 0 {
			result = res.NewFD
		}
		if res.Errno != 0 || len(res.Peer) == 0 {
			C.ioruntime_invoke_peer_cb(cb, result, nil)
			return
		}
		peer := C.malloc(C.size_t(len(res.Peer)))
		copy(unsafe.Slice((*byte)(peer), len(res.Peer)), res.Peer)
		C.ioruntime_invoke_peer_cb(cb, result, peer)
	})
	if err != nil {
		C.ioruntime_invoke_peer_cb(cb, -int32(ErrSubmitFailed), nil)
		return 0
	}
	return C.uint64_t(id)
}

//export ioruntime_connect
func ioruntime_connect(fd C.int32_t, addr *C.uint8_t, addrLen C.uint32_t, cb C.ioruntime_result_cb) C.uint64_t {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(addrLen))
	id, err := current().Connect(int32(fd), buf, func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_send
func ioruntime_send(fd C.int32_t, buf *C.uint8_t, bufLen C.size_t, flags C.int32_t, cb C.ioruntime_buf_cb) C.uint64_t {
	b := cBuf(buf, bufLen)
	id, err := current().Send(int32(fd), b, func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_buf_cb(cb, negErrno(res), buf, bufLen)
	})
	if err != nil {
		C.ioruntime_invoke_buf_cb(cb, -int32(ErrSubmitFailed), buf, bufLen)
		return 0
	}
	return C.uint64_t(id)
}

//export ioruntime_recv
func ioruntime_recv(fd C.int32_t, buf *C.uint8_t, bufLen C.size_t, flags C.int32_t, cb C.ioruntime_buf_cb) C.uint64_t {
	b := cBuf(buf, bufLen)
	id, err := current().Recv(int32(fd), b, func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_buf_cb(cb, negErrno(res), buf, bufLen)
	})
	if err != nil {
		C.ioruntime_invoke_buf_cb(cb, -int32(ErrSubmitFailed), buf, bufLen)
		return 0
	}
	return C.uint64_t(id)
}

//export ioruntime_close
func ioruntime_close(fd C.int32_t, cb C.ioruntime_result_cb) C.uint64_t {
	id, err := current().Close(int32(fd), func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

//export ioruntime_timeout
func ioruntime_timeout(durationMs C.int32_t, cb C.ioruntime_result_cb) C.uint64_t {
	r := current()
	if durationMs < 0 {
		C.ioruntime_invoke_result_cb(cb, -int32(ErrInvalidDuration))
		return 0
	}
	id, err := r.Timeout(time.Duration(int32(durationMs))*time.Millisecond, func(_ ioruntime.OpId, res ioruntime.Result) {
		C.ioruntime_invoke_result_cb(cb, negErrno(res))
	})
	return opIDOrZero(id, err, cb)
}

// ErrInvalidDuration is EINVAL on Linux, spelled out here so this file
// has no dependency on syscall just for one constant.
const ErrInvalidDuration = 22

func main() {}
