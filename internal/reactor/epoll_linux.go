//go:build linux

package reactor

import (
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

)

// EpollBackend is the readiness-based fallback reactor backend for
// kernels or environments where io_uring is unavailable. Unlike
// IOUringBackend, the kernel never performs the I/O itself: epoll only
// reports that a fd is readable/writable, and this backend then makes
// the syscall synchronously on the reactor goroutine before building a
// RawCompletion. This mirrors how the teacher's queue runner treats
// completion-only io_uring as the happy path, with this backend
// standing in for its absence.
type EpollBackend struct {
	epfd int

	mu      sync.Mutex
	pending map[int32][]Submission // fd -> outstanding readiness-gated submissions
	ready   []RawCompletion        // synchronous-op results queued for the next Wait
}

// NewEpollBackend creates an epoll instance.
func NewEpollBackend() (*EpollBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollBackend{
		epfd:    fd,
		pending: make(map[int32][]Submission),
	}, nil
}

// eventsFor reports the epoll readiness event a submission needs
// before its syscall can succeed without blocking. opConnect is
// handled separately in submitConnect since its non-blocking connect()
// must be issued at submission time, not deferred to readiness.
// Write/Send are run synchronously rather than gated on EPOLLOUT:
// treating every write as immediately ready is the simplification this
// fallback backend makes in exchange for not tracking partial-write
// backpressure.
func eventsFor(opcode uint8) uint32 {
	switch opcode {
	case opRead, opReadv, opAccept, opRecv:
		return unix.EPOLLIN
	default:
		return 0
	}
}

// Submit either performs an op immediately (ops with no fd-readiness
// gate: write, send, fsync, close, truncate, link/symlink, socket,
// bind, listen, shutdown) or registers the fd with epoll and defers the
// actual syscall to Wait, once the fd reports readiness. An fd that
// epoll refuses with EPERM (a regular file or directory) never blocks,
// so its op is performed immediately as well.
func (b *EpollBackend) Submit(batch []Submission) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range batch {
		if s.Opcode == opConnect {
			b.submitConnect(s)
			continue
		}

		ev := eventsFor(s.Opcode)
		if ev == 0 {
			b.ready = append(b.ready, b.runSync(s))
			continue
		}
		if _, exists := b.pending[s.Fd]; !exists {
			event := unix.EpollEvent{Events: ev, Fd: s.Fd}
			if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(s.Fd), &event); err != nil {
				if err == unix.EPERM {
					b.ready = append(b.ready, b.runSync(s))
					continue
				}
				b.ready = append(b.ready, RawCompletion{ID: s.ID, Errno: int32(errnoOf(err))})
				continue
			}
		}
		b.pending[s.Fd] = append(b.pending[s.Fd], s)
	}
	return nil
}

// submitConnect issues the non-blocking connect() immediately: if it
// completes or fails synchronously, the result is ready right away;
// if it returns EINPROGRESS, readiness is awaited via EPOLLOUT and the
// real outcome is read back from SO_ERROR in runSync. Caller must hold
// b.mu.
func (b *EpollBackend) submitConnect(s Submission) {
	addrBytes := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
	sa, err := decodeSockaddr(addrBytes)
	if err != nil {
		b.ready = append(b.ready, RawCompletion{ID: s.ID, Errno: int32(syscall.EINVAL)})
		return
	}

	err = unix.Connect(int(s.Fd), sa)
	if err == nil {
		b.ready = append(b.ready, RawCompletion{ID: s.ID})
		return
	}
	if err != unix.EINPROGRESS {
		b.ready = append(b.ready, RawCompletion{ID: s.ID, Errno: errnoOf(err)})
		return
	}

	event := unix.EpollEvent{Events: unix.EPOLLOUT, Fd: s.Fd}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(s.Fd), &event); err != nil {
		b.ready = append(b.ready, RawCompletion{ID: s.ID, Errno: errnoOf(err)})
		return
	}
	b.pending[s.Fd] = append(b.pending[s.Fd], s)
}

// Wait returns any already-ready synchronous results immediately,
// otherwise blocks in epoll_wait up to timeout and performs the
// syscall for every fd reported ready.
func (b *EpollBackend) Wait(timeout time.Duration) ([]RawCompletion, error) {
	b.mu.Lock()
	if len(b.ready) > 0 {
		out := b.ready
		b.ready = nil
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.epfd, events, ms)
	if err != nil && err != unix.EINTR {
		return nil, err
	}

	var out []RawCompletion
	b.mu.Lock()
	for i := 0; i < n; i++ {
		fd := events[i].Fd
		subs := b.pending[fd]
		delete(b.pending, fd)
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
		for _, s := range subs {
			out = append(out, b.runSync(s))
		}
	}
	b.mu.Unlock()
	return out, nil
}

// runSync performs the actual syscall for a submission once its fd
// (if any) is known ready, or immediately for ops with no readiness
// gate. Caller must hold b.mu.
func (b *EpollBackend) runSync(s Submission) RawCompletion {
	var res int64
	var errno int32

	switch s.Opcode {
	case opRead:
		buf := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		var n int
		var err error
		if int64(s.Off) == -1 {
			n, err = unix.Read(int(s.Fd), buf)
		} else {
			n, err = unix.Pread(int(s.Fd), buf, int64(s.Off))
		}
		res, errno = int64(n), errnoOf(err)
	case opWrite:
		buf := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		var n int
		var err error
		if int64(s.Off) == -1 {
			n, err = unix.Write(int(s.Fd), buf)
		} else {
			n, err = unix.Pwrite(int(s.Fd), buf, int64(s.Off))
		}
		res, errno = int64(n), errnoOf(err)
	case opRecv:
		buf := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		n, _, err := unix.Recvfrom(int(s.Fd), buf, 0)
		res, errno = int64(n), errnoOf(err)
	case opSend:
		buf := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		err := unix.Send(int(s.Fd), buf, 0)
		if err == nil {
			res = int64(s.Len)
		}
		errno = errnoOf(err)
	case opAccept:
		nfd, peer, err := unix.Accept4(int(s.Fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		res, errno = int64(nfd), errnoOf(err)
		if errno == 0 && s.Op != nil {
			s.Op.Buffer = encodeSockaddr(peer)
		}
	case opConnect:
		// Connect readiness is reported via EPOLLOUT once the
		// non-blocking connect() issued at submission time resolves;
		// SO_ERROR carries the actual outcome.
		errVal, err := unix.GetsockoptInt(int(s.Fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			errno = errnoOf(err)
		} else if errVal != 0 {
			errno = int32(errVal)
		}
	case opFsync:
		err := unix.Fsync(int(s.Fd))
		errno = errnoOf(err)
	case opShutdown:
		err := unix.Shutdown(int(s.Fd), int(s.Arg))
		errno = errnoOf(err)
	case opClose:
		err := unix.Close(int(s.Fd))
		errno = errnoOf(err)
	case opSocket:
		domain := int(s.Off)
		typ := int(s.Arg>>32) | unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC
		proto := int(s.Arg & 0xffffffff)
		nfd, err := unix.Socket(domain, typ, proto)
		res, errno = int64(nfd), errnoOf(err)
	case opBind:
		addrBytes := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		sa, derr := decodeSockaddr(addrBytes)
		if derr != nil {
			errno = int32(syscall.EINVAL)
			break
		}
		err := unix.Bind(int(s.Fd), sa)
		errno = errnoOf(err)
	case opListen:
		err := unix.Listen(int(s.Fd), int(s.Arg))
		errno = errnoOf(err)
	case opFtruncate:
		err := unix.Ftruncate(int(s.Fd), int64(s.Off))
		errno = errnoOf(err)
	case opSymlinkat:
		buf := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		target, linkpath, ok := splitPackedPaths(buf)
		if !ok {
			errno = int32(syscall.EINVAL)
			break
		}
		err := unix.Symlinkat(target, int(s.Fd), linkpath)
		errno = errnoOf(err)
	case opLinkat:
		buf := unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Len))
		oldpath, newpath, ok := splitPackedPaths(buf)
		if !ok {
			errno = int32(syscall.EINVAL)
			break
		}
		olddirfd := int(s.Off)
		err := unix.Linkat(olddirfd, oldpath, int(s.Fd), newpath, 0)
		errno = errnoOf(err)
	default:
		errno = int32(syscall.ENOSYS)
	}

	return RawCompletion{ID: s.ID, Res: res, Errno: errno}
}

// splitPackedPaths splits the two null-terminated path strings that
// Symlinkat/Linkat submissions pack back-to-back into a single buffer
// (first path, NUL, second path, NUL), avoiding a two-pointer
// Submission field just for these two ops.
func splitPackedPaths(buf []byte) (first, second string, ok bool) {
	i := -1
	for j, c := range buf {
		if c == 0 {
			i = j
			break
		}
	}
	if i < 0 || i+1 >= len(buf) {
		return "", "", false
	}
	rest := buf[i+1:]
	j := -1
	for k, c := range rest {
		if c == 0 {
			j = k
			break
		}
	}
	if j < 0 {
		return "", "", false
	}
	return string(buf[:i]), string(rest[:j]), true
}

func errnoOf(err error) int32 {
	if err == nil {
		return 0
	}
	if errno, ok := err.(syscall.Errno); ok {
		return int32(errno)
	}
	if os.IsNotExist(err) {
		return int32(syscall.ENOENT)
	}
	return int32(syscall.EIO)
}

// Close releases the epoll fd.
func (b *EpollBackend) Close() error {
	return unix.Close(b.epfd)
}

var _ Backend = (*EpollBackend)(nil)
