//go:build linux

package reactor

import "github.com/ehrlich-b/ioruntime/internal/logging"

// NewDefaultBackend prefers io_uring and falls back to epoll if the
// kernel doesn't support it (e.g. pre-5.1, or seccomp-filtered),
// mirroring the spec's two-backend design and the teacher's pattern
// of defaulting to the richer backend with a degraded fallback.
func NewDefaultBackend(entries uint32) (Backend, error) {
	if b, err := NewIOUringBackend(entries); err == nil {
		return b, nil
	} else {
		logging.Default().Warn("io_uring unavailable, falling back to epoll", "error", err)
	}
	return NewEpollBackend()
}
