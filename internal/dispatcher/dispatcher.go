package dispatcher

import (
	"context"

	"github.com/ehrlich-b/ioruntime/internal/callback"
	"github.com/ehrlich-b/ioruntime/internal/opcode"
	"github.com/ehrlich-b/ioruntime/internal/pending"
	"github.com/ehrlich-b/ioruntime/internal/worker"
)

// Completion is what the reactor hands the dispatcher once it has
// resolved a raw CQE/epoll event against the pending table: the Op
// record plus the raw result and errno the backend observed.
type Completion struct {
	ID     pending.OpId
	Op     *pending.Op
	Result int64
	Errno  int32
}

// Dispatch builds the shaped callback.Result for a completion and
// submits its invocation to the worker pool, so the reactor's own
// goroutine never runs arbitrary user code and can return immediately
// to draining the next completion. Accept's peer-address bytes are
// handed to the callback as Result.Peer; they are not drawn from or
// returned to the GetBuffer pool.
func Dispatch(ctx context.Context, pool *worker.Pool, c Completion) error {
	op := c.Op
	res := callback.Result{Op: op.Opcode}

	if op.Cancelled() {
		res.Errno = int32(ECANCELED)
	} else {
		res.Value = c.Result
		res.Errno = c.Errno
	}

	switch opcode.Shape(op.Opcode) {
	case opcode.ShapeResultBuffer:
		// Buffer ownership is returned on every terminal outcome,
		// including error and cancellation, not just success.
		if op.Buffer != nil {
			n := int(res.Value)
			if res.Errno == 0 && n >= 0 && n <= len(op.Buffer) {
				res.Buffer = op.Buffer[:n]
			} else {
				res.Buffer = op.Buffer
			}
		}
	case opcode.ShapeResultNewFD:
		if res.Errno == 0 {
			res.NewFD = int32(res.Value)
		}
	case opcode.ShapeResultPeer:
		if res.Errno == 0 {
			res.NewFD = int32(res.Value)
			res.Peer = op.Buffer
		}
	}

	id := c.ID
	cb := op.Callback
	return pool.SubmitGlobal(ctx, func() { cb(uint64(id), res) })
}

// ECANCELED is the errno value reported to a callback whose op was
// cancelled before the backend reported a result. Defined here (rather
// than imported from syscall) because a cancelled op may never have
// reached the kernel, so there is no real syscall.Errno to report.
const ECANCELED = 125
