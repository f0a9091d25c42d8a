// Package opcode enumerates the operations the runtime can submit and
// the shape of callback each one invokes on completion. Grounded on the
// teacher's internal/uapi/constants.go (UBLK_IO_OP_* enum) generalized
// from block-device I/O ops to the spec's socket/file/timer op set.
package opcode

// Op identifies the kind of operation encoded in a submission.
type Op uint8

const (
	// Shutdown shuts down part or all of a connected socket (SHUT_RD,
	// SHUT_WR, or SHUT_RDWR), per spec.md's shutdown(fd, how) op.
	Shutdown Op = iota
	// Read reads into a caller-owned buffer at a given offset.
	Read
	// Write writes a caller-owned buffer at a given offset.
	Write
	// Fsync flushes file data (and optionally metadata) to storage.
	Fsync
	// Truncate resizes a file to a given length.
	Truncate
	// Symlinkat creates a symbolic link relative to a directory fd.
	Symlinkat
	// Linkat creates a hard link relative to directory fds.
	Linkat
	// Close closes a file descriptor.
	Close
	// Socket creates a new socket.
	Socket
	// Bind binds a socket to a local address.
	Bind
	// Listen marks a bound socket as passive.
	Listen
	// Accept accepts an incoming connection on a listening socket.
	Accept
	// Connect initiates a connection to a remote address. Not present
	// in the distilled external-interface list but added per
	// SPEC_FULL.md §9 to make the socket op set usable from the client
	// side as well as the server side.
	Connect
	// Send writes a buffer to a connected socket.
	Send
	// Recv reads from a connected socket into a caller-owned buffer.
	Recv
	// Timeout arms a one-shot deadline managed by the timer heap.
	Timeout
	// Cancel requests cancellation of a previously submitted op by id.
	Cancel
)

// String renders the op name for logging.
func (o Op) String() string {
	switch o {
	case Shutdown:
		return "shutdown"
	case Read:
		return "read"
	case Write:
		return "write"
	case Fsync:
		return "fsync"
	case Truncate:
		return "truncate"
	case Symlinkat:
		return "symlinkat"
	case Linkat:
		return "linkat"
	case Close:
		return "close"
	case Socket:
		return "socket"
	case Bind:
		return "bind"
	case Listen:
		return "listen"
	case Accept:
		return "accept"
	case Connect:
		return "connect"
	case Send:
		return "send"
	case Recv:
		return "recv"
	case Timeout:
		return "timeout"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// CallbackShape describes the signature of the callback an op invokes,
// matching SPEC_FULL.md §4.7's four callback shapes.
type CallbackShape uint8

const (
	// ShapeResult invokes a callback with just (op id, result, errno).
	ShapeResult CallbackShape = iota
	// ShapeResultBuffer additionally carries the buffer operated on
	// (Read/Recv: bytes filled; Write/Send: bytes consumed).
	ShapeResultBuffer
	// ShapeResultPeer additionally carries a peer address and the
	// accepted fd (Accept).
	ShapeResultPeer
	// ShapeResultNewFD additionally carries a newly created fd
	// (Socket).
	ShapeResultNewFD
)

// Shape returns the callback shape for an op.
func Shape(o Op) CallbackShape {
	switch o {
	case Read, Write, Send, Recv:
		return ShapeResultBuffer
	case Accept:
		return ShapeResultPeer
	case Socket:
		return ShapeResultNewFD
	default:
		return ShapeResult
	}
}

// Cancellable reports whether an in-flight op of this kind may be
// cancelled via Cancel. Cancel itself is not cancellable.
func Cancellable(o Op) bool {
	return o != Cancel
}
