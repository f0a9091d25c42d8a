package reactor

import "github.com/ehrlich-b/ioruntime/internal/opcode"

// RawOpcode translates a public opcode.Op into the raw io_uring
// opcode byte (shared by both backends: epoll's eventsFor/runSync
// switch on the same constants). Cancel never reaches a Backend
// directly — it is resolved against the pending table without a
// kernel round-trip — so it maps to the no-op opcode.
func RawOpcode(op opcode.Op) uint8 {
	switch op {
	case opcode.Shutdown:
		return opShutdown
	case opcode.Read:
		return opRead
	case opcode.Write:
		return opWrite
	case opcode.Fsync:
		return opFsync
	case opcode.Truncate:
		return opFtruncate
	case opcode.Symlinkat:
		return opSymlinkat
	case opcode.Linkat:
		return opLinkat
	case opcode.Close:
		return opClose
	case opcode.Socket:
		return opSocket
	case opcode.Bind:
		return opBind
	case opcode.Listen:
		return opListen
	case opcode.Accept:
		return opAccept
	case opcode.Connect:
		return opConnect
	case opcode.Send:
		return opSend
	case opcode.Recv:
		return opRecv
	default:
		return opNop
	}
}
