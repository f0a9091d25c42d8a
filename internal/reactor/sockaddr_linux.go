//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// decodeSockaddr parses the raw sockaddr bytes a Bind/Connect
// submission carries into a unix.Sockaddr, supporting the two address
// families the spec's socket ops are expected to exercise. Callers
// needing AF_UNIX would extend this switch; omitted here since no
// SPEC_FULL.md component currently submits AF_UNIX binds/connects.
func decodeSockaddr(raw []byte) (unix.Sockaddr, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("sockaddr too short: %d bytes", len(raw))
	}
	family := binary.LittleEndian.Uint16(raw[0:2])
	switch family {
	case unix.AF_INET:
		if len(raw) < 16 {
			return nil, fmt.Errorf("sockaddr_in too short: %d bytes", len(raw))
		}
		sa := &unix.SockaddrInet4{
			Port: int(binary.BigEndian.Uint16(raw[2:4])),
		}
		copy(sa.Addr[:], raw[4:8])
		return sa, nil
	case unix.AF_INET6:
		if len(raw) < 28 {
			return nil, fmt.Errorf("sockaddr_in6 too short: %d bytes", len(raw))
		}
		sa := &unix.SockaddrInet6{
			Port: int(binary.BigEndian.Uint16(raw[2:4])),
		}
		copy(sa.Addr[:], raw[8:24])
		return sa, nil
	default:
		return nil, fmt.Errorf("unsupported address family %d", family)
	}
}

// encodeSockaddr renders a unix.Sockaddr back into raw bytes, used to
// report a peer address to an Accept callback.
func encodeSockaddr(sa unix.Sockaddr) []byte {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(a.Port))
		copy(buf[4:8], a.Addr[:])
		return buf
	case *unix.SockaddrInet6:
		buf := make([]byte, 28)
		binary.LittleEndian.PutUint16(buf[0:2], unix.AF_INET6)
		binary.BigEndian.PutUint16(buf[2:4], uint16(a.Port))
		copy(buf[8:24], a.Addr[:])
		return buf
	default:
		return nil
	}
}
