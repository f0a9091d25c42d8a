package ioruntime

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Linux address-family numbers, matched against golang.org/x/sys/unix's
// AF_INET/AF_INET6 values so the wire format built here decodes cleanly
// in internal/reactor's decodeSockaddr.
const (
	afINET  = 2
	afINET6 = 10
)

// EncodeAddr renders an IP and port into the raw sockaddr byte layout
// Bind/Connect submissions carry in their Addr/Len fields. IPv4
// addresses produce a 16-byte buffer, IPv6 a 28-byte buffer.
func EncodeAddr(ip net.IP, port int) ([]byte, error) {
	if v4 := ip.To4(); v4 != nil {
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint16(buf[0:2], afINET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(port))
		copy(buf[4:8], v4)
		return buf, nil
	}
	if v6 := ip.To16(); v6 != nil {
		buf := make([]byte, 28)
		binary.LittleEndian.PutUint16(buf[0:2], afINET6)
		binary.BigEndian.PutUint16(buf[2:4], uint16(port))
		copy(buf[8:24], v6)
		return buf, nil
	}
	return nil, fmt.Errorf("ioruntime: invalid IP address %v", ip)
}

// DecodeAddr parses a peer address reported by Accept back into an IP
// and port.
func DecodeAddr(raw []byte) (net.IP, int, error) {
	if len(raw) < 2 {
		return nil, 0, fmt.Errorf("ioruntime: address buffer too short")
	}
	family := binary.LittleEndian.Uint16(raw[0:2])
	switch family {
	case afINET:
		if len(raw) < 8 {
			return nil, 0, fmt.Errorf("ioruntime: truncated IPv4 address")
		}
		port := int(binary.BigEndian.Uint16(raw[2:4]))
		return net.IP(raw[4:8]), port, nil
	case afINET6:
		if len(raw) < 24 {
			return nil, 0, fmt.Errorf("ioruntime: truncated IPv6 address")
		}
		port := int(binary.BigEndian.Uint16(raw[2:4]))
		return net.IP(raw[8:24]), port, nil
	default:
		return nil, 0, fmt.Errorf("ioruntime: unsupported address family %d", family)
	}
}
