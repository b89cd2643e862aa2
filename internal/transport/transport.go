// Package transport wraps UDP datagram sockets for the protocol's two
// addressing modes: direct unicast between known peers and local broadcast
// for unaddressed discovery.
package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"
)

// MaxDatagramSize is the largest datagram the protocol will read or write;
// every wire message fits comfortably within it.
const MaxDatagramSize = 1024

// PacketConn is the minimal surface internal/reliable and internal/peer
// need from a datagram socket, satisfied by *net.UDPConn.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
}

// Listen opens a UDP socket bound to addr (host:port, or :port to bind all
// interfaces).
func Listen(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return conn, nil
}

// ResolveAddr resolves a "host:port" peer address for direct addressing.
func ResolveAddr(addr string) (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	return udpAddr, nil
}

// BroadcastAddr builds the local IPv4 broadcast address for a port, used by
// a Joiner that does not yet know the Host's unicast address.
func BroadcastAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}
}

// EnableBroadcast sets SO_BROADCAST on the socket so it may send to the
// local broadcast address.
func EnableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("transport: syscall conn: %w", err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return fmt.Errorf("transport: control: %w", ctrlErr)
	}
	if sockErr != nil {
		return fmt.Errorf("transport: set SO_BROADCAST: %w", sockErr)
	}
	return nil
}
