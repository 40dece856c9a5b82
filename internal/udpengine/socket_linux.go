//go:build linux

// Package udpengine implements the single-threaded, non-blocking UDP
// request/response engine (spec.md section 4.7): one readiness-driven loop,
// one socket, dual FIFOs, and a dedicated stop wake-up object.
//
// Grounded on internal/netio/rawsock_linux.go's raw-fd technique -- reaching
// through syscall.RawConn.Control to call unix.SetsockoptInt directly on the
// kernel fd -- generalized here to own the whole socket lifecycle (create,
// bind, non-blocking recvfrom/sendto) via golang.org/x/sys/unix, since the
// readiness-multiplexer loop spec.md calls for needs raw EAGAIN-driven I/O
// that net.UDPConn's blocking Read/Write does not expose.
package udpengine

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// openSocket creates a non-blocking UDP socket bound to ip:port.
func openSocket(ip string, port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("udpengine: socket: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("udpengine: set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("udpengine: SO_REUSEADDR: %w", err)
	}

	addr, err := sockaddrFor(ip, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("udpengine: bind %s:%d: %w", ip, port, err)
	}

	return fd, nil
}

// sockaddrFor resolves ip into a unix.SockaddrInet4. Only IPv4 is supported,
// matching the string form server_ip takes in configuration (spec.md section 6).
func sockaddrFor(ip string, port uint16) (*unix.SockaddrInet4, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("udpengine: invalid server_ip %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, fmt.Errorf("udpengine: server_ip %q is not IPv4", ip)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], v4)
	return sa, nil
}

// addrString renders sa as "ip:port" for log messages, or "unknown" when sa
// is not an IPv4 sockaddr.
func addrString(sa unix.Sockaddr) string {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "unknown"
	}
	ip := net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3])
	return fmt.Sprintf("%s:%d", ip, in4.Port)
}
