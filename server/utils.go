package server

import (
	"errors"
	"net"
	"net/netip"
	"syscall"
)

// isClosed reports the error a blocked receive gets when its socket is closed
// from another goroutine, the normal way loops end
func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// isTransient reports ICMP driven errors that some platforms surface on a
// later receive or send. The socket remains usable.
func isTransient(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func unmapAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func localPort(conn *net.UDPConn) int {
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}
