package httpd

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/s00inx/webserv/internal/reactor"
)

const listenBacklog = 128

// listenSocket creates, binds and listens on a non-blocking IPv4 TCP
// socket, following the same Socket/Bind/Listen sequence as
// _examples/s00inx-goserver's engine/epoll.go, but through
// golang.org/x/sys/unix and with SO_REUSEADDR enabled so a restart can
// rebind the port immediately.
func listenSocket(address string, port int) (reactor.Handle, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return reactor.Invalid, fmt.Errorf("httpd: invalid listen address %q", address)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return reactor.Invalid, fmt.Errorf("httpd: only IPv4 listen addresses are supported, got %q", address)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return reactor.Invalid, fmt.Errorf("httpd: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return reactor.Invalid, fmt.Errorf("httpd: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return reactor.Invalid, fmt.Errorf("httpd: set nonblock: %w", err)
	}

	var addr [4]byte
	copy(addr[:], ip4)
	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: addr, Port: port}); err != nil {
		_ = unix.Close(fd)
		return reactor.Invalid, fmt.Errorf("httpd: bind %s:%d: %w", address, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return reactor.Invalid, fmt.Errorf("httpd: listen: %w", err)
	}

	return reactor.Handle(fd), nil
}

// acceptOne accepts a single pending connection off a non-blocking
// listen socket. A transient failure (no pending connection, or an
// interrupted accept) is reported via the bool return so the caller can
// log it and continue rather than tearing down the listener.
func acceptOne(listenFD reactor.Handle) (fd reactor.Handle, peer string, transient bool, err error) {
	nfd, sa, aerr := unix.Accept(int(listenFD))
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK || aerr == unix.EINTR || aerr == unix.ECONNABORTED {
			return reactor.Invalid, "", true, aerr
		}
		return reactor.Invalid, "", false, aerr
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return reactor.Invalid, "", true, err
	}
	return reactor.Handle(nfd), formatSockaddr(sa), false, nil
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), a.Port)
	default:
		return "unknown"
	}
}

// readHandle reads up to len(buf) bytes from a socket or pipe handle.
// The signed syscall return value is preserved through the negative-vs-
// zero-vs-positive test before any unsigned counter ever sees it, in
// contrast to a reference source bug where recv's return was assigned to
// an unsigned counter before its <0 check ever ran. Go's int is already
// signed, so this is preserved automatically as long as no caller
// narrows n before checking err.
func readHandle(h reactor.Handle, buf []byte) (int, error) {
	n, err := unix.Read(int(h), buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

func writeHandle(h reactor.Handle, buf []byte) (int, error) {
	n, err := unix.Write(int(h), buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// isWouldBlock reports whether err is the non-blocking "try again"
// signal a socket or pipe read/write raises when no data is available.
func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// closeHandle closes h, ignoring the Invalid sentinel. Every close of an
// accepted client or listen handle in this package goes through here;
// it keeps no record of closed handles, so each caller is responsible
// for closing a given handle only once.
func closeHandle(h reactor.Handle) error {
	if h == reactor.Invalid {
		return nil
	}
	return unix.Close(int(h))
}
