//go:build linux

package gopher

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking IPv4 listening socket on all interfaces and
// returns it with the port it actually bound (useful when port is 0).
func listenTCP(port, backlog int) (fd int, bound int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("socket: %w", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fd, 0, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		return fd, 0, fmt.Errorf("bind port %d: %w", port, err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		return fd, 0, fmt.Errorf("listen: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fd, 0, fmt.Errorf("getsockname: %w", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		bound = in4.Port
	}
	return fd, bound, nil
}

// acceptConn accepts one pending connection as a non-blocking socket.
func acceptConn(lfd int) (int, string, error) {
	nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	return nfd, peerString(sa), nil
}

func peerString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	default:
		return "?"
	}
}

func readFd(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

// writeFd never raises SIGPIPE; a vanished peer surfaces as EPIPE.
func writeFd(fd int, p []byte) (int, error) {
	return unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

// wouldBlock reports whether err only means "try again on the next readiness".
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
