/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package sock wraps the raw, non-blocking socket syscalls shared by
// acceptor and tcpconn: creating a listening socket with SO_REUSEADDR
// (optionally SO_REUSEPORT), accepting with accept4, and the small set of
// socket options tcpconn exposes to callers.
package sock

import (
	"net"
	"os/signal"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrUnsupportedAddr = errors.New("sock: unsupported address family")
)

// Listen creates a non-blocking, close-on-exec TCP listening socket bound
// to address (host:port, host may be empty for INADDR_ANY) and returns
// its file descriptor. SO_REUSEADDR is always set; SO_REUSEPORT only when
// reusePort is true, letting multiple acceptors share one address.
func Listen(address string, reusePort bool) (int, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return -1, errors.Wrapf(err, "sock: split address %q", address)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if host == "" {
			ip = net.IPv4zero
		} else {
			resolved, errR := net.ResolveIPAddr("ip", host)
			if errR != nil {
				return -1, errors.Wrapf(errR, "sock: resolve host %q", host)
			}
			ip = resolved.IP
		}
	}

	fd, sa, err := sockaddrFor(ip, port)
	if err != nil {
		return -1, err
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "sock: set reuseaddr")
	}
	if reusePort {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, errors.Wrapf(err, "sock: set reuseport")
		}
	}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "sock: bind")
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "sock: listen")
	}
	return fd, nil
}

func sockaddrFor(ip net.IP, port string) (int, unix.Sockaddr, error) {
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return -1, nil, errors.Wrapf(err, "sock: lookup port %q", port)
	}

	if v4 := ip.To4(); v4 != nil {
		fd, errS := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if errS != nil {
			return -1, nil, errors.Wrapf(errS, "sock: socket af_inet")
		}
		sa := &unix.SockaddrInet4{Port: p}
		copy(sa.Addr[:], v4)
		return fd, sa, nil
	}

	v6 := ip.To16()
	if v6 == nil {
		return -1, nil, ErrUnsupportedAddr
	}
	fd, errS := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if errS != nil {
		return -1, nil, errors.Wrapf(errS, "sock: socket af_inet6")
	}
	sa := &unix.SockaddrInet6{Port: p}
	copy(sa.Addr[:], v6)
	return fd, sa, nil
}

// Accept4 accepts one pending connection on listenFD, returning a
// non-blocking, close-on-exec file descriptor for the new socket along
// with the raw peer sockaddr.
func Accept4(listenFD int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return fd, sa, nil
}

// SetTCPNoDelay toggles TCP_NODELAY on fd.
func SetTCPNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return errors.Wrapf(unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v), "sock: set tcp_nodelay")
}

// SetKeepAlive toggles SO_KEEPALIVE on fd.
func SetKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return errors.Wrapf(unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v), "sock: set keepalive")
}

// SockaddrToNetAddr converts a raw accept4 sockaddr into a net.Addr for
// user-facing reporting.
func SockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch t := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP{}, t.Addr[:]...), Port: t.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP{}, t.Addr[:]...), Port: t.Port}
	default:
		return nil
	}
}

// LocalAddr reports the local address bound to fd.
func LocalAddr(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return SockaddrToNetAddr(sa)
}

// PeerAddr reports the remote address connected to fd.
func PeerAddr(fd int) net.Addr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return SockaddrToNetAddr(sa)
}

// IgnoreSIGPIPE ignores SIGPIPE process-wide, so that writes to a
// peer-closed socket surface as EPIPE from the syscall instead of killing
// the process. Call once at process startup.
func IgnoreSIGPIPE() {
	signal.Ignore(unix.SIGPIPE)
}
