/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package acceptor listens on one TCP address and hands accepted
// connections to a new-connection callback. It runs entirely on the loop
// that owns its Channel — accept4 is called in a tight loop on every
// readable event until it drains or errors.
package acceptor

import (
	"net"

	"go.osspkg.com/errors"
	"go.osspkg.com/reactor/netlog"
	"golang.org/x/sys/unix"

	"go.osspkg.com/reactor/channel"
	"go.osspkg.com/reactor/sock"
)

// NewConnectionFunc is invoked once per accepted connection with its raw
// fd (already non-blocking, close-on-exec) and the peer's address.
type NewConnectionFunc func(fd int, peer net.Addr)

// Acceptor owns a listening socket and the Channel watching it for
// readability. Construct with New, wire OnNewConnection, then call
// EnableListening once its Channel has been added to a running loop.
type Acceptor struct {
	listenFD int
	ch       *channel.Channel

	onNewConnection NewConnectionFunc

	// idleFD is a pre-reserved spare descriptor, closed and immediately
	// reopened around an EMFILE-triggered accept-and-drop.
	idleFD int

	listening bool
}

// New creates a listening socket bound to address and an unregistered
// Channel for it. Call channel-returning accessors to register it with an
// eventloop.Loop before EnableListening.
func New(loop channel.Updater, addr string, reusePort bool) (*Acceptor, error) {
	fd, err := sock.Listen(resolveListenAddr(addr), reusePort)
	if err != nil {
		return nil, err
	}

	idleFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "acceptor: reserve idle fd")
	}

	a := &Acceptor{listenFD: fd, idleFD: idleFD}
	a.ch = channel.New(loop, fd)
	a.ch.SetReadCallback(func(int64) { a.handleRead() })
	return a, nil
}

// Channel returns the Acceptor's Channel, for registration bookkeeping by
// callers that need to inspect it (tests, tcpserver diagnostics).
func (a *Acceptor) Channel() *channel.Channel { return a.ch }

// SetNewConnectionCallback installs the handler invoked per accepted
// connection.
func (a *Acceptor) SetNewConnectionCallback(fn NewConnectionFunc) { a.onNewConnection = fn }

// EnableListening enables readable interest on the listening socket. Must
// be called from the loop owning the Acceptor's Channel.
func (a *Acceptor) EnableListening() {
	a.listening = true
	a.ch.EnableReading()
}

// Listening reports whether EnableListening has been called.
func (a *Acceptor) Listening() bool { return a.listening }

// LocalAddr reports the address the Acceptor is bound to.
func (a *Acceptor) LocalAddr() net.Addr { return sock.LocalAddr(a.listenFD) }

func (a *Acceptor) handleRead() {
	for {
		fd, sa, err := sock.Accept4(a.listenFD)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EMFILE, unix.ENFILE:
				a.drainOneUnderFDPressure()
				return
			case unix.ECONNABORTED, unix.EINTR:
				continue
			default:
				netlog.Error("acceptor: accept4", "err", err, "fd", a.listenFD)
				return
			}
		}

		peer := sock.SockaddrToNetAddr(sa)
		if a.onNewConnection != nil {
			a.onNewConnection(fd, peer)
		} else {
			unix.Close(fd)
		}
	}
}

// drainOneUnderFDPressure mitigates EMFILE/ENFILE by giving up the
// reserve fd to accept and immediately dropping exactly one pending
// connection, then reclaiming a reserve, so the readable listener does
// not busy-loop the poller while the process is out of descriptors.
func (a *Acceptor) drainOneUnderFDPressure() {
	unix.Close(a.idleFD)
	fd, _, err := unix.Accept(a.listenFD)
	if err == nil {
		unix.Close(fd)
	}
	idleFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		netlog.Error("acceptor: failed to reclaim idle fd", "err", err)
		return
	}
	a.idleFD = idleFD
}

// Close disables listening interest, removes the Channel from its loop,
// and releases the listening and reserve file descriptors. The Channel
// must be removed before either fd is closed.
func (a *Acceptor) Close() error {
	a.ch.DisableAll()
	a.ch.Remove()
	unix.Close(a.idleFD)
	return unix.Close(a.listenFD)
}
