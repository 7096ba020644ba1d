/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package tcpconn implements the per-connection state machine: a
// Connecting/Connected/Disconnecting/Disconnected Connection wrapping one
// accepted socket, an input and output Buffer, and the Channel driving
// its read/write/close/error callbacks.
package tcpconn

import (
	"net"

	"go.osspkg.com/errors"
	"go.osspkg.com/reactor/netlog"
	"golang.org/x/sys/unix"

	"go.osspkg.com/reactor/buffer"
	"go.osspkg.com/reactor/channel"
	"go.osspkg.com/reactor/errs"
	"go.osspkg.com/reactor/sock"
)

// State is a Connection's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// DefaultHighWaterMark is the output buffer size, in bytes, above which
// the high-watermark callback fires once per crossing.
const DefaultHighWaterMark = 64 * 1024 * 1024

// ConnCallback reports a lifecycle transition (Connected or Disconnected).
type ConnCallback func(c *Connection)

// MessageCallback delivers newly readable bytes; the callee consumes them
// via in.Retrieve(n).
type MessageCallback func(c *Connection, in *buffer.Buffer, receivedAt int64)

// WriteCompleteCallback fires once the output buffer has fully drained
// after a Send.
type WriteCompleteCallback func(c *Connection)

// HighWaterMarkCallback fires when the output buffer crosses mark bytes
// while appending.
type HighWaterMarkCallback func(c *Connection, sizeAfterAppend int)

// CloseCallback fires once, after the connection callback reporting
// Disconnected, and is the only path that should remove the connection
// from an owning registry.
type CloseCallback func(c *Connection)

// Loop is the subset of eventloop.Loop a Connection needs: run-on-thread
// scheduling and the InLoopThread check used to decide whether Send can
// write directly. Declared as an interface to avoid an eventloop <-> tcpconn
// import cycle.
type Loop interface {
	RunInLoop(fn func())
	InLoopThread() bool
}

// Connection is one accepted TCP socket driven by a single eventloop.Loop.
// All mutating methods except Send and Shutdown/ForceClose must only be
// called from that loop's thread; the exceptions post to the loop.
type Connection struct {
	name string
	loop Loop
	fd   int
	ch   *channel.Channel

	state State

	local net.Addr
	peer  net.Addr

	in  *buffer.Buffer
	out *buffer.Buffer

	highWaterMark int

	connCB  ConnCallback
	msgCB   MessageCallback
	writeCB WriteCompleteCallback
	hwmCB   HighWaterMarkCallback
	closeCB CloseCallback

	ctx any

	alive bool
}

// New wraps an already-accepted, non-blocking fd. The Connection starts in
// StateConnecting; call ConnectEstablished once its Channel is registered
// on loop to transition to StateConnected and enable reading.
func New(loop Loop, updater channel.Updater, name string, fd int, local, peer net.Addr) *Connection {
	c := &Connection{
		name:          name,
		loop:          loop,
		fd:            fd,
		state:         StateConnecting,
		local:         local,
		peer:          peer,
		in:            buffer.New(),
		out:           buffer.New(),
		highWaterMark: DefaultHighWaterMark,
		alive:         true,
	}
	c.ch = channel.New(updater, fd)
	c.ch.SetReadCallback(c.handleRead)
	c.ch.SetWriteCallback(c.handleWrite)
	c.ch.SetCloseCallback(c.handleClose)
	c.ch.SetErrorCallback(c.handleError)
	c.ch.Tie(func() (any, bool) { return c, c.alive })

	sock.SetTCPNoDelay(fd, true)
	return c
}

// Name returns the connection's registry key ("listen_addr#id").
func (c *Connection) Name() string { return c.name }

// Loop returns the loop this connection is affine to, so an owning
// registry can post ConnectDestroyed back to the right thread.
func (c *Connection) Loop() Loop { return c.loop }

// Fd returns the underlying socket descriptor.
func (c *Connection) Fd() int { return c.fd }

// LocalAddr / PeerAddr report the connection's two endpoints.
func (c *Connection) LocalAddr() net.Addr { return c.local }
func (c *Connection) PeerAddr() net.Addr  { return c.peer }

// State reports the connection's current lifecycle stage.
func (c *Connection) State() State { return c.state }

// Connected reports whether the connection is past ConnectEstablished and
// not yet closed.
func (c *Connection) Connected() bool { return c.state == StateConnected }

// SetContext / Context store and retrieve an opaque per-connection value
// for the owner, mirroring the original's void* user context.
func (c *Connection) SetContext(v any) { c.ctx = v }
func (c *Connection) Context() any     { return c.ctx }

// SetConnectionCallback / SetMessageCallback / SetWriteCompleteCallback /
// SetHighWaterMarkCallback / SetCloseCallback install the connection's
// five user-facing hooks. Must be called before ConnectEstablished.
func (c *Connection) SetConnectionCallback(fn ConnCallback)               { c.connCB = fn }
func (c *Connection) SetMessageCallback(fn MessageCallback)               { c.msgCB = fn }
func (c *Connection) SetWriteCompleteCallback(fn WriteCompleteCallback)   { c.writeCB = fn }
func (c *Connection) SetHighWaterMarkCallback(fn HighWaterMarkCallback)   { c.hwmCB = fn }
func (c *Connection) SetCloseCallback(fn CloseCallback)                  { c.closeCB = fn }

// SetHighWaterMark overrides DefaultHighWaterMark.
func (c *Connection) SetHighWaterMark(n int) { c.highWaterMark = n }

// ConnectEstablished transitions Connecting -> Connected, enables read
// interest, and fires the connection callback. Must run on the owning
// loop's thread (tcpserver posts it there after registering the Channel).
func (c *Connection) ConnectEstablished() {
	c.state = StateConnected
	c.ch.EnableReading()
	c.safeConnCB()
}

func (c *Connection) handleRead(receivedAt int64) {
	n, err := c.in.ReadFD(c.fd)
	switch {
	case n > 0:
		if c.msgCB != nil {
			c.msgCB(c, c.in, receivedAt)
		}
	case n == 0:
		c.handleClose()
	default:
		if err == unix.EAGAIN {
			return
		}
		if errs.IsClosed(err) {
			netlog.Debug("tcpconn: read on closed connection", "err", err, "name", c.name)
		} else {
			netlog.Error("tcpconn: read", "err", err, "name", c.name)
		}
		c.handleError()
	}
}

func (c *Connection) handleWrite() {
	if !c.ch.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.out.Peek())
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		if errs.IsClosed(err) {
			netlog.Debug("tcpconn: write on closed connection", "err", err, "name", c.name)
		} else {
			netlog.Error("tcpconn: write", "err", err, "name", c.name)
		}
		return
	}
	c.out.Retrieve(n)
	if c.out.ReadableBytes() == 0 {
		c.ch.DisableWriting()
		if c.writeCB != nil {
			c.writeCB(c)
		}
		if c.state == StateDisconnecting {
			c.shutdownWrite()
		}
	}
}

// handleClose runs the once-only teardown sequence: state -> Disconnected,
// disable all channel interest, fire the connection callback (observing
// Disconnected), then fire the close callback — the only point at which
// an owning registry (tcpserver) should forget this connection.
func (c *Connection) handleClose() {
	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected
	c.ch.DisableAll()
	c.safeConnCB()
	if c.closeCB != nil {
		c.closeCB(c)
	}
}

func (c *Connection) handleError() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		netlog.Error("tcpconn: getsockopt so_error", "err", err, "name", c.name)
		return
	}
	netlog.Warn("tcpconn: socket error", "errno", errno, "name", c.name)
}

func (c *Connection) safeConnCB() {
	if c.connCB != nil {
		c.connCB(c)
	}
}

// Send queues data for delivery. On the loop thread with an empty output
// buffer it attempts a direct non-blocking write first; otherwise (or on a
// partial write) the remainder is appended to the output buffer and
// writable interest is enabled. Off-thread calls copy data and post to the
// loop, since the caller's slice lifetime is not guaranteed past return.
func (c *Connection) Send(data []byte) {
	if c.state != StateConnected {
		return
	}
	if c.loop.InLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

func (c *Connection) sendInLoop(data []byte) {
	if c.state == StateDisconnected {
		return
	}

	remaining := data
	if !c.ch.IsWriting() && c.out.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		switch {
		case err == nil:
			remaining = data[n:]
			if len(remaining) == 0 && c.writeCB != nil {
				c.loop.RunInLoop(func() { c.writeCB(c) })
			}
		case err == unix.EAGAIN:
			// fall through, buffer everything
		default:
			netlog.Error("tcpconn: send write", "err", err, "name", c.name)
			return
		}
	}

	if len(remaining) == 0 {
		return
	}

	before := c.out.ReadableBytes()
	c.out.Append(remaining)
	after := c.out.ReadableBytes()
	if before < c.highWaterMark && after >= c.highWaterMark && c.hwmCB != nil {
		c.hwmCB(c, after)
	}
	if !c.ch.IsWriting() {
		c.ch.EnableWriting()
	}
}

// Shutdown transitions Connected -> Disconnecting and, if the output
// buffer is already empty, shuts down the write half immediately;
// otherwise handle_write finishes draining first.
func (c *Connection) Shutdown() {
	c.loop.RunInLoop(func() {
		if c.state != StateConnected {
			return
		}
		c.state = StateDisconnecting
		if !c.ch.IsWriting() {
			c.shutdownWrite()
		}
	})
}

func (c *Connection) shutdownWrite() {
	if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil && err != unix.ENOTCONN {
		netlog.Error("tcpconn: shutdown write half", "err", err, "name", c.name)
	}
}

// ForceClose posts handle_close to the owning loop, tearing the connection
// down regardless of pending output.
func (c *Connection) ForceClose() {
	c.loop.RunInLoop(c.handleClose)
}

// ConnectDestroyed is the server's final teardown step: if the connection
// raced closed to Connected still (a shutdown lost the race with a peer
// close), it runs the disconnection branch, then removes the Channel from
// the poller and marks the liveness witness dead so any in-flight event
// for this fd is dropped.
func (c *Connection) ConnectDestroyed() {
	if c.state == StateConnected {
		c.state = StateDisconnected
		c.ch.DisableAll()
		c.safeConnCB()
	}
	c.alive = false
	c.ch.Remove()
}

// Close releases the underlying file descriptor. Must run after
// ConnectDestroyed, which removes the Channel first so the fd is never
// closed while still registered with the Poller.
func (c *Connection) Close() error {
	return errors.Wrapf(unix.Close(c.fd), "tcpconn: close fd")
}
