/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package channel binds one file descriptor to requested/returned event
// bitmasks and the up-to-four callbacks an owning loop dispatches on
// readiness. A Channel owns no fd: its lifetime is managed by whoever
// created it (acceptor, tcpconn, wakeup, timer).
package channel

import (
	"go.osspkg.com/do"
	"go.osspkg.com/reactor/netlog"

	"go.osspkg.com/reactor/poller"
)

// Updater is the subset of eventloop.Loop a Channel needs to push its
// requested-event changes down to the Poller and to remove itself when
// torn down. Kept as an interface here to avoid an import cycle between
// channel and eventloop.
type Updater interface {
	UpdateChannel(*Channel)
	RemoveChannel(*Channel)
}

// Liveness is a weak-to-strong upgrade hook: a Channel tied to a
// connection calls it before dispatching any callback for an event; if
// it returns ok == false the connection has already begun tearing
// itself down and every callback for this event is skipped.
type Liveness func() (owner any, ok bool)

// Channel ties fd to a requested event mask, a returned event mask set
// by the last Poller.Wait, and the read/write/close/error callbacks the
// owning loop invokes from HandleEvent.
type Channel struct {
	loop Updater
	fd   int

	events  uint32
	revents uint32
	state   poller.State

	readFn  func(receivedAt int64)
	writeFn func()
	closeFn func()
	errorFn func()

	tie Liveness

	handlingEvent bool
	addedToLoop   bool
}

// New creates a Channel for fd, bound to loop. loop is nil-safe only in
// tests that never call Enable*/Update.
func New(loop Updater, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, state: poller.StateNew}
}

// Fd returns the bound file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the currently requested event mask (poller.Watched).
func (c *Channel) Events() uint32 { return c.events }

// PollState returns the poller-visible registration state.
func (c *Channel) PollState() poller.State { return c.state }

// SetPollState is called only by the Poller.
func (c *Channel) SetPollState(s poller.State) { c.state = s }

// SetRevents is called only by the Poller after a Wait reports readiness.
func (c *Channel) SetRevents(r uint32) { c.revents = r }

// IsNoneEvent reports whether the Channel currently requests nothing.
func (c *Channel) IsNoneEvent() bool { return c.events == poller.EventNone }

// SetReadCallback / SetWriteCallback / SetCloseCallback / SetErrorCallback
// install the up-to-four handlers HandleEvent dispatches.
func (c *Channel) SetReadCallback(fn func(receivedAt int64))  { c.readFn = fn }
func (c *Channel) SetWriteCallback(fn func())                 { c.writeFn = fn }
func (c *Channel) SetCloseCallback(fn func())                 { c.closeFn = fn }
func (c *Channel) SetErrorCallback(fn func())                 { c.errorFn = fn }

// Tie installs the liveness witness. Once set, every dispatched callback
// is preceded by an upgrade attempt.
func (c *Channel) Tie(fn Liveness) { c.tie = fn }

// EnableReading / EnableWriting / DisableWriting / DisableAll mutate the
// requested mask and immediately push the change to the owning loop's
// Poller via Updater.UpdateChannel.
func (c *Channel) EnableReading() {
	c.events |= poller.EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= poller.EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= poller.EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = poller.EventNone
	c.update()
}

// IsWriting reports whether writable interest is currently requested.
func (c *Channel) IsWriting() bool { return c.events&poller.EventWrite != 0 }

func (c *Channel) update() {
	c.addedToLoop = true
	if c.loop != nil {
		c.loop.UpdateChannel(c)
	}
}

// Remove detaches the Channel from its owning loop. Requires the
// requested mask to already be empty (DisableAll must be called first).
func (c *Channel) Remove() {
	c.addedToLoop = false
	if c.loop != nil {
		c.loop.RemoveChannel(c)
	}
}

// HandleEvent dispatches the callbacks implied by the last returned event
// mask, in read-before-write-before-close-before-error order. receivedAt
// is the timer.Now timestamp the owning loop took right after Poller.Wait
// returned this batch. If Tie
// was set and the liveness upgrade fails, every
// callback for this event is skipped (the owning connection is already
// gone). Each callback invocation is wrapped so a panicking user handler
// logs and drops this one event rather than killing the loop goroutine.
func (c *Channel) HandleEvent(receivedAt int64) {
	if c.tie != nil {
		if _, ok := c.tie(); !ok {
			return
		}
	}

	c.handlingEvent = true
	defer func() { c.handlingEvent = false }()

	// Dispatch order: read, write, close (only when not also readable,
	// so pending data drains before teardown), error.
	if c.revents&(uint32(poller.EventRead)|uint32(poller.EventRdHup)) != 0 {
		if c.readFn != nil {
			fn := c.readFn
			do.Async(func() { fn(receivedAt) }, func(err error) {
				netlog.Error("channel: read callback panic", "err", err, "fd", c.fd)
			})
		}
	}
	if c.revents&uint32(poller.EventWrite) != 0 {
		c.safeCall("channel: write callback", c.writeFn)
	}
	if c.revents&uint32(poller.EventHup) != 0 && c.revents&uint32(poller.EventRead) == 0 {
		c.safeCall("channel: close callback", c.closeFn)
	}
	if c.revents&uint32(poller.EventErr) != 0 {
		c.safeCall("channel: error callback", c.errorFn)
	}
}

func (c *Channel) safeCall(label string, fn func()) {
	if fn == nil {
		return
	}
	do.Async(fn, func(err error) {
		netlog.Error(label+" panic", "err", err, "fd", c.fd)
	})
}
