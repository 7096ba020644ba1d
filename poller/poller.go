/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package poller is the thin epoll-backed readiness demultiplexer behind
// one eventloop.Loop. It is only ever touched from its owning loop's
// thread (see eventloop's assertInLoopThread) and therefore takes no
// lock at all.
package poller

import (
	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

// EventRead / EventWrite / etc mirror the bitmask a Channel requests and
// a Poller reports. They are plain aliases of the epoll bits so that
// callers comparing against unix.EPOLLIN and friends need no conversion.
const (
	EventNone  = 0
	EventRead  = unix.EPOLLIN | unix.EPOLLPRI
	EventWrite = unix.EPOLLOUT
	EventHup   = unix.EPOLLHUP
	EventRdHup = unix.EPOLLRDHUP
	EventErr   = unix.EPOLLERR
)

const initialEventCap = 16
const maxEventCap = 65536

// State tracks whether a Channel's fd is new, already added to epoll, or
// deleted from it.
type State int

const (
	StateNew State = iota
	StateAdded
	StateDeleted
)

// Watched is the minimal view of a Channel the Poller needs: an fd, its
// requested event mask, its poller-visible state, and a callback to
// report the returned mask on each Wait.
type Watched interface {
	Fd() int
	Events() uint32
	PollState() State
	SetPollState(State)
	SetRevents(uint32)
}

// Poller wraps one epoll instance and the fd -> Watched registry needed
// to hand active channels back to the owning EventLoop after each Wait.
type Poller struct {
	epfd     int
	channels map[int]Watched
	events   []unix.EpollEvent
}

// New creates a Poller backed by a fresh epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "poller: epoll_create1")
	}
	return &Poller{
		epfd:     epfd,
		channels: make(map[int]Watched, initialEventCap),
		events:   make([]unix.EpollEvent, initialEventCap),
	}, nil
}

// Wait blocks up to timeoutMs (-1 = indefinitely), appending every
// Watched whose returned events are nonzero to active. It returns the
// extended active slice. A spurious wakeup (n == 0) is not an error:
// callers should treat it as a no-op iteration.
func (p *Poller) Wait(timeoutMs int, active []Watched) ([]Watched, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return active, nil
		}
		return active, errors.Wrapf(err, "poller: epoll_wait")
	}

	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.SetRevents(p.events[i].Events)
		active = append(active, ch)
	}

	if n == len(p.events) && len(p.events) < maxEventCap {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}

	return active, nil
}

// Update registers, modifies, or deregisters ch depending on its current
// requested mask and poller state. If ch requests no events and is
// currently registered, Update deregisters it from epoll and marks it
// StateDeleted, but it remains in the fd map until Remove.
func (p *Poller) Update(ch Watched) error {
	fd := ch.Fd()

	switch ch.PollState() {
	case StateNew, StateDeleted:
		if ch.Events() == EventNone {
			p.channels[fd] = ch
			ch.SetPollState(StateDeleted)
			return nil
		}
		ev := &unix.EpollEvent{Events: ch.Events(), Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
			return errors.Wrapf(err, "poller: epoll_ctl add fd=%d", fd)
		}
		p.channels[fd] = ch
		ch.SetPollState(StateAdded)
		return nil

	case StateAdded:
		if ch.Events() == EventNone {
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
				return errors.Wrapf(err, "poller: epoll_ctl del fd=%d", fd)
			}
			ch.SetPollState(StateDeleted)
			return nil
		}
		ev := &unix.EpollEvent{Events: ch.Events(), Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
			return errors.Wrapf(err, "poller: epoll_ctl mod fd=%d", fd)
		}
		return nil
	}
	return nil
}

// Remove drops ch from the fd map entirely. ch must request no events
// and must be StateAdded or StateDeleted.
func (p *Poller) Remove(ch Watched) error {
	fd := ch.Fd()
	if ch.Events() != EventNone {
		return errors.New("poller: remove called with nonzero requested events")
	}
	if ch.PollState() == StateAdded {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return errors.Wrapf(err, "poller: epoll_ctl del on remove fd=%d", fd)
		}
	}
	delete(p.channels, fd)
	ch.SetPollState(StateNew)
	return nil
}

// Has reports whether fd is currently tracked by the Poller.
func (p *Poller) Has(fd int) bool {
	_, ok := p.channels[fd]
	return ok
}

// Close releases the epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
