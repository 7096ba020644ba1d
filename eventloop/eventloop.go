/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package eventloop wires one Poller, one timer.Queue/timer.Fd pair and one
// cross-thread wakeup.FD into a single-loop-per-OS-thread reactor: every
// Channel it owns is only ever touched from the goroutine running Loop,
// and any other goroutine that needs to reach it does so through
// RunInLoop/QueueInLoop.
package eventloop

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.osspkg.com/do"
	"go.osspkg.com/errors"
	"go.osspkg.com/reactor/netlog"
	"golang.org/x/sys/unix"

	"go.osspkg.com/reactor/channel"
	"go.osspkg.com/reactor/poller"
	"go.osspkg.com/reactor/timer"
	"go.osspkg.com/reactor/wakeup"
)

// pollTimeoutMs bounds how long one Poller.Wait blocks when no timer is
// pending, so a Quit posted without a wakeup is still noticed promptly.
const pollTimeoutMs = 10000

// Loop is one reactor event loop: a Poller plus the two Channels (wakeup,
// timer) it always owns, a posted-task queue and the timer set driving
// RunAt/RunAfter/RunEvery. It must be constructed and run from the same
// goroutine (see New and Loop), matching the C++ original's thread-local
// EventLoop pointer via runtime.LockOSThread and unix.Gettid.
type Loop struct {
	tid int

	poll *poller.Poller

	wakeupFD *wakeup.FD
	wakeupCh *channel.Channel

	timers   *timer.Queue
	timerFD  *timer.Fd
	timerCh  *channel.Channel

	mu      sync.Mutex
	pending *queue.Queue

	looping             atomic.Bool
	quit                atomic.Bool
	callingPendingTasks atomic.Bool

	activeChannels []poller.Watched
}

// New creates a Loop bound to the calling goroutine's OS thread. Callers
// that intend to run Loop() on a dedicated, pinned goroutine (see
// EventLoopThread) must call New from that same goroutine.
func New() (*Loop, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	wfd, err := wakeup.New()
	if err != nil {
		return nil, err
	}
	tfd, err := timer.NewFd()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		tid:     unix.Gettid(),
		poll:    p,
		timers:  timer.NewQueue(),
		timerFD: tfd,
		pending: queue.New(),
	}

	l.wakeupFD = wfd
	l.wakeupCh = channel.New(l, wfd.Fd())
	l.wakeupCh.SetReadCallback(func(int64) {
		if err := l.wakeupFD.Drain(); err != nil {
			netlog.Error("eventloop: drain wakeup fd", "err", err)
		}
	})
	l.wakeupCh.EnableReading()

	l.timerCh = channel.New(l, tfd.Fd())
	l.timerCh.SetReadCallback(func(int64) { l.handleTimerFd() })
	l.timerCh.EnableReading()

	return l, nil
}

// assertInLoopThread panics if called from any goroutine but the one that
// is (or will be) running Loop, matching the original's abort-on-violation
// contract for cross-thread misuse.
func (l *Loop) assertInLoopThread() {
	if unix.Gettid() != l.tid {
		panic(errors.New("eventloop: called from a foreign OS thread"))
	}
}

// InLoopThread reports whether the calling goroutine's OS thread is this
// Loop's own thread.
func (l *Loop) InLoopThread() bool { return unix.Gettid() == l.tid }

// Loop runs the poll/dispatch/drain-pending cycle until Quit is called. It
// must run on the same OS thread New was called from (EventLoopThread
// enforces this via runtime.LockOSThread).
func (l *Loop) Loop() {
	l.assertInLoopThread()
	l.looping.Store(true)
	l.quit.Store(false)

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		active, err := l.poll.Wait(pollTimeoutMs, l.activeChannels)
		if err != nil {
			netlog.Error("eventloop: poll wait", "err", err)
			continue
		}
		l.activeChannels = active

		now := timer.Now()
		for _, w := range l.activeChannels {
			if ch, ok := w.(*channel.Channel); ok {
				ch.HandleEvent(now)
			}
		}
		l.doPendingTasks()
	}

	l.looping.Store(false)
}

// handleTimerFd drains the timerfd counter, pops every timer expired as of
// now, fires each under the BeginFiring/EndFiring firing-mark contract, and
// rearms the kernel timer to the new earliest expiration.
func (l *Loop) handleTimerFd() {
	if err := l.timerFD.Drain(); err != nil {
		netlog.Error("eventloop: drain timer fd", "err", err)
	}

	now := timer.Now()
	expired := l.timers.PopExpired(now)
	for _, exp := range expired {
		l.timers.BeginFiring(exp.Id)
		l.safeCall("eventloop: timer callback", exp.Fn)
		canceled := l.timers.EndFiring(exp.Id)
		if !canceled && exp.Interval > 0 {
			l.timers.Reschedule(exp)
		}
	}
	l.rearmTimer(now)
}

func (l *Loop) rearmTimer(now int64) {
	next, ok := l.timers.NextExpiration()
	if !ok {
		if err := l.timerFD.Disarm(); err != nil {
			netlog.Error("eventloop: disarm timer fd", "err", err)
		}
		return
	}
	if err := l.timerFD.ArmAt(next, now); err != nil {
		netlog.Error("eventloop: arm timer fd", "err", err)
	}
}

func (l *Loop) safeCall(label string, fn func()) {
	do.Async(fn, func(err error) {
		netlog.Error(label+" panic", "err", err)
	})
}

// Quit asks the loop to return from Loop after its current or next poll
// iteration. Safe to call from any goroutine; if called from outside the
// loop thread, it wakes the loop so the request is noticed promptly.
func (l *Loop) Quit() {
	l.quit.Store(true)
	if !l.InLoopThread() {
		if err := l.wakeupFD.Wake(); err != nil {
			netlog.Error("eventloop: wake for quit", "err", err)
		}
	}
}

// RunInLoop runs fn on the loop thread: immediately if the calling
// goroutine already is the loop thread, otherwise it is queued and the
// loop is woken.
func (l *Loop) RunInLoop(fn func()) {
	if l.InLoopThread() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop always defers fn to the next pending-task drain, even when
// called from the loop thread itself — used when fn must not run
// re-entrantly inside the caller's own Channel callback.
func (l *Loop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pending.Add(fn)
	l.mu.Unlock()

	if !l.InLoopThread() || l.callingPendingTasks.Load() {
		if err := l.wakeupFD.Wake(); err != nil {
			netlog.Error("eventloop: wake for queued task", "err", err)
		}
	}
}

func (l *Loop) doPendingTasks() {
	l.callingPendingTasks.Store(true)
	defer l.callingPendingTasks.Store(false)

	l.mu.Lock()
	n := l.pending.Length()
	tasks := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, l.pending.Remove().(func()))
	}
	l.mu.Unlock()

	for _, fn := range tasks {
		l.safeCall("eventloop: posted task", fn)
	}
}

// RunAt schedules fn to run once at expireAt (monotonic microseconds, see
// timer.Now). Safe to call from any goroutine.
func (l *Loop) RunAt(expireAt int64, fn func()) timer.Id {
	var id timer.Id
	l.RunInLoop(func() {
		var isEarliest bool
		id, isEarliest = l.timers.Add(expireAt, 0, fn)
		if isEarliest {
			l.rearmTimer(timer.Now())
		}
	})
	return id
}

// RunAfter schedules fn to run once after delay microseconds.
func (l *Loop) RunAfter(delay int64, fn func()) timer.Id {
	return l.RunAt(timer.Now()+delay, fn)
}

// RunEvery schedules fn to run every interval microseconds, first firing
// after interval microseconds.
func (l *Loop) RunEvery(interval int64, fn func()) timer.Id {
	var id timer.Id
	l.RunInLoop(func() {
		var isEarliest bool
		id, isEarliest = l.timers.Add(timer.Now()+interval, interval, fn)
		if isEarliest {
			l.rearmTimer(timer.Now())
		}
	})
	return id
}

// CancelTimer cancels a timer scheduled by RunAt/RunAfter/RunEvery. Safe to
// call from any goroutine, including from within the timer's own callback.
func (l *Loop) CancelTimer(id timer.Id) {
	l.RunInLoop(func() {
		l.timers.Cancel(id)
	})
}

// UpdateChannel implements channel.Updater by forwarding to the Poller.
// Must run on the loop thread.
func (l *Loop) UpdateChannel(ch *channel.Channel) {
	l.assertInLoopThread()
	if err := l.poll.Update(ch); err != nil {
		netlog.Error("eventloop: update channel", "err", err, "fd", ch.Fd())
	}
}

// RemoveChannel implements channel.Updater by forwarding to the Poller.
// Must run on the loop thread.
func (l *Loop) RemoveChannel(ch *channel.Channel) {
	l.assertInLoopThread()
	if err := l.poll.Remove(ch); err != nil {
		netlog.Error("eventloop: remove channel", "err", err, "fd", ch.Fd())
	}
}

// Close releases the Loop's own file descriptors (wakeup, timer, epoll).
// Must be called after Loop has returned.
func (l *Loop) Close() error {
	var err error
	if e := l.wakeupFD.Close(); e != nil {
		err = e
	}
	if e := l.timerFD.Close(); e != nil {
		err = e
	}
	if e := l.poll.Close(); e != nil {
		err = e
	}
	return err
}
