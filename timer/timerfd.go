/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package timer

import (
	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

// minArmMicros is the floor for relative re-arming, so several timers
// expiring within microseconds of each other cannot under-arm the kernel
// timer and drift.
const minArmMicros = 100

// Fd wraps a Linux monotonic timerfd, armed in relative mode with
// it_interval always zero — repetition is library-driven (TimerQueue),
// not kernel-driven.
type Fd struct {
	fd int
}

// NewFd creates a non-blocking, close-on-exec monotonic timerfd.
func NewFd() (*Fd, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "timer: timerfd_create")
	}
	return &Fd{fd: fd}, nil
}

// Fd returns the underlying file descriptor for registration with a
// Poller/Channel.
func (f *Fd) Fd() int { return f.fd }

// ArmAt re-arms the timerfd to fire max(expireAt-now, minArmMicros) from
// now, once.
func (f *Fd) ArmAt(expireAt, now int64) error {
	delta := expireAt - now
	if delta < minArmMicros {
		delta = minArmMicros
	}
	spec := &unix.ItimerSpec{
		Value: unix.NsecToTimespec(delta * 1000),
	}
	return errors.Wrapf(unix.TimerfdSettime(f.fd, 0, spec, nil), "timer: timerfd_settime")
}

// Disarm stops the timerfd from firing until the next ArmAt.
func (f *Fd) Disarm() error {
	spec := &unix.ItimerSpec{}
	return errors.Wrapf(unix.TimerfdSettime(f.fd, 0, spec, nil), "timer: timerfd_settime disarm")
}

// Drain reads (and discards) the expiration counter. The TimerQueue's own
// ordered set is authoritative for which timers actually fired; the
// counter is only used to know that at least one did.
func (f *Fd) Drain() error {
	var buf [8]byte
	_, err := unix.Read(f.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrapf(err, "timer: read timerfd")
	}
	return nil
}

// Close releases the underlying file descriptor.
func (f *Fd) Close() error {
	return unix.Close(f.fd)
}
