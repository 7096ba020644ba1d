/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package wakeup provides the kernel event counter (eventfd) used to break
// a blocking Poller.Wait from another thread: posting a task to a loop
// writes 1 to the counter, the loop's Channel for it reads (and so
// drains) the counter on its next readable event.
package wakeup

import (
	"encoding/binary"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

// FD wraps a non-blocking, close-on-exec eventfd counter initialized to
// zero.
type FD struct {
	fd int
}

// New creates a new wakeup FD.
func New() (*FD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "wakeup: eventfd")
	}
	return &FD{fd: fd}, nil
}

// Fd returns the underlying file descriptor for registration with a
// Poller/Channel.
func (w *FD) Fd() int { return w.fd }

// Wake adds 1 to the counter, making the fd readable and unblocking a
// poller wait. Exactly one Wake is sufficient to guarantee the loop
// observes it on the next poll cycle, regardless of how many times Wake
// has already been called without an intervening Drain.
func (w *FD) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrapf(err, "wakeup: write")
	}
	return nil
}

// Drain resets the counter to zero. A single read per readable event
// suffices.
func (w *FD) Drain() error {
	var buf [8]byte
	_, err := unix.Read(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrapf(err, "wakeup: read")
	}
	return nil
}

// Close releases the underlying file descriptor.
func (w *FD) Close() error {
	return unix.Close(w.fd)
}
