/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package poller_test

import (
	"testing"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/reactor/poller"
)

type fakeWatched struct {
	fd      int
	events  uint32
	revents uint32
	state   poller.State
}

func (w *fakeWatched) Fd() int                    { return w.fd }
func (w *fakeWatched) Events() uint32              { return w.events }
func (w *fakeWatched) PollState() poller.State     { return w.state }
func (w *fakeWatched) SetPollState(s poller.State) { w.state = s }
func (w *fakeWatched) SetRevents(r uint32)         { w.revents = r }

func TestUnit_AddWaitRemove(t *testing.T) {
	p, err := poller.New()
	casecheck.NoError(t, err)
	defer p.Close()

	fds := make([]int, 2)
	for i := range fds {
		fd, errP := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
		casecheck.NoError(t, errP)
		fds[i] = fd
		defer unix.Close(fd)
	}

	w0 := &fakeWatched{fd: fds[0], events: poller.EventRead, state: poller.StateNew}
	w1 := &fakeWatched{fd: fds[1], events: poller.EventRead, state: poller.StateNew}
	casecheck.NoError(t, p.Update(w0))
	casecheck.NoError(t, p.Update(w1))
	casecheck.True(t, p.Has(fds[0]))
	casecheck.True(t, p.Has(fds[1]))

	var one [8]byte
	one[0] = 1
	_, err = unix.Write(fds[1], one[:])
	casecheck.NoError(t, err)

	active, err := p.Wait(1000, nil)
	casecheck.NoError(t, err)
	casecheck.Equal(t, 1, len(active))
	casecheck.Equal(t, fds[1], active[0].Fd())

	w0.events = poller.EventNone
	casecheck.NoError(t, p.Update(w0))
	casecheck.NoError(t, p.Remove(w0))
	casecheck.False(t, p.Has(fds[0]))

	w1.events = poller.EventNone
	casecheck.NoError(t, p.Update(w1))
	casecheck.NoError(t, p.Remove(w1))
	casecheck.False(t, p.Has(fds[1]))
}
