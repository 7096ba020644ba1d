/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package eventloop

import (
	"runtime"
	"sync"

	"go.osspkg.com/errors"
	"go.osspkg.com/syncing"
)

// Thread owns one OS-thread-pinned goroutine running exactly one Loop. It
// constructs the Loop on the pinned goroutine and signals readiness to
// Start's caller via a condition variable once the Loop exists. The
// goroutine itself runs inside a syncing.Group so Join can block until
// Loop has actually returned.
type Thread struct {
	mu      sync.Mutex
	cond    *sync.Cond
	loop    *Loop
	started bool
	wg      syncing.Group
	initFn  func(*Loop)
}

// NewThread creates a Thread but does not start it.
func NewThread() *Thread {
	t := &Thread{wg: syncing.NewGroup()}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// SetInitCallback installs fn to run on the pinned goroutine right after
// the Loop is constructed and before Start hands it to any caller, so
// thread-local setup happens on the same OS thread the Loop itself runs
// on. Must be called before Start.
func (t *Thread) SetInitCallback(fn func(*Loop)) { t.initFn = fn }

// Start spawns the pinned goroutine, blocks until its Loop has been
// constructed, and returns it. Calling Start twice returns the same Loop.
func (t *Thread) Start() *Loop {
	t.mu.Lock()
	if t.started {
		l := t.loop
		t.mu.Unlock()
		return l
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Background(func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		l, err := New()
		if err != nil {
			panic(errors.Wrapf(err, "eventloop: thread failed to construct loop"))
		}

		if t.initFn != nil {
			t.initFn(l)
		}

		t.mu.Lock()
		t.loop = l
		t.cond.Broadcast()
		t.mu.Unlock()

		l.Loop()
		l.Close()
	})

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	l := t.loop
	t.mu.Unlock()
	return l
}

// Loop returns the Thread's Loop, or nil if Start has not been called.
func (t *Thread) Loop() *Loop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Join blocks until the Thread's goroutine has returned from Loop and
// closed its fds. Callers must have already called Loop.Quit.
func (t *Thread) Join() { t.wg.Wait() }
