/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package eventloop_test

import (
	"sync"
	"testing"
	"time"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/reactor/eventloop"
)

func TestUnit_QueueInLoopRunsOnLoopThread(t *testing.T) {
	th := eventloop.NewThread()
	loop := th.Start()
	defer loop.Quit()

	done := make(chan bool, 1)
	loop.QueueInLoop(func() {
		done <- loop.InLoopThread()
	})

	select {
	case ok := <-done:
		casecheck.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestUnit_RunAfterFiresOnce(t *testing.T) {
	th := eventloop.NewThread()
	loop := th.Start()
	defer loop.Quit()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	loop.RunAfter(1000, func() {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	casecheck.Equal(t, 1, calls)
	mu.Unlock()
}

func TestUnit_CancelTimerBeforeItFires(t *testing.T) {
	th := eventloop.NewThread()
	loop := th.Start()
	defer loop.Quit()

	fired := make(chan struct{}, 1)
	id := loop.RunAfter(200_000, func() { fired <- struct{}{} })
	loop.CancelTimer(id)

	select {
	case <-fired:
		t.Fatal("canceled timer fired anyway")
	case <-time.After(350 * time.Millisecond):
	}
}

func TestUnit_ThreadPoolRoundRobin(t *testing.T) {
	base, err := eventloop.New()
	casecheck.NoError(t, err)
	go base.Loop()
	defer base.Quit()

	pool := eventloop.NewThreadPool(base, 3)
	pool.Start(3, nil)
	defer pool.Quit(false)

	seen := make(map[*eventloop.Loop]int)
	for i := 0; i < 9; i++ {
		seen[pool.NextLoop()]++
	}
	casecheck.Equal(t, 3, len(seen))
	for _, count := range seen {
		casecheck.Equal(t, 3, count)
	}
}

func TestUnit_ThreadPoolStartRunsInitOnEveryLoop(t *testing.T) {
	base, err := eventloop.New()
	casecheck.NoError(t, err)
	go base.Loop()
	defer base.Quit()

	pool := eventloop.NewThreadPool(base, 2)

	var mu sync.Mutex
	seen := make(map[*eventloop.Loop]bool)
	pool.Start(2, func(l *eventloop.Loop) {
		mu.Lock()
		seen[l] = true
		mu.Unlock()
	})
	defer pool.Quit(false)

	casecheck.Equal(t, 2, len(seen))
	casecheck.True(t, seen[pool.NextLoop()])
}

func TestUnit_ThreadPoolStartRunsInitOnBaseLoopWhenNoWorkers(t *testing.T) {
	base, err := eventloop.New()
	casecheck.NoError(t, err)
	go base.Loop()
	defer base.Quit()

	pool := eventloop.NewThreadPool(base, 0)

	var got *eventloop.Loop
	pool.Start(0, func(l *eventloop.Loop) { got = l })

	casecheck.Equal(t, base, got)
}
