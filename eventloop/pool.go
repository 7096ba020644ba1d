/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package eventloop

import "sync/atomic"

// ThreadPool is a base loop plus zero or more worker Threads, each running
// its own Loop. The acceptor's loop (the base loop) round-robins every new
// connection across the pool so accept itself never blocks on
// per-connection work.
type ThreadPool struct {
	base    *Loop
	threads []*Thread
	loops   []*Loop
	next    atomic.Uint64
}

// NewThreadPool wires pool to baseLoop (typically the loop the Acceptor
// runs on) with numThreads additional worker loops. numThreads == 0 is
// valid: every connection is then handled on baseLoop itself.
func NewThreadPool(baseLoop *Loop, numThreads int) *ThreadPool {
	return &ThreadPool{
		base:    baseLoop,
		threads: make([]*Thread, 0, numThreads),
	}
}

// Start spawns numThreads worker Threads (its own argument; the count
// given to NewThreadPool only sizes the thread slice) and
// blocks until each has a running Loop. If init is non-nil, it is
// invoked once per worker loop, on that loop's own pinned goroutine,
// before Start returns the loop to anyone — the hook a caller uses for
// thread-local state that must be set up on the loop's own OS thread.
// When numThreads is 0, there are no worker threads to run it on, so
// init runs against the base loop instead, synchronously, here.
func (p *ThreadPool) Start(numThreads int, init func(*Loop)) {
	p.loops = p.loops[:0]
	for i := 0; i < numThreads; i++ {
		th := NewThread()
		if init != nil {
			th.SetInitCallback(init)
		}
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, th.Start())
	}
	if numThreads == 0 && init != nil {
		init(p.base)
	}
}

// NextLoop returns the next Loop in round-robin order, or the base loop if
// no worker threads were started.
func (p *ThreadPool) NextLoop() *Loop {
	if len(p.loops) == 0 {
		return p.base
	}
	i := p.next.Add(1) - 1
	return p.loops[i%uint64(len(p.loops))]
}

// BaseLoop returns the pool's base loop (typically the Acceptor's loop).
func (p *ThreadPool) BaseLoop() *Loop { return p.base }

// NumLoops reports how many worker loops are running (excluding the base
// loop).
func (p *ThreadPool) NumLoops() int { return len(p.loops) }

// Quit asks every worker loop (and, if includeBase, the base loop) to
// return from Loop.
func (p *ThreadPool) Quit(includeBase bool) {
	for _, l := range p.loops {
		l.Quit()
	}
	if includeBase {
		p.base.Quit()
	}
}

// Join blocks until every worker Thread's goroutine has returned from
// Loop. Callers must have already called Quit; the base loop (which has
// no owning Thread here) is not covered and must be joined separately by
// whoever started it.
func (p *ThreadPool) Join() {
	for _, th := range p.threads {
		th.Join()
	}
}
