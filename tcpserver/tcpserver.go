/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package tcpserver implements the top-level server: an Acceptor on the
// accept loop, an eventloop.ThreadPool of worker loops, and the
// name -> Connection registry mutated only on the accept loop.
package tcpserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.osspkg.com/algorithms/control"
	"go.osspkg.com/syncing"

	"go.osspkg.com/reactor/acceptor"
	"go.osspkg.com/reactor/eventloop"
	"go.osspkg.com/reactor/tcpconn"
)

// Config controls a Server's listen address, worker count, and optional
// connection ceiling.
type Config struct {
	Address        string
	ReusePort      bool
	NumWorkers     int
	MaxConnections int // 0 = unbounded
}

// Server owns the accept loop, its Acceptor, a worker ThreadPool, and the
// live connection registry keyed "listen_addr#id".
type Server struct {
	cfg  Config
	base *eventloop.Loop
	pool *eventloop.ThreadPool
	acc  *acceptor.Acceptor

	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[string]*tcpconn.Connection

	sem control.Semaphore
	wg  syncing.Group

	connCB   tcpconn.ConnCallback
	msgCB    tcpconn.MessageCallback
	writeCB  tcpconn.WriteCompleteCallback
	threadCB func(*eventloop.Loop)

	started atomic.Bool
}

// New constructs a Server bound to cfg.Address. The listening socket and
// worker loops are not created until Start.
func New(cfg Config) (*Server, error) {
	base, err := eventloop.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   cfg,
		base:  base,
		pool:  eventloop.NewThreadPool(base, cfg.NumWorkers),
		conns: make(map[string]*tcpconn.Connection),
		wg:    syncing.NewGroup(),
	}
	if cfg.MaxConnections > 0 {
		s.sem = control.NewSemaphore(uint64(cfg.MaxConnections))
	}
	return s, nil
}

// SetConnectionCallback / SetMessageCallback / SetWriteCompleteCallback
// install the hooks propagated to every accepted Connection. Must be
// called before Start.
func (s *Server) SetConnectionCallback(fn tcpconn.ConnCallback)             { s.connCB = fn }
func (s *Server) SetMessageCallback(fn tcpconn.MessageCallback)             { s.msgCB = fn }
func (s *Server) SetWriteCompleteCallback(fn tcpconn.WriteCompleteCallback) { s.writeCB = fn }

// SetThreadInitCallback installs fn to run once per worker loop, on that
// loop's own OS thread, before the pool hands the loop to the acceptor or
// any connection. Used to set up thread-local state. Must be called
// before Start.
func (s *Server) SetThreadInitCallback(fn func(*eventloop.Loop)) { s.threadCB = fn }

// Start is idempotent: the first call spawns the worker pool, runs the
// accept loop's Loop on a dedicated goroutine, and posts Listen to it.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.pool.Start(s.cfg.NumWorkers, s.threadCB)

	acc, err := acceptor.New(s.base, s.cfg.Address, s.cfg.ReusePort)
	if err != nil {
		return err
	}
	acc.SetNewConnectionCallback(s.newConnection)
	s.acc = acc

	s.wg.Background(func() {
		s.base.Loop()
		s.base.Close()
	})
	s.base.RunInLoop(func() { s.acc.EnableListening() })
	return nil
}

// LocalAddr reports the accept loop's bound address. Only meaningful after
// Start has run at least one loop iteration.
func (s *Server) LocalAddr() net.Addr {
	if s.acc == nil {
		return nil
	}
	return s.acc.LocalAddr()
}

// newConnection is the Acceptor's new-connection callback, running on the
// accept loop: it picks the next worker loop round-robin, constructs the
// Connection with that worker as its owning loop and Channel updater,
// registers it in the map, and posts ConnectEstablished to the worker.
func (s *Server) newConnection(fd int, peer net.Addr) {
	if s.sem != nil {
		// Acquire blocks the caller (here, the accept loop) until a
		// connection slot is free, rather than dropping the new
		// connection.
		s.sem.Acquire()
	}

	worker := s.pool.NextLoop()
	id := s.nextID.Add(1)
	name := fmt.Sprintf("%s#%d", s.cfg.Address, id)

	local := s.acc.LocalAddr()
	conn := tcpconn.New(worker, worker, name, fd, local, peer)
	conn.SetConnectionCallback(s.connCB)
	conn.SetMessageCallback(s.msgCB)
	conn.SetWriteCompleteCallback(s.writeCB)
	conn.SetCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.conns[name] = conn
	s.mu.Unlock()

	worker.RunInLoop(conn.ConnectEstablished)
}

// removeConnection is a Connection's close callback: it may run on any
// worker loop, so it posts the actual removal back to the accept loop,
// the only goroutine allowed to mutate the connection registry.
func (s *Server) removeConnection(conn *tcpconn.Connection) {
	s.base.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *Server) removeConnectionInLoop(conn *tcpconn.Connection) {
	s.mu.Lock()
	delete(s.conns, conn.Name())
	s.mu.Unlock()

	if s.sem != nil {
		s.sem.Release()
	}

	// ConnectDestroyed must run on the connection's own worker loop, so
	// this is a second hop back after the accept loop erases it from the
	// map.
	conn.Loop().RunInLoop(func() {
		conn.ConnectDestroyed()
		conn.Close()
	})
}

// ConnectionCount reports the number of connections currently registered.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop asks every worker loop and the accept loop to return from Loop,
// closes the Acceptor's sockets, and blocks until all of their goroutines
// have exited. It does not wait for in-flight connections to finish
// tearing down beyond that.
func (s *Server) Stop() {
	if s.acc != nil {
		s.base.RunInLoop(func() { s.acc.Close() })
	}
	s.pool.Quit(false)
	s.base.Quit()

	s.pool.Join()
	s.wg.Wait()
}
