/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package nettest holds test-only scaffolding shared across this module's
// package tests: a loopback dialer and a deadline guard, so integration
// tests exercising tcpserver/tcpconn/acceptor over real 127.0.0.1 sockets
// do not each reimplement connect-and-wait boilerplate.
package nettest

import (
	"net"
	"testing"
	"time"
)

// DefaultTimeout bounds how long a loopback test waits for network
// activity before failing, rather than hanging the test binary.
const DefaultTimeout = 3 * time.Second

// Dial connects to addr with DefaultTimeout and fails t immediately on
// error.
func Dial(t testing.TB, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), DefaultTimeout)
	if err != nil {
		t.Fatalf("nettest: dial %s: %v", addr, err)
	}
	return conn
}

// AwaitCondition polls cond every 5ms until it returns true or
// DefaultTimeout elapses, failing t on timeout. Used to wait for
// cross-thread state (a connection registered in a server's map, a
// worker loop having drained a posted task) without a fixed sleep.
func AwaitCondition(t testing.TB, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("nettest: condition not met within %s", DefaultTimeout)
	}
}

// WithReadDeadline sets a read deadline on conn for the duration of fn's
// execution, so a test reading from a socket cannot hang forever on a
// server bug.
func WithReadDeadline(t testing.TB, conn net.Conn, d time.Duration, fn func()) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		t.Fatalf("nettest: set read deadline: %v", err)
	}
	fn()
	_ = conn.SetReadDeadline(time.Time{})
}
