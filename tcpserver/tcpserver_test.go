/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package tcpserver_test

import (
	"bufio"
	"testing"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/reactor/buffer"
	"go.osspkg.com/reactor/nettest"
	"go.osspkg.com/reactor/tcpconn"
	"go.osspkg.com/reactor/tcpserver"
)

func TestUnit_EchoRoundTrip(t *testing.T) {
	srv, err := tcpserver.New(tcpserver.Config{Address: "127.0.0.1:0", NumWorkers: 2})
	casecheck.NoError(t, err)

	srv.SetMessageCallback(func(c *tcpconn.Connection, in *buffer.Buffer, _ int64) {
		c.Send(in.RetrieveAsBytes())
	})
	casecheck.NoError(t, srv.Start())
	defer srv.Stop()

	nettest.AwaitCondition(t, func() bool { return srv.LocalAddr() != nil })

	conn := nettest.Dial(t, srv.LocalAddr())
	defer conn.Close()

	_, err = conn.Write([]byte("hello\r\n"))
	casecheck.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	casecheck.NoError(t, err)
	casecheck.Equal(t, "hello\r\n", line)
}

func TestUnit_ConnectionCountTracksLifecycle(t *testing.T) {
	srv, err := tcpserver.New(tcpserver.Config{Address: "127.0.0.1:0", NumWorkers: 1})
	casecheck.NoError(t, err)
	casecheck.NoError(t, srv.Start())
	defer srv.Stop()

	nettest.AwaitCondition(t, func() bool { return srv.LocalAddr() != nil })

	conn := nettest.Dial(t, srv.LocalAddr())
	nettest.AwaitCondition(t, func() bool { return srv.ConnectionCount() == 1 })

	conn.Close()
	nettest.AwaitCondition(t, func() bool { return srv.ConnectionCount() == 0 })
}
