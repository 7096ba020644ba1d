/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package sock_test

import (
	"net"
	"testing"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/reactor/sock"
)

func TestUnit_ListenAcceptRoundTrip(t *testing.T) {
	fd, err := sock.Listen("127.0.0.1:0", false)
	casecheck.NoError(t, err)
	defer unix.Close(fd)

	addr := sock.LocalAddr(fd)
	casecheck.True(t, addr != nil)

	client, err := net.Dial("tcp", addr.String())
	casecheck.NoError(t, err)
	defer client.Close()

	unix.SetNonblock(fd, false)
	acceptedFD, sa, err := sock.Accept4(fd)
	casecheck.NoError(t, err)
	defer unix.Close(acceptedFD)

	peer := sock.SockaddrToNetAddr(sa)
	casecheck.True(t, peer != nil)

	casecheck.NoError(t, sock.SetTCPNoDelay(acceptedFD, true))
	casecheck.NoError(t, sock.SetKeepAlive(acceptedFD, true))
}
