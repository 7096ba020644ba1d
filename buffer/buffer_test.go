/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package buffer_test

import (
	"testing"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/reactor/buffer"
)

func TestUnit_RoundTrip(t *testing.T) {
	b := buffer.New()
	casecheck.Equal(t, buffer.DefaultPrependSize, b.PrependableBytes())

	payload := []byte("hello reactor")
	b.Append(payload)
	casecheck.Equal(t, string(payload), string(b.Peek()))

	b.Retrieve(len(payload))
	casecheck.Equal(t, 0, b.ReadableBytes())
	casecheck.Equal(t, buffer.DefaultPrependSize, b.PrependableBytes())
}

func TestUnit_Prepend(t *testing.T) {
	b := buffer.New()
	payload := []byte("payload")
	prefix := []byte("LEN:")

	b.Append(payload)
	casecheck.NoError(t, b.Prepend(prefix))

	got := b.RetrieveAsBytes()
	casecheck.Equal(t, "LEN:payload", string(got))
}

func TestUnit_PrependTooLarge(t *testing.T) {
	b := buffer.New()
	oversized := make([]byte, buffer.DefaultPrependSize+1)
	casecheck.Error(t, b.Prepend(oversized))
}

func TestUnit_FindCRLF(t *testing.T) {
	b := buffer.New()
	b.AppendString("foo\r\nbar")

	idx := b.FindCRLF()
	casecheck.Equal(t, 3, idx)

	b2 := buffer.New()
	b2.AppendString("no-terminator")
	casecheck.Equal(t, -1, b2.FindCRLF())
}

func TestUnit_AppendGrowsPastInitialCapacity(t *testing.T) {
	b := buffer.NewSize(4)
	big := make([]byte, 1<<16)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	casecheck.Equal(t, len(big), b.ReadableBytes())
	casecheck.Equal(t, big, b.Peek())
}

func TestUnit_RetrieveAllResetsIndices(t *testing.T) {
	b := buffer.New()
	b.AppendString("anything")
	b.RetrieveAll()
	casecheck.Equal(t, 0, b.ReadableBytes())
	casecheck.Equal(t, buffer.DefaultPrependSize, b.PrependableBytes())
}

func TestUnit_ReadFDReturnsBytesWritten(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	casecheck.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload := []byte("hello reactor")
	_, err = unix.Write(fds[1], payload)
	casecheck.NoError(t, err)

	b := buffer.New()
	n, err := b.ReadFD(fds[0])
	casecheck.NoError(t, err)
	casecheck.Equal(t, len(payload), n)
	casecheck.Equal(t, string(payload), string(b.Peek()))
}

func TestUnit_ReadFDReturnsNegativeOneOnError(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	casecheck.NoError(t, err)
	unix.Close(fds[0])
	unix.Close(fds[1])

	b := buffer.New()
	n, err := b.ReadFD(fds[0])
	casecheck.Error(t, err)
	casecheck.Equal(t, -1, n)
}
