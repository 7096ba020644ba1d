/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package buffer implements the growable byte-stream queue used by
// tcpconn.Connection for both the input and output side of a socket.
//
// The layout keeps three indices into a single backing slice:
//
//	[0, readerIndex)            prependable region (reserved head room)
//	[readerIndex, writerIndex)   readable, unconsumed bytes
//	[writerIndex, cap)           writable tail
//
// Invariant: 0 <= readerIndex <= writerIndex <= cap(buf).
package buffer

import (
	"bytes"

	"go.osspkg.com/errors"
	"go.osspkg.com/ioutils/pool"
	"golang.org/x/sys/unix"
)

const (
	// DefaultPrependSize reserves head room so a length-prefix can be
	// written in place without shifting the payload.
	DefaultPrependSize = 8
	// DefaultInitialSize is the initial readable+writable capacity.
	DefaultInitialSize = 1024
	// extraScratchSize is the size of the pooled scatter buffer used by
	// ReadFD so a single large read does not require the caller to
	// preallocate megabytes of per-connection space.
	extraScratchSize = 65536
)

var crlf = []byte{'\r', '\n'}

var ErrPrependTooLarge = errors.New("prepend: not enough prependable space")

// scratch is the pooled scatter-read buffer; Reset is a no-op because the
// buffer carries no state between borrows other than its fixed backing
// array, which ReadFD always fully overwrites before reading from it.
type scratch [extraScratchSize]byte

func (*scratch) Reset() {}

// scratchPool recycles the extra scatter-read buffer ReadFD borrows for
// one call, avoiding a 64KiB stack frame (and its zeroing cost) on every
// readable event across every connection.
var scratchPool = pool.New[*scratch](func() *scratch {
	return new(scratch)
})

// Buffer is a single-writer, single-reader byte queue. It is not safe for
// concurrent use; callers must only touch it from the owning event loop.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// New returns a Buffer with DefaultPrependSize head room and
// DefaultInitialSize of readable+writable capacity.
func New() *Buffer {
	return NewSize(DefaultInitialSize)
}

// NewSize returns a Buffer sized for size readable+writable bytes, on top
// of the fixed prepend region.
func NewSize(size int) *Buffer {
	b := &Buffer{
		buf: make([]byte, DefaultPrependSize+size),
	}
	b.readerIndex = DefaultPrependSize
	b.writerIndex = DefaultPrependSize
	return b
}

// ReadableBytes returns the number of unconsumed bytes.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes returns the number of bytes that can be appended without
// growing the backing slice.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIndex }

// PrependableBytes returns the head room currently available for Prepend.
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Peek returns a view over the unread bytes without consuming them. The
// slice aliases the buffer's backing array and is only valid until the
// next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// Retrieve advances the read index by n, discarding n bytes from the
// front of the readable region. n is clamped to ReadableBytes.
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.readerIndex += n
}

// RetrieveUntil advances the read index up to (but not including) the
// given offset within the readable region.
func (b *Buffer) RetrieveUntil(offset int) {
	b.Retrieve(offset)
}

// RetrieveAll resets both indices to the head of the prepend region,
// restoring the buffer to its freshly-allocated layout.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = DefaultPrependSize
	b.writerIndex = DefaultPrependSize
}

// RetrieveAsBytes consumes and returns a copy of all readable bytes.
func (b *Buffer) RetrieveAsBytes() []byte {
	out := make([]byte, b.ReadableBytes())
	copy(out, b.Peek())
	b.RetrieveAll()
	return out
}

// Bytes is an alias of Peek for callers that prefer the Go-idiomatic name.
func (b *Buffer) Bytes() []byte { return b.Peek() }

// String returns the readable region decoded as a string, without
// consuming it.
func (b *Buffer) String() string { return string(b.Peek()) }

// Append copies data onto the writable tail, growing or shuffling the
// backing slice as needed so that WritableBytes() >= len(data) beforehand.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	b.writerIndex += copy(b.buf[b.writerIndex:], data)
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// ensureWritable guarantees WritableBytes() >= n, either by sliding the
// unread bytes to the front of the backing slice (cheap) or by
// reallocating to writerIndex+n capacity (only when shuffling would not
// be enough).
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() >= DefaultPrependSize+n {
		readable := b.ReadableBytes()
		copy(b.buf[DefaultPrependSize:], b.buf[b.readerIndex:b.writerIndex])
		b.readerIndex = DefaultPrependSize
		b.writerIndex = DefaultPrependSize + readable
		return
	}
	grown := make([]byte, b.writerIndex+n)
	copy(grown, b.buf)
	b.buf = grown
}

// Prepend writes data directly into the reserved head room, failing if
// there is not enough of it. Used to splice a length prefix in front of
// an already-buffered payload without copying the payload itself.
func (b *Buffer) Prepend(data []byte) error {
	if len(data) > b.PrependableBytes() {
		return ErrPrependTooLarge
	}
	b.readerIndex -= len(data)
	copy(b.buf[b.readerIndex:], data)
	return nil
}

// FindCRLF returns the offset (relative to the start of the readable
// region) of the first "\r\n", or -1 if none is present.
func (b *Buffer) FindCRLF() int {
	idx := bytes.Index(b.Peek(), crlf)
	return idx
}

// ReadFD reads from fd into the buffer's writable tail plus a pooled
// scratch buffer, using a scatter read (readv) so a packet larger than the
// current writable tail does not force a preallocating grow on every
// connection. Data landing in the scratch buffer is appended to the main
// buffer afterward. Returns the number of bytes read, 0 on an orderly
// peer close, or -1 with err set on a genuine read error (including
// EAGAIN) — callers must branch on the return value rather than on err
// alone to tell "no data yet" and "peer gone" apart from a real fault.
func (b *Buffer) ReadFD(fd int) (int, error) {
	extra := scratchPool.Get()
	defer scratchPool.Put(extra)

	writable := b.buf[b.writerIndex:]

	var iovs [][]byte
	if len(writable) < extraScratchSize {
		iovs = [][]byte{writable, extra[:]}
	} else {
		iovs = [][]byte{writable}
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	if n <= len(writable) {
		b.writerIndex += n
		return n, nil
	}
	b.writerIndex += len(writable)
	b.Append(extra[:n-len(writable)])
	return n, nil
}
