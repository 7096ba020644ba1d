/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package errs classifies the errno values raw socket code sees during
// ordinary connection teardown, so callers can tell "peer went away" apart
// from a fault worth logging at error level.
package errs

import (
	"io"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

// IsClosed reports whether err is one of the errno values (or io.EOF) a
// socket returns in the course of an ordinary close, reset, or shutdown,
// as opposed to a genuine I/O fault.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	switch {
	case errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.EPIPE),
		errors.Is(err, unix.EBADF),
		errors.Is(err, unix.ECONNABORTED),
		errors.Is(err, unix.ENOTCONN),
		errors.Is(err, unix.ESHUTDOWN):
		return true
	}
	return false
}
