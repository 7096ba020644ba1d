/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package netlog is a thin façade over go.osspkg.com/logx, giving every
// package in this module the same field vocabulary (fd, name, peer, err)
// instead of each one calling logx directly with ad-hoc key names.
package netlog

import (
	"os"

	"go.osspkg.com/logx"
)

// Logger is the subset of logx.Logger this module depends on.
type Logger = logx.Logger

// Fields is a set of key/value pairs attached to every call made through the
// Logger returned by WithFields.
type Fields map[string]any

type fieldLogger struct {
	Logger
	kv []any
}

func (f *fieldLogger) args(kv []any) []any {
	return append(append(make([]any, 0, len(f.kv)+len(kv)), f.kv...), kv...)
}

func (f *fieldLogger) Fatal(message string, kv ...any) { f.Logger.Fatal(message, f.args(kv)...) }
func (f *fieldLogger) Error(message string, kv ...any) { f.Logger.Error(message, f.args(kv)...) }
func (f *fieldLogger) Warn(message string, kv ...any)  { f.Logger.Warn(message, f.args(kv)...) }
func (f *fieldLogger) Info(message string, kv ...any)  { f.Logger.Info(message, f.args(kv)...) }
func (f *fieldLogger) Debug(message string, kv ...any) { f.Logger.Debug(message, f.args(kv)...) }

// WithFields returns a child Logger carrying the given key/value pairs on
// every subsequent call.
func WithFields(l Logger, fields Fields) Logger {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &fieldLogger{Logger: l, kv: kv}
}

// Fatal logs message at error level with the given key/value pairs, then
// terminates the process — the "invariant violations are fatal" policy for
// loop-thread-affinity violations and other unrecoverable reactor state.
func Fatal(message string, kv ...any) {
	logx.Error(message, kv...)
	os.Exit(1)
}

// Error / Warn / Info / Debug proxy directly to the package-level logx
// functions of the same severity, taking message plus alternating
// key/value pairs. Trace has no dedicated level in logx, so it proxies to
// Debug, the next level down.
func Error(message string, kv ...any) { logx.Error(message, kv...) }
func Warn(message string, kv ...any)  { logx.Warn(message, kv...) }
func Info(message string, kv ...any)  { logx.Info(message, kv...) }
func Debug(message string, kv ...any) { logx.Debug(message, kv...) }
func Trace(message string, kv ...any) { logx.Debug(message, kv...) }
