// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package logging

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// maxLineBytes bounds a buffered partial line; longer output is flushed as is.
const maxLineBytes = 64 * 1024

// LineWriter is an io.Writer that emits one log event per line written.
// It is used as Stdout/Stderr of external tools so that str2str and convbin
// output ends up in the structured log instead of an unbounded pipe.
type LineWriter struct {
	mu     sync.Mutex
	logger zerolog.Logger
	level  zerolog.Level
	buf    []byte
}

// NewLineWriter returns a LineWriter logging at level through logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewLineWriter(logger zerolog.Logger, level zerolog.Level) *LineWriter {
	return &LineWriter{logger: logger, level: level}
}

// Write implements io.Writer. It never fails.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineBytes {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r ")
	if len(line) == 0 {
		return
	}
	w.logger.WithLevel(w.level).Msg(string(line))
}
