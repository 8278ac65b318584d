// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package conversion

import (
	"errors"
	"time"
)

// Outcome is the terminal state of a conversion task.
type Outcome string

const (
	Published Outcome = "published"
	Skipped   Outcome = "skipped"
	NoInput   Outcome = "no_input"
	Failed    Outcome = "failed"
)

// Process exit codes of `rinexpipe convert`.
const (
	ExitPublished = 0
	ExitFailed    = 1
	ExitSkipped   = 10
	ExitNoInput   = 11
)

// ExitCode maps an outcome to its process exit code.
func (o Outcome) ExitCode() int {
	switch o {
	case Published:
		return ExitPublished
	case Skipped:
		return ExitSkipped
	case NoInput:
		return ExitNoInput
	}
	return ExitFailed
}

// OutcomeFromExitCode is the inverse of ExitCode; unknown codes are Failed.
func OutcomeFromExitCode(code int) Outcome {
	switch code {
	case ExitPublished:
		return Published
	case ExitSkipped:
		return Skipped
	case ExitNoInput:
		return NoInput
	}
	return Failed
}

var (
	// ErrNoScratch is returned when no scratch directory is writable.
	ErrNoScratch = errors.New("no writable scratch directory")

	// ErrTranscoder wraps a transcoder failure.
	ErrTranscoder = errors.New("transcoder failed")
)

// Result describes one finished task. It is also the JSON line printed by
// `rinexpipe convert`.
type Result struct {
	Source     string        `json:"source"`
	OutputID   string        `json:"output_id"`
	Cadence    string        `json:"cadence"`
	Bucket     string        `json:"bucket"`
	Outcome    Outcome       `json:"outcome"`
	Output     string        `json:"output,omitempty"`
	Inputs     int           `json:"inputs"`
	Epochs     int           `json:"epochs,omitempty"`
	Duplicates int           `json:"duplicates,omitempty"`
	Bytes      int64         `json:"bytes,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}
