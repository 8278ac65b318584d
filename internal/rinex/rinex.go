// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package rinex post-processes RINEX 3 observation text produced by the
// transcoder: structural validation, header patching and epoch
// deduplication. Decoding of observations is out of scope; records are
// handled as opaque lines.
package rinex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// labelColumn is the 0-based start of a header label (column 61).
	labelColumn = 60

	// EndOfHeader labels the last header line.
	EndOfHeader = "END OF HEADER"

	// EpochMarker starts every observation record.
	EpochMarker = '>'

	maxLine = 1024 * 1024
)

var (
	// ErrNoHeader is returned when END OF HEADER is missing.
	ErrNoHeader = errors.New("rinex: missing END OF HEADER")

	// ErrNoEpochs is returned when the file has no observation record.
	ErrNoEpochs = errors.New("rinex: no epoch records")
)

// Label returns the header label of a line, or "".
func Label(line string) string {
	if len(line) <= labelColumn {
		return ""
	}
	return strings.TrimSpace(line[labelColumn:])
}

// HeaderLine formats a header line: content padded to 60 columns plus label.
func HeaderLine(content, label string) string {
	if len(content) > labelColumn {
		content = content[:labelColumn]
	}
	return fmt.Sprintf("%-60s%-20s", content, label)
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return sc
}

// Summary describes a scanned file.
type Summary struct {
	HeaderLines int
	Epochs      int
}

// Validate checks the structural markers: an END OF HEADER line followed by
// at least one epoch record.
func Validate(r io.Reader) (Summary, error) {
	var s Summary
	inHeader := true
	sc := newScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if inHeader {
			s.HeaderLines++
			if Label(line) == EndOfHeader {
				inHeader = false
			}
			continue
		}
		if len(line) > 0 && line[0] == EpochMarker {
			s.Epochs++
		}
	}
	if err := sc.Err(); err != nil {
		return s, fmt.Errorf("rinex: scan: %w", err)
	}
	if inHeader {
		return s, ErrNoHeader
	}
	if s.Epochs == 0 {
		return s, ErrNoEpochs
	}
	return s, nil
}

// ValidateFile runs Validate on a file.
func ValidateFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Validate(f)
}
