// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package rinex

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Stats reports what Rewrite did.
type Stats struct {
	Epochs       int
	Duplicates   int
	DroppedLines int
}

// EpochKey returns the dedup key of an epoch line: its timestamp fields
// (columns 3 to 29, "YYYY MM DD HH MM SS.SSSSSSS").
func EpochKey(line string) string {
	if len(line) >= 29 {
		return line[2:29]
	}
	return strings.TrimSpace(line[1:])
}

// Rewrite copies a RINEX observation file from r to w, patching the header
// and dropping every record whose epoch key was already seen. Surviving
// records keep their relative order.
func Rewrite(r io.Reader, w io.Writer, patch *HeaderPatch) (Stats, error) {
	var st Stats
	bw := bufio.NewWriterSize(w, 256*1024)
	sc := newScanner(r)

	var header []string
	inHeader := true
	seen := make(map[string]struct{})
	dropping := false

	write := func(line string) error {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	}

	for sc.Scan() {
		line := sc.Text()
		if inHeader {
			header = append(header, line)
			if Label(line) != EndOfHeader {
				continue
			}
			inHeader = false
			if patch != nil {
				header = patch.patchHeader(header)
			}
			for _, h := range header {
				if err := write(h); err != nil {
					return st, err
				}
			}
			header = nil
			continue
		}

		if len(line) > 0 && line[0] == EpochMarker {
			key := EpochKey(line)
			if _, dup := seen[key]; dup {
				st.Duplicates++
				dropping = true
			} else {
				seen[key] = struct{}{}
				st.Epochs++
				dropping = false
			}
		}
		if dropping {
			st.DroppedLines++
			continue
		}
		if err := write(line); err != nil {
			return st, err
		}
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("rinex: scan: %w", err)
	}
	if inHeader {
		return st, ErrNoHeader
	}
	if st.Epochs == 0 {
		return st, ErrNoEpochs
	}
	return st, bw.Flush()
}

// Dedup is Rewrite without header changes.
func Dedup(r io.Reader, w io.Writer) (Stats, error) {
	return Rewrite(r, w, nil)
}
