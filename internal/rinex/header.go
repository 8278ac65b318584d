// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package rinex

import (
	"fmt"
	"time"
)

const (
	labelPgm      = "PGM / RUN BY / DATE"
	labelObserver = "OBSERVER / AGENCY"
	labelMarker   = "MARKER NUMBER"
	labelName     = "MARKER NAME"
	labelComment  = "COMMENT"
)

// HeaderPatch holds the header fields rewritten in every artifact. Empty
// fields leave the transcoder's line untouched.
type HeaderPatch struct {
	Program      string
	RunBy        string
	Date         time.Time
	Observer     string
	Agency       string
	MarkerNumber string

	// Comments, when set, replace the transcoder's COMMENT lines and are
	// placed after the PGM / RUN BY / DATE line.
	Comments []string
}

func (p HeaderPatch) pgmLine() string {
	date := p.Date.UTC().Format("20060102 150405") + " UTC"
	return HeaderLine(fmt.Sprintf("%-20.20s%-20.20s%-20.20s", p.Program, p.RunBy, date), labelPgm)
}

// patchHeader rewrites a complete header, END OF HEADER included.
func (p HeaderPatch) patchHeader(lines []string) []string {
	out := make([]string, 0, len(lines)+len(p.Comments)+1)
	markerDone := false
	for _, line := range lines {
		switch Label(line) {
		case labelPgm:
			if p.Program != "" || p.RunBy != "" {
				line = p.pgmLine()
			}
			out = append(out, line)
			for _, c := range p.Comments {
				out = append(out, HeaderLine(c, labelComment))
			}
			continue
		case labelComment:
			if len(p.Comments) > 0 {
				continue
			}
		case labelObserver:
			if p.Observer != "" || p.Agency != "" {
				line = HeaderLine(fmt.Sprintf("%-20.20s%-40.40s", p.Observer, p.Agency), labelObserver)
			}
		case labelMarker:
			if p.MarkerNumber != "" {
				line = HeaderLine(p.MarkerNumber, labelMarker)
			}
			markerDone = true
		case labelName:
			out = append(out, line)
			if p.MarkerNumber != "" && !markerDone && !hasLabel(lines, labelMarker) {
				out = append(out, HeaderLine(p.MarkerNumber, labelMarker))
				markerDone = true
			}
			continue
		}
		out = append(out, line)
	}
	return out
}

func hasLabel(lines []string, label string) bool {
	for _, l := range lines {
		if Label(l) == label {
			return true
		}
	}
	return false
}
