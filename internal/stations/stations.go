// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package stations reads the station list, the desired set of sources.
//
// File format, one source per line, whitespace separated:
//
//	# comment
//	MOUNTPOINT RINEX_ID
//	MOUNTPOINT RINEX_ID X Y Z REC_TYPE REC_VER ANT_TYPE ANT_H ANT_E ANT_N
//
// A field containing spaces encodes them as '|' (e.g. "TRM59800.00|NONE").
// Trailing extended fields may be omitted. Duplicate ids keep the first
// line; malformed lines are skipped with a warning.
package stations

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/tomtom215/rinexpipe/internal/logging"
)

// SpaceEscape encodes a space inside a field.
const SpaceEscape = "|"

// ErrNoStationList is returned when neither the primary nor the fallback
// list can be read.
var ErrNoStationList = errors.New("no readable station list")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Metadata holds the optional extended fields, as written in the list.
type Metadata struct {
	X, Y, Z         string
	ReceiverType    string
	ReceiverVersion string
	AntennaType     string
	AntennaH        string
	AntennaE        string
	AntennaN        string
}

// Position returns the "X/Y/Z" approximate position, or "" if incomplete.
func (m Metadata) Position() string {
	if m.X == "" || m.Y == "" || m.Z == "" {
		return ""
	}
	return m.X + "/" + m.Y + "/" + m.Z
}

// Delta returns the "H/E/N" antenna delta, or "" if incomplete.
func (m Metadata) Delta() string {
	if m.AntennaH == "" || m.AntennaE == "" || m.AntennaN == "" {
		return ""
	}
	return m.AntennaH + "/" + m.AntennaE + "/" + m.AntennaN
}

// Source is one desired stream. Values are compared with ==; a changed
// line yields a different Source under the same ID.
type Source struct {
	// ID is the caster mountpoint and the stable key.
	ID string

	// OutputID is the 9-character RINEX station id used in artifact names.
	OutputID string

	Meta Metadata
}

// DesiredSet maps source id to Source.
type DesiredSet map[string]Source

// IDs returns the sorted source ids.
func (d DesiredSet) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sources returns the sources ordered by id.
func (d DesiredSet) Sources() []Source {
	out := make([]Source, 0, len(d))
	for _, id := range d.IDs() {
		out = append(out, d[id])
	}
	return out
}

// Issue describes a skipped line.
type Issue struct {
	Line   int
	Reason string
}

// Parse reads a station list. Skipped lines are reported as issues.
func Parse(r io.Reader) (DesiredSet, []Issue, error) {
	set := make(DesiredSet)
	var issues []Issue

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			issues = append(issues, Issue{lineNo, "expected at least MOUNTPOINT and RINEX_ID"})
			continue
		}
		if len(fields) > 11 {
			issues = append(issues, Issue{lineNo, fmt.Sprintf("%d fields, at most 11 expected", len(fields))})
			continue
		}
		for i := range fields {
			fields[i] = decode(fields[i])
		}

		src := Source{ID: fields[0], OutputID: fields[1]}
		if !idPattern.MatchString(src.ID) {
			issues = append(issues, Issue{lineNo, fmt.Sprintf("invalid id %q", src.ID)})
			continue
		}
		if !idPattern.MatchString(src.OutputID) {
			issues = append(issues, Issue{lineNo, fmt.Sprintf("invalid output id %q", src.OutputID)})
			continue
		}
		if _, dup := set[src.ID]; dup {
			issues = append(issues, Issue{lineNo, fmt.Sprintf("duplicate id %q ignored", src.ID)})
			continue
		}

		ext := make([]string, 9)
		copy(ext, fields[2:])
		src.Meta = Metadata{
			X: ext[0], Y: ext[1], Z: ext[2],
			ReceiverType:    ext[3],
			ReceiverVersion: ext[4],
			AntennaType:     ext[5],
			AntennaH:        ext[6],
			AntennaE:        ext[7],
			AntennaN:        ext[8],
		}
		set[src.ID] = src
	}
	if err := sc.Err(); err != nil {
		return nil, issues, fmt.Errorf("read station list: %w", err)
	}
	return set, issues, nil
}

func decode(field string) string {
	return strings.ReplaceAll(field, SpaceEscape, " ")
}

// Encode escapes a value for use as a single station list field.
// Runs of whitespace collapse to one '|'; an empty value becomes def.
func Encode(value, def string) string {
	f := strings.Fields(value)
	if len(f) == 0 {
		return def
	}
	return strings.Join(f, SpaceEscape)
}

// Snapshot is one read of the station list.
type Snapshot struct {
	Set       DesiredSet
	Signature string
	Path      string
	Fallback  bool
}

// Read loads the primary list, or the fallback when the primary cannot be
// read. Both missing yields ErrNoStationList.
func Read(primary, fallback string) (Snapshot, error) {
	data, path, isFallback, err := readEither(primary, fallback)
	if err != nil {
		return Snapshot{}, err
	}

	set, issues, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, err
	}
	for _, is := range issues {
		logging.Warn().Str("path", path).Int("line", is.Line).Msg("Station list: " + is.Reason)
	}
	return Snapshot{Set: set, Signature: digest(path, data), Path: path, Fallback: isFallback}, nil
}

// Signature returns the change signature of the list Read would load.
// It changes whenever the content, or the file in use, changes.
func Signature(primary, fallback string) (string, error) {
	data, path, _, err := readEither(primary, fallback)
	if err != nil {
		return "", err
	}
	return digest(path, data), nil
}

func digest(path string, data []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func readEither(primary, fallback string) ([]byte, string, bool, error) {
	data, perr := os.ReadFile(primary)
	if perr == nil {
		return data, primary, false, nil
	}
	if fallback != "" {
		data, ferr := os.ReadFile(fallback)
		if ferr == nil {
			return data, fallback, true, nil
		}
		return nil, "", false, fmt.Errorf("%w: %v; fallback: %v", ErrNoStationList, perr, ferr)
	}
	return nil, "", false, fmt.Errorf("%w: %v", ErrNoStationList, perr)
}
