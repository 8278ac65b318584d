// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package stationsdb

import (
	"bufio"
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/rinexpipe/internal/fsutil"
)

// Row is one view row. Columns map by position: in etat_antennes4 mode
// RinexID holds serial_code_world, X holds ecef, RecType receiver,
// RecVer version and AntType antenne; the remaining fields are unused.
type Row struct {
	Mountpoint sql.NullString
	RinexID    sql.NullString
	X, Y, Z    sql.NullString
	RecType    sql.NullString
	RecVer     sql.NullString
	AntType    sql.NullString
	AntH       sql.NullString
	AntE       sql.NullString
	AntN       sql.NullString
}

// Line renders a row as a station list line. ok is false for rows without
// a mountpoint. Rows without a complete position use the minimal
// "MOUNTPOINT RINEX_ID" form.
func (o Options) Line(r Row) (line string, ok bool) {
	mp := NormalizeToken(r.Mountpoint.String, "")
	if mp == "" {
		return "", false
	}
	id := NormalizeToken(r.RinexID.String, mp)

	var x, y, z string
	hOff, eOff, nOff := o.AntennaH, o.AntennaE, o.AntennaN
	if o.StationListSource() {
		x = strings.TrimSpace(r.X.String)
		y = strings.TrimSpace(r.Y.String)
		z = strings.TrimSpace(r.Z.String)
		hOff = NormalizeToken(r.AntH.String, o.AntennaH)
		eOff = NormalizeToken(r.AntE.String, o.AntennaE)
		nOff = NormalizeToken(r.AntN.String, o.AntennaN)
	} else {
		x, y, z, _ = ParseECEF(r.X.String)
	}

	if x == "" || y == "" || z == "" {
		return mp + " " + id, true
	}

	fields := []string{
		mp, id, x, y, z,
		NormalizeToken(r.RecType.String, UnknownToken),
		NormalizeToken(r.RecVer.String, UnknownToken),
		NormalizeToken(r.AntType.String, NoAntenna),
		NormalizeToken(hOff, "0.0"),
		NormalizeToken(eOff, "0.0"),
		NormalizeToken(nOff, "0.0"),
	}
	return strings.Join(fields, " "), true
}

// Lines renders every usable row.
func (o Options) Lines(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if line, ok := o.Line(r); ok {
			out = append(out, line)
		}
	}
	return out
}

// WriteHeader writes the generated-file comment block.
func (o Options) WriteHeader(w io.Writer, now time.Time) error {
	mode := strings.ToLower(o.Mode)
	if mode == "" {
		mode = ModeAuto
	}
	var b strings.Builder
	b.WriteString("# stations.list (auto-generated by rinexpipe querydb)\n")
	fmt.Fprintf(&b, "# generated_at_utc=%s\n", now.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "# source=%s\n", o.View)
	fmt.Fprintf(&b, "# mode=%s\n", mode)
	if o.Where != "" {
		fmt.Fprintf(&b, "# where=%s\n", o.Where)
	}
	b.WriteString("#\n")
	b.WriteString("# Internal spaces in REC_TYPE/REC_VER/ANT_TYPE are written as '|'.\n")
	b.WriteString("#\n")
	b.WriteString("# <MOUNTPOINT> <RINEX_ID> <X> <Y> <Z> <REC_TYPE> <REC_VER> <ANT_TYPE> <ANT_H> <ANT_E> <ANT_N>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Publish writes lines to o.Output atomically unless the station lines of
// the existing file are identical. It reports whether the file was written.
func (o Options) Publish(lines []string, now time.Time) (bool, error) {
	if existing, err := readStationLines(o.Output); err == nil && equalLines(existing, lines) {
		return false, nil
	}

	err := fsutil.WriteAtomic(o.Output, 0o644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := o.WriteHeader(bw, now); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := bw.WriteString(line + "\n"); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
	if err != nil {
		return false, fmt.Errorf("publish station list: %w", err)
	}
	return true, nil
}

func readStationLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range bytes.Split(data, []byte("\n")) {
		s := strings.TrimSpace(string(line))
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
