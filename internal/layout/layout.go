// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package layout derives on-disk paths for raw captures and artifacts.
//
//	raw:      <raw_root>/<YYYY>/<DDD>/<id>/<id>_<YYYY-MM-DD>_<HH-MM-SS>_<suffix>.<ext>
//	artifact: <out_root>/<YYYY>/<DDD>/<outputId>_S_<YYYY><DDD><HHmm>_<01H|01D>_<rate>_MO.rnx[.gz]
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/config"
)

const rawTimeLayout = "2006-01-02_15-04-05"

// Layout holds the roots and raw naming parameters.
type Layout struct {
	RawRoot   string
	OutRoot   string
	RawSuffix string
	RawExt    string
}

// FromConfig returns the layout configured by cfg.
func FromConfig(cfg *config.Config) Layout {
	return Layout{
		RawRoot:   cfg.Paths.RawRoot,
		OutRoot:   cfg.Paths.OutRoot,
		RawSuffix: cfg.Ingest.RawSuffix,
		RawExt:    cfg.Ingest.RawExt,
	}
}

// RawFile is a raw capture with its filename-embedded start time.
type RawFile struct {
	Path  string
	Start time.Time
}

// DayDir returns <root>/<YYYY>/<DDD> for the UTC day of t.
func DayDir(root string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(root, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%03d", t.YearDay()))
}

// RawDir returns the raw capture directory of a source for the UTC day of t.
func (l Layout) RawDir(sourceID string, t time.Time) string {
	return filepath.Join(DayDir(l.RawRoot, t), sourceID)
}

// RawTemplate returns the output path template handed to the streaming
// client. The client expands the time keywords when it opens or rotates a file.
func (l Layout) RawTemplate(sourceID string, t time.Time) string {
	name := fmt.Sprintf("%s_%%Y-%%m-%%d_%%h-%%M-%%S_%s.%s", sourceID, l.RawSuffix, l.RawExt)
	return filepath.Join(l.RawDir(sourceID, t), name)
}

// RawName returns the file name the client produces for a capture opened at t.
func (l Layout) RawName(sourceID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.%s", sourceID, t.UTC().Format(rawTimeLayout), l.RawSuffix, l.RawExt)
}

// ParseRawTime extracts the embedded start time from a raw capture file name.
func ParseRawTime(sourceID, name string) (time.Time, bool) {
	prefix := sourceID + "_"
	if !strings.HasPrefix(name, prefix) || len(name) < len(prefix)+len(rawTimeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(rawTimeLayout, name[len(prefix):len(prefix)+len(rawTimeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// RawInWindow returns the source's raw captures whose embedded start time
// falls in [from, to), ordered by embedded time then name. Only day
// directories spanned by the window are scanned.
func (l Layout) RawInWindow(sourceID string, from, to time.Time) ([]RawFile, error) {
	var out []RawFile
	for day := bucket.Of(bucket.Daily, from).Start; day.Before(to); day = day.Add(24 * time.Hour) {
		dir := l.RawDir(sourceID, day)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), "."+l.RawExt) {
				continue
			}
			ts, ok := ParseRawTime(sourceID, e.Name())
			if !ok || ts.Before(from) || !ts.Before(to) {
				continue
			}
			out = append(out, RawFile{Path: filepath.Join(dir, e.Name()), Start: ts})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// LatestRaw returns the modification time of the most recently modified raw
// capture of a source in the day directories of now and the day before.
func (l Layout) LatestRaw(sourceID string, now time.Time) (string, time.Time, bool) {
	var (
		bestPath string
		best     time.Time
	)
	for _, day := range []time.Time{now, now.Add(-24 * time.Hour)} {
		dir := l.RawDir(sourceID, day)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), "."+l.RawExt) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(best) {
				best = info.ModTime()
				bestPath = filepath.Join(dir, e.Name())
			}
		}
	}
	return bestPath, best, bestPath != ""
}

// RateToken formats an observation interval as a RINEX 3 long-name rate
// field: 10Z, 01S, 30S, 05M, 01H, 01D.
func RateToken(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d <= 0:
		return "00U"
	case d%day == 0:
		return fmt.Sprintf("%02dD", int(d/day)%100)
	case d%time.Hour == 0:
		return fmt.Sprintf("%02dH", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%02dM", int(d/time.Minute)%100)
	case d%time.Second == 0:
		return fmt.Sprintf("%02dS", int(d/time.Second)%100)
	}
	return fmt.Sprintf("%02dZ", int(time.Second/d)%100)
}

// ArtifactName returns the RINEX 3 long file name for a bucket.
func ArtifactName(outputID string, b bucket.Bucket, rate time.Duration, compress bool) string {
	s := b.Start.UTC()
	name := fmt.Sprintf("%s_S_%04d%03d%02d%02d_%s_%s_MO.rnx",
		outputID, s.Year(), s.YearDay(), s.Hour(), s.Minute(), b.Cadence.PeriodToken(), RateToken(rate))
	if compress {
		name += ".gz"
	}
	return name
}

// ArtifactPath returns the deterministic artifact path for a bucket.
func (l Layout) ArtifactPath(outputID string, b bucket.Bucket, rate time.Duration, compress bool) string {
	return filepath.Join(DayDir(l.OutRoot, b.Start), ArtifactName(outputID, b, rate, compress))
}
