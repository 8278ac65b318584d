// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package bucket models calendar-aligned conversion windows.
//
// A Bucket is a half-open UTC interval [Start, End) aligned to an hour or a
// day. Its Key is stable text used as the scheduler's last-processed marker
// and in the conversion ledger:
//
//	hourly: YYYYDDDHH  (e.g. 202629214 = day 292 of 2026, 14:00-15:00)
//	daily:  YYYYDDD    (e.g. 2026292)
package bucket

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Cadence is the recurrence class of a bucket.
type Cadence string

const (
	Hourly Cadence = "hourly"
	Daily  Cadence = "daily"
)

// Cadences lists every cadence in evaluation order.
var Cadences = []Cadence{Hourly, Daily}

// ErrUnknownCadence is returned for a cadence other than hourly or daily.
var ErrUnknownCadence = errors.New("unknown cadence")

// ParseCadence parses "hourly" or "daily".
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case Hourly, Daily:
		return Cadence(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCadence, s)
}

// Length returns the bucket length for the cadence.
func (c Cadence) Length() time.Duration {
	if c == Daily {
		return 24 * time.Hour
	}
	return time.Hour
}

// PeriodToken is the RINEX long-name file period field.
func (c Cadence) PeriodToken() string {
	if c == Daily {
		return "01D"
	}
	return "01H"
}

// Bucket is one conversion window.
type Bucket struct {
	Cadence Cadence
	Start   time.Time
}

// Of returns the bucket of cadence c containing t.
func Of(c Cadence, t time.Time) Bucket {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	if c == Daily {
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return Bucket{Cadence: c, Start: start}
}

// Previous returns the most recent complete bucket at now: the one before
// the bucket containing now.
func Previous(c Cadence, now time.Time) Bucket {
	cur := Of(c, now)
	return Bucket{Cadence: c, Start: cur.Start.Add(-c.Length())}
}

// End returns the exclusive end of the bucket.
func (b Bucket) End() time.Time {
	return b.Start.Add(b.Cadence.Length())
}

// Closed reports whether the bucket interval has fully elapsed at now.
func (b Bucket) Closed(now time.Time) bool {
	return !now.Before(b.End())
}

// Window returns the bucket interval widened by margin on both sides.
func (b Bucket) Window(margin time.Duration) (from, to time.Time) {
	return b.Start.Add(-margin), b.End().Add(margin)
}

// Key returns the stable bucket key.
func (b Bucket) Key() string {
	if b.Cadence == Daily {
		return fmt.Sprintf("%04d%03d", b.Start.Year(), b.Start.YearDay())
	}
	return fmt.Sprintf("%04d%03d%02d", b.Start.Year(), b.Start.YearDay(), b.Start.Hour())
}

func (b Bucket) String() string {
	return string(b.Cadence) + ":" + b.Key()
}

// ParseKey parses a bucket key produced by Key.
func ParseKey(c Cadence, key string) (Bucket, error) {
	want := 9
	if c == Daily {
		want = 7
	}
	if len(key) != want {
		return Bucket{}, fmt.Errorf("bucket key %q: want %d digits for %s", key, want, c)
	}
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return Bucket{}, fmt.Errorf("bucket key %q: not numeric", key)
	}

	year, _ := strconv.Atoi(key[:4])
	doy, _ := strconv.Atoi(key[4:7])
	hour := 0
	if c == Hourly {
		hour, _ = strconv.Atoi(key[7:9])
	}
	if doy < 1 || doy > daysIn(year) || hour > 23 {
		return Bucket{}, fmt.Errorf("bucket key %q: out of range", key)
	}
	start := time.Date(year, time.January, 1, hour, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
	return Bucket{Cadence: c, Start: start}, nil
}

// ForDay returns every bucket of cadence c in the UTC day containing day:
// 24 hourly buckets or a single daily one.
func ForDay(c Cadence, day time.Time) []Bucket {
	d := Of(Daily, day)
	if c == Daily {
		return []Bucket{d}
	}
	out := make([]Bucket, 0, 24)
	for h := 0; h < 24; h++ {
		out = append(out, Bucket{Cadence: Hourly, Start: d.Start.Add(time.Duration(h) * time.Hour)})
	}
	return out
}

func daysIn(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}
