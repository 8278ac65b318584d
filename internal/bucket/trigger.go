// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package bucket

import "time"

// Trigger decides when a cadence is due. Both conditions are at-or-after
// comparisons so that a delayed or restarted poll loop still fires within
// the same period; the last-processed key provides exactly-once.
type Trigger struct {
	// HourlyMinute: hourly is due when the minute of the hour is >= this.
	HourlyMinute int

	// DailyOffset: daily is due when the UTC time of day is >= this.
	DailyOffset time.Duration
}

// Due reports whether cadence c is due at now.
func (tr Trigger) Due(c Cadence, now time.Time) bool {
	now = now.UTC()
	switch c {
	case Hourly:
		return now.Minute() >= tr.HourlyMinute
	case Daily:
		return now.Sub(Of(Daily, now).Start) >= tr.DailyOffset
	}
	return false
}

// Target returns the bucket a trigger at now should process, and whether
// it is due at all. The target is always the previous complete bucket.
func (tr Trigger) Target(c Cadence, now time.Time) (Bucket, bool) {
	if !tr.Due(c, now) {
		return Bucket{}, false
	}
	return Previous(c, now), true
}
