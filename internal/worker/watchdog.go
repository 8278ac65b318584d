// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package worker

import (
	"time"

	"golang.org/x/time/rate"
)

// Watchdog judges capture freshness. It only observes: a stale source is
// reported, never restarted.
type Watchdog struct {
	// Threshold is the capture age considered stale.
	Threshold time.Duration

	// Latest returns the modification time of the newest capture.
	Latest func(now time.Time) (time.Time, bool)

	limiter *rate.Limiter
}

// NewWatchdog allows one stale warning per threshold-length window.
func NewWatchdog(threshold time.Duration, latest func(now time.Time) (time.Time, bool)) *Watchdog {
	return &Watchdog{
		Threshold: threshold,
		Latest:    latest,
		limiter:   rate.NewLimiter(rate.Every(threshold), 1),
	}
}

// Check returns the capture age at now and whether a stale warning should
// be emitted. since is used as the reference when no capture exists yet
// (normally the child start time).
func (w *Watchdog) Check(now, since time.Time) (age time.Duration, warn bool) {
	ref := since
	if latest, ok := w.Latest(now); ok {
		ref = latest
	}
	age = now.Sub(ref)
	if age <= w.Threshold {
		return age, false
	}
	return age, w.limiter.AllowN(now, 1)
}
