// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/jobpool"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// ErrNothingToBackfill is returned when a backfill request selects no task.
var ErrNothingToBackfill = errors.New("nothing to backfill")

// Backfill describes an explicit re-run of one UTC day.
type Backfill struct {
	Day           time.Time
	Cadences      []bucket.Cadence
	Sources       []stations.Source
	MaxConcurrent int
	Runner        jobpool.Runner
	Recorder      Recorder
}

// Tasks returns the tasks of the backfill. Buckets still open at now are left out.
func (b *Backfill) Tasks(now time.Time) []conversion.Task {
	var tasks []conversion.Task
	for _, c := range b.Cadences {
		for _, bk := range bucket.ForDay(c, b.Day) {
			if !bk.Closed(now) {
				continue
			}
			for _, src := range b.Sources {
				tasks = append(tasks, conversion.Task{Source: src, Bucket: bk})
			}
		}
	}
	return tasks
}

// Run executes the backfill independently of the live scheduler state; the
// last processed keys are neither read nor advanced. Existing artifacts are
// skipped by the tasks themselves.
func (b *Backfill) Run(ctx context.Context, now time.Time) ([]conversion.Result, error) {
	tasks := b.Tasks(now)
	if len(tasks) == 0 {
		return nil, ErrNothingToBackfill
	}

	ctx = logging.ContextWithNewCorrelationID(ctx)
	logging.Ctx(ctx).Info().
		Str("day", bucket.Of(bucket.Daily, b.Day).Start.Format(time.DateOnly)).
		Int("sources", len(b.Sources)).
		Int("tasks", len(tasks)).
		Int("max_concurrent", b.MaxConcurrent).
		Msg("Backfill started")

	return RunBatch(ctx, b.Runner, b.Recorder, tasks, b.MaxConcurrent), nil
}
