// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package jobpool runs batches of conversion tasks with bounded concurrency.
//
// The pool keeps no state between calls: every scheduler trigger or
// backfill builds a fresh batch and Submit returns once all of it has
// finished. A failing (or panicking) task is recorded as failed and never
// cancels its siblings. When all slots are taken, Submit blocks until one
// frees; tasks are never dropped.
package jobpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/metrics"
)

// Runner executes one conversion task.
type Runner interface {
	Run(ctx context.Context, t conversion.Task) conversion.Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t conversion.Task) conversion.Result

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, t conversion.Task) conversion.Result {
	return f(ctx, t)
}

// Submit runs tasks through runner, at most maxConcurrent at a time, and
// returns their results in task order after every task has finished.
func Submit(ctx context.Context, runner Runner, tasks []conversion.Task, maxConcurrent int) []conversion.Result {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	results := make([]conversion.Result, len(tasks))

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i := range tasks {
		wg.Add(1)
		sem <- struct{}{} // Acquire slot

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }() // Release slot

			metrics.TrackInFlight(true)
			defer metrics.TrackInFlight(false)

			results[idx] = runIsolated(ctx, runner, tasks[idx])
			r := results[idx]
			metrics.RecordConversion(r.Cadence, string(r.Outcome), r.Duration, r.Duplicates)
		}(i)
	}

	wg.Wait()
	return results
}

func runIsolated(ctx context.Context, runner Runner, t conversion.Task) (res conversion.Result) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logging.Ctx(ctx).Error().
				Str("task", t.String()).
				Interface("panic", rec).
				Msg("Conversion task panicked")
			res = conversion.Result{
				Source:   t.Source.ID,
				Cadence:  string(t.Bucket.Cadence),
				Bucket:   t.Bucket.Key(),
				Outcome:  conversion.Failed,
				Duration: time.Since(started),
				Error:    fmt.Sprintf("panic: %v", rec),
			}
		}
	}()
	return runner.Run(ctx, t)
}

// Summary counts outcomes of a batch.
type Summary map[conversion.Outcome]int

// Summarize counts results by outcome.
func Summarize(results []conversion.Result) Summary {
	s := make(Summary, 4)
	for i := range results {
		s[results[i].Outcome]++
	}
	return s
}
