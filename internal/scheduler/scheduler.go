// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package scheduler provides the clock-driven batch conversion scheduler.
//
// scheduler.go - Batch Conversion Scheduler Service
//
// The scheduler:
//   - Runs on a fixed poll interval (default: 20 seconds)
//   - For each enabled cadence, evaluates an at-or-after trigger
//   - When the trigger holds and the target bucket (the previous complete
//     hour or day) differs from the cadence's last processed key:
//     1. Reads the current station list
//     2. Builds one conversion task per source
//     3. Hands the batch to the job pool in its own goroutine
//     4. Records the bucket key as processed and persists the status
//
// The key is advanced after submission, not after completion, so a slow or
// failing batch never holds back the next bucket. A bucket missed while the
// scheduler was down is not queued; Backfill is the recovery path.
//
// The scheduler integrates with the supervisor tree for lifecycle management.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/jobpool"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/metrics"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// SourceLister returns the sources a batch is built for.
type SourceLister func() (stations.DesiredSet, error)

// StationList lists the sources of a station list file pair.
func StationList(primary, fallback string) SourceLister {
	return func() (stations.DesiredSet, error) {
		snap, err := stations.Read(primary, fallback)
		if err != nil {
			return nil, err
		}
		return snap.Set, nil
	}
}

// Recorder persists batch results.
type Recorder interface {
	Put(ctx context.Context, correlationID string, results []conversion.Result) error
}

// Config holds configuration for the batch scheduler.
type Config struct {
	// PollInterval is how often triggers are evaluated.
	PollInterval time.Duration

	// Trigger decides when each cadence is due.
	Trigger bucket.Trigger

	// Cadences lists the enabled cadences.
	Cadences []bucket.Cadence

	// MaxConcurrent bounds the tasks of one batch.
	MaxConcurrent int

	// Role is written to the status record.
	Role string

	// StateDir holds the status record, heartbeat and lock.
	StateDir state.Dir
}

// ConfigFrom derives the scheduler configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	sc := Config{
		PollInterval:  cfg.Convert.PollInterval,
		Trigger:       bucket.Trigger{HourlyMinute: cfg.Convert.HourlyMinute, DailyOffset: cfg.DailyOffset()},
		MaxConcurrent: cfg.Convert.MaxConcurrent,
		Role:          cfg.Role,
		StateDir:      state.Dir(cfg.Paths.StateDir),
	}
	if cfg.Convert.HourlyEnabled {
		sc.Cadences = append(sc.Cadences, bucket.Hourly)
	}
	if cfg.Convert.DailyEnabled {
		sc.Cadences = append(sc.Cadences, bucket.Daily)
	}
	return sc
}

// Scheduler triggers conversion batches on the hourly and daily cadences.
type Scheduler struct {
	config   Config
	runner   jobpool.Runner
	sources  SourceLister
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time

	// Runtime state
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lock    *state.Lock
	status  state.Status
	batches sync.WaitGroup
}

// New creates a scheduler. recorder may be nil.
func New(config Config, runner jobpool.Runner, sources SourceLister, recorder Recorder) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = 20 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Scheduler{
		config:   config,
		runner:   runner,
		sources:  sources,
		recorder: recorder,
		logger:   logging.WithComponent("scheduler"),
		now:      time.Now,
		status:   state.Status{Role: config.Role},
	}
}

// Start takes the scheduler lock, restores the last processed keys and
// begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}

	lock, err := state.AcquireLock(s.config.StateDir.LockPath(state.Scheduler))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.lock = lock

	if err := s.restoreLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduler status unreadable, starting with empty keys")
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().
		Dur("poll_interval", s.config.PollInterval).
		Int("max_concurrent", s.config.MaxConcurrent).
		Int("hourly_minute", s.config.Trigger.HourlyMinute).
		Dur("daily_offset", s.config.Trigger.DailyOffset).
		Str("last_hourly_key", s.status.LastHourlyKey).
		Str("last_daily_key", s.status.LastDailyKey).
		Msg("Starting batch scheduler")

	go s.run(ctx)
	return nil
}

// Stop stops the scheduler loop and releases the lock. Batches already
// submitted keep running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping batch scheduler...")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	err := s.lock.Release()
	s.lock = nil
	s.mu.Unlock()

	s.logger.Info().Msg("Batch scheduler stopped")
	return err
}

// Wait blocks until every submitted batch has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a copy of the current status record.
func (s *Scheduler) Status() state.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.LastBatch != nil {
		b := *st.LastBatch
		st.LastBatch = &b
	}
	return st
}

func (s *Scheduler) restoreLocked() error {
	st, err := state.ReadStatus(s.config.StateDir.StatusPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	s.status.LastHourlyKey = st.LastHourlyKey
	s.status.LastDailyKey = st.LastDailyKey
	s.status.LastBatch = st.LastBatch
	s.status.UpdatedAt = st.UpdatedAt
	return nil
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Evaluate immediately on start
	s.Evaluate(ctx, s.now())

	for {
		select {
		case <-ticker.C:
			s.Evaluate(ctx, s.now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Evaluate runs one trigger evaluation at now and returns the batches it
// submitted.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) []state.Batch {
	var submitted []state.Batch

	for _, c := range s.config.Cadences {
		target, due := s.config.Trigger.Target(c, now)
		if !due {
			continue
		}
		key := target.Key()
		if key == s.lastKey(c) {
			continue
		}

		set, err := s.sources()
		if err != nil {
			s.logger.Warn().Err(err).Str("cadence", string(c)).Str("bucket", key).Msg("No station list, batch deferred")
			continue
		}
		if len(set) == 0 {
			s.logger.Info().Str("cadence", string(c)).Str("bucket", key).Msg("Station list empty, batch deferred")
			continue
		}

		b := s.submit(ctx, target, set.Sources(), now)
		submitted = append(submitted, b)
	}

	if err := state.WriteHeartbeat(s.config.StateDir.HeartbeatPath(state.Scheduler), now); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write scheduler heartbeat")
	}
	return submitted
}

// submit hands a batch to the job pool and advances the cadence key.
func (s *Scheduler) submit(ctx context.Context, target bucket.Bucket, sources []stations.Source, now time.Time) state.Batch {
	tasks := make([]conversion.Task, len(sources))
	for i, src := range sources {
		tasks[i] = conversion.Task{Source: src, Bucket: target}
	}

	corr := logging.GenerateCorrelationID()
	batch := state.Batch{
		CorrelationID: corr,
		Cadence:       string(target.Cadence),
		Bucket:        target.Key(),
		Tasks:         len(tasks),
		SubmittedAt:   now.UTC(),
	}

	// Batches outlive a scheduler stop; tasks finish or die with the process group.
	bctx := logging.ContextWithCorrelationID(context.WithoutCancel(ctx), corr)
	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		RunBatch(bctx, s.runner, s.recorder, tasks, s.config.MaxConcurrent)
	}()

	s.mu.Lock()
	switch target.Cadence {
	case bucket.Hourly:
		s.status.LastHourlyKey = batch.Bucket
	case bucket.Daily:
		s.status.LastDailyKey = batch.Bucket
	}
	s.status.LastBatch = &batch
	s.status.UpdatedAt = now.UTC()
	st := s.status
	s.mu.Unlock()

	if err := state.WriteStatus(s.config.StateDir.StatusPath(), &st); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist scheduler status")
	}
	metrics.RecordTrigger(batch.Cadence, target.Start)

	s.logger.Info().
		Str("correlation_id", corr).
		Str("cadence", batch.Cadence).
		Str("bucket", batch.Bucket).
		Int("tasks", batch.Tasks).
		Msg("Batch submitted")
	return batch
}

func (s *Scheduler) lastKey(c bucket.Cadence) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == bucket.Daily {
		return s.status.LastDailyKey
	}
	return s.status.LastHourlyKey
}

// RunBatch runs tasks through the job pool, logs the outcome summary and
// records the results when recorder is non-nil.
func RunBatch(ctx context.Context, runner jobpool.Runner, recorder Recorder, tasks []conversion.Task, maxConcurrent int) []conversion.Result {
	started := time.Now()
	results := jobpool.Submit(ctx, runner, tasks, maxConcurrent)
	sum := jobpool.Summarize(results)

	logging.Ctx(ctx).Info().
		Int("tasks", len(tasks)).
		Int("published", sum[conversion.Published]).
		Int("skipped", sum[conversion.Skipped]).
		Int("no_input", sum[conversion.NoInput]).
		Int("failed", sum[conversion.Failed]).
		Dur("duration", time.Since(started)).
		Msg("Batch finished")

	if recorder != nil {
		if err := recorder.Put(ctx, logging.CorrelationIDFromContext(ctx), results); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to record batch results")
		}
	}
	return results
}
