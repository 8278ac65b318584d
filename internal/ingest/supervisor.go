// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/layout"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/metrics"
	"github.com/tomtom215/rinexpipe/internal/procctl"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// Reconcile triggers, used as metric labels.
const (
	TriggerStartup   = "startup"
	TriggerInterval  = "interval"
	TriggerSignature = "signature"
)

// Config holds configuration for the Source Supervisor.
type Config struct {
	PollInterval      time.Duration
	SignatureInterval time.Duration
	StationsList      string
	StationsFallback  string
	StaleThreshold    time.Duration
	StateDir          state.Dir
	Layout            layout.Layout
	Stop              procctl.StopPolicy
}

// ConfigFrom derives the supervisor configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PollInterval:      cfg.Ingest.PollInterval,
		SignatureInterval: cfg.Ingest.SignatureInterval,
		StationsList:      cfg.Paths.StationsList,
		StationsFallback:  cfg.Paths.StationsListFallback,
		StaleThreshold:    cfg.Ingest.StaleThreshold,
		StateDir:          state.Dir(cfg.Paths.StateDir),
		Layout:            layout.FromConfig(cfg),
		Stop: procctl.StopPolicy{
			TerminateWait: cfg.Ingest.StopGrace,
			KillWait:      cfg.Ingest.KillWait,
		},
	}
}

// Supervisor is the Source Supervisor service. Serve owns the worker state
// for its whole lifetime.
type Supervisor struct {
	config     Config
	reconciler *Reconciler
	logger     zerolog.Logger
	now        func() time.Time

	st      *State
	lastSig string

	workers  atomic.Pointer[[]HandleInfo]
	lastPass atomic.Pointer[time.Time]
}

// New creates a supervisor spawning workers with spawner.
func New(config Config, spawner Spawner) *Supervisor {
	s := &Supervisor{
		config:     config,
		reconciler: NewReconciler(spawner, config.Stop),
		logger:     logging.WithComponent("supervisor"),
		now:        time.Now,
		st:         NewState(),
	}
	empty := []HandleInfo{}
	s.workers.Store(&empty)
	return s
}

// Serve implements suture.Service. It reconciles on startup, on every poll
// interval and whenever the station list signature changes. On
// cancellation every live worker is stopped before Serve returns.
func (s *Supervisor) Serve(ctx context.Context) error {
	lock, err := state.AcquireLock(s.config.StateDir.LockPath(state.Supervisor))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	s.logger.Info().
		Dur("poll_interval", s.config.PollInterval).
		Dur("signature_interval", s.config.SignatureInterval).
		Str("stations_list", s.config.StationsList).
		Msg("Starting source supervisor")

	s.pass(TriggerStartup)

	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()
	sig := time.NewTicker(s.config.SignatureInterval)
	defer sig.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-poll.C:
			s.pass(TriggerInterval)
		case <-sig.C:
			if s.signatureChanged() {
				s.pass(TriggerSignature)
			}
		}
	}
}

// Workers returns the live workers as of the last pass.
func (s *Supervisor) Workers() []HandleInfo {
	return *s.workers.Load()
}

// LastPass returns when the last reconciliation finished.
func (s *Supervisor) LastPass() time.Time {
	if t := s.lastPass.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

func (s *Supervisor) signatureChanged() bool {
	sig, err := stations.Signature(s.config.StationsList, s.config.StationsFallback)
	if err != nil {
		// The next interval pass reports the unreadable list.
		return false
	}
	return sig != s.lastSig
}

// pass runs one reconciliation and writes the heartbeat.
func (s *Supervisor) pass(trigger string) {
	started := time.Now()
	now := s.now()

	snap, err := stations.Read(s.config.StationsList, s.config.StationsFallback)
	if err != nil {
		s.logger.Warn().Err(err).Str("trigger", trigger).Int("live", s.st.Len()).
			Msg("Station list unreadable, keeping current workers")
	} else {
		if snap.Fallback && snap.Signature != s.lastSig {
			s.logger.Warn().Str("path", snap.Path).Msg("Using fallback station list")
		}
		s.lastSig = snap.Signature
		metrics.SetStationList(len(snap.Set), snap.Fallback)

		res := s.reconciler.Reconcile(s.st, snap.Set)
		for _, ids := range [][]string{res.Exited, res.Stopped} {
			for _, id := range ids {
				metrics.SourceCaptureAge.DeleteLabelValues(id)
			}
		}
		if res.Changed() || len(res.Failed) > 0 || len(res.Abandoned) > 0 {
			s.logger.Info().
				Str("trigger", trigger).
				Strs("started", res.Started).
				Strs("stopped", res.Stopped).
				Strs("exited", res.Exited).
				Strs("failed", res.Failed).
				Strs("abandoned", res.Abandoned).
				Int("live", s.st.Len()).
				Msg("Reconciled source workers")
		}
	}

	s.observeFreshness(now)
	s.publish(now)
	metrics.RecordReconcile(trigger, time.Since(started), s.st.Len())

	if err := state.WriteHeartbeat(s.config.StateDir.HeartbeatPath(state.Supervisor), now); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write supervisor heartbeat")
	}
}

// observeFreshness refreshes LastFresh of every handle and reports sources
// whose newest capture is older than the threshold, once per threshold window.
func (s *Supervisor) observeFreshness(now time.Time) {
	for _, id := range s.st.Live() {
		h := s.st.handles[id]
		if _, mtime, ok := s.config.Layout.LatestRaw(id, now); ok {
			h.LastFresh = mtime
			metrics.SourceCaptureAge.WithLabelValues(id).Set(now.Sub(mtime).Seconds())
		}

		ref := h.LastFresh
		if ref.IsZero() {
			ref = h.Started
		}
		if s.config.StaleThreshold <= 0 || now.Sub(ref) <= s.config.StaleThreshold {
			continue
		}
		if now.Sub(h.LastWarn) < s.config.StaleThreshold {
			continue
		}
		h.LastWarn = now
		s.logger.Warn().
			Str("source", id).
			Dur("age", now.Sub(ref)).
			Msg("Source has no fresh raw capture")
	}
}

func (s *Supervisor) publish(now time.Time) {
	infos := s.st.Infos()
	s.workers.Store(&infos)
	s.lastPass.Store(&now)
}

func (s *Supervisor) shutdown() {
	live := s.st.Len()
	s.logger.Info().Int("live", live).Msg("Stopping all source workers")
	stopped, abandoned := s.reconciler.StopAll(s.st)
	s.publish(s.now())
	metrics.WorkersLive.Set(float64(s.st.Len()))
	s.logger.Info().
		Int("stopped", len(stopped)).
		Strs("abandoned", abandoned).
		Msg("Source supervisor stopped")
}

// String implements fmt.Stringer for suture logs.
func (s *Supervisor) String() string {
	return "source-supervisor"
}
