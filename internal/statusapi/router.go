// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package statusapi serves the read-only status surface of the daemon:
// heartbeat health, the scheduler status record, live source workers, the
// conversion ledger and Prometheus metrics.
//
// Routes:
//
//	GET /healthz            200 while every expected heartbeat is fresh, else 503
//	GET /status             scheduler status record and live worker handles
//	GET /history?day=&source=&limit=
//	GET /metrics            Prometheus exposition
package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/rinexpipe/internal/ingest"
	"github.com/tomtom215/rinexpipe/internal/ledger"
	"github.com/tomtom215/rinexpipe/internal/state"
)

// StatusSource reports the in-memory scheduler status.
type StatusSource interface {
	Status() state.Status
}

// WorkerSource reports the live source workers.
type WorkerSource interface {
	Workers() []ingest.HandleInfo
}

// HistorySource reads the conversion ledger.
type HistorySource interface {
	Day(ctx context.Context, day time.Time) ([]ledger.Record, error)
	Recent(ctx context.Context, limit int) ([]ledger.Record, error)
}

// Options configure the router. Nil sources are reported as unavailable;
// without a StatusSource the persisted status record is read from StateDir.
type Options struct {
	StateDir   state.Dir
	StaleAfter time.Duration

	// Heartbeats lists the heartbeat owners /healthz requires.
	Heartbeats []string

	Scheduler StatusSource
	Workers   WorkerSource
	History   HistorySource
}

// Router holds the handlers of the status service.
type Router struct {
	opts Options
	now  func() time.Time
}

// NewRouter creates a Router.
func NewRouter(opts Options) *Router {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	return &Router{opts: opts, now: time.Now}
}

// Handler builds the chi handler tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogging)
	r.Use(PrometheusMetrics)

	r.Get("/healthz", rt.Health)
	r.Get("/status", rt.Status)
	r.Get("/history", rt.History)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}
