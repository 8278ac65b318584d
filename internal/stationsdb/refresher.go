// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package stationsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/metrics"
)

// ErrEmptyResult is returned when the view yields no usable station. An
// empty result never replaces an existing list.
var ErrEmptyResult = errors.New("query returned no stations")

// Querier is satisfied by *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Outcome of one refresh.
const (
	Written   = "written"
	Unchanged = "unchanged"
	Failed    = "error"
)

// Refresher periodically regenerates the station list.
type Refresher struct {
	db       Querier
	opts     Options
	interval time.Duration
	cb       *gobreaker.CircuitBreaker[[]Row]
	now      func() time.Time
}

// Open connects to PostgreSQL with the querydb settings. The connection
// is verified lazily by the first refresh.
func Open(q config.QueryDBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(q))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewRefresher creates a Refresher. Intervals below a minute are raised
// to a minute.
func NewRefresher(db Querier, opts Options, interval time.Duration) *Refresher {
	if interval < config.MinQueryInterval {
		interval = config.MinQueryInterval
	}

	name := "querydb"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]Row](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		// Refreshes are rare; trip on consecutive failures rather than a ratio.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Refresher{db: db, opts: opts, interval: interval, cb: cb, now: time.Now}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Fetch runs the view query through the circuit breaker.
func (r *Refresher) Fetch(ctx context.Context) ([]Row, error) {
	query, err := r.opts.SQL()
	if err != nil {
		return nil, err
	}
	return r.cb.Execute(func() ([]Row, error) {
		return r.query(ctx, query)
	})
}

func (r *Refresher) query(ctx context.Context, query string) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.opts.View, err)
	}
	defer rows.Close()

	stationListSource := r.opts.StationListSource()
	var out []Row
	for rows.Next() {
		var row Row
		if stationListSource {
			err = rows.Scan(&row.Mountpoint, &row.RinexID, &row.X, &row.Y, &row.Z,
				&row.RecType, &row.RecVer, &row.AntType, &row.AntH, &row.AntE, &row.AntN)
		} else {
			err = rows.Scan(&row.Mountpoint, &row.RinexID, &row.X, &row.RecType, &row.RecVer, &row.AntType)
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.opts.View, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.opts.View, err)
	}
	return out, nil
}

// Refresh fetches the view and publishes the list. It returns the number
// of stations and the outcome (Written, Unchanged or Failed).
func (r *Refresher) Refresh(ctx context.Context) (int, string, error) {
	rows, err := r.Fetch(ctx)
	if err != nil {
		metrics.QueryDBRefresh.WithLabelValues(Failed).Inc()
		return 0, Failed, err
	}

	lines := r.opts.Lines(rows)
	if len(lines) == 0 {
		metrics.QueryDBRefresh.WithLabelValues(Failed).Inc()
		return 0, Failed, ErrEmptyResult
	}

	written, err := r.opts.Publish(lines, r.now())
	if err != nil {
		metrics.QueryDBRefresh.WithLabelValues(Failed).Inc()
		return len(lines), Failed, err
	}
	outcome := Unchanged
	if written {
		outcome = Written
	}
	metrics.QueryDBRefresh.WithLabelValues(outcome).Inc()
	return len(lines), outcome, nil
}

// Serve refreshes immediately and then on every interval until ctx is
// canceled. Failures are logged and retried at the next interval.
func (r *Refresher) Serve(ctx context.Context) error {
	logger := logging.WithComponent("querydb")
	logger.Info().
		Str("view", r.opts.View).
		Str("mode", r.opts.Mode).
		Dur("interval", r.interval).
		Str("output", r.opts.Output).
		Msg("Station list refresher started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, outcome, err := r.Refresh(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Station list refresh failed")
		} else {
			logger.Info().Int("stations", n).Str("outcome", outcome).Msg("Station list refreshed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (r *Refresher) String() string {
	return "station-list-refresher"
}
