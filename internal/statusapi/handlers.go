// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package statusapi

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/tomtom215/rinexpipe/internal/ingest"
	"github.com/tomtom215/rinexpipe/internal/ledger"
	"github.com/tomtom215/rinexpipe/internal/state"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
)

// HeartbeatInfo is the health of one heartbeat file.
type HeartbeatInfo struct {
	At         *time.Time `json:"at,omitempty"`
	AgeSeconds float64    `json:"age_seconds,omitempty"`
	Healthy    bool       `json:"healthy"`
	Error      string     `json:"error,omitempty"`
}

// Health reports 200 while every expected heartbeat is younger than the
// stale threshold and 503 otherwise.
func (rt *Router) Health(w http.ResponseWriter, _ *http.Request) {
	now := rt.now()
	beats := make(map[string]HeartbeatInfo, len(rt.opts.Heartbeats))
	healthy := true

	for _, owner := range rt.opts.Heartbeats {
		info := HeartbeatInfo{}
		at, err := state.ReadHeartbeat(rt.opts.StateDir.HeartbeatPath(owner))
		if err != nil {
			info.Error = err.Error()
		} else {
			age := now.Sub(at)
			info.At = &at
			info.AgeSeconds = age.Seconds()
			info.Healthy = age <= rt.opts.StaleAfter
		}
		if !info.Healthy {
			healthy = false
		}
		beats[owner] = info
	}

	code, status := http.StatusOK, "healthy"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "stale"
	}
	respondJSON(w, code, &Response{
		Status:    status,
		Data:      map[string]interface{}{"heartbeats": beats},
		Timestamp: now.UTC(),
	})
}

// StatusData is the payload of GET /status.
type StatusData struct {
	Scheduler *state.Status      `json:"scheduler,omitempty"`
	Workers   []ingest.HandleInfo `json:"workers"`
}

// Status returns the scheduler status record and the live workers.
func (rt *Router) Status(w http.ResponseWriter, _ *http.Request) {
	data := StatusData{Workers: []ingest.HandleInfo{}}

	if rt.opts.Scheduler != nil {
		st := rt.opts.Scheduler.Status()
		data.Scheduler = &st
	} else if rt.opts.StateDir != "" {
		st, err := state.ReadStatus(rt.opts.StateDir.StatusPath())
		switch {
		case err == nil:
			data.Scheduler = &st
		case !errors.Is(err, os.ErrNotExist):
			respondError(w, http.StatusInternalServerError, "STATUS_UNREADABLE", "Scheduler status is unreadable", err)
			return
		}
	}

	if rt.opts.Workers != nil {
		data.Workers = rt.opts.Workers.Workers()
	}

	respondJSON(w, http.StatusOK, &Response{Status: "success", Data: data})
}

// History returns ledger records for ?day=YYYY-MM-DD, or the most recent
// records when no day is given. ?source= filters by source id.
func (rt *Router) History(w http.ResponseWriter, r *http.Request) {
	if rt.opts.History == nil {
		respondError(w, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "Conversion ledger is not open in this process", nil)
		return
	}

	q := r.URL.Query()
	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 5000", nil)
			return
		}
		limit = n
	}

	var (
		records []ledger.Record
		err     error
	)
	if s := q.Get("day"); s != "" {
		day, perr := time.Parse(time.DateOnly, s)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "INVALID_DAY", "day must be YYYY-MM-DD", nil)
			return
		}
		records, err = rt.opts.History.Day(r.Context(), day)
	} else {
		records, err = rt.opts.History.Recent(r.Context(), limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LEDGER_ERROR", "Failed to read conversion ledger", err)
		return
	}

	if src := q.Get("source"); src != "" {
		records = ledger.Filter(records, ledger.BySource(src))
	}
	if len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []ledger.Record{}
	}

	respondJSON(w, http.StatusOK, &Response{Status: "success", Data: records})
}
