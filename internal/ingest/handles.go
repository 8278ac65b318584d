// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package ingest implements the Source Supervisor: desired-state
// reconciliation of one worker process per source.
//
// The supervisor loop is the only owner of State. Reconciliation receives it
// explicitly; nothing else reads or mutates the handle map. Readers outside
// the loop (the status API) see immutable copies published after every pass.
package ingest

import (
	"sort"
	"time"

	"github.com/tomtom215/rinexpipe/internal/procctl"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// Process is a started worker process.
type Process interface {
	procctl.Target
	Pid() int
}

// Spawner starts the worker process of a source.
type Spawner interface {
	Spawn(src stations.Source) (Process, error)
}

// WorkerHandle tracks one live worker.
type WorkerHandle struct {
	ID      string
	Source  stations.Source
	Process Process
	Started time.Time

	// LastFresh is the modification time of the newest raw capture seen.
	LastFresh time.Time

	// LastWarn is when the supervisor last reported the source as stale.
	LastWarn time.Time
}

// exited reports whether the worker process is gone.
func (h *WorkerHandle) exited() bool {
	select {
	case <-h.Process.Done():
		return true
	default:
		return false
	}
}

// State is the supervisor's handle map.
type State struct {
	handles map[string]*WorkerHandle
}

// NewState returns an empty state.
func NewState() *State {
	return &State{handles: make(map[string]*WorkerHandle)}
}

// Live returns the ids of live workers in sorted order.
func (s *State) Live() []string {
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live workers.
func (s *State) Len() int {
	return len(s.handles)
}

// Handle returns the handle of id.
func (s *State) Handle(id string) (*WorkerHandle, bool) {
	h, ok := s.handles[id]
	return h, ok
}

// HandleInfo is a read-only view of a WorkerHandle.
type HandleInfo struct {
	ID        string    `json:"id"`
	OutputID  string    `json:"output_id"`
	Pid       int       `json:"pid"`
	Started   time.Time `json:"started"`
	LastFresh time.Time `json:"last_fresh,omitempty"`
	LastWarn  time.Time `json:"last_warn,omitempty"`
}

// Infos copies the handles for readers outside the supervisor loop.
func (s *State) Infos() []HandleInfo {
	out := make([]HandleInfo, 0, len(s.handles))
	for _, id := range s.Live() {
		h := s.handles[id]
		out = append(out, HandleInfo{
			ID:        h.ID,
			OutputID:  h.Source.OutputID,
			Pid:       h.Process.Pid(),
			Started:   h.Started,
			LastFresh: h.LastFresh,
			LastWarn:  h.LastWarn,
		})
	}
	return out
}
