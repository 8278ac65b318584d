// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/metrics"
	"github.com/tomtom215/rinexpipe/internal/procctl"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// Reconciler starts and stops workers to match a desired set.
type Reconciler struct {
	Spawner Spawner

	// Stop is the escalation applied to a worker being stopped.
	Stop procctl.StopPolicy

	now func() time.Time
}

// NewReconciler returns a reconciler using spawner and policy.
func NewReconciler(spawner Spawner, policy procctl.StopPolicy) *Reconciler {
	return &Reconciler{Spawner: spawner, Stop: policy, now: time.Now}
}

// Result summarizes one reconciliation pass.
type Result struct {
	// Exited lists workers found dead before the pass.
	Exited []string

	Stopped   []string
	Abandoned []string
	Started   []string
	Failed    []string
}

// Changed reports whether the pass changed the live set.
func (r Result) Changed() bool {
	return len(r.Exited)+len(r.Stopped)+len(r.Started) > 0
}

// Reconcile makes the live set of st equal the ids of desired. Workers
// whose id left the set, or whose Source changed, are stopped first, all
// stops running concurrently; missing workers are started afterwards so a
// changed source is fully stopped before its replacement starts.
func (r *Reconciler) Reconcile(st *State, desired stations.DesiredSet) Result {
	var res Result
	res.Exited = r.prune(st)

	var stopSet []*WorkerHandle
	for id, h := range st.handles {
		if src, ok := desired[id]; !ok || src != h.Source {
			stopSet = append(stopSet, h)
		}
	}
	sort.Slice(stopSet, func(i, j int) bool { return stopSet[i].ID < stopSet[j].ID })
	res.Stopped, res.Abandoned = r.stopHandles(st, stopSet)

	for _, id := range desired.IDs() {
		started, err := r.Start(st, desired[id])
		switch {
		case err != nil:
			res.Failed = append(res.Failed, id)
		case started:
			res.Started = append(res.Started, id)
		}
	}
	return res
}

// Start spawns the worker of src unless one is already live. It reports
// whether a process was spawned.
func (r *Reconciler) Start(st *State, src stations.Source) (bool, error) {
	if h, ok := st.handles[src.ID]; ok && !h.exited() {
		return false, nil
	}

	p, err := r.Spawner.Spawn(src)
	if err != nil {
		logging.Error().Err(err).Str("source", src.ID).Msg("Failed to start source worker")
		return false, err
	}
	st.handles[src.ID] = &WorkerHandle{
		ID:      src.ID,
		Source:  src,
		Process: p,
		Started: r.now(),
	}
	metrics.WorkerStarts.Inc()

	logging.Info().
		Str("source", src.ID).
		Str("output_id", src.OutputID).
		Int("pid", p.Pid()).
		Msg("Source worker started")
	return true, nil
}

// StopIDs stops the listed workers; unknown ids are ignored.
func (r *Reconciler) StopIDs(st *State, ids ...string) (stopped, abandoned []string) {
	var hs []*WorkerHandle
	for _, id := range ids {
		if h, ok := st.handles[id]; ok {
			hs = append(hs, h)
		}
	}
	return r.stopHandles(st, hs)
}

// StopAll stops every live worker.
func (r *Reconciler) StopAll(st *State) (stopped, abandoned []string) {
	return r.StopIDs(st, st.Live()...)
}

func (r *Reconciler) stopHandles(st *State, hs []*WorkerHandle) (stopped, abandoned []string) {
	if len(hs) == 0 {
		return nil, nil
	}

	states := make([]procctl.State, len(hs))
	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopper := procctl.Stopper{
				Policy: r.Stop,
				OnTransition: func(from, to procctl.State, err error) {
					ev := logging.Debug()
					if err != nil {
						ev = logging.Warn().Err(err)
					}
					ev.Str("source", h.ID).Str("from", from.String()).Str("to", to.String()).Msg("Worker stop transition")
				},
			}
			states[i] = stopper.Stop(h.Process)
		}()
	}
	wg.Wait()

	for i, h := range hs {
		metrics.WorkerStops.WithLabelValues(states[i].String()).Inc()
		if states[i] == procctl.Exited {
			delete(st.handles, h.ID)
			stopped = append(stopped, h.ID)
			logging.Info().Str("source", h.ID).Msg("Source worker stopped")
			continue
		}
		abandoned = append(abandoned, h.ID)
		logging.Error().Str("source", h.ID).Int("pid", h.Process.Pid()).Msg("Source worker did not exit after SIGKILL")
	}
	return stopped, abandoned
}

// prune drops handles of workers that exited on their own and kills
// anything left in their process groups.
func (r *Reconciler) prune(st *State) []string {
	var gone []string
	for id, h := range st.handles {
		if h.exited() {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		if g, ok := st.handles[id].Process.(procctl.GroupKiller); ok {
			if err := g.KillGroup(); err != nil {
				logging.Warn().Err(err).Str("source", id).Msg("Cannot kill leftover worker group")
			}
		}
		delete(st.handles, id)
		metrics.WorkerUnexpectedExits.Inc()
		logging.Warn().Str("source", id).Msg("Source worker exited unexpectedly")
	}
	return gone
}
