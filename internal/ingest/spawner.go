// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package ingest

import (
	"golang.org/x/sys/unix"

	"github.com/tomtom215/rinexpipe/internal/procctl"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// ProcessSpawner runs each worker as `<Executable> <BaseArgs...> worker <id>`
// in its own process group. A worker receives SIGTERM when the daemon dies.
type ProcessSpawner struct {
	Executable string
	BaseArgs   []string
}

// Args returns the worker command line of a source.
func (p ProcessSpawner) Args(sourceID string) []string {
	args := append([]string{}, p.BaseArgs...)
	return append(args, "worker", sourceID)
}

// Spec returns the process spec of a source's worker.
func (p ProcessSpawner) Spec(sourceID string) procctl.Spec {
	return procctl.Spec{
		Name:              "worker:" + sourceID,
		Path:              p.Executable,
		Args:              p.Args(sourceID),
		ParentDeathSignal: unix.SIGTERM,
	}
}

// Spawn implements Spawner.
func (p ProcessSpawner) Spawn(src stations.Source) (Process, error) {
	proc, err := procctl.Start(p.Spec(src.ID))
	if err != nil {
		return nil, err
	}
	return proc, nil
}
