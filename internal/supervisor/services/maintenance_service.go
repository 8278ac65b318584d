// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package services

import (
	"context"
	"time"

	"github.com/tomtom215/rinexpipe/internal/logging"
)

// MaintenanceJob is one periodic housekeeping step.
type MaintenanceJob struct {
	Name string
	Run  func(now time.Time) error
}

// MaintenanceService runs its jobs once at start and then every interval.
// A failing job is logged and retried at the next interval; it never stops
// the service.
type MaintenanceService struct {
	jobs     []MaintenanceJob
	interval time.Duration
	now      func() time.Time
}

// NewMaintenanceService creates the service. A non-positive interval means one hour.
func NewMaintenanceService(interval time.Duration, jobs ...MaintenanceJob) *MaintenanceService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceService{jobs: jobs, interval: interval, now: time.Now}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	m.runAll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runAll()
		}
	}
}

func (m *MaintenanceService) runAll() {
	for _, job := range m.jobs {
		start := m.now()
		if err := job.Run(start); err != nil {
			logging.Warn().Err(err).Str("job", job.Name).Msg("Maintenance job failed")
			continue
		}
		logging.Debug().Str("job", job.Name).Dur("duration", m.now().Sub(start)).Msg("Maintenance job finished")
	}
}

// String implements fmt.Stringer for suture's log messages.
func (m *MaintenanceService) String() string {
	return "maintenance"
}
