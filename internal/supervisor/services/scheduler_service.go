// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/rinexpipe/internal/logging"
)

// SchedulerManager is satisfied by *scheduler.Scheduler.
type SchedulerManager interface {
	Start(ctx context.Context) error
	Stop() error
	Wait(ctx context.Context) error
}

// SchedulerService adapts the Batch Conversion Scheduler to suture.
//
// On shutdown the trigger loop stops first; batches already submitted are
// not canceled, and the service waits up to drain for them before
// returning. Tasks still running after that are left to finish on their
// own or to be killed with the process group.
type SchedulerService struct {
	manager SchedulerManager
	drain   time.Duration
	name    string
}

// NewSchedulerService creates the service. A zero drain returns without
// waiting for submitted batches.
func NewSchedulerService(manager SchedulerManager, drain time.Duration) *SchedulerService {
	return &SchedulerService{
		manager: manager,
		drain:   drain,
		name:    "batch-scheduler",
	}
}

// Serve implements suture.Service. A Start failure (the scheduler lock is
// held by another instance) is returned so that suture retries later.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("batch scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("batch scheduler stop failed: %w", err)
	}

	if s.drain > 0 {
		drainCtx, cancel := context.WithTimeout(context.Background(), s.drain)
		defer cancel()
		if err := s.manager.Wait(drainCtx); errors.Is(err, context.DeadlineExceeded) {
			logging.Warn().Dur("drain", s.drain).Msg("Conversion batches still running at shutdown")
		}
	}

	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *SchedulerService) String() string {
	return s.name
}
