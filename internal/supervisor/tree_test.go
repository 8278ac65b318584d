// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarts(svc *mockService, n int32, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if svc.starts.Load() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Fatal("root supervisor should not be nil")
		}
		if tree.config != DefaultTreeConfig() {
			t.Errorf("config = %+v, want defaults", tree.config)
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{FailureBackoff: time.Second, ShutdownTimeout: 40 * time.Second})
		if tree.config.FailureBackoff != time.Second || tree.config.ShutdownTimeout != 40*time.Second {
			t.Errorf("config = %+v", tree.config)
		}
	})
}

func TestShutdownBudget(t *testing.T) {
	tests := []struct {
		stop time.Duration
		want time.Duration
	}{
		{0, 10 * time.Second},
		{3 * time.Second, 10 * time.Second},
		{15 * time.Second, 20 * time.Second},
	}
	for _, tt := range tests {
		if got := ShutdownBudget(tt.stop); got != tt.want {
			t.Errorf("ShutdownBudget(%v) = %v, want %v", tt.stop, got, tt.want)
		}
	}
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	ingest := newMockService("source-supervisor", 0)
	convert := newMockService("scheduler", 2)
	api := newMockService("status-api", 0)
	tree.AddIngestService(ingest)
	tree.AddConvertService(convert)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	if !waitStarts(ingest, 1, time.Second) || !waitStarts(api, 1, time.Second) {
		t.Fatal("layer services were not started")
	}
	if !waitStarts(convert, 3, 2*time.Second) {
		t.Errorf("failing service should be restarted, starts = %d", convert.starts.Load())
	}
	if ingest.starts.Load() != 1 {
		t.Errorf("a failure in the convert layer restarted the ingest layer: starts = %d", ingest.starts.Load())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}

	for _, svc := range []*mockService{ingest, convert, api} {
		if svc.stops.Load() != svc.starts.Load() {
			t.Errorf("%s: %d starts, %d stops", svc.name, svc.starts.Load(), svc.stops.Load())
		}
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil || len(report) != 0 {
		t.Errorf("unstopped services = %v, %v", report, err)
	}
}

func TestDoNotRestart(t *testing.T) {
	sup := suture.New("no-restart", suture.Spec{FailureBackoff: 10 * time.Millisecond, Timeout: 100 * time.Millisecond})
	svc := &oneShot{}
	sup.Add(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sup.Serve(ctx)

	if svc.runs.Load() != 1 {
		t.Errorf("service returning ErrDoNotRestart ran %d times", svc.runs.Load())
	}
}

type oneShot struct{ runs atomic.Int32 }

func (o *oneShot) Serve(context.Context) error {
	o.runs.Add(1)
	return suture.ErrDoNotRestart
}
