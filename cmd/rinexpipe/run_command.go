// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/fsutil"
	"github.com/tomtom215/rinexpipe/internal/ingest"
	"github.com/tomtom215/rinexpipe/internal/ledger"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/scheduler"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/stationsdb"
	"github.com/tomtom215/rinexpipe/internal/statusapi"
	"github.com/tomtom215/rinexpipe/internal/supervisor"
	"github.com/tomtom215/rinexpipe/internal/supervisor/services"
)

// tempSweepAge is the minimum age of an interrupted publish's temp file
// before maintenance removes it.
const tempSweepAge = time.Hour

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (source supervisor and/or batch scheduler)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx)
		},
	}
}

func runDaemon(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	logging.Info().
		Str("role", cfg.Role).
		Str("stations_list", cfg.Paths.StationsList).
		Str("state_dir", cfg.Paths.StateDir).
		Bool("http", cfg.HTTP.Enabled).
		Bool("querydb", cfg.QueryDB.Enabled).
		Msg("Starting rinexpipe with supervisor tree")

	// Worker stop and batch drain share one budget; the tree timeout leaves
	// a margin on top of it.
	drain := cfg.Ingest.StopGrace + cfg.Ingest.KillWait
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: supervisor.ShutdownBudget(drain),
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	stateDir := state.Dir(cfg.Paths.StateDir)
	apiOpts := statusapi.Options{
		StateDir:   stateDir,
		StaleAfter: cfg.HTTP.StaleAfter,
	}
	jobs := []services.MaintenanceJob{
		sweepJob("state-dir", cfg.Paths.StateDir),
		sweepJob("stations-dir", filepath.Dir(cfg.Paths.StationsList)),
	}

	if cfg.RunsIngest() {
		exe, err := executable()
		if err != nil {
			return err
		}
		sup := ingest.New(ingest.ConfigFrom(cfg), ingest.ProcessSpawner{
			Executable: exe,
			BaseArgs:   ctx.childArgs(),
		})
		tree.AddIngestService(sup)
		apiOpts.Workers = sup
		apiOpts.Heartbeats = append(apiOpts.Heartbeats, state.Supervisor)
	}

	if cfg.RunsConvert() {
		led, err := ledger.Open(ledger.Options{
			Path:      stateDir.LedgerPath(),
			Retention: cfg.Convert.LedgerRetention,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := led.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing ledger")
			}
		}()

		runner, err := newTaskRunner(ctx, cfg)
		if err != nil {
			return err
		}
		sched := scheduler.New(
			scheduler.ConfigFrom(cfg),
			runner,
			scheduler.StationList(cfg.Paths.StationsList, cfg.Paths.StationsListFallback),
			led,
		)
		tree.AddConvertService(services.NewSchedulerService(sched, drain))

		apiOpts.Scheduler = sched
		apiOpts.History = led
		apiOpts.Heartbeats = append(apiOpts.Heartbeats, state.Scheduler)
		jobs = append(jobs, services.MaintenanceJob{
			Name: "ledger-gc",
			Run:  func(time.Time) error { return led.RunGC() },
		})
	}

	tree.AddConvertService(services.NewMaintenanceService(time.Hour, jobs...))

	if cfg.QueryDB.Enabled {
		db, err := stationsdb.Open(cfg.QueryDB)
		if err != nil {
			return err
		}
		defer db.Close()
		tree.AddIngestService(stationsdb.NewRefresher(db, stationsdb.OptionsFrom(cfg), cfg.QueryDB.Interval))
	}

	if cfg.HTTP.Enabled {
		server := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           statusapi.NewRouter(apiOpts).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService("status-api", server, cfg.HTTP.ShutdownTimeout))
		logging.Info().Str("listen", cfg.HTTP.Listen).Msg("Status API enabled")
	}

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(signalCtx)

	var serveErr error
	select {
	case <-signalCtx.Done():
		logging.Info().Msg("Shutdown requested, stopping services...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", serveErr)
	}
	logging.Info().Msg("rinexpipe stopped")
	return nil
}

func sweepJob(name, dir string) services.MaintenanceJob {
	return services.MaintenanceJob{
		Name: "temp-sweep:" + name,
		Run: func(now time.Time) error {
			n, err := fsutil.SweepTemp(dir, tempSweepAge, now)
			if n > 0 {
				logging.Info().Str("dir", dir).Int("removed", n).Msg("Removed stale temp files")
			}
			return err
		},
	}
}
