// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/jobpool"
	"github.com/tomtom215/rinexpipe/internal/ledger"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/scheduler"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var (
		day     string
		cadence string
		jobs    int
		sources []string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Convert every closed bucket of one UTC day",
		Long: `Convert every closed bucket of one UTC day for the listed sources.

Artifacts that already exist are skipped. The live scheduler's last
processed keys are neither read nor advanced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			d, err := time.Parse(time.DateOnly, day)
			if err != nil {
				return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
			}
			cadences, err := parseCadences(cadence)
			if err != nil {
				return err
			}
			selected, err := selectSources(cfg, sources)
			if err != nil {
				return err
			}
			if jobs <= 0 {
				jobs = cfg.Convert.MaxConcurrent
			}

			runner, err := newTaskRunner(ctx, cfg)
			if err != nil {
				return err
			}

			bf := &scheduler.Backfill{
				Day:           d,
				Cadences:      cadences,
				Sources:       selected,
				MaxConcurrent: jobs,
				Runner:        runner,
			}

			// The daemon holds the ledger while it runs; the backfill still
			// proceeds, unrecorded.
			led, err := ledger.Open(ledger.Options{
				Path:      state.Dir(cfg.Paths.StateDir).LedgerPath(),
				Retention: cfg.Convert.LedgerRetention,
			})
			if err != nil {
				logging.Warn().Err(err).Msg("Ledger unavailable, backfill results will not be recorded")
			} else {
				defer led.Close()
				bf.Recorder = led
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			results, err := bf.Run(signalCtx, time.Now().UTC())
			if errors.Is(err, scheduler.ErrNothingToBackfill) {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to backfill: no closed bucket on that day")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
			sum := jobpool.Summarize(results)
			fmt.Fprintf(cmd.OutOrStdout(), "published %d, skipped %d, no input %d, failed %d\n",
				sum[conversion.Published], sum[conversion.Skipped], sum[conversion.NoInput], sum[conversion.Failed])
			if sum[conversion.Failed] > 0 {
				return fmt.Errorf("%d conversion tasks failed", sum[conversion.Failed])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day to backfill (YYYY-MM-DD)")
	cmd.Flags().StringVar(&cadence, "cadence", "all", "Cadence: hourly, daily or all")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "Concurrent tasks (default convert.max_concurrent)")
	cmd.Flags().StringArrayVar(&sources, "source", nil, "Restrict to a source id (repeatable)")
	_ = cmd.MarkFlagRequired("day")

	return cmd
}

func parseCadences(s string) ([]bucket.Cadence, error) {
	if s == "" || s == "all" {
		return []bucket.Cadence{bucket.Hourly, bucket.Daily}, nil
	}
	c, err := bucket.ParseCadence(s)
	if err != nil {
		return nil, err
	}
	return []bucket.Cadence{c}, nil
}

// selectSources returns the listed sources, or all of them when ids is empty.
func selectSources(cfg *config.Config, ids []string) ([]stations.Source, error) {
	snap, err := stations.Read(cfg.Paths.StationsList, cfg.Paths.StationsListFallback)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return snap.Set.Sources(), nil
	}
	out := make([]stations.Source, 0, len(ids))
	for _, id := range ids {
		src, ok := snap.Set[id]
		if !ok {
			return nil, fmt.Errorf("source %q is not in the station list %s", id, snap.Path)
		}
		out = append(out, src)
	}
	return out, nil
}
