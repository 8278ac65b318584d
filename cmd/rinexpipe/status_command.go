// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show heartbeat ages and the persisted scheduler status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir := state.Dir(cfg.Paths.StateDir)
			now := time.Now()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Component", "Last heartbeat", "Age", "State"},
				heartbeatRows(dir, []string{state.Supervisor, state.Scheduler}, now, cfg.HTTP.StaleAfter),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))

			st, err := state.ReadStatus(dir.StatusPath())
			switch {
			case errors.Is(err, os.ErrNotExist):
				fmt.Fprintln(out, "No scheduler status recorded yet")
				return nil
			case err != nil:
				return err
			}
			writeSchedulerStatus(out, st, now)
			return nil
		},
	}
}

// heartbeatRows describes the heartbeat of each owner as fresh, stale or missing.
func heartbeatRows(dir state.Dir, owners []string, now time.Time, staleAfter time.Duration) [][]string {
	rows := make([][]string, 0, len(owners))
	for _, owner := range owners {
		beat, err := state.ReadHeartbeat(dir.HeartbeatPath(owner))
		if err != nil {
			rows = append(rows, []string{owner, "-", "-", "missing"})
			continue
		}
		age := now.Sub(beat)
		st := "fresh"
		if age > staleAfter {
			st = "stale"
		}
		rows = append(rows, []string{
			owner,
			beat.UTC().Format(time.RFC3339),
			humanize.RelTime(beat, now, "ago", "from now"),
			st,
		})
	}
	return rows
}

func writeSchedulerStatus(w io.Writer, st state.Status, now time.Time) {
	var b strings.Builder
	fmt.Fprintf(&b, "Role:            %s\n", valueOr(st.Role, "-"))
	fmt.Fprintf(&b, "Last hourly key: %s\n", valueOr(st.LastHourlyKey, "-"))
	fmt.Fprintf(&b, "Last daily key:  %s\n", valueOr(st.LastDailyKey, "-"))
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Updated:         %s (%s)\n", st.UpdatedAt.UTC().Format(time.RFC3339), humanize.RelTime(st.UpdatedAt, now, "ago", "from now"))
	}
	if lb := st.LastBatch; lb != nil {
		fmt.Fprintf(&b, "Last batch:      %s %s, %d tasks, submitted %s [%s]\n",
			lb.Cadence, lb.Bucket, lb.Tasks, humanize.RelTime(lb.SubmittedAt, now, "ago", "from now"), lb.CorrelationID)
	}
	_, _ = io.WriteString(w, b.String())
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
