// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/stationsdb"
)

func newQueryDBCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "querydb",
		Short: "Generate the station list from the PostgreSQL view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			db, err := stationsdb.Open(cfg.QueryDB)
			if err != nil {
				return err
			}
			defer db.Close()

			opts := stationsdb.OptionsFrom(cfg)
			r := stationsdb.NewRefresher(db, opts, cfg.QueryDB.Interval)

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if !once {
				if err := r.Serve(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			n, outcome, err := r.Refresh(signalCtx)
			if err != nil {
				return fmt.Errorf("refresh station list: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stations (%s)\n", opts.Output, n, outcome)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Refresh once and exit")
	return cmd
}
