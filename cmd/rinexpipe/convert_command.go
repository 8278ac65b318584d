// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var sourceID, cadence, key string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Run one conversion task and print its JSON result",
		Long: `Convert the raw captures of one source and bucket into a RINEX artifact.

A single JSON result line is printed on stdout. The exit status encodes
the outcome: 0 published, 10 skipped, 11 no input, 1 failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			res := convertOne(signalCtx, cfg, sourceID, cadence, key)
			if err := writeResultLine(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if code := res.Outcome.ExitCode(); code != 0 {
				return exitCodeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "Source id (mountpoint)")
	cmd.Flags().StringVar(&cadence, "cadence", "", "Cadence: hourly or daily")
	cmd.Flags().StringVar(&key, "bucket", "", "Bucket key: YYYYDDDHH (hourly) or YYYYDDD (daily)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("cadence")
	_ = cmd.MarkFlagRequired("bucket")

	return cmd
}

// convertOne resolves the task from its command-line identity and runs it.
// Resolution failures are reported as a failed result, not an error, so
// the parent always receives a result line.
func convertOne(ctx context.Context, cfg *config.Config, sourceID, cadence, key string) conversion.Result {
	failed := func(err error) conversion.Result {
		logging.Error().Err(err).Str("source", sourceID).Str("bucket", key).Msg("Conversion task rejected")
		return conversion.Result{
			Source:  sourceID,
			Cadence: cadence,
			Bucket:  key,
			Outcome: conversion.Failed,
			Error:   err.Error(),
		}
	}

	c, err := bucket.ParseCadence(cadence)
	if err != nil {
		return failed(err)
	}
	b, err := bucket.ParseKey(c, key)
	if err != nil {
		return failed(err)
	}
	src, err := lookupSource(cfg, sourceID)
	if err != nil {
		return failed(err)
	}

	conv := conversion.NewConverter(cfg, conversion.NewExecTranscoder(cfg))
	return conv.Run(ctx, conversion.Task{Source: src, Bucket: b})
}

func lookupSource(cfg *config.Config, id string) (stations.Source, error) {
	snap, err := stations.Read(cfg.Paths.StationsList, cfg.Paths.StationsListFallback)
	if err != nil {
		return stations.Source{}, err
	}
	src, ok := snap.Set[id]
	if !ok {
		return stations.Source{}, fmt.Errorf("source %q is not in the station list %s", id, snap.Path)
	}
	return src, nil
}

func writeResultLine(w io.Writer, res conversion.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
