// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"context"

	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/jobpool"
	"github.com/tomtom215/rinexpipe/internal/procctl"
)

// newTaskRunner returns the Job Pool runner selected by convert.in_process:
// child `rinexpipe convert` processes by default, goroutines otherwise.
func newTaskRunner(ctx *commandContext, cfg *config.Config) (jobpool.Runner, error) {
	if cfg.Convert.InProcess {
		conv := conversion.NewConverter(cfg, conversion.NewExecTranscoder(cfg))
		timeout := cfg.Convert.TaskTimeout
		return jobpool.RunnerFunc(func(taskCtx context.Context, t conversion.Task) conversion.Result {
			if timeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(taskCtx, timeout)
				defer cancel()
			}
			return conv.Run(taskCtx, t)
		}), nil
	}

	exe, err := executable()
	if err != nil {
		return nil, err
	}
	return &jobpool.ProcessRunner{
		Executable: exe,
		BaseArgs:   ctx.childArgs(),
		Timeout:    cfg.Convert.TaskTimeout,
		Stop: procctl.StopPolicy{
			TerminateWait: cfg.Ingest.StopGrace,
			KillWait:      cfg.Ingest.KillWait,
		},
	}, nil
}

