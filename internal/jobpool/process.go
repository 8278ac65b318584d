// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package jobpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/procctl"
)

// ProcessRunner runs each task as an independent `rinexpipe convert`
// process and reads its JSON result line from stdout.
type ProcessRunner struct {
	// Executable is the rinexpipe binary.
	Executable string

	// BaseArgs precede the convert arguments (e.g. "--config", path).
	BaseArgs []string

	// Timeout bounds one task; zero means no limit.
	Timeout time.Duration

	// Stop is applied to the task's process group on timeout or cancellation.
	Stop procctl.StopPolicy

	// Stderr receives the child's structured log unchanged, so its own
	// levels survive. Nil means os.Stderr.
	Stderr io.Writer
}

// Args returns the child command line for t.
func (r *ProcessRunner) Args(t conversion.Task) []string {
	args := append([]string{}, r.BaseArgs...)
	return append(args,
		"convert",
		"--source", t.Source.ID,
		"--cadence", string(t.Bucket.Cadence),
		"--bucket", t.Bucket.Key(),
	)
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, t conversion.Task) conversion.Result {
	started := time.Now()
	base := conversion.Result{
		Source:  t.Source.ID,
		Cadence: string(t.Bucket.Cadence),
		Bucket:  t.Bucket.Key(),
	}
	fail := func(err error) conversion.Result {
		base.Outcome = conversion.Failed
		base.Error = err.Error()
		base.Duration = time.Since(started)
		return base
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	var stdout bytes.Buffer
	p, err := procctl.Start(procctl.Spec{
		Name:              "convert",
		Path:              r.Executable,
		Args:              r.Args(t),
		Stdout:            &stdout,
		Stderr:            stderr,
		ParentDeathSignal: unix.SIGTERM,
	})
	if err != nil {
		return fail(err)
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		procctl.Stopper{Policy: r.Stop}.Stop(p)
		return fail(fmt.Errorf("task interrupted: %w", ctx.Err()))
	}

	res, perr := ParseResult(stdout.Bytes())
	if perr != nil {
		// The child died before reporting; its exit code still classifies it.
		base.Outcome = conversion.OutcomeFromExitCode(p.ExitCode())
		if base.Outcome == conversion.Published {
			base.Outcome = conversion.Failed
		}
		base.Error = fmt.Sprintf("exit %d: %v", p.ExitCode(), perr)
		base.Duration = time.Since(started)
		return base
	}
	if want := conversion.OutcomeFromExitCode(p.ExitCode()); want != res.Outcome {
		res.Outcome = conversion.Failed
		res.Error = fmt.Sprintf("exit code %d disagrees with reported outcome", p.ExitCode())
	}
	return res
}

// ParseResult decodes the last non-empty line of a convert process's stdout.
func ParseResult(out []byte) (conversion.Result, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return conversion.Result{}, fmt.Errorf("no result line")
	}
	var res conversion.Result
	if err := json.Unmarshal(last, &res); err != nil {
		return conversion.Result{}, fmt.Errorf("decode result line: %w", err)
	}
	return res, nil
}
