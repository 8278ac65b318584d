// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package conversion implements the Conversion Task: one artifact for one
// (source, cadence, bucket).
//
// Pipeline:
//  1. skip if the artifact already exists and is non-empty
//  2. select raw captures inside bucket ± edge margin
//  3. concatenate them into a scratch file
//  4. transcode and validate the structural markers
//  5. patch header fields
//  6. drop duplicate epochs
//  7. optionally gzip, publish atomically
//  8. remove scratch files
package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/fsutil"
	"github.com/tomtom215/rinexpipe/internal/layout"
	"github.com/tomtom215/rinexpipe/internal/logging"
	"github.com/tomtom215/rinexpipe/internal/procctl"
	"github.com/tomtom215/rinexpipe/internal/rinex"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// Task identifies one conversion.
type Task struct {
	Source stations.Source
	Bucket bucket.Bucket
}

func (t Task) String() string {
	return t.Source.ID + "/" + t.Bucket.String()
}

// Converter runs conversion tasks.
type Converter struct {
	cfg        *config.Config
	layout     layout.Layout
	transcoder Transcoder
	now        func() time.Time
	publishNew func(path string, perm os.FileMode, write func(io.Writer) error) error
}

// NewConverter builds a Converter from configuration.
func NewConverter(cfg *config.Config, tr Transcoder) *Converter {
	return &Converter{
		cfg:        cfg,
		layout:     layout.FromConfig(cfg),
		transcoder: tr,
		now:        time.Now,
		publishNew: fsutil.PublishNew,
	}
}

// NewExecTranscoder returns the convbin transcoder configured by cfg.
func NewExecTranscoder(cfg *config.Config) *ExecTranscoder {
	return &ExecTranscoder{
		Binary:    cfg.Convert.Binary,
		Format:    cfg.Convert.InputFormat,
		Version:   cfg.Convert.RINEXVersion,
		ExtraArgs: cfg.Convert.ExtraArgs,
		Stop: procctl.StopPolicy{
			TerminateWait: cfg.Ingest.ChildTerminateWait,
			KillWait:      cfg.Ingest.ChildKillWait,
		},
	}
}

// Rate returns the observation interval of a cadence's artifacts.
func (c *Converter) Rate(cad bucket.Cadence) time.Duration {
	if cad == bucket.Daily {
		return c.cfg.Convert.DailyRate
	}
	return c.cfg.Convert.HourlyRate
}

// OutputID returns the artifact station id of a source, honoring overrides.
func (c *Converter) OutputID(src stations.Source) string {
	if o, ok := c.cfg.OverrideFor(src.ID); ok && o.OutputID != "" {
		return o.OutputID
	}
	return src.OutputID
}

// ArtifactPath returns the deterministic output path of a task.
func (c *Converter) ArtifactPath(t Task) string {
	return c.layout.ArtifactPath(c.OutputID(t.Source), t.Bucket, c.Rate(t.Bucket.Cadence), c.cfg.Convert.Compress)
}

// Run executes one task. It never panics on task-local failures; they are
// reported in the Result.
func (c *Converter) Run(ctx context.Context, t Task) Result {
	started := c.now()
	res := Result{
		Source:   t.Source.ID,
		OutputID: c.OutputID(t.Source),
		Cadence:  string(t.Bucket.Cadence),
		Bucket:   t.Bucket.Key(),
		Output:   c.ArtifactPath(t),
	}
	logger := logging.Ctx(ctx).With().
		Str("source", res.Source).
		Str("cadence", res.Cadence).
		Str("bucket", res.Bucket).
		Logger()

	err := c.run(ctx, t, &res)
	res.Duration = c.now().Sub(started)
	switch {
	case err != nil:
		res.Outcome = Failed
		res.Error = err.Error()
		logger.Error().Err(err).Int("inputs", res.Inputs).Msg("Conversion failed")
	case res.Outcome == Skipped:
		logger.Info().Str("output", res.Output).Msg("SKIP artifact exists")
	case res.Outcome == NoInput:
		logger.Warn().Msg("No raw captures in bucket window")
	default:
		logger.Info().
			Str("output", res.Output).
			Int("inputs", res.Inputs).
			Int("epochs", res.Epochs).
			Int("duplicates", res.Duplicates).
			Str("size", humanize.Bytes(uint64(res.Bytes))).
			Dur("duration", res.Duration).
			Msg("Artifact published")
	}
	return res
}

func (c *Converter) run(ctx context.Context, t Task, res *Result) error {
	// 1. idempotent skip
	if fsutil.NonEmpty(res.Output) {
		res.Outcome = Skipped
		return nil
	}

	// 2. inputs
	from, to := t.Bucket.Window(c.cfg.Convert.EdgeMargin)
	inputs, err := c.layout.RawInWindow(t.Source.ID, from, to)
	if err != nil {
		return err
	}
	res.Inputs = len(inputs)
	if len(inputs) == 0 {
		res.Outcome = NoInput
		return nil
	}

	// 3. scratch, removed on every path (8.)
	scratch, err := c.makeScratch(t)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			logging.Warn().Err(rerr).Str("dir", scratch).Msg("Failed to remove scratch directory")
		}
	}()

	concat := filepath.Join(scratch, "input."+c.cfg.Ingest.RawExt)
	if err := concatenate(concat, inputs); err != nil {
		return err
	}

	// 4. transcode and validate
	obs := filepath.Join(scratch, "output.obs")
	if err := c.transcoder.Transcode(ctx, c.request(t, concat, obs)); err != nil {
		return err
	}
	if _, err := rinex.ValidateFile(obs); err != nil {
		return err
	}

	// Another process may have published while we were transcoding.
	if fsutil.NonEmpty(res.Output) {
		res.Outcome = Skipped
		return nil
	}

	// An empty artifact counts as missing and would block the publish.
	if info, err := os.Stat(res.Output); err == nil && info.Mode().IsRegular() && info.Size() == 0 {
		_ = os.Remove(res.Output)
	}

	// 5-7. patch, dedup, compress, publish
	st, size, err := c.publish(obs, res.Output, c.headerPatch(t))
	if errors.Is(err, fsutil.ErrExists) {
		res.Outcome = Skipped
		return nil
	}
	if err != nil {
		return err
	}
	res.Epochs = st.Epochs
	res.Duplicates = st.Duplicates
	res.Bytes = size
	res.Outcome = Published
	return nil
}

func (c *Converter) request(t Task, input, output string) Request {
	src := t.Source
	meta := src.Meta
	marker := ""
	if o, ok := c.cfg.OverrideFor(src.ID); ok {
		if o.ReceiverType != "" {
			meta.ReceiverType = o.ReceiverType
		}
		if o.ReceiverVersion != "" {
			meta.ReceiverVersion = o.ReceiverVersion
		}
		if o.AntennaType != "" {
			meta.AntennaType = o.AntennaType
		}
		marker = o.MarkerNumber
	}
	outputID := c.OutputID(src)
	name := outputID
	if len(name) > 4 {
		name = name[:4]
	}
	return Request{
		Input:        input,
		Output:       output,
		Start:        t.Bucket.Start,
		End:          t.Bucket.End(),
		Rate:         c.Rate(t.Bucket.Cadence),
		MarkerName:   name,
		MarkerNumber: marker,
		Receiver:     receiverField(meta.ReceiverType, meta.ReceiverVersion),
		Antenna:      antennaField(meta.AntennaType),
		Position:     meta.Position(),
		Delta:        meta.Delta(),
	}
}

func (c *Converter) headerPatch(t Task) *rinex.HeaderPatch {
	r := c.cfg.RINEX
	p := &rinex.HeaderPatch{
		Program:  r.Program,
		RunBy:    r.RunBy,
		Date:     c.now(),
		Observer: r.Observer,
		Agency:   r.Agency,
		Comments: r.Comments,
	}
	if o, ok := c.cfg.OverrideFor(t.Source.ID); ok {
		p.MarkerNumber = o.MarkerNumber
	}
	return p
}

// makeScratch creates a task directory in the first writable candidate.
func (c *Converter) makeScratch(t Task) (string, error) {
	pattern := fmt.Sprintf("rinexpipe-%s-%s-", t.Source.ID, t.Bucket.Key())
	var errs []error
	for _, root := range ScratchCandidates(c.cfg.Paths.ScratchDir, c.cfg.Paths.ScratchRoot) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		dir, err := os.MkdirTemp(root, pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("%w: %w", ErrNoScratch, errors.Join(errs...))
}

// ScratchCandidates lists scratch roots in preference order: explicit
// override, shared scratch root, OS temp dir.
func ScratchCandidates(override, root string) []string {
	var out []string
	for _, d := range []string{override, root, os.TempDir()} {
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func concatenate(dst string, inputs []layout.RawFile) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	for _, in := range inputs {
		if err := appendFile(out, in.Path); err != nil {
			_ = out.Close()
			return err
		}
	}
	return out.Close()
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

// publish rewrites obs into the final artifact. It never replaces an
// artifact another process published first.
func (c *Converter) publish(obs, final string, patch *rinex.HeaderPatch) (rinex.Stats, int64, error) {
	in, err := os.Open(obs)
	if err != nil {
		return rinex.Stats{}, 0, err
	}
	defer in.Close()

	var st rinex.Stats
	err = c.publishNew(final, 0o644, func(w io.Writer) error {
		if !c.cfg.Convert.Compress {
			var werr error
			st, werr = rinex.Rewrite(in, w, patch)
			return werr
		}
		gz, gerr := gzip.NewWriterLevel(w, gzip.BestCompression)
		if gerr != nil {
			return gerr
		}
		gz.Name = filepath.Base(final[:len(final)-len(".gz")])
		gz.ModTime = c.now()
		var werr error
		if st, werr = rinex.Rewrite(in, gz, patch); werr != nil {
			return werr
		}
		return gz.Close()
	})
	if err != nil {
		return st, 0, err
	}

	info, err := os.Stat(final)
	if err != nil {
		return st, 0, err
	}
	if st.Duplicates > 0 {
		logging.Info().Str("output", final).Int("duplicates", st.Duplicates).Msg("Dropped duplicate epochs")
	}
	return st, info.Size(), nil
}
