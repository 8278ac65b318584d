// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package conversion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tomtom215/rinexpipe/internal/procctl"
)

// Request is one transcoder invocation.
type Request struct {
	Input  string
	Output string
	Start  time.Time
	End    time.Time
	Rate   time.Duration

	MarkerName   string
	MarkerNumber string
	Receiver     string // "number/type/version"
	Antenna      string // "number/type"
	Position     string // "X/Y/Z"
	Delta        string // "H/E/N"
}

// Transcoder turns a raw capture into RINEX observation text.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) error
}

// ExecTranscoder runs RTKLIB convbin.
type ExecTranscoder struct {
	Binary    string
	Format    string
	Version   string
	ExtraArgs []string

	// Stop is applied to the transcoder's process group when ctx ends.
	Stop procctl.StopPolicy
}

const convbinTime = "2006/01/02 15:04:05"

// Args returns the convbin command line for req.
func (t *ExecTranscoder) Args(req Request) []string {
	args := []string{
		"-r", t.Format,
		"-v", t.Version,
		"-ts", req.Start.UTC().Format(convbinTime),
		"-te", req.End.Add(-time.Second).UTC().Format(convbinTime),
		"-ti", strconv.FormatFloat(req.Rate.Seconds(), 'f', -1, 64),
	}
	for _, kv := range [][2]string{
		{"-hm", req.MarkerName},
		{"-hn", req.MarkerNumber},
		{"-hr", req.Receiver},
		{"-ha", req.Antenna},
		{"-hp", req.Position},
		{"-hd", req.Delta},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	args = append(args, t.ExtraArgs...)
	return append(args, "-o", req.Output, req.Input)
}

// Transcode runs convbin and waits for it. A non-zero exit is an error.
func (t *ExecTranscoder) Transcode(ctx context.Context, req Request) error {
	p, err := procctl.Start(procctl.Spec{Name: "convbin", Path: t.Binary, Args: t.Args(req), ParentDeathSignal: unix.SIGKILL})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscoder, err)
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		procctl.Stopper{Policy: t.Stop}.Stop(p)
		return fmt.Errorf("%w: %v", ErrTranscoder, ctx.Err())
	}
	if err := p.Err(); err != nil {
		return fmt.Errorf("%w: exit %d: %v", ErrTranscoder, p.ExitCode(), err)
	}
	return nil
}

// receiverField formats "number/type/version" for -hr.
func receiverField(typ, version string) string {
	if typ == "" && version == "" {
		return ""
	}
	return strings.Join([]string{"", typ, version}, "/")
}

// antennaField formats "number/type" for -ha.
func antennaField(typ string) string {
	if typ == "" {
		return ""
	}
	return "/" + typ
}
