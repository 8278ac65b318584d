// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package procctl starts child processes in their own process group and
// stops them with an explicit signal escalation state machine.
//
// Signals go to the whole group (negative pid) so helpers forked by a child
// (shell wrappers, pipes) are stopped with it. Once the leader has exited,
// the Stopper kills whatever it left behind in the group.
package procctl

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tomtom215/rinexpipe/internal/logging"
)

// ErrNotStarted is returned when signalling a process that never started.
var ErrNotStarted = errors.New("process not started")

// Spec describes a child process.
type Spec struct {
	// Name labels the child in logs (e.g. "str2str", "worker").
	Name string
	Path string
	Args []string
	Env  []string
	Dir  string

	// Stdout and Stderr default to the structured log (info and warn).
	Stdout io.Writer
	Stderr io.Writer

	// ParentDeathSignal, if non-zero, is delivered to the child by the
	// kernel when the thread that started it dies, including on SIGKILL.
	// The Go runtime only retires threads locked by an exiting goroutine,
	// and nothing here locks threads.
	ParentDeathSignal unix.Signal
}

// Process is a started child.
type Process struct {
	name    string
	cmd     *exec.Cmd
	started time.Time

	done     chan struct{}
	mu       sync.Mutex
	err      error
	flushers []*logging.LineWriter
}

// Start launches spec in a new process group and reaps it in the background.
func Start(spec Spec) (*Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...) //nolint:gosec // binary path comes from configuration
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: spec.ParentDeathSignal}

	p := &Process{name: spec.Name, cmd: cmd, done: make(chan struct{})}

	childLog := logging.With().Str("child", spec.Name).Logger()
	cmd.Stdout = spec.Stdout
	if cmd.Stdout == nil {
		w := logging.NewLineWriter(childLog, zerolog.InfoLevel)
		p.flushers = append(p.flushers, w)
		cmd.Stdout = w
	}
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		w := logging.NewLineWriter(childLog, zerolog.WarnLevel)
		p.flushers = append(p.flushers, w)
		cmd.Stderr = w
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	p.started = time.Now()

	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	for _, w := range p.flushers {
		w.Flush()
	}
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the child's pid, which is also its process group id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Name returns the label given in Spec.
func (p *Process) Name() string {
	return p.name
}

// StartedAt returns when the child was started.
func (p *Process) StartedAt() time.Time {
	return p.started
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the child has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error once Done is closed; nil for a clean exit.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ExitCode returns the exit code once Done is closed, -1 if killed by a signal.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Signal delivers sig to the child's process group. A group that is
// already gone is not an error.
func (p *Process) Signal(sig unix.Signal) error {
	if p.cmd.Process == nil {
		return ErrNotStarted
	}
	if p.Exited() {
		return nil
	}
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// KillGroup sends SIGKILL to the child's process group. It works after the
// leader has exited, as long as any member is still alive.
func (p *Process) KillGroup() error {
	if p.cmd.Process == nil {
		return ErrNotStarted
	}
	err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
