// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package procctl

import (
	"time"

	"golang.org/x/sys/unix"
)

// State is a stop state.
//
//	Running -> Interrupting -> Terminating -> Killing -> Exited
//	                                                  \-> Abandoned
//
// Any state moves to Exited as soon as the target exits. A phase whose wait
// is zero is skipped, except Killing.
type State int

const (
	Running State = iota
	Interrupting
	Terminating
	Killing
	Exited
	Abandoned
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Interrupting:
		return "interrupting"
	case Terminating:
		return "terminating"
	case Killing:
		return "killing"
	case Exited:
		return "exited"
	case Abandoned:
		return "abandoned"
	}
	return "unknown"
}

// StopPolicy names the wait after each signal.
type StopPolicy struct {
	// InterruptWait follows SIGINT; zero skips the phase.
	InterruptWait time.Duration

	// TerminateWait follows SIGTERM; zero skips the phase.
	TerminateWait time.Duration

	// KillWait follows SIGKILL. A target still alive after it is Abandoned.
	KillWait time.Duration
}

// Total is the longest a stop can take.
func (p StopPolicy) Total() time.Duration {
	return p.InterruptWait + p.TerminateWait + p.KillWait
}

// Target is something that can be signalled and observed for exit.
type Target interface {
	Signal(sig unix.Signal) error
	Done() <-chan struct{}
}

// GroupKiller is a Target whose process group can outlive it. The Stopper
// kills the group once the target has exited.
type GroupKiller interface {
	KillGroup() error
}

// Stopper runs the escalation for one target.
type Stopper struct {
	Policy StopPolicy

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State, err error)
}

type phase struct {
	state State
	sig   unix.Signal
	wait  time.Duration
}

// Stop escalates until the target exits or the kill wait elapses, and
// returns Exited or Abandoned. An exited GroupKiller has its group killed
// so no member survives the stop.
func (s Stopper) Stop(t Target) State {
	state := Running
	move := func(to State, err error) {
		if to == Exited {
			if g, ok := t.(GroupKiller); ok && err == nil {
				err = g.KillGroup()
			}
		}
		if s.OnTransition != nil {
			s.OnTransition(state, to, err)
		}
		state = to
	}

	select {
	case <-t.Done():
		move(Exited, nil)
		return state
	default:
	}

	phases := []phase{
		{Interrupting, unix.SIGINT, s.Policy.InterruptWait},
		{Terminating, unix.SIGTERM, s.Policy.TerminateWait},
		{Killing, unix.SIGKILL, s.Policy.KillWait},
	}
	for _, ph := range phases {
		if ph.wait <= 0 && ph.state != Killing {
			continue
		}
		move(ph.state, t.Signal(ph.sig))
		if waitDone(t.Done(), ph.wait) {
			move(Exited, nil)
			return state
		}
	}
	move(Abandoned, nil)
	return state
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
