// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package state manages the files kept in the state directory: liveness
// heartbeats, the scheduler status record, single-instance locks and the
// ledger database directory.
//
// Heartbeats and the status record are always published atomically so a
// health probe never reads a half-written value.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/tomtom215/rinexpipe/internal/fsutil"
)

// Heartbeat owners.
const (
	Supervisor = "supervisor"
	Scheduler  = "scheduler"
)

// ErrLocked is returned when another instance holds a lock.
var ErrLocked = errors.New("lock held by another instance")

// Dir resolves paths below a state directory.
type Dir string

// HeartbeatPath returns the heartbeat file of owner.
func (d Dir) HeartbeatPath(owner string) string {
	return filepath.Join(string(d), owner+".heartbeat")
}

// StatusPath returns the scheduler status record.
func (d Dir) StatusPath() string {
	return filepath.Join(string(d), "scheduler_status.json")
}

// LockPath returns the lock file of owner.
func (d Dir) LockPath(owner string) string {
	return filepath.Join(string(d), owner+".lock")
}

// WorkerLockPath returns the lock file held by the worker of sourceID.
func (d Dir) WorkerLockPath(sourceID string) string {
	return filepath.Join(string(d), "workers", sourceID+".lock")
}

// LedgerPath returns the conversion ledger directory.
func (d Dir) LedgerPath() string {
	return filepath.Join(string(d), "ledger")
}

// WriteHeartbeat publishes now as an RFC 3339 timestamp.
func WriteHeartbeat(path string, now time.Time) error {
	return fsutil.WriteFileAtomic(path, []byte(now.UTC().Format(time.RFC3339Nano)+"\n"), 0o644)
}

// ReadHeartbeat returns the timestamp of a heartbeat file.
func ReadHeartbeat(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat %s: %w", path, err)
	}
	return t, nil
}

// Status is the persisted scheduler record.
type Status struct {
	Role          string    `json:"role"`
	LastHourlyKey string    `json:"last_hourly_key"`
	LastDailyKey  string    `json:"last_daily_key"`
	UpdatedAt     time.Time `json:"updated_at"`

	// LastBatch describes the most recently submitted batch.
	LastBatch *Batch `json:"last_batch,omitempty"`
}

// Batch is a submitted batch as recorded in Status.
type Batch struct {
	CorrelationID string    `json:"correlation_id"`
	Cadence       string    `json:"cadence"`
	Bucket        string    `json:"bucket"`
	Tasks         int       `json:"tasks"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// WriteStatus publishes st atomically.
func WriteStatus(path string, st *Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadStatus reads the status record. A missing file yields a zero Status
// and an error satisfying errors.Is(err, os.ErrNotExist).
func ReadStatus(path string) (Status, error) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("decode status %s: %w", path, err)
	}
	return st, nil
}

// Lock is a held single-instance lock.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock at path without blocking.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks; it is safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return l.fl.Unlock()
}
