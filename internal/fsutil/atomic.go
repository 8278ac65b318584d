// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package fsutil provides atomic file publication.
//
// Every file another process may read while it is being produced
// (heartbeats, the scheduler status record, the station list, artifacts)
// is written to a renameio pending file in the destination directory,
// synced and renamed into place. A reader sees either the previous
// complete file or the new complete file, never a truncated one.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"
)

// ErrExists is returned by PublishNew when the destination already exists.
var ErrExists = errors.New("destination already exists")

// minTempDigits is the shortest random suffix renameio puts after
// "." + base name.
const minTempDigits = 6

// WriteAtomic publishes the output of write at path, replacing any
// previous file.
func WriteAtomic(path string, perm os.FileMode, write func(io.Writer) error) error {
	pf, err := pending(path, perm, write)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return syncDir(filepath.Dir(path))
}

// WriteFileAtomic publishes data at path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// PublishNew publishes the output of write at path only if nothing exists
// there at rename time. A concurrent writer that won the race makes it
// return ErrExists and the existing file is left untouched.
func PublishNew(path string, perm os.FileMode, write func(io.Writer) error) error {
	pf, err := pending(path, perm, write)
	if err != nil {
		return err
	}
	if err := pf.Sync(); err != nil {
		_ = pf.Cleanup()
		return fmt.Errorf("sync %s: %w", pf.Name(), err)
	}
	if err := renameNoReplace(pf.Name(), path); err != nil {
		_ = pf.Cleanup()
		return err
	}
	// The temp name is gone; only the descriptor is left to release.
	if err := pf.File.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return syncDir(filepath.Dir(path))
}

func pending(path string, perm os.FileMode, write func(io.Writer) error) (*renameio.PendingFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithTempDir(dir), renameio.WithPermissions(perm))
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", path, err)
	}
	if err := write(pf); err != nil {
		_ = pf.Cleanup()
		return nil, err
	}
	if err := pf.Chmod(perm); err != nil {
		_ = pf.Cleanup()
		return nil, fmt.Errorf("chmod %s: %w", pf.Name(), err)
	}
	return pf, nil
}

// renameNoReplace moves tmp to path with RENAME_NOREPLACE. Filesystems
// without renameat2 support fall back to link plus unlink, which refuses
// an existing destination the same way.
func renameNoReplace(tmp, path string) error {
	err := unix.Renameat2(unix.AT_FDCWD, tmp, unix.AT_FDCWD, path, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		err = os.Link(tmp, path)
		if err == nil {
			_ = os.Remove(tmp)
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST) || errors.Is(err, os.ErrExist):
		return fmt.Errorf("publish %s: %w", path, ErrExists)
	default:
		return fmt.Errorf("publish %s: %w", path, err)
	}
}

// IsTemp reports whether name looks like a renameio pending file:
// a leading dot followed by a base name and a random decimal suffix.
func IsTemp(name string) bool {
	if !strings.HasPrefix(name, ".") {
		return false
	}
	stem := strings.TrimRight(name, "0123456789")
	return len(name)-len(stem) >= minTempDigits && len(stem) > 1
}

// SweepTemp removes temporary files left in dir by an interrupted publish
// when they are older than minAge. It returns the number removed.
func SweepTemp(dir string, minAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !IsTemp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < minAge {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

// NonEmpty reports whether path exists as a regular file with content.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	// Some filesystems (network mounts) reject directory fsync.
	_ = f.Sync()
	return nil
}
