// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package ledger keeps the conversion history in BadgerDB.
//
// One record exists per (cadence, bucket, source). Keys are laid out as
//
//	conv/<YYYYDDD>/<cadence>/<bucket key>/<source id>
//
// so that all records of a UTC day share a prefix. A record written again
// for the same triple (a later trigger or a backfill) replaces the previous
// one and bumps its attempt counter. Records expire after the configured
// retention.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/logging"
)

const prefixConversion = "conv/"

// ErrClosed is returned by operations on a closed ledger.
var ErrClosed = errors.New("ledger closed")

// Record is one ledger entry.
type Record struct {
	conversion.Result
	CorrelationID string    `json:"correlation_id,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
	Attempts      int       `json:"attempts"`
}

// Options configure Open.
type Options struct {
	// Path is the BadgerDB directory.
	Path string

	// Retention is the TTL of every record; zero keeps records forever.
	Retention time.Duration

	// ReadOnly opens the database without write access. BadgerDB refuses a
	// read-only open while another process holds the database.
	ReadOnly bool
}

// Ledger is a BadgerDB-backed conversion history.
type Ledger struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the ledger at opts.Path.
func Open(opts Options) (*Ledger, error) {
	bopts := badger.DefaultOptions(opts.Path)
	bopts.ReadOnly = opts.ReadOnly
	bopts.SyncWrites = true
	bopts.NumCompactors = 2
	bopts.MemTableSize = 8 << 20
	bopts.ValueLogFileSize = 16 << 20

	// Reduce logging verbosity
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	logging.Debug().
		Str("path", opts.Path).
		Bool("read_only", opts.ReadOnly).
		Dur("retention", opts.Retention).
		Msg("Ledger opened")

	return &Ledger{db: db, retention: opts.Retention, now: time.Now}, nil
}

// Key returns the ledger key of a (cadence, bucket, source) triple.
func Key(b bucket.Bucket, sourceID string) []byte {
	return []byte(prefixConversion + dayKey(b.Start) + "/" + string(b.Cadence) + "/" + b.Key() + "/" + sourceID)
}

func dayKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d%03d", t.Year(), t.YearDay())
}

// Put records the results of one batch in a single transaction.
func (l *Ledger) Put(ctx context.Context, correlationID string, results []conversion.Result) error {
	if err := l.check(); err != nil {
		return err
	}

	now := l.now().UTC()
	err := l.db.Update(func(txn *badger.Txn) error {
		for i := range results {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := results[i]
			cad, err := bucket.ParseCadence(res.Cadence)
			if err != nil {
				logging.Warn().Str("source", res.Source).Str("cadence", res.Cadence).Msg("Ledger skipped result with unknown cadence")
				continue
			}
			b, err := bucket.ParseKey(cad, res.Bucket)
			if err != nil {
				logging.Warn().Str("source", res.Source).Str("bucket", res.Bucket).Msg("Ledger skipped result with invalid bucket key")
				continue
			}
			key := Key(b, res.Source)

			rec := Record{Result: res, CorrelationID: correlationID, RecordedAt: now, Attempts: 1}
			if prev, err := readRecord(txn, key); err == nil {
				rec.Attempts = prev.Attempts + 1
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			data, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			e := badger.NewEntry(key, data)
			if l.retention > 0 {
				e = e.WithTTL(l.retention)
			}
			if err := txn.SetEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Get returns the record of one triple.
func (l *Ledger) Get(b bucket.Bucket, sourceID string) (Record, bool, error) {
	if err := l.check(); err != nil {
		return Record{}, false, err
	}
	var rec Record
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, Key(b, sourceID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read ledger: %w", err)
	}
	return rec, true, nil
}

// Day returns every record whose bucket starts on the UTC day of day,
// ordered by cadence, bucket and source.
func (l *Ledger) Day(ctx context.Context, day time.Time) ([]Record, error) {
	return l.scan(ctx, []byte(prefixConversion+dayKey(day)+"/"), 0)
}

// Recent returns up to limit records, most recently recorded first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	records, err := l.scan(ctx, []byte(prefixConversion), 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (l *Ledger) scan(ctx context.Context, prefix []byte, limit int) ([]Record, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	var records []Record
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var rec Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Ledger failed to unmarshal record")
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return records, nil
}

func readRecord(txn *badger.Txn, key []byte) (Record, error) {
	item, err := txn.Get(key)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
func (l *Ledger) RunGC() error {
	if err := l.check(); err != nil {
		return err
	}
	for {
		err := l.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ledger gc: %w", err)
		}
	}
}

// Close closes the database. It is safe to call more than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

func (l *Ledger) check() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// Filter keeps the records for which keep returns true.
func Filter(records []Record, keep func(Record) bool) []Record {
	out := records[:0]
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// BySource returns a Filter predicate matching a set of source ids
// case-insensitively; an empty set matches everything.
func BySource(ids ...string) func(Record) bool {
	if len(ids) == 0 {
		return func(Record) bool { return true }
	}
	return func(r Record) bool {
		for _, id := range ids {
			if strings.EqualFold(r.Source, id) {
				return true
			}
		}
		return false
	}
}
