// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/rinexpipe/internal/bucket"
	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/jobpool"
	"github.com/tomtom215/rinexpipe/internal/ledger"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/statusapi"
)

type cliTestEnv struct {
	dir        string
	configPath string
	stations   string
	stateDir   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliTestEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		stations:   filepath.Join(dir, "stations.list"),
		stateDir:   filepath.Join(dir, "state"),
	}

	cfg := strings.Join([]string{
		"caster:",
		"  host: caster.example.net",
		"paths:",
		"  stations_list: " + env.stations,
		"  raw_root: " + filepath.Join(dir, "raw"),
		"  out_root: " + filepath.Join(dir, "out"),
		"  scratch_root: " + filepath.Join(dir, "tmp"),
		"  state_dir: " + env.stateDir,
		"logging:",
		"  level: error",
		"",
	}, "\n")
	if err := os.WriteFile(env.configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(env.stations, []byte("# test\nABCD ABCD00FRA\nEFGH EFGH00FRA\n"), 0o644); err != nil {
		t.Fatalf("write stations: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	cmd := newRootCommand()
	want := []string{"run", "worker", "convert", "backfill", "querydb", "status", "history"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
	if f := cmd.PersistentFlags().ShorthandLookup("c"); f == nil || f.Name != "config" {
		t.Error("--config/-c persistent flag missing")
	}
}

func TestConvertCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	t.Run("unknown source reports a failed result", func(t *testing.T) {
		out, err := runCLI(t, "--config", env.configPath, "convert",
			"--source", "NOPE", "--cadence", "hourly", "--bucket", "202629214")

		var ec exitCodeError
		if !errors.As(err, &ec) || ec.code != conversion.Failed.ExitCode() {
			t.Fatalf("err = %v, want exit code %d", err, conversion.Failed.ExitCode())
		}
		res, perr := jobpool.ParseResult([]byte(out))
		if perr != nil {
			t.Fatalf("ParseResult() error = %v (output %q)", perr, out)
		}
		if res.Outcome != conversion.Failed || res.Source != "NOPE" || !strings.Contains(res.Error, "NOPE") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("missing flags", func(t *testing.T) {
		if _, err := runCLI(t, "--config", env.configPath, "convert", "--source", "ABCD"); err == nil {
			t.Error("expected error for missing --cadence/--bucket")
		}
	})
}

func TestConvertOne_Rejections(t *testing.T) {
	env := setupCLITestEnv(t)
	cfg, err := config.Load(env.configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name, source, cadence, key string
	}{
		{"bad cadence", "ABCD", "weekly", "202629214"},
		{"bad key", "ABCD", "hourly", "2026292"},
		{"unknown source", "ZZZZ", "daily", "2026292"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := convertOne(context.Background(), cfg, tt.source, tt.cadence, tt.key)
			if res.Outcome != conversion.Failed || res.Error == "" {
				t.Errorf("convertOne() = %+v, want failed with error", res)
			}
			if res.Source != tt.source || res.Bucket != tt.key {
				t.Errorf("identity not echoed: %+v", res)
			}
		})
	}
}

func TestParseCadences(t *testing.T) {
	all, err := parseCadences("all")
	if err != nil || len(all) != 2 {
		t.Fatalf("parseCadences(all) = %v, %v", all, err)
	}
	one, err := parseCadences("daily")
	if err != nil || len(one) != 1 || one[0] != bucket.Daily {
		t.Fatalf("parseCadences(daily) = %v, %v", one, err)
	}
	if _, err := parseCadences("weekly"); err == nil {
		t.Error("expected error for unknown cadence")
	}
}

func TestSelectSources(t *testing.T) {
	env := setupCLITestEnv(t)
	cfg, err := config.Load(env.configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	all, err := selectSources(cfg, nil)
	if err != nil || len(all) != 2 || all[0].ID != "ABCD" {
		t.Fatalf("selectSources(nil) = %v, %v", all, err)
	}
	one, err := selectSources(cfg, []string{"EFGH"})
	if err != nil || len(one) != 1 || one[0].OutputID != "EFGH00FRA" {
		t.Fatalf("selectSources(EFGH) = %v, %v", one, err)
	}
	if _, err := selectSources(cfg, []string{"NOPE"}); err == nil {
		t.Error("expected error for unlisted source")
	}
}

func TestBackfillCommand_Validation(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, "--config", env.configPath, "backfill", "--day", "21/05/2026"); err == nil {
		t.Error("expected error for malformed --day")
	}
	if _, err := runCLI(t, "--config", env.configPath, "backfill", "--day", "2026-05-21", "--cadence", "weekly"); err == nil {
		t.Error("expected error for unknown cadence")
	}

	// A day in the future has no closed bucket.
	future := time.Now().UTC().AddDate(0, 0, 2).Format(time.DateOnly)
	out, err := runCLI(t, "--config", env.configPath, "backfill", "--day", future)
	if err != nil {
		t.Fatalf("backfill of a future day: %v", err)
	}
	if !strings.Contains(out, "Nothing to backfill") {
		t.Errorf("output = %q", out)
	}
}

func TestHeartbeatRows(t *testing.T) {
	dir := state.Dir(t.TempDir())
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if err := state.WriteHeartbeat(dir.HeartbeatPath(state.Supervisor), now.Add(-30*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := state.WriteHeartbeat(dir.HeartbeatPath(state.Scheduler), now.Add(-10*time.Minute)); err != nil {
		t.Fatal(err)
	}

	rows := heartbeatRows(dir, []string{state.Supervisor, state.Scheduler, "other"}, now, 3*time.Minute)
	want := []string{"fresh", "stale", "missing"}
	for i, w := range want {
		if got := rows[i][3]; got != w {
			t.Errorf("row %d state = %q, want %q", i, got, w)
		}
	}
	if !strings.Contains(rows[0][2], "ago") {
		t.Errorf("age = %q, want humanized", rows[0][2])
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, "--config", env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "missing") || !strings.Contains(out, "No scheduler status") {
		t.Errorf("output = %q", out)
	}

	st := &state.Status{
		Role:          "all",
		LastHourlyKey: "202629214",
		LastDailyKey:  "2026291",
		UpdatedAt:     time.Now().UTC(),
		LastBatch:     &state.Batch{CorrelationID: "abc123", Cadence: "hourly", Bucket: "202629214", Tasks: 2, SubmittedAt: time.Now().UTC()},
	}
	if err := state.WriteStatus(state.Dir(env.stateDir).StatusPath(), st); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "--config", env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"202629214", "2026291", "abc123", "2 tasks"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func sampleResults() []conversion.Result {
	b := bucket.Bucket{Cadence: bucket.Hourly, Start: time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)}
	return []conversion.Result{
		{Source: "ABCD", Cadence: "hourly", Bucket: b.Key(), Outcome: conversion.Published, Inputs: 1},
		{Source: "EFGH", Cadence: "hourly", Bucket: b.Key(), Outcome: conversion.NoInput},
	}
}

func TestReadHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	led, err := ledger.Open(ledger.Options{Path: path})
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	if err := led.Put(context.Background(), "run1", sampleResults()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := led.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := readHistory(context.Background(), path, "2026-10-19", "", 0)
	if err != nil {
		t.Fatalf("readHistory() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	records, err = readHistory(context.Background(), path, "", "EFGH", 10)
	if err != nil {
		t.Fatalf("readHistory() error = %v", err)
	}
	if len(records) != 1 || records[0].Outcome != conversion.NoInput {
		t.Errorf("filtered records = %+v", records)
	}
}

type fakeHistory struct {
	records []ledger.Record
}

func (f fakeHistory) Day(context.Context, time.Time) ([]ledger.Record, error) {
	return f.records, nil
}

func (f fakeHistory) Recent(context.Context, int) ([]ledger.Record, error) {
	return f.records, nil
}

func TestFetchHistory(t *testing.T) {
	var recs []ledger.Record
	for _, r := range sampleResults() {
		recs = append(recs, ledger.Record{Result: r, RecordedAt: time.Now().UTC()})
	}

	t.Run("records", func(t *testing.T) {
		srv := httptest.NewServer(statusapi.NewRouter(statusapi.Options{History: fakeHistory{recs}}).Handler())
		defer srv.Close()

		got, err := fetchHistory(context.Background(), srv.Client(), srv.URL, "2026-10-19", "ABCD", 10)
		if err != nil {
			t.Fatalf("fetchHistory() error = %v", err)
		}
		if len(got) != 1 || got[0].Source != "ABCD" || got[0].Outcome != conversion.Published {
			t.Errorf("records = %+v", got)
		}
	})

	t.Run("ledger unavailable", func(t *testing.T) {
		srv := httptest.NewServer(statusapi.NewRouter(statusapi.Options{}).Handler())
		defer srv.Close()

		_, err := fetchHistory(context.Background(), srv.Client(), srv.URL, "", "", 0)
		if err == nil || !strings.Contains(err.Error(), "LEDGER_UNAVAILABLE") {
			t.Errorf("err = %v, want LEDGER_UNAVAILABLE", err)
		}
	})
}
