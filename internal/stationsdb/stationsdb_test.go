// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package stationsdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

func ns(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func TestOptionsSQL(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		want    string
		wantErr bool
	}{
		{
			name: "auto station_list_source",
			opts: Options{View: "public.station_list_source", OrderBy: "mp", Mode: ModeAuto},
			want: "SELECT mp, rinex_id, x, y, z, rec_type, rec_ver, ant_type, ant_h, ant_e, ant_n FROM public.station_list_source ORDER BY mp",
		},
		{
			name: "auto legacy view with where",
			opts: Options{View: "public.etat_antennes4", Where: "active = true", OrderBy: "mp, serial_code_world", Mode: ModeAuto},
			want: "SELECT mp, serial_code_world, ecef, receiver, version, antenne FROM public.etat_antennes4 WHERE active = true ORDER BY mp, serial_code_world",
		},
		{
			name: "explicit mode wins over view name",
			opts: Options{View: "v_stations", OrderBy: "mp", Mode: ModeStationListSource},
			want: "SELECT mp, rinex_id, x, y, z, rec_type, rec_ver, ant_type, ant_h, ant_e, ant_n FROM v_stations ORDER BY mp",
		},
		{name: "unsafe view", opts: Options{View: "v; DROP TABLE x", OrderBy: "mp"}, wantErr: true},
		{name: "unsafe order by", opts: Options{View: "v", OrderBy: "mp--"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.SQL()
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafeIdentifier) {
					t.Errorf("SQL() error = %v, want ErrUnsafeIdentifier", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("SQL() = %q, %v\nwant %q", got, err, tt.want)
			}
		})
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := []struct{ in, def, want string }{
		{"  TRM59800.00   NONE ", NoAntenna, "TRM59800.00|NONE"},
		{"", UnknownToken, "UNKNOWN"},
		{"NULL", UnknownToken, "UNKNOWN"},
		{"SEPT_POLARX5", "", "SEPT_POLARX5"},
	}
	for _, tt := range tests {
		if got := NormalizeToken(tt.in, tt.def); got != tt.want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseECEF(t *testing.T) {
	for _, in := range []string{"4201575.85 189856.88 4779066.69", "{4201575.85,189856.88,4779066.69}", "POINT(4201575.85, 189856.88, 4779066.69)"} {
		x, y, z, ok := ParseECEF(in)
		if !ok || x != "4201575.85" || y != "189856.88" || z != "4779066.69" {
			t.Errorf("ParseECEF(%q) = %s %s %s %v", in, x, y, z, ok)
		}
	}
	if _, _, _, ok := ParseECEF("1 2"); ok {
		t.Error("two numbers should not parse")
	}
}

func TestLine(t *testing.T) {
	modern := Options{View: "public.station_list_source", Mode: ModeAuto, AntennaH: "0.0", AntennaE: "0.0", AntennaN: "0.0"}
	legacy := Options{View: "public.etat_antennes4", Mode: ModeAuto, AntennaH: "0.1", AntennaE: "0.0", AntennaN: "0.0"}

	tests := []struct {
		name string
		opts Options
		row  Row
		want string
		ok   bool
	}{
		{
			name: "final columns",
			opts: modern,
			row: Row{Mountpoint: ns("ABCD00FRA"), RinexID: ns("ABCD00FRA"), X: ns("4201575.85"), Y: ns("189856.88"), Z: ns("4779066.69"),
				RecType: ns("SEPT POLARX5"), RecVer: ns("5.5.0"), AntType: ns("TRM59800.00 NONE"), AntH: ns("0.0550")},
			want: "ABCD00FRA ABCD00FRA 4201575.85 189856.88 4779066.69 SEPT|POLARX5 5.5.0 TRM59800.00|NONE 0.0550 0.0 0.0",
			ok:   true,
		},
		{
			name: "legacy ecef and defaults",
			opts: legacy,
			row:  Row{Mountpoint: ns("EFGH"), RinexID: ns(""), X: ns("{1.5,2.5,3.5}")},
			want: "EFGH EFGH 1.5 2.5 3.5 UNKNOWN UNKNOWN NONE|NONE 0.1 0.0 0.0",
			ok:   true,
		},
		{
			name: "no position uses minimal form",
			opts: legacy,
			row:  Row{Mountpoint: ns("IJKL"), RinexID: ns("IJKL00FRA"), X: ns("n/a")},
			want: "IJKL IJKL00FRA",
			ok:   true,
		},
		{name: "no mountpoint", opts: modern, row: Row{RinexID: ns("X")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.opts.Line(tt.row)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Line() = %q, %v\nwant %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPublish(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stations.list")
	opts := Options{View: "public.station_list_source", Mode: ModeAuto, Where: "network = 'centipede'", Output: out}
	lines := []string{
		"ABCD00FRA ABCD00FRA 4201575.85 189856.88 4779066.69 SEPT|POLARX5 5.5.0 TRM59800.00|NONE 0.0550 0.0 0.0",
		"EFGH EFGH",
	}
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

	written, err := opts.Publish(lines, now)
	if err != nil || !written {
		t.Fatalf("Publish() = %v, %v", written, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# generated_at_utc=2026-10-19T14:00:00Z", "# where=network = 'centipede'", "# mode=auto"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("header missing %q:\n%s", want, data)
		}
	}

	// The generated file is a valid station list.
	set, issues, err := stations.Parse(strings.NewReader(string(data)))
	if err != nil || len(issues) != 0 || len(set) != 2 {
		t.Fatalf("Parse() = %d sources, %v issues, %v", len(set), issues, err)
	}
	if got := set["ABCD00FRA"].Meta.ReceiverType; got != "SEPT POLARX5" {
		t.Errorf("receiver type = %q", got)
	}

	t.Run("unchanged lines are not rewritten", func(t *testing.T) {
		written, err := opts.Publish(lines, now.Add(time.Hour))
		if err != nil || written {
			t.Errorf("Publish() = %v, %v", written, err)
		}
		after, _ := os.ReadFile(out)
		if string(after) != string(data) {
			t.Error("file content changed")
		}
	})

	t.Run("changed lines are rewritten", func(t *testing.T) {
		written, err := opts.Publish(lines[:1], now.Add(time.Hour))
		if err != nil || !written {
			t.Errorf("Publish() = %v, %v", written, err)
		}
	})
}

type failingQuerier struct{ calls atomic.Int32 }

func (f *failingQuerier) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestRefresher_CircuitBreaker(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stations.list")
	if err := os.WriteFile(out, []byte("KEEP KEEP\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	db := &failingQuerier{}
	r := NewRefresher(db, Options{View: "public.station_list_source", OrderBy: "mp", Output: out}, time.Second)
	if r.interval != time.Minute {
		t.Errorf("interval = %v, want the one minute floor", r.interval)
	}

	for i := 0; i < 3; i++ {
		if _, outcome, err := r.Refresh(context.Background()); err == nil || outcome != Failed {
			t.Fatalf("Refresh() = %q, %v", outcome, err)
		}
	}
	_, _, err := r.Refresh(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("fourth refresh error = %v, want open breaker", err)
	}
	if db.calls.Load() != 3 {
		t.Errorf("database queried %d times, want 3", db.calls.Load())
	}

	data, _ := os.ReadFile(out)
	if string(data) != "KEEP KEEP\n" {
		t.Errorf("failed refresh touched the list: %q", data)
	}
}

func TestDSN(t *testing.T) {
	q := config.QueryDBConfig{Host: "db", Port: 5432, Database: "centipede", User: "ro", Password: "p@ss word'", SSLMode: "prefer"}
	want := `host=db port=5432 dbname=centipede user=ro sslmode=prefer connect_timeout=10 password='p@ss word\''`
	if got := DSN(q); got != want {
		t.Errorf("DSN() = %s\nwant %s", got, want)
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StationsList = "/config/stations.list"
	opts := OptionsFrom(cfg)
	if opts.Output != "/config/stations.list" || opts.View != "public.station_list_source" || !opts.StationListSource() {
		t.Errorf("OptionsFrom() = %+v", opts)
	}
}
