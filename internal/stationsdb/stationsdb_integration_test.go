// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

//go:build integration

package stationsdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/stations"
	"github.com/tomtom215/rinexpipe/internal/testinfra"
)

var schema = []string{
	`CREATE TABLE antennas (
		mp text, rinex_id text, x double precision, y double precision, z double precision,
		rec_type text, rec_ver text, ant_type text, ant_h text, ant_e text, ant_n text, active boolean)`,
	`CREATE VIEW station_list_source AS
		SELECT mp, rinex_id, x, y, z, rec_type, rec_ver, ant_type, ant_h, ant_e, ant_n FROM antennas WHERE active`,
	`CREATE VIEW etat_antennes4 AS
		SELECT mp, rinex_id AS serial_code_world, x || ' ' || y || ' ' || z AS ecef,
		       rec_type AS receiver, rec_ver AS version, ant_type AS antenne, active FROM antennas`,
	`INSERT INTO antennas VALUES
		('ABCD', 'ABCD00FRA', 4201575.85, 189856.88, 4779066.69, 'SEPT POLARX5', '5.5.0', 'TRM59800.00 NONE', '0.0550', NULL, NULL, true),
		('EFGH', NULL, 4201000.5, 189000.25, 4779000.75, NULL, NULL, NULL, NULL, NULL, NULL, true),
		('IJKL', 'IJKL00FRA', 1, 2, 3, 'X', 'Y', 'Z', NULL, NULL, NULL, false)`,
}

func TestRefresher_Postgres(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testinfra.NewPostgresContainer(ctx, testinfra.WithInitSQL(schema...), testinfra.WithContainerLogs(t))
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg)

	q := config.QueryDBConfig{
		Host: pg.Host, Port: pg.Port, Database: pg.Database,
		User: pg.User, Password: pg.Password, SSLMode: "disable",
	}
	db, err := Open(q)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	tests := []struct {
		name  string
		opts  Options
		count int
	}{
		{"station_list_source", Options{View: "public.station_list_source", OrderBy: "mp", Mode: ModeAuto}, 2},
		{"etat_antennes4", Options{View: "public.etat_antennes4", Where: "active", OrderBy: "mp", Mode: ModeAuto}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = filepath.Join(t.TempDir(), "stations.list")
			tt.opts.AntennaH, tt.opts.AntennaE, tt.opts.AntennaN = "0.0", "0.0", "0.0"

			r := NewRefresher(db, tt.opts, time.Hour)
			n, outcome, err := r.Refresh(ctx)
			if err != nil || n != tt.count || outcome != Written {
				t.Fatalf("Refresh() = %d, %q, %v", n, outcome, err)
			}

			f, err := os.Open(tt.opts.Output)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			set, issues, err := stations.Parse(f)
			if err != nil || len(issues) != 0 {
				t.Fatalf("Parse() issues = %v, err = %v", issues, err)
			}
			if got := set["ABCD"].Meta.AntennaType; got != "TRM59800.00 NONE" {
				t.Errorf("antenna type = %q", got)
			}
			if got := set["EFGH"].OutputID; got != "EFGH" {
				t.Errorf("output id should default to the mountpoint, got %q", got)
			}
			if got := set["EFGH"].Meta.ReceiverType; got != "UNKNOWN" {
				t.Errorf("receiver type = %q", got)
			}

			if _, outcome, err := r.Refresh(ctx); err != nil || outcome != Unchanged {
				t.Errorf("second Refresh() = %q, %v", outcome, err)
			}
		})
	}
}
