// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package testinfra starts containers for integration tests.
//
// Everything here is behind the `integration` build tag:
//
//	go test -tags integration ./internal/stationsdb/...
//
// Tests skip themselves when no Docker daemon is reachable.
//
//	pg, err := testinfra.NewPostgresContainer(ctx, testinfra.WithInitSQL(schema))
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, pg)
//	db, _ := sql.Open("postgres", pg.DSN)
package testinfra
