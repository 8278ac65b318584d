// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Command rinexpipe captures NTRIP streams into raw files and batches them
// into hourly and daily RINEX observation files.
//
// Usage:
//
//	rinexpipe run                          # daemon (role from config)
//	rinexpipe worker <source>              # one source worker, spawned by run
//	rinexpipe convert --source ID --cadence hourly --bucket 202614112
//	rinexpipe backfill --day 2026-05-21 [--cadence all] [--jobs 4] [--source ID]...
//	rinexpipe querydb [--once]             # regenerate the station list
//	rinexpipe status                       # heartbeats and scheduler keys
//	rinexpipe history [--day 2026-05-21] [--addr host:port]
//
// Every command accepts --config/-c; without it RINEXPIPE_CONFIG and the
// default search paths are tried.
package main
