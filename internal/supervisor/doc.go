// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

/*
Package supervisor hosts the long-running control loops of `rinexpipe run`
in a suture v4 supervisor tree.

The tree has three layers so that a failing loop in one layer is restarted
without disturbing the others:

	RootSupervisor ("rinexpipe")
	├── IngestSupervisor ("ingest-layer")
	│   └── Source Supervisor (role all|ingest)
	├── ConvertSupervisor ("convert-layer")
	│   ├── SchedulerService (role all|convert)
	│   └── MaintenanceService (ledger GC, temp sweep)
	└── APISupervisor ("api-layer")
	    ├── HTTPServerService (status API, if http.enabled)
	    └── station list refresher (if querydb.enabled)

A service whose Serve returns an error is restarted with suture's backoff.
Only cancellation of the root context, on SIGINT or SIGTERM, stops the
tree. The shutdown timeout must cover the Source Supervisor's per-worker
stop budget (stop_grace + kill_wait), since stopping the ingest layer
terminates every live source worker.

Events (restarts, panics, backoff) are logged through sutureslog into the
zerolog stream:

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
*/
package supervisor
