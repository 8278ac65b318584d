// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

/*
Package services adapts rinexpipe components to suture's Serve pattern.

  - HTTPServerService wraps the status API's *http.Server (ListenAndServe
    and Shutdown).
  - SchedulerService wraps the Batch Conversion Scheduler's Start/Stop
    lifecycle and drains submitted batches for a bounded time on shutdown.
  - MaintenanceService runs periodic housekeeping jobs such as conversion
    ledger garbage collection and sweeping abandoned temporary files.

The Source Supervisor and the station list refresher implement
suture.Service themselves and need no wrapper.
*/
package services
