// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/rinexpipe/internal/validation"
)

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	var errs []error
	if c.RunsIngest() && c.Caster.Host == "" {
		errs = append(errs, errors.New("caster.host is required when role hosts ingest"))
	}
	if child := c.Ingest.ChildInterruptWait + c.Ingest.ChildTerminateWait + c.Ingest.ChildKillWait; c.RunsIngest() && c.Ingest.StopGrace <= child {
		errs = append(errs, fmt.Errorf("ingest.stop_grace (%s) must exceed the client stop waits (%s), or workers are killed before their client",
			c.Ingest.StopGrace, child))
	}
	if c.RunsConvert() && !c.Convert.HourlyEnabled && !c.Convert.DailyEnabled {
		errs = append(errs, errors.New("convert: at least one of hourly_enabled or daily_enabled must be set"))
	}
	if c.Ingest.WatchdogInterval > c.Ingest.StaleThreshold {
		errs = append(errs, fmt.Errorf("ingest.watchdog_interval (%s) must not exceed ingest.stale_threshold (%s)",
			c.Ingest.WatchdogInterval, c.Ingest.StaleThreshold))
	}
	if c.Convert.EdgeMargin >= 30*time.Minute {
		errs = append(errs, fmt.Errorf("convert.edge_margin (%s) must be below 30m", c.Convert.EdgeMargin))
	}
	if c.HTTP.StaleAfter <= c.Ingest.PollInterval || c.HTTP.StaleAfter <= c.Convert.PollInterval {
		errs = append(errs, fmt.Errorf("http.stale_after (%s) must exceed both poll intervals", c.HTTP.StaleAfter))
	}
	return errors.Join(errs...)
}

// DailyOffset returns convert.daily_time as an offset from UTC midnight.
func (c *Config) DailyOffset() time.Duration {
	d, err := validation.ParseClock(c.Convert.DailyTime)
	if err != nil {
		return 20 * time.Minute
	}
	return d
}
