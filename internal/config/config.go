// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

// Package config loads the rinexpipe configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values for every setting
//  2. Config File: optional YAML file (config.yaml)
//  3. Environment Variables: override any mapped setting
//
// The station list itself is not part of this configuration: it lives in a
// separate whitespace-separated file (see package stations) so that it can
// be regenerated by `rinexpipe querydb` without touching config.yaml.
//
// Config is immutable after Load and safe for concurrent reads. Long-running
// source workers call Load again on every run-loop iteration to pick up
// per-source overrides without a restart.
package config

import (
	"strings"
	"time"
)

// Roles select which control loops `rinexpipe run` hosts.
const (
	RoleAll     = "all"
	RoleIngest  = "ingest"
	RoleConvert = "convert"
)

// Config holds all application configuration.
type Config struct {
	Role      string              `koanf:"role" validate:"oneof=all ingest convert"`
	Paths     PathsConfig         `koanf:"paths"`
	Caster    CasterConfig        `koanf:"caster"`
	Ingest    IngestConfig        `koanf:"ingest"`
	Convert   ConvertConfig       `koanf:"convert"`
	RINEX     RINEXConfig         `koanf:"rinex"`
	Overrides map[string]Override `koanf:"overrides" validate:"dive"`
	HTTP      HTTPConfig          `koanf:"http"`
	QueryDB   QueryDBConfig       `koanf:"querydb"`
	Logging   LoggingConfig       `koanf:"logging"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	// StationsList is the primary Config Source.
	StationsList string `koanf:"stations_list" validate:"required"`

	// StationsListFallback is read when the primary list is unreadable.
	StationsListFallback string `koanf:"stations_list_fallback"`

	// RawRoot receives raw captures: <raw_root>/<year>/<doy>/<id>/...
	RawRoot string `koanf:"raw_root" validate:"required"`

	// OutRoot receives artifacts: <out_root>/<year>/<doy>/...
	OutRoot string `koanf:"out_root" validate:"required"`

	// ScratchDir is an explicit scratch override, tried first.
	ScratchDir string `koanf:"scratch_dir"`

	// ScratchRoot is the shared scratch root, tried before the OS temp dir.
	ScratchRoot string `koanf:"scratch_root"`

	// StateDir holds heartbeats, the scheduler status record, locks and the ledger.
	StateDir string `koanf:"state_dir" validate:"required"`
}

// CasterConfig describes the NTRIP caster every source streams from.
type CasterConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port" validate:"min=1,max=65535"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	MountPrefix string `koanf:"mount_prefix"`
}

// IngestConfig controls the Source Supervisor and Source Workers.
type IngestConfig struct {
	// Binary is the external streaming client (RTKLIB str2str).
	Binary string `koanf:"binary" validate:"required"`

	// PollInterval is the fixed reconcile interval.
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`

	// SignatureInterval is how often the station list signature is checked.
	SignatureInterval time.Duration `koanf:"signature_interval" validate:"min=100ms"`

	// StopGrace bounds the graceful phase when the supervisor stops a worker.
	StopGrace time.Duration `koanf:"stop_grace" validate:"min=0"`

	// KillWait bounds the wait after the forceful signal.
	KillWait time.Duration `koanf:"kill_wait" validate:"min=0"`

	// ChildInterruptWait, ChildTerminateWait and ChildKillWait are the fixed
	// waits a worker uses when escalating the shutdown of its child.
	ChildInterruptWait time.Duration `koanf:"child_interrupt_wait" validate:"min=0"`
	ChildTerminateWait time.Duration `koanf:"child_terminate_wait" validate:"min=0"`
	ChildKillWait      time.Duration `koanf:"child_kill_wait" validate:"min=0"`

	// RestartDelay is the pause before restarting a child that exited on its own.
	RestartDelay time.Duration `koanf:"restart_delay" validate:"min=0"`

	// WatchdogInterval is how often raw capture freshness is checked.
	WatchdogInterval time.Duration `koanf:"watchdog_interval" validate:"min=100ms"`

	// StaleThreshold is the capture age considered stale; it is also the
	// minimum spacing between two stale warnings.
	StaleThreshold time.Duration `koanf:"stale_threshold" validate:"min=1s"`

	// RotateHours is the raw file rotation period passed to the client.
	RotateHours int `koanf:"rotate_hours" validate:"min=1,max=24"`

	// Timeout and Reconnect are passed to the client (inactivity timeout
	// and reconnect interval).
	Timeout   time.Duration `koanf:"timeout"`
	Reconnect time.Duration `koanf:"reconnect"`

	// TraceLevel enables the client's trace stream when > 0.
	TraceLevel int `koanf:"trace_level" validate:"min=0,max=5"`

	RawSuffix string   `koanf:"raw_suffix" validate:"required,excludesall=/ "`
	RawExt    string   `koanf:"raw_ext" validate:"required,excludesall=/. "`
	ExtraArgs []string `koanf:"extra_args"`
}

// ConvertConfig controls the Batch Conversion Scheduler and Conversion Tasks.
type ConvertConfig struct {
	// Binary is the external transcoder (RTKLIB convbin).
	Binary string `koanf:"binary" validate:"required"`

	// InputFormat is passed to the transcoder's -r option.
	InputFormat string `koanf:"input_format" validate:"required"`

	// PollInterval is how often cadence triggers are evaluated.
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`

	// HourlyMinute: the hourly cadence fires at or after this minute of the hour.
	HourlyMinute int `koanf:"hourly_minute" validate:"min=0,max=59"`

	// DailyTime: the daily cadence fires at or after this UTC time of day (HH:MM).
	DailyTime string `koanf:"daily_time" validate:"clock"`

	// HourlyEnabled and DailyEnabled switch cadences on or off.
	HourlyEnabled bool `koanf:"hourly_enabled"`
	DailyEnabled  bool `koanf:"daily_enabled"`

	// EdgeMargin widens the bucket window on both sides when selecting inputs.
	EdgeMargin time.Duration `koanf:"edge_margin" validate:"min=0"`

	// MaxConcurrent bounds simultaneously running Conversion Tasks.
	MaxConcurrent int `koanf:"max_concurrent" validate:"min=1"`

	// RINEXVersion is the target format version passed to the transcoder.
	RINEXVersion string `koanf:"rinex_version" validate:"required"`

	// HourlyRate and DailyRate are the observation intervals of the artifacts.
	HourlyRate time.Duration `koanf:"hourly_rate" validate:"min=1s"`
	DailyRate  time.Duration `koanf:"daily_rate" validate:"min=1s"`

	// Compress gzips artifacts.
	Compress bool `koanf:"compress"`

	// InProcess runs Conversion Tasks as goroutines instead of child processes.
	InProcess bool `koanf:"in_process"`

	// TaskTimeout bounds a single Conversion Task.
	TaskTimeout time.Duration `koanf:"task_timeout" validate:"min=1s"`

	// LedgerRetention is how long conversion history records are kept.
	LedgerRetention time.Duration `koanf:"ledger_retention" validate:"min=1h"`

	ExtraArgs []string `koanf:"extra_args"`
}

// RINEXConfig holds header fields patched into every artifact.
type RINEXConfig struct {
	Program  string   `koanf:"program" validate:"max=20"`
	RunBy    string   `koanf:"run_by" validate:"max=20"`
	Observer string   `koanf:"observer" validate:"max=20"`
	Agency   string   `koanf:"agency" validate:"max=40"`
	Comments []string `koanf:"comments" validate:"dive,max=60"`
}

// Override holds per-source settings. Keys of Config.Overrides are
// normalized source ids (see NormalizeID).
type Override struct {
	Mountpoint      string `koanf:"mountpoint"`
	Host            string `koanf:"host"`
	Port            int    `koanf:"port" validate:"omitempty,min=1,max=65535"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	OutputID        string `koanf:"output_id"`
	MarkerNumber    string `koanf:"marker_number" validate:"max=20"`
	ReceiverType    string `koanf:"receiver_type"`
	ReceiverVersion string `koanf:"receiver_version"`
	AntennaType     string `koanf:"antenna_type"`
}

// HTTPConfig controls the status/metrics service.
type HTTPConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Listen          string        `koanf:"listen" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// StaleAfter is the heartbeat age at which /healthz reports unhealthy.
	StaleAfter time.Duration `koanf:"stale_after" validate:"min=1s"`
}

// QueryDBConfig controls station list generation from PostgreSQL.
type QueryDBConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	View     string `koanf:"view" validate:"sqlident"`
	Where    string `koanf:"where"`
	OrderBy  string `koanf:"order_by" validate:"sqlident"`

	// Mode: auto, station_list_source or etat_antennes4.
	Mode string `koanf:"mode" validate:"oneof=auto station_list_source etat_antennes4"`

	// Interval between refreshes; values below a minute are raised to a minute.
	Interval time.Duration `koanf:"interval"`

	// Output defaults to paths.stations_list.
	Output string `koanf:"output"`

	AntennaHeightDefault string `koanf:"ant_h_default"`
	AntennaEastDefault   string `koanf:"ant_e_default"`
	AntennaNorthDefault  string `koanf:"ant_n_default"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RunsIngest reports whether the role hosts the Source Supervisor.
func (c *Config) RunsIngest() bool {
	return c.Role == RoleAll || c.Role == RoleIngest
}

// RunsConvert reports whether the role hosts the Batch Conversion Scheduler.
func (c *Config) RunsConvert() bool {
	return c.Role == RoleAll || c.Role == RoleConvert
}

// OverrideFor returns the overrides record for a source id, if any.
func (c *Config) OverrideFor(sourceID string) (Override, bool) {
	o, ok := c.Overrides[NormalizeID(sourceID)]
	return o, ok
}

// NormalizeID maps a source id to its overrides key: lower-case, with every
// rune outside [a-z0-9] replaced by '_'.
func NormalizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(strings.TrimSpace(id)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// QueryDBOutput returns the station list path written by querydb.
func (c *Config) QueryDBOutput() string {
	if c.QueryDB.Output != "" {
		return c.QueryDB.Output
	}
	return c.Paths.StationsList
}
