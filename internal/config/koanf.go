// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"rinexpipe.yaml",
	"rinexpipe.yml",
	"/config/rinexpipe.yaml",
	"/etc/rinexpipe/config.yaml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "RINEXPIPE_CONFIG"

// MinQueryInterval is the floor applied to querydb.interval.
const MinQueryInterval = time.Minute

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Role: RoleAll,
		Paths: PathsConfig{
			StationsList: "/config/stations.list",
			RawRoot:      "/data/raw",
			OutRoot:      "/data/rinex",
			ScratchRoot:  "/data/tmp",
			StateDir:     "/data/state",
		},
		Caster: CasterConfig{
			Port: 2101,
		},
		Ingest: IngestConfig{
			Binary:             "str2str",
			PollInterval:       60 * time.Second,
			SignatureInterval:  5 * time.Second,
			StopGrace:          10 * time.Second,
			KillWait:           5 * time.Second,
			ChildInterruptWait: 3 * time.Second,
			ChildTerminateWait: 3 * time.Second,
			ChildKillWait:      2 * time.Second,
			RestartDelay:       5 * time.Second,
			WatchdogInterval:   30 * time.Second,
			StaleThreshold:     5 * time.Minute,
			RotateHours:        1,
			Timeout:            30 * time.Second,
			Reconnect:          10 * time.Second,
			RawSuffix:          "RTCM3",
			RawExt:             "rtcm3",
		},
		Convert: ConvertConfig{
			Binary:        "convbin",
			InputFormat:   "rtcm3",
			PollInterval:  20 * time.Second,
			HourlyMinute:  5,
			DailyTime:     "00:20",
			HourlyEnabled: true,
			DailyEnabled:  true,
			EdgeMargin:    2 * time.Minute,
			MaxConcurrent: 4,
			RINEXVersion:  "3.04",
			HourlyRate:    time.Second,
			DailyRate:     30 * time.Second,
			Compress:      true,
			TaskTimeout:   20 * time.Minute,

			LedgerRetention: 90 * 24 * time.Hour,
		},
		RINEX: RINEXConfig{
			Program: "rinexpipe",
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Listen:          ":9470",
			ShutdownTimeout: 10 * time.Second,
			StaleAfter:      3 * time.Minute,
		},
		QueryDB: QueryDBConfig{
			Host:                 "host.docker.internal",
			Port:                 5432,
			Database:             "centipede",
			User:                 "centipede_readonly",
			SSLMode:              "prefer",
			View:                 "public.station_list_source",
			OrderBy:              "mp",
			Mode:                 "auto",
			Interval:             time.Hour,
			AntennaHeightDefault: "0.0",
			AntennaEastDefault:   "0.0",
			AntennaNorthDefault:  "0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: explicitPath, else $RINEXPIPE_CONFIG, else the first of DefaultConfigPaths
//  3. Environment Variables: Override any mapped setting
//
// An explicit path that does not exist is an error; a missing default file is not.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := applySecondsEnv(k); err != nil {
		return nil, err
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment. Tests start from it.
func Default() *Config {
	cfg := defaultConfig()
	cfg.normalize()
	return cfg
}

// normalize re-keys overrides by normalized id and applies floors.
func (c *Config) normalize() {
	if len(c.Overrides) > 0 {
		norm := make(map[string]Override, len(c.Overrides))
		for id, o := range c.Overrides {
			norm[NormalizeID(id)] = o
		}
		c.Overrides = norm
	}
	if c.QueryDB.Interval < MinQueryInterval {
		c.QueryDB.Interval = MinQueryInterval
	}
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
}

// findConfigFile resolves the config file to load, or "" if none.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicitPath, err)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", nil
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"ingest.extra_args",
	"convert.extra_args",
	"rinex.comments",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// secondsEnv maps integer-seconds environment variables to duration keys.
var secondsEnv = map[string]string{
	"QUERYDB_INTERVAL_SECONDS":       "querydb.interval",
	"RINEXPIPE_POLL_SECONDS":         "ingest.poll_interval",
	"RINEXPIPE_STALE_SECONDS":        "ingest.stale_threshold",
	"RINEXPIPE_CONVERT_POLL_SECONDS": "convert.poll_interval",
}

func applySecondsEnv(k *koanf.Koanf) error {
	for name, path := range secondsEnv {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: expected integer seconds, got %q", name, raw)
		}
		if err := k.Set(path, time.Duration(secs)*time.Second); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	"rinexpipe_role": "role",

	// Paths
	"rinexpipe_stations_list":          "paths.stations_list",
	"rinexpipe_stations_list_fallback": "paths.stations_list_fallback",
	"rinexpipe_raw_root":               "paths.raw_root",
	"rinexpipe_out_root":               "paths.out_root",
	"rinexpipe_scratch_dir":            "paths.scratch_dir",
	"rinexpipe_scratch_root":           "paths.scratch_root",
	"rinexpipe_state_dir":              "paths.state_dir",

	// Caster
	"ntrip_host":         "caster.host",
	"ntrip_port":         "caster.port",
	"ntrip_user":         "caster.user",
	"ntrip_password":     "caster.password",
	"ntrip_mount_prefix": "caster.mount_prefix",

	// Ingest
	"str2str_bin":                 "ingest.binary",
	"rinexpipe_signature_every":   "ingest.signature_interval",
	"rinexpipe_stop_grace":        "ingest.stop_grace",
	"rinexpipe_restart_delay":     "ingest.restart_delay",
	"rinexpipe_rotate_hours":      "ingest.rotate_hours",
	"rinexpipe_trace_level":       "ingest.trace_level",
	"rinexpipe_ingest_extra_args": "ingest.extra_args",

	// Convert
	"convbin_bin":                  "convert.binary",
	"rinexpipe_hourly_minute":      "convert.hourly_minute",
	"rinexpipe_daily_time":         "convert.daily_time",
	"rinexpipe_hourly_enabled":     "convert.hourly_enabled",
	"rinexpipe_daily_enabled":      "convert.daily_enabled",
	"rinexpipe_edge_margin":        "convert.edge_margin",
	"rinexpipe_max_concurrent":     "convert.max_concurrent",
	"rinexpipe_rinex_version":      "convert.rinex_version",
	"rinexpipe_compress":           "convert.compress",
	"rinexpipe_in_process":         "convert.in_process",
	"rinexpipe_task_timeout":       "convert.task_timeout",
	"rinexpipe_convert_extra_args": "convert.extra_args",
	"rinexpipe_ledger_retention":   "convert.ledger_retention",

	// RINEX header
	"rinex_run_by":   "rinex.run_by",
	"rinex_observer": "rinex.observer",
	"rinex_agency":   "rinex.agency",
	"rinex_comments": "rinex.comments",

	// HTTP
	"rinexpipe_http_enabled": "http.enabled",
	"rinexpipe_http_listen":  "http.listen",

	// querydb, legacy names kept as deployed
	"querydb_enabled":       "querydb.enabled",
	"querydb_pghost":        "querydb.host",
	"querydb_pgport":        "querydb.port",
	"querydb_pgdatabase":    "querydb.database",
	"querydb_pguser":        "querydb.user",
	"querydb_pgpassword":    "querydb.password",
	"querydb_pgsslmode":     "querydb.sslmode",
	"querydb_view":          "querydb.view",
	"querydb_where":         "querydb.where",
	"querydb_order_by":      "querydb.order_by",
	"querydb_mode":          "querydb.mode",
	"querydb_output":        "querydb.output",
	"querydb_ant_h_default": "querydb.ant_h_default",
	"querydb_ant_e_default": "querydb.ant_e_default",
	"querydb_ant_n_default": "querydb.ant_n_default",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - NTRIP_HOST -> caster.host
//   - RINEXPIPE_MAX_CONCURRENT -> convert.max_concurrent
//   - QUERYDB_PGHOST -> querydb.host
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
