// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/config"
	"github.com/tomtom215/rinexpipe/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once and initializes logging from it.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		logging.Init(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Caller: cfg.Logging.Caller,
		})
		c.config = cfg
	})
	return c.config, c.configErr
}

// configPath returns the --config value, made absolute so that child
// processes resolve the same file regardless of their working directory.
func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	path := strings.TrimSpace(*c.configFlag)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// childArgs are the arguments that make a child process load the same
// configuration as this one. Without --config the child inherits
// RINEXPIPE_CONFIG or finds the same default path.
func (c *commandContext) childArgs() []string {
	if path := c.configPath(); path != "" {
		return []string{"--config", path}
	}
	return nil
}

// loader re-reads the configuration on every call. Source workers use it
// to pick up per-source overrides without a restart.
func (c *commandContext) loader() func() (*config.Config, error) {
	path := c.configPath()
	return func() (*config.Config, error) {
		return config.Load(path)
	}
}

func executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve rinexpipe executable: %w", err)
	}
	return exe, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
