// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/project"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
	"github.com/parazeeknova/zephyr-forge/pkg/logging"
)

// Runtime drivers.
const (
	DriverCLI = "cli"
	DriverAPI = "api"
)

// Config is the top-level structure of ~/.zephyr-forge/config.yaml.
type Config struct {
	Project      ProjectConfig      `mapstructure:"project" yaml:"project"`
	Stack        registry.Config    `mapstructure:"stack" yaml:"stack"`
	Runtime      RuntimeConfig      `mapstructure:"runtime" yaml:"runtime"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// ProjectConfig locates the monorepo.
type ProjectConfig struct {
	// Root is the monorepo root. Empty means search upward from the
	// working directory.
	Root        string `mapstructure:"root" yaml:"root"`
	ComposeFile string `mapstructure:"compose_file" yaml:"compose_file" validate:"required"`
}

// RuntimeConfig selects how the container engine is reached.
type RuntimeConfig struct {
	// Driver is "cli" (docker binary) or "api" (Engine API over the socket).
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=cli api"`

	// ComposeCommand overrides detection, e.g. ["docker-compose"].
	ComposeCommand []string `mapstructure:"compose_command" yaml:"compose_command,omitempty"`
}

// OrchestratorConfig tunes bring-up.
type OrchestratorConfig struct {
	MaxAttempts    int            `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"`
	StrictInitJobs bool           `mapstructure:"strict_init_jobs" yaml:"strict_init_jobs"`
	StreamLogs     bool           `mapstructure:"stream_logs" yaml:"stream_logs"`
	LogTail        int            `mapstructure:"log_tail" yaml:"log_tail" validate:"min=0"`
	Timeouts       TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// TimeoutsConfig mirrors util.TimeoutConfig with file tags. Durations are
// written as Go duration strings ("90s", "5m0s").
type TimeoutsConfig struct {
	Process time.Duration `mapstructure:"process" yaml:"process"`
	Compose time.Duration `mapstructure:"compose" yaml:"compose"`
	InitJob time.Duration `mapstructure:"init_job" yaml:"init_job"`
	Ready   time.Duration `mapstructure:"ready" yaml:"ready"`
	Check   time.Duration `mapstructure:"check" yaml:"check"`
	Poll    time.Duration `mapstructure:"poll" yaml:"poll"`
	MaxPoll time.Duration `mapstructure:"max_poll" yaml:"max_poll"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after every orchestration command when set.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	t := util.NewTimeoutConfig()
	return Config{
		Project: ProjectConfig{
			ComposeFile: project.ComposeFile,
		},
		Stack: registry.DefaultConfig(),
		Runtime: RuntimeConfig{
			Driver: DriverCLI,
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts: orchestrator.DefaultMaxAttempts,
			StreamLogs:  true,
			LogTail:     orchestrator.DefaultLogTail,
			Timeouts: TimeoutsConfig{
				Process: t.Process,
				Compose: t.Compose,
				InitJob: t.InitJob,
				Ready:   t.Ready,
				Check:   t.Check,
				Poll:    t.Poll,
				MaxPoll: t.MaxPoll,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.zephyr-forge/logs",
		},
	}
}

// TimeoutConfig converts the file section, applying floors and defaults.
func (t TimeoutsConfig) TimeoutConfig() util.TimeoutConfig {
	return util.TimeoutConfig{
		Process: t.Process,
		Compose: t.Compose,
		InitJob: t.InitJob,
		Ready:   t.Ready,
		Check:   t.Check,
		Poll:    t.Poll,
		MaxPoll: t.MaxPoll,
	}.Validated()
}

// OrchestratorSettings returns the orchestrator.Config for this file.
func (c Config) OrchestratorSettings() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MaxAttempts = c.Orchestrator.MaxAttempts
	oc.StrictInitJobs = c.Orchestrator.StrictInitJobs
	oc.StreamLogs = c.Orchestrator.StreamLogs
	if c.Orchestrator.LogTail > 0 {
		oc.LogTail = c.Orchestrator.LogTail
	}
	oc.Timeouts = c.Orchestrator.Timeouts.TimeoutConfig()
	return oc
}

// LoggingSettings returns the logging.Config for service. An unknown level
// falls back to info and is returned as the error.
func (c Config) LoggingSettings(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}, err
}
