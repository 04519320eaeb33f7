// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/retry"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxAttempts   = 3
	DefaultLogTail       = 20
	DefaultLogBufferSize = 200
	DefaultInitProfile   = "init"
)

// Config tunes one orchestrator.
type Config struct {
	// MaxAttempts bounds whole-operation attempts of Initialize.
	MaxAttempts int

	// Timeouts bounds every wait. Zero fields take util defaults.
	Timeouts util.TimeoutConfig

	// StrictInitJobs turns an init job timeout into a failure instead of a
	// warning. A non-zero init job exit always fails.
	StrictInitJobs bool

	// RetryMinDelay and RetryMaxDelay bound the pause between attempts.
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration

	// LogTail is how many container log lines an error report carries.
	LogTail int

	// LogBufferSize is the per-container ring buffer size of the streamer.
	LogBufferSize int

	// StreamLogs forwards container logs to the sink during Initialize.
	StreamLogs bool

	// InitProfile is the compose profile holding init jobs.
	InitProfile string
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		Timeouts:      util.NewTimeoutConfig(),
		RetryMinDelay: retry.DefaultMinDelay,
		RetryMaxDelay: retry.DefaultMaxDelay,
		LogTail:       DefaultLogTail,
		LogBufferSize: DefaultLogBufferSize,
		StreamLogs:    true,
		InitProfile:   DefaultInitProfile,
	}
}

// withDefaults fills zero fields. Timeouts are not floored so tests can use
// millisecond waits; the CLI applies TimeoutConfig.Validated.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	t, d := &c.Timeouts, def.Timeouts
	t.Process = util.EnforceDefaultTimeout(t.Process, d.Process)
	t.Compose = util.EnforceDefaultTimeout(t.Compose, d.Compose)
	t.InitJob = util.EnforceDefaultTimeout(t.InitJob, d.InitJob)
	t.Ready = util.EnforceDefaultTimeout(t.Ready, d.Ready)
	t.Check = util.EnforceDefaultTimeout(t.Check, d.Check)
	t.Poll = util.EnforceDefaultTimeout(t.Poll, d.Poll)
	t.MaxPoll = util.EnforceDefaultTimeout(t.MaxPoll, d.MaxPoll)
	if t.MaxPoll < t.Poll {
		t.MaxPoll = t.Poll
	}
	c.RetryMinDelay = util.EnforceDefaultTimeout(c.RetryMinDelay, def.RetryMinDelay)
	c.RetryMaxDelay = util.EnforceDefaultTimeout(c.RetryMaxDelay, def.RetryMaxDelay)
	if c.LogTail <= 0 {
		c.LogTail = def.LogTail
	}
	if c.LogBufferSize <= 0 {
		c.LogBufferSize = def.LogBufferSize
	}
	if c.InitProfile == "" {
		c.InitProfile = def.InitProfile
	}
	return c
}
