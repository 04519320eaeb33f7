// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

// Minimum timeouts. Values below these are raised to the minimum; a zero or
// negative timeout would otherwise mean "wait forever" for some callers.
const (
	// MinProcessTimeout is the floor for a single external command.
	MinProcessTimeout = 1 * time.Second

	// MinProbeTimeout is the floor for a readiness wait.
	MinProbeTimeout = 1 * time.Second

	// MinPollInterval is the floor between two runtime inspections.
	MinPollInterval = 50 * time.Millisecond

	// MinCheckTimeout is the floor for a one-shot TCP/SQL/HTTP check.
	MinCheckTimeout = 250 * time.Millisecond
)

// Defaults applied when configuration leaves a timeout unset.
const (
	// DefaultProcessTimeout bounds a docker CLI call (inspect, rm, network ls).
	DefaultProcessTimeout = 2 * time.Minute

	// DefaultComposeTimeout bounds compose up/down, which may pull images.
	DefaultComposeTimeout = 10 * time.Minute

	// DefaultInitJobTimeout bounds an init job (migrations, bucket bootstrap).
	DefaultInitJobTimeout = 5 * time.Minute

	// DefaultReadyTimeout bounds a service readiness wait.
	DefaultReadyTimeout = 90 * time.Second

	// DefaultPollInterval is the first delay between two inspections.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxPollInterval caps the growing poll interval.
	DefaultMaxPollInterval = 5 * time.Second

	// DefaultCheckTimeout bounds a one-shot readiness check.
	DefaultCheckTimeout = 5 * time.Second
)

// =============================================================================
// Timeout Configuration
// =============================================================================

// TimeoutConfig groups the timeouts used by one orchestration run.
type TimeoutConfig struct {
	Process time.Duration
	Compose time.Duration
	InitJob time.Duration
	Ready   time.Duration
	Check   time.Duration
	Poll    time.Duration
	MaxPoll time.Duration
}

// NewTimeoutConfig returns a TimeoutConfig populated with the defaults.
func NewTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Process: DefaultProcessTimeout,
		Compose: DefaultComposeTimeout,
		InitJob: DefaultInitJobTimeout,
		Ready:   DefaultReadyTimeout,
		Check:   DefaultCheckTimeout,
		Poll:    DefaultPollInterval,
		MaxPoll: DefaultMaxPollInterval,
	}
}

// Validated returns a copy with defaults filled in and minimums enforced.
//
// MaxPoll is never lower than Poll.
func (c TimeoutConfig) Validated() TimeoutConfig {
	out := TimeoutConfig{
		Process: EnforceMinTimeout(EnforceDefaultTimeout(c.Process, DefaultProcessTimeout), MinProcessTimeout),
		Compose: EnforceMinTimeout(EnforceDefaultTimeout(c.Compose, DefaultComposeTimeout), MinProcessTimeout),
		InitJob: EnforceMinTimeout(EnforceDefaultTimeout(c.InitJob, DefaultInitJobTimeout), MinProbeTimeout),
		Ready:   EnforceMinTimeout(EnforceDefaultTimeout(c.Ready, DefaultReadyTimeout), MinProbeTimeout),
		Check:   EnforceMinTimeout(EnforceDefaultTimeout(c.Check, DefaultCheckTimeout), MinCheckTimeout),
		Poll:    EnforceMinTimeout(EnforceDefaultTimeout(c.Poll, DefaultPollInterval), MinPollInterval),
		MaxPoll: EnforceDefaultTimeout(c.MaxPoll, DefaultMaxPollInterval),
	}
	if out.MaxPoll < out.Poll {
		out.MaxPoll = out.Poll
	}
	return out
}

// =============================================================================
// Enforcement Helpers
// =============================================================================

// EnforceMinTimeout returns requested, or minimum when requested is zero,
// negative, or below minimum.
//
//	timeout := EnforceMinTimeout(cfg.Timeout, MinProcessTimeout)
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns defaultVal when requested is zero or negative.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
