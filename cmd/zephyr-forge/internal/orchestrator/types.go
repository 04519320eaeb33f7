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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
)

// =============================================================================
// Operation Mode
// =============================================================================

// ErrUnknownMode is returned by ParseMode for unrecognized names.
var ErrUnknownMode = errors.New("unknown operation mode")

// OperationMode selects how much of the existing environment Initialize
// destroys before bringing services up.
type OperationMode int

const (
	// Fresh removes containers and data volumes, then rebuilds everything.
	Fresh OperationMode = iota

	// UseExisting keeps containers and volumes; nothing is removed.
	UseExisting

	// Reinitialize removes containers but keeps data volumes.
	Reinitialize

	// Manual skips global teardown; stale service containers are still
	// replaced one by one.
	Manual
)

// String returns the name accepted by ParseMode.
func (m OperationMode) String() string {
	switch m {
	case Fresh:
		return "fresh"
	case UseExisting:
		return "existing"
	case Reinitialize:
		return "reinit"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("OperationMode(%d)", int(m))
	}
}

// Description is a one-line explanation for prompts and help text.
func (m OperationMode) Description() string {
	switch m {
	case Fresh:
		return "Remove containers and volumes, start from scratch"
	case UseExisting:
		return "Keep everything, start what is missing"
	case Reinitialize:
		return "Recreate containers, keep data volumes"
	case Manual:
		return "Replace service containers without a full teardown"
	default:
		return ""
	}
}

// Modes lists every mode in prompt order.
func Modes() []OperationMode {
	return []OperationMode{Fresh, UseExisting, Reinitialize, Manual}
}

// ParseMode parses "fresh", "existing", "reinit" or "manual".
func ParseMode(s string) (OperationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fresh":
		return Fresh, nil
	case "existing", "use-existing":
		return UseExisting, nil
	case "reinit", "reinitialize":
		return Reinitialize, nil
	case "manual":
		return Manual, nil
	default:
		return 0, fmt.Errorf("%w: %q (want fresh, existing, reinit or manual)", ErrUnknownMode, s)
	}
}

// =============================================================================
// States
// =============================================================================

// State is a bring-up state reported to the Sink.
type State string

const (
	StateIdle            State = "idle"
	StateNetworkReady    State = "network-ready"
	StateStarting        State = "starting"
	StateInitRunning     State = "init-running"
	StateProbing         State = "probing"
	StateReady           State = "ready"
	StateFailed          State = "failed"
	StateVerified        State = "verified"
	StatePartiallyFailed State = "partially-failed"
)

// ContainerState classifies a container for Status.
type ContainerState string

const (
	ContainerMissing ContainerState = "missing"
	ContainerStopped ContainerState = "stopped"
	ContainerRunning ContainerState = "running"
)

// =============================================================================
// Results
// =============================================================================

// ServiceResult is what one run learned about one service.
type ServiceResult struct {
	// Service is the registry display name.
	Service string

	// Container is the classification from Status.
	Container ContainerState

	// Phase is the last bring-up state reached by Initialize.
	Phase State

	// Observation is the service container as last inspected.
	Observation runtime.ContainerObservation

	// InitObservation is the first init container that has not exited 0,
	// or the last one when all have. Nil when the service has no init job
	// or none could be inspected.
	InitObservation *runtime.ContainerObservation

	// HasInitJob is true when the service declares at least one init job.
	HasInitJob bool

	// InitCompleted is true when every init job exited with code 0.
	InitCompleted bool

	// Err is the inspection or bring-up error, if any.
	Err error
}

// Ready reports whether the service is running and initialized.
func (s ServiceResult) Ready() bool {
	return s.Container == ContainerRunning && (!s.HasInitJob || s.InitCompleted)
}

// OrchestrationResult is returned by Status and Initialize.
type OrchestrationResult struct {
	// RunID identifies the run in logs and metrics.
	RunID string

	Mode  OperationMode
	State State

	// Order lists service names in registry order; PerService is keyed by
	// the same names.
	Order      []string
	PerService map[string]ServiceResult

	// Classification lists, in registry order.
	Missing      []string
	Stopped      []string
	Running      []string
	InitRequired []string

	// NeedsInit is true when any service is missing, stopped or has an
	// incomplete init job.
	NeedsInit bool

	OverallHealthy bool
	Issues         []string

	// Attempts is the number of bring-up attempts Initialize made.
	Attempts int
	Duration time.Duration
}

func newResult(runID string, mode OperationMode) *OrchestrationResult {
	return &OrchestrationResult{
		RunID:      runID,
		Mode:       mode,
		State:      StateIdle,
		PerService: make(map[string]ServiceResult),
	}
}

// Services returns per-service results in registry order.
func (r *OrchestrationResult) Services() []ServiceResult {
	out := make([]ServiceResult, 0, len(r.Order))
	for _, name := range r.Order {
		out = append(out, r.PerService[name])
	}
	return out
}

func (r *OrchestrationResult) set(sr ServiceResult) {
	if _, seen := r.PerService[sr.Service]; !seen {
		r.Order = append(r.Order, sr.Service)
	}
	r.PerService[sr.Service] = sr
}

// ServiceHealth is one service's line in a HealthReport.
type ServiceHealth struct {
	Service string
	Healthy bool
	URL     string

	// Check is the readiness check that was run, for display.
	Check string

	// Error is why the service is unhealthy, empty when healthy.
	Error string
}

// HealthReport aggregates one-shot readiness checks.
type HealthReport struct {
	Healthy  bool
	Issues   []string
	Services []ServiceHealth
}

// FirstFailing returns the first unhealthy service in registry order.
func (h *HealthReport) FirstFailing() (ServiceHealth, bool) {
	for _, s := range h.Services {
		if !s.Healthy {
			return s, true
		}
	}
	return ServiceHealth{}, false
}
