// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime talks to the local container engine.
//
// # Description
//
// Runtime is the narrow set of container-engine operations the orchestrator
// needs: read container state, manage the shared network, remove containers
// and volumes, and read logs. Two drivers implement it:
//
//   - CLIRuntime shells out to the docker CLI through process.Runner
//   - APIRuntime uses the Docker Engine API client
//
// Both report a missing container as an observation with Exists=false, and
// treat removal of something already gone as success, so callers never have
// to pattern-match engine error text.
package runtime

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when a named object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating an object whose name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDaemonUnreachable is returned when the engine is not running.
	ErrDaemonUnreachable = errors.New("cannot connect to the Docker daemon")
)

// =============================================================================
// Types
// =============================================================================

// Health statuses reported by the engine for containers with a healthcheck.
const (
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// ContainerObservation is a point-in-time view of one container.
//
// It is recomputed on every inspection and never cached.
type ContainerObservation struct {
	// Name is the container name that was inspected.
	Name string

	// Exists is false when the engine has no container with that name.
	Exists bool

	// Running is true while the main process runs.
	Running bool

	// Healthy is true when the engine reports health "healthy".
	Healthy bool

	// HealthStatus is the raw health status, empty when the container has
	// no healthcheck.
	HealthStatus string

	// Status is the engine state: created, running, exited, restarting...
	Status string

	// ExitCode is the exit code of the last run. Meaningful once stopped.
	ExitCode int
}

// HasHealthcheck reports whether the engine tracks health for the container.
func (o ContainerObservation) HasHealthcheck() bool {
	return o.HealthStatus != ""
}

// ExitedZero reports whether the container ran to completion successfully.
func (o ContainerObservation) ExitedZero() bool {
	return o.Exists && !o.Running && o.Status == "exited" && o.ExitCode == 0
}

// Exited reports whether the container stopped after running.
func (o ContainerObservation) Exited() bool {
	return o.Exists && !o.Running && (o.Status == "exited" || o.Status == "dead")
}

// NetworkInfo describes one engine network.
type NetworkInfo struct {
	ID     string
	Name   string
	Driver string
	Labels map[string]string
}

// LabelsMatch reports whether the network carries exactly the wanted labels.
// Extra labels on the network count as a mismatch.
func (n NetworkInfo) LabelsMatch(want map[string]string) bool {
	if len(n.Labels) != len(want) {
		return false
	}
	for k, v := range want {
		if got, ok := n.Labels[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// =============================================================================
// Interface
// =============================================================================

// Runtime is the container engine as seen by the orchestrator.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; health checks inspect
// several containers in parallel.
type Runtime interface {
	// Ping verifies the engine is reachable. Returns ErrDaemonUnreachable
	// (wrapped) when it is not.
	Ping(ctx context.Context) error

	// Inspect returns the state of a container. A missing container is
	// reported as Exists=false with a nil error.
	Inspect(ctx context.Context, container string) (ContainerObservation, error)

	// ListNetworks returns every network known to the engine.
	ListNetworks(ctx context.Context) ([]NetworkInfo, error)

	// CreateNetwork creates a bridge network. Returns ErrAlreadyExists
	// (wrapped) when the name is taken.
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error

	// RemoveNetwork removes a network. A missing network is not an error.
	RemoveNetwork(ctx context.Context, name string) error

	// RunningContainersOnNetwork lists running containers attached to a network.
	RunningContainersOnNetwork(ctx context.Context, network string) ([]string, error)

	// RemoveContainer force-removes a container. A missing one is not an error.
	RemoveContainer(ctx context.Context, container string) error

	// RemoveVolume removes a named volume. A missing one is not an error.
	RemoveVolume(ctx context.Context, volume string) error

	// Logs returns up to tail of the most recent log lines.
	Logs(ctx context.Context, container string, tail int) ([]string, error)

	// FollowLogs streams new log lines to sink until ctx is done.
	FollowLogs(ctx context.Context, container string, sink func(line string)) error

	// Close releases driver resources.
	Close() error
}

// =============================================================================
// Helpers
// =============================================================================

// parseLabelString parses the "k=v,k2=v2" form used by "docker network ls".
func parseLabelString(s string) map[string]string {
	labels := make(map[string]string)
	s = strings.TrimSpace(s)
	if s == "" {
		return labels
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, _ := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if k != "" {
			labels[k] = v
		}
	}
	return labels
}

// labelArgs renders labels as sorted "--label k=v" arguments.
func labelArgs(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	return args
}

// splitLines splits output into non-empty lines.
func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockRuntime implements Runtime for testing.
//
// Unset Func fields succeed with zero values, except InspectFunc, which
// reports the container as missing.
type MockRuntime struct {
	PingFunc                       func(ctx context.Context) error
	InspectFunc                    func(ctx context.Context, container string) (ContainerObservation, error)
	ListNetworksFunc               func(ctx context.Context) ([]NetworkInfo, error)
	CreateNetworkFunc              func(ctx context.Context, name string, labels map[string]string) error
	RemoveNetworkFunc              func(ctx context.Context, name string) error
	RunningContainersOnNetworkFunc func(ctx context.Context, network string) ([]string, error)
	RemoveContainerFunc            func(ctx context.Context, container string) error
	RemoveVolumeFunc               func(ctx context.Context, volume string) error
	LogsFunc                       func(ctx context.Context, container string, tail int) ([]string, error)
	FollowLogsFunc                 func(ctx context.Context, container string, sink func(line string)) error

	// Calls records "Method:arg" for every call, in order.
	Calls []string
	mu    sync.Mutex
}

func (m *MockRuntime) record(method, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method+":"+arg)
}

// GetCalls returns a copy of the recorded calls.
func (m *MockRuntime) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

func (m *MockRuntime) Ping(ctx context.Context) error {
	m.record("Ping", "")
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockRuntime) Inspect(ctx context.Context, container string) (ContainerObservation, error) {
	m.record("Inspect", container)
	if m.InspectFunc != nil {
		return m.InspectFunc(ctx, container)
	}
	return ContainerObservation{Name: container}, nil
}

func (m *MockRuntime) ListNetworks(ctx context.Context) ([]NetworkInfo, error) {
	m.record("ListNetworks", "")
	if m.ListNetworksFunc != nil {
		return m.ListNetworksFunc(ctx)
	}
	return nil, nil
}

func (m *MockRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	m.record("CreateNetwork", name)
	if m.CreateNetworkFunc != nil {
		return m.CreateNetworkFunc(ctx, name, labels)
	}
	return nil
}

func (m *MockRuntime) RemoveNetwork(ctx context.Context, name string) error {
	m.record("RemoveNetwork", name)
	if m.RemoveNetworkFunc != nil {
		return m.RemoveNetworkFunc(ctx, name)
	}
	return nil
}

func (m *MockRuntime) RunningContainersOnNetwork(ctx context.Context, network string) ([]string, error) {
	m.record("RunningContainersOnNetwork", network)
	if m.RunningContainersOnNetworkFunc != nil {
		return m.RunningContainersOnNetworkFunc(ctx, network)
	}
	return nil, nil
}

func (m *MockRuntime) RemoveContainer(ctx context.Context, container string) error {
	m.record("RemoveContainer", container)
	if m.RemoveContainerFunc != nil {
		return m.RemoveContainerFunc(ctx, container)
	}
	return nil
}

func (m *MockRuntime) RemoveVolume(ctx context.Context, volume string) error {
	m.record("RemoveVolume", volume)
	if m.RemoveVolumeFunc != nil {
		return m.RemoveVolumeFunc(ctx, volume)
	}
	return nil
}

func (m *MockRuntime) Logs(ctx context.Context, container string, tail int) ([]string, error) {
	m.record("Logs", container)
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, container, tail)
	}
	return nil, nil
}

func (m *MockRuntime) FollowLogs(ctx context.Context, container string, sink func(line string)) error {
	m.record("FollowLogs", container)
	if m.FollowLogsFunc != nil {
		return m.FollowLogsFunc(ctx, container, sink)
	}
	<-ctx.Done()
	return nil
}

func (m *MockRuntime) Close() error {
	return nil
}

var _ Runtime = (*MockRuntime)(nil)
