// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator brings the development stack up, down and back to
// health.
//
// # Overview
//
// DefaultOrchestrator is a small state machine over the fixed topology in
// the registry:
//
//	Idle → NetworkReady → per service {Starting → InitRunning → Probing → Ready | Failed}
//	     → Verified | PartiallyFailed
//
// It owns no container state of its own. Every decision is made from fresh
// runtime inspections, so a crashed run can always be resumed by running
// again.
//
// # Concurrency
//
// Services are brought up one at a time so output and failure attribution
// stay readable. The only background work is log streaming, which never
// blocks the state machine and is stopped before Initialize returns.
// Callers must not run two mutating operations against the same topology
// at once; the CLI enforces this with a process lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/network"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
)

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("orchestrator: missing dependency")

// ErrUnknownService is returned by Logs for names not in the registry.
var ErrUnknownService = errors.New("unknown service")

// =============================================================================
// Interface
// =============================================================================

// Orchestrator is the API the CLI drives.
type Orchestrator interface {
	// Status inspects every container read-only. It never fails; problems
	// are recorded in the result's Issues.
	Status(ctx context.Context) *OrchestrationResult

	// Initialize runs the full bring-up for mode.
	Initialize(ctx context.Context, mode OperationMode) (*OrchestrationResult, error)

	// Start brings the whole compose topology up without readiness waits.
	Start(ctx context.Context) error

	// Stop brings the compose topology down, keeping volumes.
	Stop(ctx context.Context) error

	// Health runs every readiness check once. It never fails.
	Health(ctx context.Context) *HealthReport

	// Logs writes a service's logs to w, following when follow is set.
	Logs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error
}

// Deps are the collaborators of DefaultOrchestrator.
type Deps struct {
	Runtime  runtime.Runtime
	Compose  compose.Executor
	Network  network.Provisioner
	Prober   probe.Prober
	Checker  probe.Checker
	Registry *registry.Registry

	// Sink receives progress. Default: NopSink.
	Sink Sink

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// DefaultOrchestrator implements Orchestrator.
type DefaultOrchestrator struct {
	rt       runtime.Runtime
	compose  compose.Executor
	network  network.Provisioner
	prober   probe.Prober
	checker  probe.Checker
	registry *registry.Registry
	sink     Sink
	logger   *slog.Logger
	metrics  *Metrics
	config   Config

	// newRunID is uuid.NewString, replaceable in tests.
	newRunID func() string
}

// New validates deps and creates a DefaultOrchestrator.
func New(deps Deps, cfg Config) (*DefaultOrchestrator, error) {
	switch {
	case deps.Runtime == nil:
		return nil, fmt.Errorf("%w: runtime", ErrMissingDependency)
	case deps.Compose == nil:
		return nil, fmt.Errorf("%w: compose executor", ErrMissingDependency)
	case deps.Network == nil:
		return nil, fmt.Errorf("%w: network provisioner", ErrMissingDependency)
	case deps.Prober == nil:
		return nil, fmt.Errorf("%w: prober", ErrMissingDependency)
	case deps.Checker == nil:
		return nil, fmt.Errorf("%w: checker", ErrMissingDependency)
	case deps.Registry == nil:
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	}

	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &DefaultOrchestrator{
		rt:       deps.Runtime,
		compose:  deps.Compose,
		network:  deps.Network,
		prober:   deps.Prober,
		checker:  deps.Checker,
		registry: deps.Registry,
		sink:     deps.Sink,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		config:   cfg.withDefaults(),
		newRunID: uuid.NewString,
	}, nil
}

// Start implements Orchestrator.
//
// The network is ensured first because compose declares it external.
func (o *DefaultOrchestrator) Start(ctx context.Context) error {
	if err := o.network.EnsureNetwork(ctx, o.registry.Network(), o.registry.Labels()); err != nil {
		return err
	}
	o.sink.StateChanged("", StateNetworkReady, o.registry.Network())

	_, err := o.compose.Up(ctx, compose.UpOptions{
		Profiles: []string{o.config.InitProfile},
		Timeout:  o.config.Timeouts.Compose,
		Sink:     o.composeSink(),
	})
	if err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	o.logger.Info("[Orchestrator] services started")
	return nil
}

// Stop implements Orchestrator.
func (o *DefaultOrchestrator) Stop(ctx context.Context) error {
	_, err := o.compose.Down(ctx, compose.DownOptions{
		Profiles:      []string{o.config.InitProfile},
		RemoveOrphans: true,
		Timeout:       o.config.Timeouts.Compose,
	})
	if err != nil {
		return fmt.Errorf("stop services: %w", err)
	}
	o.logger.Info("[Orchestrator] services stopped")
	return nil
}

// Logs implements Orchestrator.
func (o *DefaultOrchestrator) Logs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error {
	svc, ok := o.registry.Lookup(service)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return o.compose.Logs(ctx, compose.LogsOptions{
		Services: []string{svc.ComposeService},
		Follow:   follow,
		Tail:     tail,
	}, w)
}

// composeSink forwards compose output to the sink.
func (o *DefaultOrchestrator) composeSink() process.LineSink {
	if !o.config.StreamLogs {
		return nil
	}
	return func(_ process.Stream, line string) {
		o.sink.LogLine("compose", line)
	}
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockOrchestrator implements Orchestrator for testing.
type MockOrchestrator struct {
	StatusFunc     func(ctx context.Context) *OrchestrationResult
	InitializeFunc func(ctx context.Context, mode OperationMode) (*OrchestrationResult, error)
	StartFunc      func(ctx context.Context) error
	StopFunc       func(ctx context.Context) error
	HealthFunc     func(ctx context.Context) *HealthReport
	LogsFunc       func(ctx context.Context, service string, follow bool, tail int, w io.Writer) error

	// Calls records method names in call order.
	Calls []string
	mu    sync.Mutex
}

func (m *MockOrchestrator) record(call string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
}

// GetCalls returns a copy of the recorded calls.
func (m *MockOrchestrator) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

func (m *MockOrchestrator) Status(ctx context.Context) *OrchestrationResult {
	m.record("Status")
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return newResult("mock", UseExisting)
}

func (m *MockOrchestrator) Initialize(ctx context.Context, mode OperationMode) (*OrchestrationResult, error) {
	m.record("Initialize:" + mode.String())
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, mode)
	}
	r := newResult("mock", mode)
	r.State = StateVerified
	r.OverallHealthy = true
	return r, nil
}

func (m *MockOrchestrator) Start(ctx context.Context) error {
	m.record("Start")
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return nil
}

func (m *MockOrchestrator) Stop(ctx context.Context) error {
	m.record("Stop")
	if m.StopFunc != nil {
		return m.StopFunc(ctx)
	}
	return nil
}

func (m *MockOrchestrator) Health(ctx context.Context) *HealthReport {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return &HealthReport{Healthy: true}
}

func (m *MockOrchestrator) Logs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error {
	m.record("Logs:" + service)
	if m.LogsFunc != nil {
		return m.LogsFunc(ctx, service, follow, tail, w)
	}
	return nil
}

var (
	_ Orchestrator = (*DefaultOrchestrator)(nil)
	_ Orchestrator = (*MockOrchestrator)(nil)
)
