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
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/network"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
)

// =============================================================================
// New
// =============================================================================

func TestNew_RejectsMissingDependencies(t *testing.T) {
	full := Deps{
		Runtime:  &runtime.MockRuntime{},
		Compose:  &compose.MockExecutor{},
		Network:  &network.MockProvisioner{},
		Prober:   &probe.MockProber{},
		Checker:  &probe.MockChecker{},
		Registry: registry.Default(),
	}

	_, err := New(full, Config{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		strip func(d *Deps)
	}{
		{"runtime", func(d *Deps) { d.Runtime = nil }},
		{"compose", func(d *Deps) { d.Compose = nil }},
		{"network", func(d *Deps) { d.Network = nil }},
		{"prober", func(d *Deps) { d.Prober = nil }},
		{"checker", func(d *Deps) { d.Checker = nil }},
		{"registry", func(d *Deps) { d.Registry = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := full
			tc.strip(&d)
			_, err := New(d, Config{})
			assert.ErrorIs(t, err, ErrMissingDependency)
		})
	}
}

func TestNew_AppliesConfigDefaults(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, DefaultConfig().MaxAttempts, h.orch.config.MaxAttempts)
	assert.Equal(t, "init", h.orch.config.InitProfile)
	assert.Positive(t, h.orch.config.Timeouts.Ready)
}

// =============================================================================
// Status
// =============================================================================

func TestStatus_AllRunningNeedsNothing(t *testing.T) {
	h := newHarness(t, testConfig())

	result := h.orch.Status(context.Background())
	assert.Equal(t, []string{"PostgreSQL", "Redis", "MinIO"}, result.Running)
	assert.Empty(t, result.Missing)
	assert.Empty(t, result.Stopped)
	assert.Empty(t, result.InitRequired)
	assert.False(t, result.NeedsInit)
	assert.Empty(t, result.Issues)
	for _, sr := range result.Services() {
		assert.True(t, sr.Ready(), sr.Service)
	}
}

func TestStatus_MissingServiceNeedsInit(t *testing.T) {
	h := newHarness(t, testConfig())
	h.setContainer("zephyr-redis-dev", runtime.ContainerObservation{})

	result := h.orch.Status(context.Background())
	assert.Equal(t, []string{"Redis"}, result.Missing)
	assert.Equal(t, []string{"PostgreSQL", "MinIO"}, result.Running)
	assert.True(t, result.NeedsInit)
	assert.Empty(t, result.Issues)
	assert.Equal(t, ContainerMissing, result.PerService["Redis"].Container)
}

func TestStatus_StoppedServiceNeedsInit(t *testing.T) {
	h := newHarness(t, testConfig())
	h.setContainer("zephyr-minio-dev", runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 137})

	result := h.orch.Status(context.Background())
	assert.Equal(t, []string{"MinIO"}, result.Stopped)
	assert.True(t, result.NeedsInit)
	assert.Equal(t, ContainerStopped, result.PerService["MinIO"].Container)
}

func TestStatus_IncompleteInitJob(t *testing.T) {
	tests := []struct {
		name string
		obs  runtime.ContainerObservation
	}{
		{"never ran", runtime.ContainerObservation{}},
		{"still running", runtime.ContainerObservation{Exists: true, Running: true, Status: "running"}},
		{"failed", runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.setContainer("zephyr-prisma-migrate", tc.obs)

			result := h.orch.Status(context.Background())
			assert.Equal(t, []string{"PostgreSQL"}, result.InitRequired)
			assert.True(t, result.NeedsInit)
			assert.Empty(t, result.Missing)

			pg := result.PerService["PostgreSQL"]
			assert.Equal(t, ContainerRunning, pg.Container)
			assert.False(t, pg.InitCompleted)
			assert.False(t, pg.Ready())
		})
	}
}

func TestStatus_EveryInitJobMustComplete(t *testing.T) {
	h := newHarness(t, testConfig())
	h.setContainer("zephyr-postgres-init", runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 3})

	result := h.orch.Status(context.Background())
	assert.Equal(t, []string{"PostgreSQL"}, result.InitRequired)

	pg := result.PerService["PostgreSQL"]
	assert.False(t, pg.InitCompleted)
	require.NotNil(t, pg.InitObservation)
	assert.Equal(t, "zephyr-postgres-init", pg.InitObservation.Name)
	assert.Equal(t, 3, pg.InitObservation.ExitCode)
}

func TestStatus_InspectErrorIsRecordedAsIssue(t *testing.T) {
	h := newHarness(t, testConfig())
	inspect := h.rt.InspectFunc
	h.rt.InspectFunc = func(ctx context.Context, container string) (runtime.ContainerObservation, error) {
		if container == "zephyr-redis-dev" {
			return runtime.ContainerObservation{}, errors.New("daemon hiccup")
		}
		return inspect(ctx, container)
	}

	result := h.orch.Status(context.Background())
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "Redis: inspect zephyr-redis-dev: daemon hiccup", result.Issues[0])
	assert.Equal(t, []string{"PostgreSQL", "MinIO"}, result.Running)
	assert.Error(t, result.PerService["Redis"].Err)
	assert.Equal(t, []string{"PostgreSQL", "Redis", "MinIO"}, result.Order)
}

func TestStatus_MutatesNothing(t *testing.T) {
	h := newHarness(t, testConfig())

	h.orch.Status(context.Background())
	assert.Empty(t, h.rec.get())
	assert.Empty(t, h.compose.UpCalls)
	assert.Empty(t, h.compose.DownCalls)
}

// =============================================================================
// Health
// =============================================================================

func TestHealth_AllHealthy(t *testing.T) {
	h := newHarness(t, testConfig())

	report := h.orch.Health(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Issues)
	require.Len(t, report.Services, 3)
	assert.Equal(t, "PostgreSQL", report.Services[0].Service)
	assert.Equal(t, "localhost:5433", report.Services[0].URL)
	assert.Equal(t, "http://localhost:9000", report.Services[2].URL)
	_, failing := report.FirstFailing()
	assert.False(t, failing)
}

func TestHealth_ChecksEveryInitJob(t *testing.T) {
	h := newHarness(t, testConfig())
	h.setContainer("zephyr-postgres-init", runtime.ContainerObservation{})

	report := h.orch.Health(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"PostgreSQL: init job zephyr-postgres-init has not run"}, report.Issues)
}

func TestHealth_ReportsFailingReadinessInRegistryOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.checker.CheckFunc = func(ctx context.Context, r probe.Readiness) error {
		target := r.Target()
		if strings.Contains(target, "redis-cli") || strings.Contains(target, "9000") {
			return errors.New("connection refused")
		}
		return nil
	}

	report := h.orch.Health(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"Redis: connection refused", "MinIO: connection refused"}, report.Issues)

	first, ok := report.FirstFailing()
	require.True(t, ok)
	assert.Equal(t, "Redis", first.Service)
	assert.True(t, report.Services[0].Healthy)
}

func TestHealth_InitJobStates(t *testing.T) {
	tests := []struct {
		name    string
		obs     runtime.ContainerObservation
		wantErr string
	}{
		{"not run", runtime.ContainerObservation{}, "init job zephyr-minio-init has not run"},
		{"running", runtime.ContainerObservation{Exists: true, Running: true, Status: "running"}, "init job zephyr-minio-init is still running"},
		{"exit 2", runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 2}, "init job zephyr-minio-init exited with code 2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.setContainer("zephyr-minio-init", tc.obs)

			report := h.orch.Health(context.Background())
			assert.False(t, report.Healthy)
			assert.Equal(t, []string{"MinIO: " + tc.wantErr}, report.Issues)
		})
	}
}

func TestHealth_NoneReadinessRequiresRunning(t *testing.T) {
	h := newHarness(t, testConfig())
	h.setContainer("zephyr-redis-dev", runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 0})

	sh := h.orch.checkService(context.Background(), registry.ServiceDescriptor{
		Name:          "Redis",
		ContainerName: "zephyr-redis-dev",
		Readiness:     probe.NoCheck(),
	})
	assert.False(t, sh.Healthy)
	assert.Equal(t, "container is not running", sh.Error)
	assert.Empty(t, h.checker.GetCalls())
}

func TestHealth_SetsGauge(t *testing.T) {
	h := newHarness(t, testConfig())
	h.orch.Health(context.Background())

	path := filepath.Join(t.TempDir(), "zephyr.prom")
	require.NoError(t, h.metrics.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "zephyr_orchestrator_healthy 1")
	assert.Contains(t, string(data), `zephyr_probe_outcomes_total{outcome="healthy",service="Redis"} 1`)
}

// =============================================================================
// Start / Stop / Logs
// =============================================================================

func TestStart_EnsuresNetworkThenUpsEverything(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.orch.Start(context.Background()))
	assert.Equal(t, []string{"network:zephyr_dev_network", "up:"}, h.rec.get())
	require.Len(t, h.compose.UpCalls, 1)
	assert.Empty(t, h.compose.UpCalls[0].Services)
	assert.Equal(t, []string{"init"}, h.compose.UpCalls[0].Profiles)
	assert.Equal(t, []string{"network-ready"}, h.sink.getStates())
}

func TestStart_NetworkFailureSkipsCompose(t *testing.T) {
	h := newHarness(t, testConfig())
	h.net.EnsureNetworkFunc = func(ctx context.Context, name string, labels map[string]string) error {
		return errors.New("denied")
	}

	require.Error(t, h.orch.Start(context.Background()))
	assert.Empty(t, h.compose.UpCalls)
}

func TestStart_ForwardsComposeOutputWhenStreaming(t *testing.T) {
	cfg := testConfig()
	cfg.StreamLogs = true
	h := newHarness(t, cfg)
	h.compose.UpFunc = func(ctx context.Context, opts compose.UpOptions) (*compose.Result, error) {
		require.NotNil(t, opts.Sink)
		opts.Sink(process.Stderr, "Container zephyr-redis-dev  Started")
		return &compose.Result{Success: true}, nil
	}

	require.NoError(t, h.orch.Start(context.Background()))
	assert.Equal(t, []string{"compose|Container zephyr-redis-dev  Started"}, h.sink.getLines())
}

func TestStop_KeepsVolumes(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.orch.Stop(context.Background()))
	require.Len(t, h.compose.DownCalls, 1)
	down := h.compose.DownCalls[0]
	assert.False(t, down.RemoveVolumes)
	assert.True(t, down.RemoveOrphans)
	assert.Equal(t, []string{"init"}, down.Profiles)
}

func TestStop_WrapsComposeError(t *testing.T) {
	h := newHarness(t, testConfig())
	cause := &process.ProcessError{Command: "docker compose down", ExitCode: 1, Stderr: "boom"}
	h.compose.DownFunc = func(ctx context.Context, opts compose.DownOptions) (*compose.Result, error) {
		return nil, cause
	}

	err := h.orch.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stop services")
}

func TestLogs_ResolvesServiceNames(t *testing.T) {
	h := newHarness(t, testConfig())
	var got compose.LogsOptions
	h.compose.LogsFunc = func(ctx context.Context, opts compose.LogsOptions, w io.Writer) error {
		got = opts
		_, err := io.WriteString(w, "ready to accept connections\n")
		return err
	}

	for _, name := range []string{"Redis", "redis-dev", "zephyr-redis-dev"} {
		var buf bytes.Buffer
		require.NoError(t, h.orch.Logs(context.Background(), name, true, 50, &buf))
		assert.Equal(t, []string{"redis-dev"}, got.Services)
		assert.True(t, got.Follow)
		assert.Equal(t, 50, got.Tail)
		assert.Equal(t, "ready to accept connections\n", buf.String())
	}
}

func TestLogs_UnknownService(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.orch.Logs(context.Background(), "mongodb", false, 10, io.Discard)
	assert.ErrorIs(t, err, ErrUnknownService)
}

// =============================================================================
// Mock
// =============================================================================

func TestMockOrchestrator_RecordsCalls(t *testing.T) {
	m := &MockOrchestrator{}
	ctx := context.Background()

	m.Status(ctx)
	result, err := m.Initialize(ctx, Reinitialize)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, result.State)
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))
	assert.True(t, m.Health(ctx).Healthy)
	require.NoError(t, m.Logs(ctx, "Redis", false, 0, io.Discard))

	assert.Equal(t, []string{"Status", "Initialize:reinit", "Start", "Stop", "Health", "Logs:Redis"}, m.GetCalls())
}
