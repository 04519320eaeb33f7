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
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
)

func TestInitialize_FreshRunsTeardownThenServicesInOrder(t *testing.T) {
	h := newHarness(t, testConfig())

	result, err := h.orch.Initialize(context.Background(), Fresh)
	require.NoError(t, err)

	want := []string{
		"down -v",
		"rm:zephyr-postgres-dev",
		"rm:zephyr-postgres-init",
		"rm:zephyr-prisma-migrate",
		"rm:zephyr-redis-dev",
		"rm:zephyr-minio-dev",
		"rm:zephyr-minio-init",
		"rmvol:zephyr_postgres_data_dev",
		"rmvol:zephyr_redis_data_dev",
		"rmvol:zephyr_minio_data_dev",
		"network:zephyr_dev_network",

		"rm:zephyr-postgres-dev",
		"rm:zephyr-postgres-init",
		"rm:zephyr-prisma-migrate",
		"up:postgres-dev",
		"up:postgres-init",
		"wait:zephyr-postgres-init:exited(0)",
		"up:prisma-migrate",
		"wait:zephyr-prisma-migrate:exited(0)",
		"wait:zephyr-postgres-dev:healthy",

		"rm:zephyr-redis-dev",
		"up:redis-dev",
		"wait:zephyr-redis-dev:healthy",

		"rm:zephyr-minio-dev",
		"rm:zephyr-minio-init",
		"up:minio-dev",
		"up:minio-init",
		"wait:zephyr-minio-init:exited(0)",
		"wait:zephyr-minio-dev:healthy",
	}
	if diff := cmp.Diff(want, h.rec.get()); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, Fresh, result.Mode)
	assert.Equal(t, StateVerified, result.State)
	assert.True(t, result.OverallHealthy)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Issues)
	assert.Equal(t, []string{"PostgreSQL", "Redis", "MinIO"}, result.Order)

	for _, sr := range result.Services() {
		assert.Equal(t, StateReady, sr.Phase, sr.Service)
	}
	assert.True(t, result.PerService["PostgreSQL"].InitCompleted)
	assert.True(t, result.PerService["MinIO"].InitCompleted)
	assert.False(t, result.PerService["Redis"].HasInitJob)

	// final health runs every readiness check once
	assert.Len(t, h.checker.GetCalls(), 3)
}

func TestInitialize_InitJobRunsUnderInitProfile(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.orch.Initialize(context.Background(), UseExisting)
	require.NoError(t, err)

	var initUps int
	for _, call := range h.compose.UpCalls {
		require.Len(t, call.Services, 1)
		name := call.Services[0]
		if strings.HasSuffix(name, "-init") || strings.HasSuffix(name, "-migrate") {
			initUps++
			assert.Equal(t, []string{"init"}, call.Profiles)
		} else {
			assert.Empty(t, call.Profiles)
		}
	}
	assert.Equal(t, 3, initUps)
}

func TestInitialize_TeardownByMode(t *testing.T) {
	tests := []struct {
		name       string
		mode       OperationMode
		wantDown   bool
		wantVolRm  bool
		wantRemove int
	}{
		{name: "fresh", mode: Fresh, wantDown: true, wantVolRm: true, wantRemove: 12},
		{name: "reinit", mode: Reinitialize, wantRemove: 12},
		{name: "existing", mode: UseExisting, wantRemove: 0},
		{name: "manual", mode: Manual, wantRemove: 6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig())

			_, err := h.orch.Initialize(context.Background(), tc.mode)
			require.NoError(t, err)

			assert.Equal(t, tc.wantDown, h.rec.has("down"))
			assert.Equal(t, tc.wantVolRm, h.rec.has("rmvol:"))

			var removed int
			for _, c := range h.rec.get() {
				if strings.HasPrefix(c, "rm:") {
					removed++
				}
			}
			assert.Equal(t, tc.wantRemove, removed)
		})
	}
}

func TestInitialize_FreshRemovesVolumesBeforeAnyStart(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.orch.Initialize(context.Background(), Fresh)
	require.NoError(t, err)

	calls := h.rec.get()
	lastVol, firstUp := -1, -1
	for i, c := range calls {
		if strings.HasPrefix(c, "rmvol:") {
			lastVol = i
		}
		if strings.HasPrefix(c, "up:") && firstUp < 0 {
			firstUp = i
		}
	}
	require.GreaterOrEqual(t, lastVol, 0)
	assert.Less(t, lastVol, firstUp)
}

func TestInitialize_DatabaseNeverReadyExhaustsAttempts(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prober.WaitUntilFunc = func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		if container == "zephyr-postgres-dev" && cond == probe.Healthy {
			return &probe.ProbeTimeout{Container: container, Condition: cond, Elapsed: opts.Timeout, LastStatus: "running"}
		}
		return nil
	}

	result, err := h.orch.Initialize(context.Background(), UseExisting)
	require.Error(t, err)

	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "PostgreSQL", sie.Service)
	assert.Equal(t, "zephyr-postgres-dev", sie.Container)
	assert.Equal(t, 3, sie.Attempts)
	assert.Equal(t, []string{"zephyr-postgres-dev: last line"}, sie.RecentLogs)
	assert.NotEmpty(t, sie.Issues)
	assert.Contains(t, err.Error(), "after 3 attempts")

	var timeout *probe.ProbeTimeout
	assert.True(t, errors.As(err, &timeout))

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.False(t, result.OverallHealthy)
	assert.Equal(t, StateFailed, result.PerService["PostgreSQL"].Phase)

	// later services are never attempted
	assert.False(t, h.rec.has("up:redis-dev"))

	assert.Len(t, h.sink.getWarnings(), 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.attempts.WithLabelValues("existing", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.probeOutcomes.WithLabelValues("PostgreSQL", "timeout")))
}

func TestInitialize_PermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, testConfig())
	h.compose.UpFunc = func(ctx context.Context, opts compose.UpOptions) (*compose.Result, error) {
		return nil, &process.ProcessError{Command: "docker compose up", ExitCode: -1, NotFound: true, Err: exec.ErrNotFound}
	}

	result, err := h.orch.Initialize(context.Background(), UseExisting)
	require.Error(t, err)

	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, 1, sie.Attempts)
	assert.Equal(t, "PostgreSQL", sie.Service)
	assert.True(t, process.IsNotFound(err))
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, h.sink.getWarnings())
}

func TestInitialize_SucceedsOnSecondAttempt(t *testing.T) {
	h := newHarness(t, testConfig())
	var redisWaits int
	h.prober.WaitUntilFunc = func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		if container == "zephyr-redis-dev" {
			redisWaits++
			if redisWaits == 1 {
				return &probe.ProbeTimeout{Container: container, Condition: cond}
			}
		}
		return nil
	}

	result, err := h.orch.Initialize(context.Background(), Reinitialize)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, StateVerified, result.State)
	assert.Len(t, h.sink.getWarnings(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.attempts.WithLabelValues("reinit", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.attempts.WithLabelValues("reinit", "succeeded")))
}

func TestInitialize_InitJobTimeoutWarnsAndContinues(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prober.WaitUntilFunc = func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		if container == "zephyr-prisma-migrate" {
			return &probe.ProbeTimeout{Container: container, Condition: cond, Elapsed: opts.Timeout}
		}
		return nil
	}

	result, err := h.orch.Initialize(context.Background(), UseExisting)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, result.State)
	assert.False(t, result.PerService["PostgreSQL"].InitCompleted)

	warnings := h.sink.getWarnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "zephyr-prisma-migrate")
}

func TestInitialize_StrictInitJobTimeoutFails(t *testing.T) {
	cfg := testConfig()
	cfg.StrictInitJobs = true
	cfg.MaxAttempts = 1
	h := newHarness(t, cfg)
	h.prober.WaitUntilFunc = func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		if container == "zephyr-prisma-migrate" {
			return &probe.ProbeTimeout{Container: container, Condition: cond}
		}
		return nil
	}

	_, err := h.orch.Initialize(context.Background(), UseExisting)
	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "PostgreSQL", sie.Service)
	assert.Equal(t, "zephyr-prisma-migrate", sie.Container)
}

func TestInitialize_FailedInitJobStopsLaterJobs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	h := newHarness(t, cfg)
	h.prober.WaitUntilFunc = func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		h.rec.add("wait:" + container)
		if container == "zephyr-postgres-init" {
			return &probe.ProbeFailed{Container: container, ExitCode: 2, Status: "exited"}
		}
		return nil
	}

	_, err := h.orch.Initialize(context.Background(), UseExisting)
	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "PostgreSQL", sie.Service)
	assert.Equal(t, "zephyr-postgres-init", sie.Container)

	assert.True(t, h.rec.has("up:postgres-init"))
	assert.False(t, h.rec.has("up:prisma-migrate"))
	assert.Zero(t, h.rec.count("wait:zephyr-postgres-dev"))
}

func TestInitialize_InitJobNonZeroExitFails(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prober.WaitUntilFunc = func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		if container == "zephyr-minio-init" {
			return &probe.ProbeFailed{Container: container, ExitCode: 1, Status: "exited"}
		}
		return nil
	}

	result, err := h.orch.Initialize(context.Background(), UseExisting)
	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "MinIO", sie.Service)
	assert.Equal(t, "zephyr-minio-init", sie.Container)
	assert.Equal(t, 3, sie.Attempts)

	var failed *probe.ProbeFailed
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 1, failed.ExitCode)

	assert.Equal(t, StateReady, result.PerService["PostgreSQL"].Phase)
	assert.Equal(t, StateFailed, result.PerService["MinIO"].Phase)
}

func TestInitialize_UnhealthyAfterBringUpIsPartiallyFailed(t *testing.T) {
	h := newHarness(t, testConfig())
	h.setContainer("zephyr-minio-init", runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 1})

	result, err := h.orch.Initialize(context.Background(), UseExisting)
	require.Error(t, err)

	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "MinIO", sie.Service)
	assert.Equal(t, "zephyr-minio-dev", sie.Container)
	assert.Equal(t, []string{"MinIO: init job zephyr-minio-init exited with code 1"}, sie.Issues)
	assert.Equal(t, []string{"zephyr-minio-dev: last line"}, sie.RecentLogs)

	assert.Equal(t, StatePartiallyFailed, result.State)
	assert.False(t, result.OverallHealthy)
	assert.Equal(t, sie.Issues, result.Issues)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.healthy))
}

func TestInitialize_NetworkFailureIsAttributed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	h := newHarness(t, cfg)
	h.net.EnsureNetworkFunc = func(ctx context.Context, name string, labels map[string]string) error {
		return errors.New("network create denied")
	}

	_, err := h.orch.Initialize(context.Background(), UseExisting)
	var sie *ServiceInitError
	require.True(t, errors.As(err, &sie))
	assert.Equal(t, "network", sie.Service)
	assert.Equal(t, "zephyr_dev_network", sie.Container)
	assert.False(t, h.rec.has("up:"))
}

func TestInitialize_ReportsStatesToSink(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.orch.Initialize(context.Background(), UseExisting)
	require.NoError(t, err)

	want := []string{
		"idle",
		"network-ready",
		"PostgreSQL:starting",
		"PostgreSQL:init-running",
		"PostgreSQL:init-running",
		"PostgreSQL:probing",
		"PostgreSQL:ready",
		"Redis:starting",
		"Redis:probing",
		"Redis:ready",
		"MinIO:starting",
		"MinIO:init-running",
		"MinIO:probing",
		"MinIO:ready",
		"verified",
	}
	assert.Equal(t, want, h.sink.getStates())
}

func TestInitialize_StreamsContainerLogs(t *testing.T) {
	cfg := testConfig()
	cfg.StreamLogs = true
	h := newHarness(t, cfg)
	h.rt.FollowLogsFunc = func(ctx context.Context, container string, sink func(line string)) error {
		sink("hello from " + container)
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := h.orch.Initialize(context.Background(), UseExisting)
	require.NoError(t, err)

	lines := h.sink.getLines()
	assert.Contains(t, lines, "zephyr-postgres-dev|hello from zephyr-postgres-dev")
	assert.Contains(t, lines, "zephyr-minio-init|hello from zephyr-minio-init")
}

func TestInitialize_RecordsRunMetrics(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.orch.Initialize(context.Background(), Fresh)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.attempts.WithLabelValues("fresh", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.probeOutcomes.WithLabelValues("Redis", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.healthy))
	assert.Equal(t, 3, testutil.CollectAndCount(h.metrics.serviceInit))
}

func TestInitialize_RespectsCancelledContextBetweenAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMinDelay = time.Second
	cfg.RetryMaxDelay = time.Second
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.prober.WaitUntilFunc = func(c context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
		cancel()
		return &probe.ProbeTimeout{Container: container, Condition: cond}
	}

	start := time.Now()
	result, err := h.orch.Initialize(ctx, UseExisting)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, StateFailed, result.State)
}
