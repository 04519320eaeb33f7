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
	"fmt"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want OperationMode
	}{
		{"fresh", Fresh},
		{"existing", UseExisting},
		{"use-existing", UseExisting},
		{"reinit", Reinitialize},
		{" Reinitialize ", Reinitialize},
		{"MANUAL", Manual},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseMode("nuke")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestModes_RoundTripThroughParse(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
		assert.NotEmpty(t, m.Description())
	}
}

func TestServiceInitError_Error(t *testing.T) {
	cause := &probe.ProbeTimeout{Container: "zephyr-postgres-dev", Condition: probe.Healthy}

	tests := []struct {
		name string
		err  *ServiceInitError
		want string
	}{
		{
			name: "single attempt",
			err:  &ServiceInitError{Service: "Redis", Container: "zephyr-redis-dev", Attempts: 1, Err: errors.New("boom")},
			want: "Redis (zephyr-redis-dev) failed to initialize: boom",
		},
		{
			name: "retried",
			err:  &ServiceInitError{Service: "PostgreSQL", Container: "zephyr-postgres-dev", Attempts: 3, Err: cause},
			want: "PostgreSQL (zephyr-postgres-dev) failed to initialize after 3 attempts: " + cause.Error(),
		},
		{
			name: "issues only",
			err:  &ServiceInitError{Service: "MinIO", Issues: []string{"MinIO: refused", "Redis: refused"}},
			want: "MinIO failed to initialize: MinIO: refused; Redis: refused",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestIsPermanent(t *testing.T) {
	notFound := &process.ProcessError{Command: "docker", NotFound: true, Err: exec.ErrNotFound}

	assert.True(t, isPermanent(notFound))
	assert.True(t, isPermanent(&ServiceInitError{Service: "Redis", Err: notFound}))
	assert.True(t, isPermanent(fmt.Errorf("ping: %w", runtime.ErrDaemonUnreachable)))
	assert.True(t, isPermanent(compose.ErrComposeFileNotFound))
	assert.False(t, isPermanent(&probe.ProbeTimeout{Container: "zephyr-redis-dev"}))
	assert.False(t, isPermanent(&process.ProcessError{Command: "docker", ExitCode: 1}))
}

func TestServiceResult_Ready(t *testing.T) {
	assert.True(t, ServiceResult{Container: ContainerRunning}.Ready())
	assert.False(t, ServiceResult{Container: ContainerRunning, HasInitJob: true}.Ready())
	assert.True(t, ServiceResult{Container: ContainerRunning, HasInitJob: true, InitCompleted: true}.Ready())
	assert.False(t, ServiceResult{Container: ContainerStopped}.Ready())
}

func TestLogStreamer_BuffersAndForgets(t *testing.T) {
	sink := &recordingSink{}
	rt := &runtime.MockRuntime{
		FollowLogsFunc: func(ctx context.Context, container string, emit func(line string)) error {
			for i := 1; i <= 5; i++ {
				emit(fmt.Sprintf("line %d", i))
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}

	s := newLogStreamer(context.Background(), rt, sink, 3, false, slog.Default())
	s.follow("zephyr-redis-dev")
	s.follow("zephyr-redis-dev")

	assert.Eventually(t, func() bool {
		return len(s.recent("zephyr-redis-dev", 10)) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"line 4", "line 5"}, s.recent("zephyr-redis-dev", 2))
	assert.Nil(t, s.recent("zephyr-minio-dev", 2))

	s.forget("zephyr-redis-dev")
	assert.Nil(t, s.recent("zephyr-redis-dev", 2))

	s.stop()
	assert.Empty(t, sink.getLines())

	var follows int
	for _, c := range rt.GetCalls() {
		if c == "FollowLogs:zephyr-redis-dev" {
			follows++
		}
	}
	assert.Equal(t, 1, follows)
}

func TestLogStreamer_StopsWhenParentIsCancelled(t *testing.T) {
	rt := &runtime.MockRuntime{}
	ctx, cancel := context.WithCancel(context.Background())

	s := newLogStreamer(ctx, rt, NopSink{}, 10, true, slog.Default())
	s.follow("zephyr-postgres-dev")
	cancel()

	// the streamer outlives the parent until stop
	assert.NoError(t, s.ctx.Err())
	s.stop()
	assert.Error(t, s.ctx.Err())
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.attempt(Fresh, "succeeded")
		m.serviceReady("Redis", 0)
		m.probe("Redis", "ready")
		m.health(true)
		m.run(0)
	})
}
