// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
)

// sequence returns a MockRuntime whose Inspect walks through obs, repeating
// the last entry forever.
func sequence(obs ...runtime.ContainerObservation) (*runtime.MockRuntime, *int) {
	var mu sync.Mutex
	n := 0
	rt := &runtime.MockRuntime{
		InspectFunc: func(ctx context.Context, container string) (runtime.ContainerObservation, error) {
			mu.Lock()
			defer mu.Unlock()
			i := n
			if i >= len(obs) {
				i = len(obs) - 1
			}
			n++
			o := obs[i]
			o.Name = container
			return o, nil
		},
	}
	return rt, &n
}

func fast(timeout time.Duration) WaitOptions {
	return WaitOptions{Timeout: timeout, PollInterval: 5 * time.Millisecond, MaxPollInterval: 10 * time.Millisecond}
}

var (
	starting = runtime.ContainerObservation{Exists: true, Running: true, Status: "running", HealthStatus: runtime.HealthStarting}
	healthy  = runtime.ContainerObservation{Exists: true, Running: true, Healthy: true, Status: "running", HealthStatus: runtime.HealthHealthy}
	running  = runtime.ContainerObservation{Exists: true, Running: true, Status: "running"}
	exited0  = runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 0}
	exited1  = runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 1}
	missing  = runtime.ContainerObservation{}
)

func TestWaitUntil_HealthyViaHealthcheck(t *testing.T) {
	rt, n := sequence(starting, starting, healthy)
	p := NewProber(rt, nil)

	require.NoError(t, p.WaitUntil(context.Background(), "zephyr-postgres-dev", Healthy, fast(time.Second)))
	assert.Equal(t, 3, *n)
}

func TestWaitUntil_HealthyUsesCheckWithoutHealthcheck(t *testing.T) {
	rt, _ := sequence(running)
	p := NewProber(rt, nil)

	checks := 0
	opts := fast(time.Second)
	opts.Check = func(ctx context.Context) error {
		checks++
		if checks < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	require.NoError(t, p.WaitUntil(context.Background(), "zephyr-minio-dev", Healthy, opts))
	assert.Equal(t, 3, checks)
}

func TestWaitUntil_HealthyIgnoresCheckWhenHealthcheckExists(t *testing.T) {
	rt, _ := sequence(healthy)
	p := NewProber(rt, nil)

	opts := fast(time.Second)
	opts.Check = func(ctx context.Context) error { return errors.New("never called") }

	assert.NoError(t, p.WaitUntil(context.Background(), "zephyr-redis-dev", Healthy, opts))
}

func TestWaitUntil_HealthyFailsWhenContainerExits(t *testing.T) {
	rt, n := sequence(starting, exited1)
	p := NewProber(rt, nil)

	err := p.WaitUntil(context.Background(), "zephyr-postgres-dev", Healthy, fast(time.Second))
	var pf *ProbeFailed
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, "zephyr-postgres-dev", pf.Container)
	assert.Equal(t, 1, pf.ExitCode)
	assert.Equal(t, 2, *n)
}

func TestWaitUntil_ExitedZero(t *testing.T) {
	rt, _ := sequence(missing, running, exited0)
	p := NewProber(rt, nil)

	assert.NoError(t, p.WaitUntil(context.Background(), "zephyr-prisma-migrate", ExitedZero, fast(time.Second)))
}

func TestWaitUntil_ExitedNonZeroFailsImmediately(t *testing.T) {
	rt, n := sequence(exited1)
	p := NewProber(rt, nil)

	err := p.WaitUntil(context.Background(), "zephyr-minio-init", ExitedZero, fast(time.Second))
	var pf *ProbeFailed
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, 1, pf.ExitCode)
	assert.Equal(t, "exited", pf.Status)
	assert.Equal(t, 1, *n)
}

func TestWaitUntil_TimeoutBound(t *testing.T) {
	rt, _ := sequence(starting)
	p := NewProber(rt, nil)

	timeout := 100 * time.Millisecond
	opts := WaitOptions{Timeout: timeout, PollInterval: 20 * time.Millisecond, MaxPollInterval: 40 * time.Millisecond}

	start := time.Now()
	err := p.WaitUntil(context.Background(), "zephyr-postgres-dev", Healthy, opts)
	elapsed := time.Since(start)

	var pt *ProbeTimeout
	require.True(t, errors.As(err, &pt))
	assert.Equal(t, Healthy, pt.Condition)
	assert.Equal(t, "running/starting", pt.LastStatus)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+opts.MaxPollInterval+200*time.Millisecond)
}

func TestWaitUntil_TimeoutCarriesCheckError(t *testing.T) {
	rt, _ := sequence(running)
	p := NewProber(rt, nil)

	refused := errors.New("connection refused")
	opts := fast(50 * time.Millisecond)
	opts.Check = func(ctx context.Context) error { return refused }

	err := p.WaitUntil(context.Background(), "zephyr-minio-dev", Healthy, opts)
	var pt *ProbeTimeout
	require.True(t, errors.As(err, &pt))
	assert.ErrorIs(t, err, refused)
}

// blockUntilDone stands in for a docker call that hangs until its context ends.
func blockUntilDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return nil
	}
}

func TestWaitUntil_SlowInspectBoundedByTimeout(t *testing.T) {
	rt := &runtime.MockRuntime{
		InspectFunc: func(ctx context.Context, container string) (runtime.ContainerObservation, error) {
			if err := blockUntilDone(ctx); err != nil {
				return runtime.ContainerObservation{}, err
			}
			return healthy, nil
		},
	}
	p := NewProber(rt, nil)

	opts := WaitOptions{Timeout: 200 * time.Millisecond, PollInterval: 50 * time.Millisecond}
	start := time.Now()
	err := p.WaitUntil(context.Background(), "zephyr-postgres-dev", Healthy, opts)
	elapsed := time.Since(start)

	var pt *ProbeTimeout
	require.True(t, errors.As(err, &pt), "got %v", err)
	assert.LessOrEqual(t, elapsed, opts.Timeout+opts.PollInterval+100*time.Millisecond)
}

func TestWaitUntil_SlowCheckBoundedByTimeout(t *testing.T) {
	rt, _ := sequence(running)
	p := NewProber(rt, nil)

	opts := WaitOptions{Timeout: 200 * time.Millisecond, PollInterval: 50 * time.Millisecond}
	opts.Check = blockUntilDone

	start := time.Now()
	err := p.WaitUntil(context.Background(), "zephyr-minio-dev", Healthy, opts)
	elapsed := time.Since(start)

	var pt *ProbeTimeout
	require.True(t, errors.As(err, &pt), "got %v", err)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, elapsed, opts.Timeout+opts.PollInterval+100*time.Millisecond)
}

func TestWaitUntil_PermanentInspectErrorReturnsAtOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"daemon down", fmt.Errorf("inspect zephyr-redis-dev: %w", runtime.ErrDaemonUnreachable)},
		{"docker missing", &process.ProcessError{Command: "docker container inspect", ExitCode: 127, NotFound: true, Err: errors.New("executable file not found")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			rt := &runtime.MockRuntime{
				InspectFunc: func(ctx context.Context, container string) (runtime.ContainerObservation, error) {
					calls++
					return runtime.ContainerObservation{}, tt.err
				},
			}
			p := NewProber(rt, nil)

			err := p.WaitUntil(context.Background(), "zephyr-redis-dev", Healthy, fast(time.Second))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestWaitUntil_MissingNeverAppears(t *testing.T) {
	rt, _ := sequence(missing)
	p := NewProber(rt, nil)

	err := p.WaitUntil(context.Background(), "zephyr-minio-init", ExitedZero, fast(30*time.Millisecond))
	var pt *ProbeTimeout
	require.True(t, errors.As(err, &pt))
	assert.Equal(t, "missing", pt.LastStatus)
}

func TestWaitUntil_InspectErrorsAreRetried(t *testing.T) {
	calls := 0
	rt := &runtime.MockRuntime{
		InspectFunc: func(ctx context.Context, container string) (runtime.ContainerObservation, error) {
			calls++
			if calls == 1 {
				return runtime.ContainerObservation{}, errors.New("daemon busy")
			}
			return healthy, nil
		},
	}
	p := NewProber(rt, nil)

	assert.NoError(t, p.WaitUntil(context.Background(), "zephyr-redis-dev", Healthy, fast(time.Second)))
	assert.Equal(t, 2, calls)
}

func TestWaitUntil_ContextCancelled(t *testing.T) {
	rt, _ := sequence(starting)
	p := NewProber(rt, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.WaitUntil(ctx, "zephyr-postgres-dev", Healthy, fast(10*time.Second))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitOptions_Defaults(t *testing.T) {
	o := WaitOptions{}.withDefaults()
	assert.Greater(t, o.Timeout, time.Duration(0))
	assert.Greater(t, o.PollInterval, time.Duration(0))
	assert.GreaterOrEqual(t, o.MaxPollInterval, o.PollInterval)

	o = WaitOptions{PollInterval: time.Second, MaxPollInterval: time.Millisecond}.withDefaults()
	assert.Equal(t, time.Second, o.MaxPollInterval)
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := jitter(time.Second)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestMockProber(t *testing.T) {
	m := &MockProber{}
	require.NoError(t, m.WaitUntil(context.Background(), "c", ExitedZero, WaitOptions{}))
	calls := m.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, ExitedZero, calls[0].Condition)
}
