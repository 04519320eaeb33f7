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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/compose"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/network"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// recorder collects calls from every mock in one ordered list.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.get() {
		if c == call {
			n++
		}
	}
	return n
}

func (r *recorder) has(prefix string) bool {
	for _, c := range r.get() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// recordingSink captures everything reported to the Sink.
type recordingSink struct {
	mu       sync.Mutex
	states   []string
	warnings []string
	lines    []string
}

func (s *recordingSink) StateChanged(service string, state State, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if service == "" {
		s.states = append(s.states, string(state))
		return
	}
	s.states = append(s.states, service+":"+string(state))
}

func (s *recordingSink) LogLine(source, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, source+"|"+line)
}

func (s *recordingSink) Warning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

func (s *recordingSink) getWarnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *recordingSink) getStates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.states...)
}

func (s *recordingSink) getLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// harness wires a DefaultOrchestrator to mocks that model a healthy engine.
type harness struct {
	rec     *recorder
	sink    *recordingSink
	rt      *runtime.MockRuntime
	compose *compose.MockExecutor
	net     *network.MockProvisioner
	prober  *probe.MockProber
	checker *probe.MockChecker
	reg     *registry.Registry
	metrics *Metrics
	orch    *DefaultOrchestrator

	// containers overrides what Inspect reports, by container name.
	mu         sync.Mutex
	containers map[string]runtime.ContainerObservation
}

var (
	obsRunning = runtime.ContainerObservation{Exists: true, Running: true, Status: "running"}
	obsExited0 = runtime.ContainerObservation{Exists: true, Status: "exited", ExitCode: 0}
)

func testConfig() Config {
	return Config{
		MaxAttempts:   3,
		RetryMinDelay: time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		Timeouts: util.TimeoutConfig{
			Ready:   50 * time.Millisecond,
			InitJob: 50 * time.Millisecond,
			Poll:    5 * time.Millisecond,
			MaxPoll: 10 * time.Millisecond,
		},
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		rec:        &recorder{},
		sink:       &recordingSink{},
		reg:        registry.Default(),
		metrics:    NewMetrics(),
		containers: map[string]runtime.ContainerObservation{},
	}

	h.rt = &runtime.MockRuntime{
		InspectFunc: func(ctx context.Context, container string) (runtime.ContainerObservation, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			obs, ok := h.containers[container]
			if !ok {
				if strings.HasSuffix(container, "-init") || strings.HasSuffix(container, "-migrate") {
					obs = obsExited0
				} else {
					obs = obsRunning
				}
			}
			obs.Name = container
			return obs, nil
		},
		RemoveContainerFunc: func(ctx context.Context, container string) error {
			h.rec.add("rm:" + container)
			return nil
		},
		RemoveVolumeFunc: func(ctx context.Context, volume string) error {
			h.rec.add("rmvol:" + volume)
			return nil
		},
		LogsFunc: func(ctx context.Context, container string, tail int) ([]string, error) {
			return []string{container + ": last line"}, nil
		},
	}
	h.compose = &compose.MockExecutor{
		UpFunc: func(ctx context.Context, opts compose.UpOptions) (*compose.Result, error) {
			h.rec.add("up:" + strings.Join(opts.Services, ","))
			return &compose.Result{Success: true}, nil
		},
		DownFunc: func(ctx context.Context, opts compose.DownOptions) (*compose.Result, error) {
			if opts.RemoveVolumes {
				h.rec.add("down -v")
			} else {
				h.rec.add("down")
			}
			return &compose.Result{Success: true}, nil
		},
	}
	h.net = &network.MockProvisioner{
		EnsureNetworkFunc: func(ctx context.Context, name string, labels map[string]string) error {
			h.rec.add("network:" + name)
			return nil
		},
	}
	h.prober = &probe.MockProber{
		WaitUntilFunc: func(ctx context.Context, container string, cond probe.Condition, opts probe.WaitOptions) error {
			h.rec.add("wait:" + container + ":" + cond.String())
			return nil
		},
	}
	h.checker = &probe.MockChecker{}

	orch, err := New(Deps{
		Runtime:  h.rt,
		Compose:  h.compose,
		Network:  h.net,
		Prober:   h.prober,
		Checker:  h.checker,
		Registry: h.reg,
		Sink:     h.sink,
		Metrics:  h.metrics,
	}, cfg)
	require.NoError(t, err)
	orch.newRunID = func() string { return "run-1" }
	h.orch = orch
	return h
}

func (h *harness) setContainer(name string, obs runtime.ContainerObservation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.containers[name] = obs
}
