// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
)

// CLIConfig configures CLIRuntime.
type CLIConfig struct {
	// Binary is the docker executable. Default: "docker".
	Binary string

	// Timeout bounds each CLI call. Zero uses the runner default.
	Timeout time.Duration

	// Logger receives debug output. Default: slog.Default().
	Logger *slog.Logger
}

// CLIRuntime implements Runtime by invoking the docker CLI.
//
// # Description
//
// Every call is a single silent runner invocation with an argument vector.
// Engine error text is classified once here ("No such object", "already
// exists") so the rest of the program works with ErrNotFound and
// ErrAlreadyExists.
type CLIRuntime struct {
	runner  process.Runner
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCLIRuntime creates a CLIRuntime over runner.
func NewCLIRuntime(runner process.Runner, cfg CLIConfig) *CLIRuntime {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLIRuntime{
		runner:  runner,
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (r *CLIRuntime) run(ctx context.Context, args ...string) (*process.Result, error) {
	r.logger.Debug("[Runtime] docker", "args", strings.Join(args, " "))
	return r.runner.Run(ctx, r.binary, args, process.RunOptions{Silent: true, Timeout: r.timeout})
}

// Ping runs "docker info" and maps a down daemon to ErrDaemonUnreachable.
func (r *CLIRuntime) Ping(ctx context.Context) error {
	_, err := r.run(ctx, "info", "--format", "{{.ServerVersion}}")
	if err == nil {
		return nil
	}
	if isDaemonDown(process.ExtractStderr(err)) {
		return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
	}
	return err
}

// inspectState mirrors the part of "docker container inspect" we read.
type inspectState struct {
	Name  string `json:"Name"`
	State struct {
		Status   string `json:"Status"`
		Running  bool   `json:"Running"`
		ExitCode int    `json:"ExitCode"`
		Health   *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
}

// Inspect runs "docker container inspect" and decodes the state.
func (r *CLIRuntime) Inspect(ctx context.Context, container string) (ContainerObservation, error) {
	res, err := r.run(ctx, "container", "inspect", container)
	if err != nil {
		stderr := process.ExtractStderr(err)
		if isNoSuchObject(stderr) {
			return ContainerObservation{Name: container}, nil
		}
		if isDaemonDown(stderr) {
			return ContainerObservation{Name: container}, fmt.Errorf("inspect %s: %w: %w", container, ErrDaemonUnreachable, err)
		}
		return ContainerObservation{Name: container}, fmt.Errorf("inspect %s: %w", container, err)
	}
	return parseInspect(container, res.Stdout)
}

func parseInspect(container, stdout string) (ContainerObservation, error) {
	var states []inspectState
	if err := json.Unmarshal([]byte(stdout), &states); err != nil {
		return ContainerObservation{Name: container}, fmt.Errorf("decode inspect output for %s: %w", container, err)
	}
	if len(states) == 0 {
		return ContainerObservation{Name: container}, nil
	}

	st := states[0].State
	obs := ContainerObservation{
		Name:     container,
		Exists:   true,
		Running:  st.Running,
		Status:   st.Status,
		ExitCode: st.ExitCode,
	}
	if st.Health != nil {
		obs.HealthStatus = st.Health.Status
		obs.Healthy = st.Health.Status == HealthHealthy
	}
	return obs, nil
}

// networkLine mirrors one "docker network ls --format {{json .}}" line.
type networkLine struct {
	ID     string `json:"ID"`
	Name   string `json:"Name"`
	Driver string `json:"Driver"`
	Labels string `json:"Labels"`
}

// ListNetworks runs "docker network ls".
func (r *CLIRuntime) ListNetworks(ctx context.Context) ([]NetworkInfo, error) {
	res, err := r.run(ctx, "network", "ls", "--no-trunc", "--format", "{{json .}}")
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}

	var networks []NetworkInfo
	for _, line := range splitLines(res.Stdout) {
		var nl networkLine
		if err := json.Unmarshal([]byte(line), &nl); err != nil {
			return nil, fmt.Errorf("decode network list: %w", err)
		}
		networks = append(networks, NetworkInfo{
			ID:     nl.ID,
			Name:   nl.Name,
			Driver: nl.Driver,
			Labels: parseLabelString(nl.Labels),
		})
	}
	return networks, nil
}

// CreateNetwork runs "docker network create".
func (r *CLIRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	args := append([]string{"network", "create", "--driver", "bridge"}, labelArgs(labels)...)
	args = append(args, name)

	if _, err := r.run(ctx, args...); err != nil {
		if strings.Contains(strings.ToLower(process.ExtractStderr(err)), "already exists") {
			return fmt.Errorf("network %s: %w", name, ErrAlreadyExists)
		}
		return fmt.Errorf("create network %s: %w", name, err)
	}
	return nil
}

// RemoveNetwork runs "docker network rm".
func (r *CLIRuntime) RemoveNetwork(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "network", "rm", name); err != nil {
		stderr := process.ExtractStderr(err)
		if isNoSuchObject(stderr) || strings.Contains(strings.ToLower(stderr), "not found") {
			return nil
		}
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

// RunningContainersOnNetwork runs "docker ps --filter network=...".
func (r *CLIRuntime) RunningContainersOnNetwork(ctx context.Context, network string) ([]string, error) {
	res, err := r.run(ctx, "ps", "--filter", "network="+network, "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("list containers on %s: %w", network, err)
	}
	return splitLines(res.Stdout), nil
}

// RemoveContainer runs "docker rm -f".
func (r *CLIRuntime) RemoveContainer(ctx context.Context, container string) error {
	if _, err := r.run(ctx, "rm", "-f", container); err != nil {
		if isNoSuchObject(process.ExtractStderr(err)) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", container, err)
	}
	return nil
}

// RemoveVolume runs "docker volume rm".
func (r *CLIRuntime) RemoveVolume(ctx context.Context, volume string) error {
	if _, err := r.run(ctx, "volume", "rm", volume); err != nil {
		if isNoSuchObject(process.ExtractStderr(err)) {
			return nil
		}
		return fmt.Errorf("remove volume %s: %w", volume, err)
	}
	return nil
}

// Logs runs "docker logs --tail N". Both streams are returned, stdout first.
func (r *CLIRuntime) Logs(ctx context.Context, container string, tail int) ([]string, error) {
	res, err := r.run(ctx, "logs", "--tail", strconv.Itoa(tail), container)
	if err != nil {
		if isNoSuchObject(process.ExtractStderr(err)) {
			return nil, fmt.Errorf("logs %s: %w", container, ErrNotFound)
		}
		return nil, fmt.Errorf("logs %s: %w", container, err)
	}
	return append(splitLines(res.Stdout), splitLines(res.Stderr)...), nil
}

// FollowLogs runs "docker logs -f --tail 0" until ctx is done.
func (r *CLIRuntime) FollowLogs(ctx context.Context, container string, sink func(line string)) error {
	return r.runner.Stream(ctx, r.binary, []string{"logs", "-f", "--tail", "0", container},
		func(_ process.Stream, line string) { sink(line) })
}

// Close is a no-op for the CLI driver.
func (r *CLIRuntime) Close() error {
	return nil
}

func isNoSuchObject(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such object") ||
		strings.Contains(s, "no such container") ||
		strings.Contains(s, "no such volume") ||
		strings.Contains(s, "no such network")
}

func isDaemonDown(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "cannot connect to the docker daemon") ||
		strings.Contains(s, "is the docker daemon running")
}

var _ Runtime = (*CLIRuntime)(nil)
