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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// APIRuntime implements Runtime with the Docker Engine API client.
//
// # Description
//
// APIRuntime avoids one process spawn per inspection, which matters during
// readiness polling. Engine errors are classified with errdefs rather than
// by matching message text.
type APIRuntime struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewAPIRuntime connects using the standard DOCKER_HOST/DOCKER_* environment
// with API version negotiation.
func NewAPIRuntime(logger *slog.Logger, opts ...client.Opt) (*APIRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts) == 0 {
		opts = []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &APIRuntime{cli: cli, logger: logger}, nil
}

// Ping checks the engine is reachable.
func (r *APIRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		if client.IsErrConnectionFailed(err) {
			return fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
		}
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// Inspect reads container state through ContainerInspect.
func (r *APIRuntime) Inspect(ctx context.Context, name string) (ContainerObservation, error) {
	resp, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerObservation{Name: name}, nil
		}
		if client.IsErrConnectionFailed(err) {
			return ContainerObservation{Name: name}, fmt.Errorf("inspect %s: %w: %w", name, ErrDaemonUnreachable, err)
		}
		return ContainerObservation{Name: name}, fmt.Errorf("inspect %s: %w", name, err)
	}

	obs := ContainerObservation{Name: name, Exists: true}
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return obs, nil
	}
	st := resp.State
	obs.Running = st.Running
	obs.Status = string(st.Status)
	obs.ExitCode = st.ExitCode
	if st.Health != nil {
		obs.HealthStatus = string(st.Health.Status)
		obs.Healthy = obs.HealthStatus == HealthHealthy
	}
	return obs, nil
}

// ListNetworks lists all networks.
func (r *APIRuntime) ListNetworks(ctx context.Context) ([]NetworkInfo, error) {
	list, err := r.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	out := make([]NetworkInfo, 0, len(list))
	for _, n := range list {
		labels := make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			labels[k] = v
		}
		out = append(out, NetworkInfo{ID: n.ID, Name: n.Name, Driver: n.Driver, Labels: labels})
	}
	return out, nil
}

// CreateNetwork creates a labelled bridge network.
func (r *APIRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		if errdefs.IsConflict(err) || strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("network %s: %w", name, ErrAlreadyExists)
		}
		return fmt.Errorf("create network %s: %w", name, err)
	}
	r.logger.Info("[Runtime] network created", "network", name)
	return nil
}

// RemoveNetwork removes a network by name.
func (r *APIRuntime) RemoveNetwork(ctx context.Context, name string) error {
	if err := r.cli.NetworkRemove(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

// RunningContainersOnNetwork lists running containers attached to network.
func (r *APIRuntime) RunningContainersOnNetwork(ctx context.Context, net string) ([]string, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("network", net)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers on %s: %w", net, err)
	}
	var names []string
	for _, c := range list {
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
	}
	return names, nil
}

// RemoveContainer force-removes a container, keeping its named volumes.
func (r *APIRuntime) RemoveContainer(ctx context.Context, name string) error {
	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// RemoveVolume removes a named volume.
func (r *APIRuntime) RemoveVolume(ctx context.Context, volume string) error {
	if err := r.cli.VolumeRemove(ctx, volume, true); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove volume %s: %w", volume, err)
	}
	return nil
}

// Logs returns the last tail lines of stdout and stderr.
func (r *APIRuntime) Logs(ctx context.Context, name string, tail int) ([]string, error) {
	rc, err := r.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("logs %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("logs %s: %w", name, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, fmt.Errorf("read logs %s: %w", name, err)
	}
	return append(splitLines(stdout.String()), splitLines(stderr.String())...), nil
}

// FollowLogs streams new log lines until ctx is done.
func (r *APIRuntime) FollowLogs(ctx context.Context, name string, sink func(line string)) error {
	rc, err := r.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("follow logs %s: %w", name, err)
	}
	defer rc.Close()

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(copyErr)
	}()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		sink(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("follow logs %s: %w", name, err)
	}
	return nil
}

// Close closes the API client.
func (r *APIRuntime) Close() error {
	return r.cli.Close()
}

var _ Runtime = (*APIRuntime)(nil)
