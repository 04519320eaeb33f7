// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package network provisions the shared development network.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
)

// NetworkError reports a provisioning failure other than a benign
// "already exists" race.
type NetworkError struct {
	// Network is the network name.
	Network string

	// Op is the failing step: "list", "create", "remove", "inspect".
	Op string

	// Err is the runtime error.
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s: %s failed: %v", e.Network, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Provisioner ensures a named network exists with the expected labels.
type Provisioner interface {
	EnsureNetwork(ctx context.Context, name string, labels map[string]string) error
}

// RuntimeProvisioner implements Provisioner over a runtime.Runtime.
type RuntimeProvisioner struct {
	rt     runtime.Runtime
	logger *slog.Logger
	mu     sync.Mutex
}

// NewProvisioner creates a RuntimeProvisioner.
func NewProvisioner(rt runtime.Runtime, logger *slog.Logger) *RuntimeProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeProvisioner{rt: rt, logger: logger}
}

// EnsureNetwork makes sure network name exists, idempotently.
//
// # Description
//
//  1. List networks; if name is absent, create it with labels.
//  2. If present with matching labels, do nothing.
//  3. If present with different labels, recreate it, unless a running
//     container is attached, in which case log a warning and keep it.
//
// A create that loses a race with another creator ("already exists") is
// success.
//
// # Outputs
//
//   - error: *NetworkError for unexpected runtime failures
func (p *RuntimeProvisioner) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	networks, err := p.rt.ListNetworks(ctx)
	if err != nil {
		return &NetworkError{Network: name, Op: "list", Err: err}
	}

	var existing *runtime.NetworkInfo
	for i := range networks {
		if networks[i].Name == name {
			existing = &networks[i]
			break
		}
	}

	if existing == nil {
		return p.create(ctx, name, labels)
	}

	if existing.LabelsMatch(labels) {
		p.logger.Debug("[Network] network already exists", "network", name)
		return nil
	}

	attached, err := p.rt.RunningContainersOnNetwork(ctx, name)
	if err != nil {
		return &NetworkError{Network: name, Op: "inspect", Err: err}
	}
	if len(attached) > 0 {
		p.logger.Warn("[Network] labels differ but network is in use, keeping it",
			"network", name,
			"containers", attached,
		)
		return nil
	}

	p.logger.Info("[Network] labels differ, recreating network", "network", name)
	if err := p.rt.RemoveNetwork(ctx, name); err != nil {
		return &NetworkError{Network: name, Op: "remove", Err: err}
	}
	return p.create(ctx, name, labels)
}

func (p *RuntimeProvisioner) create(ctx context.Context, name string, labels map[string]string) error {
	if err := p.rt.CreateNetwork(ctx, name, labels); err != nil {
		if errors.Is(err, runtime.ErrAlreadyExists) {
			p.logger.Debug("[Network] network created concurrently", "network", name)
			return nil
		}
		return &NetworkError{Network: name, Op: "create", Err: err}
	}
	p.logger.Info("[Network] network created", "network", name)
	return nil
}

// MockProvisioner implements Provisioner for testing.
type MockProvisioner struct {
	EnsureNetworkFunc func(ctx context.Context, name string, labels map[string]string) error
	Calls             []string
	mu                sync.Mutex
}

func (m *MockProvisioner) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, name)
	m.mu.Unlock()
	if m.EnsureNetworkFunc != nil {
		return m.EnsureNetworkFunc(ctx, name, labels)
	}
	return nil
}

var (
	_ Provisioner = (*RuntimeProvisioner)(nil)
	_ Provisioner = (*MockProvisioner)(nil)
)
