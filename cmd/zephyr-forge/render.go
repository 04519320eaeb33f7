// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/orchestrator"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
	"github.com/parazeeknova/zephyr-forge/pkg/ux"
)

// Ports of the application processes started by "pnpm dev".
const (
	webPort = 3000
	apiPort = 3456
)

// =============================================================================
// Status
// =============================================================================

var statusHeaders = []string{"SERVICE", "CONTAINER", "STATE", "INIT", "READY"}

// statusRows builds one table row per service in registry order.
func statusRows(result *orchestrator.OrchestrationResult) [][]string {
	rows := make([][]string, 0, len(result.Order))
	for _, sr := range result.Services() {
		rows = append(rows, []string{
			sr.Service,
			sr.Observation.Name,
			containerCell(sr),
			initCell(sr),
			readyCell(sr),
		})
	}
	return rows
}

func containerCell(sr orchestrator.ServiceResult) string {
	if sr.Err != nil && sr.Container == "" {
		return ux.StatusCell(ux.IconError, "unknown")
	}
	switch sr.Container {
	case orchestrator.ContainerRunning:
		return ux.StatusCell(ux.IconRunning, "running")
	case orchestrator.ContainerStopped:
		label := "stopped"
		if sr.Observation.Status != "" {
			label = sr.Observation.Status
		}
		return ux.StatusCell(ux.IconWarning, label)
	default:
		return ux.StatusCell(ux.IconPending, "missing")
	}
}

func initCell(sr orchestrator.ServiceResult) string {
	switch {
	case !sr.HasInitJob:
		return "-"
	case sr.InitCompleted:
		return ux.StatusCell(ux.IconSuccess, "done")
	case sr.InitObservation == nil || !sr.InitObservation.Exists:
		return ux.StatusCell(ux.IconPending, "pending")
	case sr.InitObservation.Running:
		return ux.StatusCell(ux.IconRunning, "running")
	default:
		return ux.StatusCell(ux.IconError, "exit "+strconv.Itoa(sr.InitObservation.ExitCode))
	}
}

func readyCell(sr orchestrator.ServiceResult) string {
	if sr.Ready() {
		return ux.StatusCell(ux.IconSuccess, "yes")
	}
	return ux.StatusCell(ux.IconError, "no")
}

// renderStatus prints the status table, its issues and what to do next.
func renderStatus(result *orchestrator.OrchestrationResult) {
	ux.Title("Zephyr services")
	ux.Table(statusHeaders, statusRows(result))
	for _, issue := range result.Issues {
		ux.Warning(issue)
	}
	if !result.NeedsInit {
		ux.Success("All services are running and initialized")
		return
	}

	var parts []string
	if len(result.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(result.Missing, ", "))
	}
	if len(result.Stopped) > 0 {
		parts = append(parts, "stopped: "+strings.Join(result.Stopped, ", "))
	}
	if len(result.InitRequired) > 0 {
		parts = append(parts, "not initialized: "+strings.Join(result.InitRequired, ", "))
	}
	ux.Warning("Services need initialization (" + strings.Join(parts, "; ") + ")")
	ux.Tip("Run 'zephyr-forge init' or 'zephyr-forge dev' to bring them up")
}

// =============================================================================
// Health
// =============================================================================

var healthHeaders = []string{"SERVICE", "HEALTH", "CHECK", "URL"}

func healthRows(report *orchestrator.HealthReport) [][]string {
	rows := make([][]string, 0, len(report.Services))
	for _, s := range report.Services {
		health := ux.StatusCell(ux.IconSuccess, "healthy")
		if !s.Healthy {
			health = ux.StatusCell(ux.IconError, ux.Truncate(s.Error, 48))
		}
		rows = append(rows, []string{s.Service, health, s.Check, s.URL})
	}
	return rows
}

// renderHealth prints the health table and returns an error when any
// service is unhealthy.
func renderHealth(report *orchestrator.HealthReport) error {
	ux.Title("Zephyr health")
	ux.Table(healthHeaders, healthRows(report))
	if report.Healthy {
		ux.Success("All services are healthy")
		return nil
	}
	for _, issue := range report.Issues {
		ux.Warning(issue)
	}
	if first, ok := report.FirstFailing(); ok {
		return silent(first.Service + " is unhealthy")
	}
	return silent("services are unhealthy")
}

// =============================================================================
// Failures
// =============================================================================

// renderInitError prints a ServiceInitError with its recent logs. Other
// errors are left to main.
func renderInitError(err error) error {
	var initErr *orchestrator.ServiceInitError
	if !errors.As(err, &initErr) {
		return err
	}

	var b strings.Builder
	b.WriteString(initErr.Error())
	for _, issue := range initErr.Issues {
		fmt.Fprintf(&b, "\n  %s %s", ux.IconBullet, issue)
	}
	if len(initErr.RecentLogs) > 0 {
		lines := make([]string, 0, len(initErr.RecentLogs))
		for _, line := range initErr.RecentLogs {
			lines = append(lines, ux.Truncate(line, maxLogLineWidth))
		}
		fmt.Fprintf(&b, "\n\nLast %d log lines of %s:\n%s", len(lines), initErr.Container, ux.Indent(strings.Join(lines, "\n"), 2))
	}
	ux.ErrorBox("Initialization failed", b.String())
	ux.Tip("Try 'zephyr-forge init --mode fresh' to start from clean volumes")
	return silent(initErr.Error())
}

// =============================================================================
// URLs
// =============================================================================

// endpoint is one line of the "ready" summary.
type endpoint struct {
	Name string
	URL  string
}

// endpoints lists the application and service addresses.
func endpoints(cfg registry.Config, reg *registry.Registry) []endpoint {
	host := cfg.Host
	out := []endpoint{
		{"Web", "http://" + net.JoinHostPort(host, strconv.Itoa(webPort))},
		{"API", "http://" + net.JoinHostPort(host, strconv.Itoa(apiPort))},
	}
	for _, svc := range reg.Ordered() {
		out = append(out, endpoint{svc.Name, svc.URL})
	}
	out = append(out, endpoint{"MinIO Console", "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.MinIO.ConsolePort))})
	return out
}

func printURLs(cfg registry.Config, reg *registry.Registry) {
	var lines []string
	for _, e := range endpoints(cfg, reg) {
		lines = append(lines, fmt.Sprintf("%-14s %s", e.Name, e.URL))
	}
	ux.Box("Zephyr is ready", strings.Join(lines, "\n"))
}
