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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records orchestration outcomes in a private registry. The CLI
// writes it to a node-exporter textfile after each run.
type Metrics struct {
	Registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	serviceInit    *prometheus.HistogramVec
	probeOutcomes  *prometheus.CounterVec
	healthy        prometheus.Gauge
	lastRunSeconds prometheus.Gauge
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zephyr",
			Subsystem: "orchestrator",
			Name:      "initialize_attempts_total",
			Help:      "Whole-operation bring-up attempts by outcome.",
		}, []string{"mode", "outcome"}),
		serviceInit: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zephyr",
			Subsystem: "orchestrator",
			Name:      "service_init_duration_seconds",
			Help:      "Time from container start to readiness per service.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"service"}),
		probeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zephyr",
			Subsystem: "probe",
			Name:      "outcomes_total",
			Help:      "Readiness outcomes by service and result.",
		}, []string{"service", "outcome"}),
		healthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyr",
			Subsystem: "orchestrator",
			Name:      "healthy",
			Help:      "1 when the last health check passed.",
		}),
		lastRunSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "zephyr",
			Subsystem: "orchestrator",
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last Initialize call.",
		}),
	}
}

// WriteTextfile writes the registry in text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// The methods below accept a nil receiver so metrics stay optional.

func (m *Metrics) attempt(mode OperationMode, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(mode.String(), outcome).Inc()
}

func (m *Metrics) serviceReady(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.serviceInit.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) probe(service, outcome string) {
	if m == nil {
		return
	}
	m.probeOutcomes.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) health(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
}

func (m *Metrics) run(d time.Duration) {
	if m == nil {
		return
	}
	m.lastRunSeconds.Set(d.Seconds())
}
