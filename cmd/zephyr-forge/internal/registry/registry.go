// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the fixed development topology: which services run,
// in what order, how each is checked, and which one-shot job initializes it.
//
// The topology itself is not configurable. Names, ports and credentials
// are, through Config.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/probe"
)

// ErrInvalidConfig is returned by New for unusable overrides.
var ErrInvalidConfig = errors.New("invalid registry configuration")

// Service display names. They double as lookup keys.
const (
	Postgres = "PostgreSQL"
	Redis    = "Redis"
	MinIO    = "MinIO"
)

// InitJob is a one-shot container that must exit 0 after its service starts.
type InitJob struct {
	ContainerName  string
	ComposeService string
}

// ServiceDescriptor describes one managed service. Values are immutable
// once returned by a Registry.
type ServiceDescriptor struct {
	// Name is the human-facing name ("PostgreSQL").
	Name string

	// ContainerName is the engine container name.
	ContainerName string

	// ComposeService is the service key in the compose file.
	ComposeService string

	// Readiness is the one-shot check that proves the service usable.
	Readiness probe.Readiness

	// InitJobs run in order after the service container starts. Each must
	// exit 0 before the next starts. Empty when the service needs no
	// initialization.
	InitJobs []InitJob

	// DependsOnNetwork is true when the service joins the shared network.
	DependsOnNetwork bool

	// URL is the connection string shown to the developer.
	URL string

	// Volume is the named data volume, removed by a fresh initialization.
	Volume string

	// Order is the bring-up position; lower starts first.
	Order int
}

// HasInitJobs reports whether the service declares any init job.
func (d ServiceDescriptor) HasInitJobs() bool {
	return len(d.InitJobs) > 0
}

// Containers returns the service container followed by its init containers.
func (d ServiceDescriptor) Containers() []string {
	out := []string{d.ContainerName}
	for _, job := range d.InitJobs {
		out = append(out, job.ContainerName)
	}
	return out
}

// clone returns a copy sharing no slices with d.
func (d ServiceDescriptor) clone() ServiceDescriptor {
	d.InitJobs = append([]InitJob(nil), d.InitJobs...)
	d.Readiness.Command = append([]string(nil), d.Readiness.Command...)
	return d
}

// Registry is the static service topology.
type Registry struct {
	services []ServiceDescriptor
	byName   map[string]int
	network  string
	labels   map[string]string
}

// New builds the registry from cfg, filling unset fields with defaults.
func New(cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	services := []ServiceDescriptor{
		postgresDescriptor(cfg),
		redisDescriptor(cfg),
		minioDescriptor(cfg),
	}

	r := &Registry{
		services: services,
		byName:   make(map[string]int, len(services)),
		network:  cfg.Network,
		labels:   copyLabels(cfg.Labels),
	}

	seen := map[string]string{}
	for i, svc := range services {
		r.byName[svc.Name] = i
		for _, c := range svc.Containers() {
			if owner, dup := seen[c]; dup {
				return nil, fmt.Errorf("%w: container %q used by %s and %s", ErrInvalidConfig, c, owner, svc.Name)
			}
			seen[c] = svc.Name
		}
	}
	return r, nil
}

// Default returns the registry with all defaults.
func Default() *Registry {
	r, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return r
}

// Services returns a copy of every service in declaration order.
func (r *Registry) Services() []ServiceDescriptor {
	out := make([]ServiceDescriptor, len(r.services))
	for i, svc := range r.services {
		out[i] = svc.clone()
	}
	return out
}

// Ordered returns services in bring-up order: database, cache, object store.
func (r *Registry) Ordered() []ServiceDescriptor {
	out := r.Services()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Lookup finds a service by display name or compose service key.
func (r *Registry) Lookup(name string) (ServiceDescriptor, bool) {
	if i, ok := r.byName[name]; ok {
		return r.services[i].clone(), true
	}
	for _, svc := range r.services {
		if svc.ComposeService == name || svc.ContainerName == name {
			return svc.clone(), true
		}
	}
	return ServiceDescriptor{}, false
}

// Network returns the shared network name.
func (r *Registry) Network() string {
	return r.network
}

// Labels returns a copy of the labels the network must carry.
func (r *Registry) Labels() map[string]string {
	return copyLabels(r.labels)
}

// Volumes returns the data volumes in bring-up order.
func (r *Registry) Volumes() []string {
	var out []string
	for _, svc := range r.Ordered() {
		if svc.Volume != "" {
			out = append(out, svc.Volume)
		}
	}
	return out
}

// Containers returns every service and init container in bring-up order.
func (r *Registry) Containers() []string {
	var out []string
	for _, svc := range r.Ordered() {
		out = append(out, svc.Containers()...)
	}
	return out
}

// =============================================================================
// Descriptors
// =============================================================================

func postgresDescriptor(cfg Config) ServiceDescriptor {
	pg := cfg.Postgres
	readiness := probe.CommandProbe(cfg.DockerBinary, "exec", pg.Container,
		"pg_isready", "-U", pg.User, "-d", pg.Database)
	if cfg.NativeProbes {
		readiness = probe.PostgresProbe(pg.DSN(cfg.Host))
	}
	jobs := []InitJob{
		{ContainerName: pg.InitContainer, ComposeService: pg.InitComposeService},
		{ContainerName: pg.MigrateContainer, ComposeService: pg.MigrateComposeService},
	}
	return ServiceDescriptor{
		Name:             Postgres,
		ContainerName:    pg.Container,
		ComposeService:   pg.ComposeService,
		Readiness:        readiness,
		InitJobs:         jobs,
		DependsOnNetwork: true,
		URL:              hostPort(cfg.Host, pg.Port),
		Volume:           pg.Volume,
		Order:            1,
	}
}

func redisDescriptor(cfg Config) ServiceDescriptor {
	rd := cfg.Redis
	argv := []string{cfg.DockerBinary, "exec", rd.Container, "redis-cli"}
	if rd.Password != "" {
		argv = append(argv, "-a", rd.Password)
	}
	argv = append(argv, "ping")

	readiness := probe.CommandProbe(argv...)
	if cfg.NativeProbes {
		readiness = probe.RedisProbe(hostPort(cfg.Host, rd.Port), rd.Password)
	}
	return ServiceDescriptor{
		Name:             Redis,
		ContainerName:    rd.Container,
		ComposeService:   rd.ComposeService,
		Readiness:        readiness,
		DependsOnNetwork: true,
		URL:              hostPort(cfg.Host, rd.Port),
		Volume:           rd.Volume,
		Order:            2,
	}
}

func minioDescriptor(cfg Config) ServiceDescriptor {
	mc := cfg.MinIO
	base := "http://" + hostPort(cfg.Host, mc.Port)

	readiness := probe.PortProbe(cfg.Host, mc.Port)
	if cfg.NativeProbes {
		readiness = probe.HTTPProbe(base + "/minio/health/live")
	}
	return ServiceDescriptor{
		Name:             MinIO,
		ContainerName:    mc.Container,
		ComposeService:   mc.ComposeService,
		Readiness:        readiness,
		InitJobs:         []InitJob{{ContainerName: mc.InitContainer, ComposeService: mc.InitComposeService}},
		DependsOnNetwork: true,
		URL:              base,
		Volume:           mc.Volume,
		Order:            3,
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
