// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"fmt"
	"net/url"
)

// Defaults for the development stack.
const (
	DefaultNetwork      = "zephyr_dev_network"
	DefaultHost         = "localhost"
	DefaultDockerBinary = "docker"

	LabelProject = "com.zephyr.project"
	LabelManaged = "com.zephyr.managed"
)

// Config overrides names, ports and credentials of the fixed topology.
// Zero values take the defaults.
type Config struct {
	Network      string            `mapstructure:"network" yaml:"network"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels"`
	Host         string            `mapstructure:"host" yaml:"host"`
	DockerBinary string            `mapstructure:"docker_binary" yaml:"docker_binary"`

	// NativeProbes switches readiness from "docker exec" commands and a
	// port dial to in-process PostgreSQL, Redis and HTTP checks.
	NativeProbes bool `mapstructure:"native_probes" yaml:"native_probes"`

	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio" yaml:"minio"`
}

// PostgresConfig configures the database service, its bootstrap job and the
// schema migration job that runs after it.
type PostgresConfig struct {
	Container             string `mapstructure:"container" yaml:"container"`
	ComposeService        string `mapstructure:"compose_service" yaml:"compose_service"`
	InitContainer         string `mapstructure:"init_container" yaml:"init_container"`
	InitComposeService    string `mapstructure:"init_compose_service" yaml:"init_compose_service"`
	MigrateContainer      string `mapstructure:"migrate_container" yaml:"migrate_container"`
	MigrateComposeService string `mapstructure:"migrate_compose_service" yaml:"migrate_compose_service"`
	Volume                string `mapstructure:"volume" yaml:"volume"`
	Port                  int    `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	User                  string `mapstructure:"user" yaml:"user"`
	Password              string `mapstructure:"password" yaml:"password"`
	Database              string `mapstructure:"database" yaml:"database"`
}

// DSN returns the postgres:// URL for host.
func (c PostgresConfig) DSN(host string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     hostPort(host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// RedisConfig configures the cache service.
type RedisConfig struct {
	Container      string `mapstructure:"container" yaml:"container"`
	ComposeService string `mapstructure:"compose_service" yaml:"compose_service"`
	Volume         string `mapstructure:"volume" yaml:"volume"`
	Port           int    `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Password       string `mapstructure:"password" yaml:"password"`
}

// MinIOConfig configures the object store and its bucket bootstrap job.
type MinIOConfig struct {
	Container          string `mapstructure:"container" yaml:"container"`
	ComposeService     string `mapstructure:"compose_service" yaml:"compose_service"`
	InitContainer      string `mapstructure:"init_container" yaml:"init_container"`
	InitComposeService string `mapstructure:"init_compose_service" yaml:"init_compose_service"`
	Volume             string `mapstructure:"volume" yaml:"volume"`
	Port               int    `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	ConsolePort        int    `mapstructure:"console_port" yaml:"console_port" validate:"omitempty,min=1,max=65535"`
}

// DefaultConfig returns the fully populated default configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	defPort := func(p *int, v int) {
		if *p == 0 {
			*p = v
		}
	}

	def(&c.Network, DefaultNetwork)
	def(&c.Host, DefaultHost)
	def(&c.DockerBinary, DefaultDockerBinary)
	if len(c.Labels) == 0 {
		c.Labels = map[string]string{LabelProject: "zephyr-forge", LabelManaged: "true"}
	}

	pg := &c.Postgres
	def(&pg.Container, "zephyr-postgres-dev")
	def(&pg.ComposeService, "postgres-dev")
	def(&pg.InitContainer, "zephyr-postgres-init")
	def(&pg.InitComposeService, "postgres-init")
	def(&pg.MigrateContainer, "zephyr-prisma-migrate")
	def(&pg.MigrateComposeService, "prisma-migrate")
	def(&pg.Volume, "zephyr_postgres_data_dev")
	defPort(&pg.Port, 5433)
	def(&pg.User, "postgres")
	def(&pg.Password, "postgres")
	def(&pg.Database, "zephyr")

	rd := &c.Redis
	def(&rd.Container, "zephyr-redis-dev")
	def(&rd.ComposeService, "redis-dev")
	def(&rd.Volume, "zephyr_redis_data_dev")
	defPort(&rd.Port, 6379)
	def(&rd.Password, "zephyrredis")

	mc := &c.MinIO
	def(&mc.Container, "zephyr-minio-dev")
	def(&mc.ComposeService, "minio-dev")
	def(&mc.InitContainer, "zephyr-minio-init")
	def(&mc.InitComposeService, "minio-init")
	def(&mc.Volume, "zephyr_minio_data_dev")
	defPort(&mc.Port, 9000)
	defPort(&mc.ConsolePort, 9001)

	return c
}

func (c Config) validate() error {
	for name, port := range map[string]int{
		"postgres.port":      c.Postgres.Port,
		"redis.port":         c.Redis.Port,
		"minio.port":         c.MinIO.Port,
		"minio.console_port": c.MinIO.ConsolePort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, port)
		}
	}
	return nil
}
