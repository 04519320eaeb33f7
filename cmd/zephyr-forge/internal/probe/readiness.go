// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probe decides when a container is usable.
//
// Two layers live here:
//
//   - Prober polls the container runtime until a container is healthy or
//     has exited with code 0, with a deadline.
//   - Checker runs a service's one-shot readiness check (a command, a TCP
//     dial, a PostgreSQL or Redis ping, an HTTP GET).
//
// The orchestrator combines them: for containers without an engine
// healthcheck, a Checker call is passed to the Prober as WaitOptions.Check.
package probe

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind identifies how a service's readiness is checked.
type Kind int

const (
	// KindNone means the service is ready as soon as it runs.
	KindNone Kind = iota

	// KindCommand runs a command; exit 0 means ready.
	KindCommand

	// KindPort dials a TCP port.
	KindPort

	// KindPostgres opens a PostgreSQL connection and pings it.
	KindPostgres

	// KindRedis sends PING.
	KindRedis

	// KindHTTP expects a 2xx response to GET.
	KindHTTP
)

// String returns the kind's configuration name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCommand:
		return "command"
	case KindPort:
		return "port"
	case KindPostgres:
		return "postgres"
	case KindRedis:
		return "redis"
	case KindHTTP:
		return "http"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Readiness describes one readiness check. Build it with the constructors.
type Readiness struct {
	Kind Kind

	// Command is the argument vector for KindCommand.
	Command []string

	// Host and Port are the target for KindPort.
	Host string
	Port int

	// DSN is the connection string for KindPostgres.
	DSN string

	// Addr and Password are the target for KindRedis.
	Addr     string
	Password string

	// URL is the target for KindHTTP.
	URL string
}

// NoCheck returns a Readiness that always passes.
func NoCheck() Readiness {
	return Readiness{Kind: KindNone}
}

// CommandProbe returns a Readiness that runs argv.
func CommandProbe(argv ...string) Readiness {
	return Readiness{Kind: KindCommand, Command: argv}
}

// PortProbe returns a Readiness that dials host:port.
func PortProbe(host string, port int) Readiness {
	return Readiness{Kind: KindPort, Host: host, Port: port}
}

// PostgresProbe returns a Readiness that pings the database at dsn.
func PostgresProbe(dsn string) Readiness {
	return Readiness{Kind: KindPostgres, DSN: dsn}
}

// RedisProbe returns a Readiness that PINGs addr.
func RedisProbe(addr, password string) Readiness {
	return Readiness{Kind: KindRedis, Addr: addr, Password: password}
}

// HTTPProbe returns a Readiness that GETs url.
func HTTPProbe(url string) Readiness {
	return Readiness{Kind: KindHTTP, URL: url}
}

// Target renders what the check talks to, without credentials.
func (r Readiness) Target() string {
	switch r.Kind {
	case KindCommand:
		return strings.Join(r.Command, " ")
	case KindPort:
		return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	case KindPostgres:
		return redactDSN(r.DSN)
	case KindRedis:
		return r.Addr
	case KindHTTP:
		return r.URL
	default:
		return ""
	}
}

// String renders "kind target".
func (r Readiness) String() string {
	if r.Kind == KindNone {
		return "none"
	}
	return r.Kind.String() + " " + r.Target()
}

// redactDSN hides the password of a postgres:// URL.
func redactDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":xxxxx"
	}
	return dsn[:scheme+3] + userinfo + dsn[at:]
}
