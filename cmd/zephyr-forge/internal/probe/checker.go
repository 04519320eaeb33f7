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
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/process"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// errEmptyCommand is returned for a KindCommand readiness without argv.
var errEmptyCommand = errors.New("empty command")

// Checker runs one readiness check once.
type Checker interface {
	// Check returns nil when r passes, or a *CheckError.
	Check(ctx context.Context, r Readiness) error
}

// CheckerConfig configures DefaultChecker.
type CheckerConfig struct {
	// Timeout bounds a single check. Default: util.DefaultCheckTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// DefaultChecker implements Checker.
//
// Command checks go through the process.Runner so they are captured and
// never echo to the terminal. PostgreSQL and Redis checks open a fresh
// connection per call.
type DefaultChecker struct {
	runner     process.Runner
	timeout    time.Duration
	dialer     *net.Dialer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDefaultChecker creates a DefaultChecker.
func NewDefaultChecker(runner process.Runner, cfg CheckerConfig) *DefaultChecker {
	timeout := util.EnforceDefaultTimeout(cfg.Timeout, util.DefaultCheckTimeout)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultChecker{
		runner:     runner,
		timeout:    timeout,
		dialer:     &net.Dialer{Timeout: timeout},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Check implements Checker.
func (c *DefaultChecker) Check(ctx context.Context, r Readiness) error {
	if r.Kind == KindNone {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	switch r.Kind {
	case KindCommand:
		err = c.checkCommand(ctx, r.Command)
	case KindPort:
		err = c.checkPort(ctx, r.Host, r.Port)
	case KindPostgres:
		err = checkPostgres(ctx, r.DSN)
	case KindRedis:
		err = c.checkRedis(ctx, r.Addr, r.Password)
	case KindHTTP:
		err = c.checkHTTP(ctx, r.URL)
	default:
		err = fmt.Errorf("unsupported readiness kind %d", int(r.Kind))
	}

	if err != nil {
		c.logger.Debug("[Probe] readiness check failed", "check", r.String(), "error", err)
		return &CheckError{Kind: r.Kind, Target: r.Target(), Err: err}
	}
	return nil
}

func (c *DefaultChecker) checkCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errEmptyCommand
	}
	_, err := c.runner.Run(ctx, argv[0], argv[1:], process.RunOptions{Silent: true, Timeout: c.timeout})
	return err
}

func (c *DefaultChecker) checkPort(ctx context.Context, host string, port int) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func checkPostgres(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return conn.Ping(ctx)
}

func (c *DefaultChecker) checkRedis(ctx context.Context, addr, password string) error {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  c.timeout,
		ReadTimeout:  c.timeout,
		WriteTimeout: c.timeout,
		MaxRetries:   -1,
	})
	defer client.Close()
	return client.Ping(ctx).Err()
}

func (c *DefaultChecker) checkHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockChecker implements Checker for testing.
type MockChecker struct {
	CheckFunc func(ctx context.Context, r Readiness) error
	Calls     []Readiness
	mu        sync.Mutex
}

// Check implements Checker.
func (m *MockChecker) Check(ctx context.Context, r Readiness) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, r)
	m.mu.Unlock()
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, r)
	}
	return nil
}

// GetCalls returns a copy of the recorded readiness checks.
func (m *MockChecker) GetCalls() []Readiness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Readiness(nil), m.Calls...)
}

var (
	_ Checker = (*DefaultChecker)(nil)
	_ Checker = (*MockChecker)(nil)
)
