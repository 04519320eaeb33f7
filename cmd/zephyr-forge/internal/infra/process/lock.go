// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessLocker prevents concurrent CLI instances from mutating the same
// environment.
//
// # Description
//
// Two "zephyr-forge dev" runs racing on the same network and container names
// would remove each other's containers mid bring-up. The lock turns that into
// an immediate, explained failure for the second instance.
type ProcessLocker interface {
	// Acquire takes the lock or returns *ErrLockHeld without blocking.
	Acquire() error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool

	// HolderPID returns the PID recorded by the current holder, or 0.
	HolderPID() int
}

// ProcessLockConfig configures a ProcessLock.
type ProcessLockConfig struct {
	// LockDir holds the .lock and .pid files. Default: os.TempDir().
	LockDir string

	// LockName is the base file name. Default: "zephyr-forge".
	LockName string
}

// DefaultProcessLockConfig returns the lock configuration shared by every
// CLI instance on the machine.
func DefaultProcessLockConfig() ProcessLockConfig {
	return ProcessLockConfig{
		LockDir:  os.TempDir(),
		LockName: "zephyr-forge",
	}
}

// ProcessLock implements ProcessLocker with flock(2).
//
// The kernel releases the lock when the process exits, so a crashed CLI
// never leaves a stale lock behind; only the informational PID file may
// outlive it.
type ProcessLock struct {
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewProcessLock creates a ProcessLock. The lock is not acquired.
func NewProcessLock(config ProcessLockConfig) *ProcessLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "zephyr-forge"
	}
	return &ProcessLock{
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire takes an exclusive non-blocking flock on the lock file.
//
// Returns *ErrLockHeld when another process holds it. Acquiring twice from
// the same instance is a no-op.
func (p *ProcessLock) Acquire() error {
	if p.held {
		return nil
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", p.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: p.readHolderPID(), LockPath: p.lockPath}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// The PID file is informational; the flock is what excludes.
	_ = os.WriteFile(p.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
	return nil
}

// Release removes the PID file and unlocks.
func (p *ProcessLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	_ = os.Remove(p.pidPath)
	err := unix.Flock(int(p.lockFile.Fd()), unix.LOCK_UN)
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this instance holds the lock.
func (p *ProcessLock) IsHeld() bool {
	return p.held
}

// HolderPID returns the PID recorded in the PID file, or 0.
func (p *ProcessLock) HolderPID() int {
	return p.readHolderPID()
}

// LockPath returns the lock file path.
func (p *ProcessLock) LockPath() string {
	return p.lockPath
}

func (p *ProcessLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// ErrLockHeld is returned by Acquire when another instance holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another zephyr-forge instance is running (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another zephyr-forge instance is running (check: lsof %s)", e.LockPath)
}

var _ ProcessLocker = (*ProcessLock)(nil)
