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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := NewProcessLock(ProcessLockConfig{LockDir: dir, LockName: "test"})

	require.NoError(t, lock.Acquire())
	assert.True(t, lock.IsHeld())
	assert.Equal(t, os.Getpid(), lock.HolderPID())
	assert.Equal(t, filepath.Join(dir, "test.lock"), lock.LockPath())

	require.NoError(t, lock.Acquire(), "re-acquire by the holder is a no-op")

	require.NoError(t, lock.Release())
	assert.False(t, lock.IsHeld())
	assert.Equal(t, 0, lock.HolderPID(), "pid file removed on release")
	require.NoError(t, lock.Release(), "double release is safe")
}

func TestProcessLock_SecondInstanceFails(t *testing.T) {
	dir := t.TempDir()
	first := NewProcessLock(ProcessLockConfig{LockDir: dir, LockName: "test"})
	second := NewProcessLock(ProcessLockConfig{LockDir: dir, LockName: "test"})

	require.NoError(t, first.Acquire())
	defer first.Release()

	err := second.Acquire()
	require.Error(t, err)

	var held *ErrLockHeld
	require.True(t, errors.As(err, &held))
	assert.Equal(t, os.Getpid(), held.HolderPID)
	assert.Contains(t, err.Error(), "another zephyr-forge instance is running")
	assert.False(t, second.IsHeld())

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire(), "lock is free after release")
	require.NoError(t, second.Release())
}

func TestNewProcessLock_Defaults(t *testing.T) {
	lock := NewProcessLock(ProcessLockConfig{})
	assert.Equal(t, filepath.Join(os.TempDir(), "zephyr-forge.lock"), lock.LockPath())

	def := NewProcessLock(DefaultProcessLockConfig())
	assert.Equal(t, filepath.Join(os.TempDir(), "zephyr-forge.lock"), def.LockPath())
}

func TestErrLockHeld_NoPID(t *testing.T) {
	err := &ErrLockHeld{LockPath: "/tmp/x.lock"}
	assert.Equal(t, "another zephyr-forge instance is running (check: lsof /tmp/x.lock)", err.Error())
}
