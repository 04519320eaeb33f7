// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project locates the Zephyr monorepo on disk and checks that the
// host can run its development stack.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Marker files that identify the project root.
const (
	ManifestFile = "package.json"
	ComposeFile  = "docker-compose.dev.yml"
)

// ErrRootNotFound is returned when no ancestor holds both marker files.
var ErrRootNotFound = errors.New("could not find project root (looking for package.json and docker-compose.dev.yml)")

// RequiredFiles must exist below the root for the dev stack to work.
var RequiredFiles = []string{
	ManifestFile,
	ComposeFile,
	filepath.Join("apps", "web", "package.json"),
	filepath.Join("packages", "db", "package.json"),
}

// FindRoot walks up from start until a directory contains both
// package.json and docker-compose.dev.yml.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}

	for {
		if isFile(filepath.Join(dir, ManifestFile)) && isFile(filepath.Join(dir, ComposeFile)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: searched from %s", ErrRootNotFound, start)
		}
		dir = parent
	}
}

// MissingFiles returns the RequiredFiles absent under root, in order.
func MissingFiles(root string) []string {
	var missing []string
	for _, rel := range RequiredFiles {
		if !isFile(filepath.Join(root, rel)) {
			missing = append(missing, rel)
		}
	}
	return missing
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
