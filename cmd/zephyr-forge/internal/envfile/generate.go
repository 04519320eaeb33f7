// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package envfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidValues is returned by Generate when Values fail validation.
var ErrInvalidValues = errors.New("invalid env values")

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// GenerateOptions controls Generate.
type GenerateOptions struct {
	// Overwrite replaces existing files. Without it they are skipped.
	Overwrite bool
}

// GenerateResult lists what Generate did, as absolute paths.
type GenerateResult struct {
	Written []string
	Skipped []string

	// Files are the rendered files, including skipped ones.
	Files []File
}

// Generate writes both env files below root.
//
// # Description
//
// Values are validated first; nothing is written when they are invalid.
// An empty JWTSecret is replaced by NewSecret. Each file is written to a
// temporary sibling and renamed into place with mode 0600.
func Generate(root string, v Values, opts GenerateOptions) (*GenerateResult, error) {
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValues, err)
	}
	if v.JWTSecret == "" {
		secret, err := NewSecret()
		if err != nil {
			return nil, err
		}
		v.JWTSecret = secret
	}

	result := &GenerateResult{Files: Files(v)}
	for _, f := range result.Files {
		path := filepath.Join(root, f.Path)
		if !opts.Overwrite && exists(path) {
			result.Skipped = append(result.Skipped, path)
			continue
		}
		if err := writeFile(path, f.Render()); err != nil {
			return result, err
		}
		result.Written = append(result.Written, path)
	}
	return result, nil
}

// Exist reports whether both env files are present below root.
func Exist(root string) bool {
	return exists(filepath.Join(root, WebPath)) && exists(filepath.Join(root, DBPath))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".env-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
