// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g.
// ZEPHYR_ORCHESTRATOR_MAX_ATTEMPTS=5 or ZEPHYR_STACK_POSTGRES_PORT=5432.
const EnvPrefix = "ZEPHYR"

// keyDelimiter replaces viper's "." so label keys such as
// "com.zephyr.project" survive as map keys.
const keyDelimiter = "::"

var (
	// ErrConfigNotFound is returned when an explicit --config path is missing.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigExists is returned by WriteDefault when it would overwrite.
	ErrConfigExists = errors.New("config already exists")

	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid config")

	validate = validator.New()
)

// DefaultPath returns ~/.zephyr-forge/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".zephyr-forge", "config.yaml"), nil
}

// Load reads the configuration.
//
// # Description
//
// Layers, lowest first: DefaultConfig, the YAML file, ZEPHYR_* environment
// variables. With path empty the default location is used and a missing
// file is not an error. An explicit path must exist.
//
// # Outputs
//
// The validated Config, or an error wrapping ErrConfigNotFound or
// ErrInvalidConfig.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal the default config: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load the default config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if _, statErr := os.Stat(path); statErr == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("%w at %s", ErrConfigNotFound, path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}
	cfg.Project.Root = expandHome(cfg.Project.Root)
	cfg.Metrics.Textfile = expandHome(cfg.Metrics.Textfile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// WriteDefault writes DefaultConfig to path, creating its directory.
// An existing file is left untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%w at %s", ErrConfigExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
