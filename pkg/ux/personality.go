// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityEnv overrides the detected personality level.
const PersonalityEnv = "ZEPHYR_PERSONALITY"

// PersonalityLevel defines the verbosity and richness of CLI output
type PersonalityLevel string

const (
	// PersonalityFull enables colors, boxes, spinners and tips
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard is full without tips
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons and plain text
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain prefixed lines for scripts and CI
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality holds the current output settings.
type Personality struct {
	Level PersonalityLevel

	// ShowTips prints hints after commands in full mode.
	ShowTips bool
}

var (
	currentPersonality = DefaultPersonality()
	personalityMu      sync.RWMutex

	// stdoutIsTerminal is replaceable in tests.
	stdoutIsTerminal = func() bool {
		fd := os.Stdout.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// GetPersonality returns the current personality settings
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality updates the current personality settings
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel updates just the personality level
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel converts a string to PersonalityLevel. Unknown
// values map to standard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "ci":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the level from ZEPHYR_PERSONALITY, falling back to
// machine when stdout is not a terminal and full otherwise.
func InitPersonality() {
	if env := os.Getenv(PersonalityEnv); env != "" {
		SetPersonalityLevel(ParsePersonalityLevel(env))
		return
	}
	if !stdoutIsTerminal() {
		SetPersonalityLevel(PersonalityMachine)
		return
	}
	SetPersonalityLevel(PersonalityFull)
}

// IsInteractive returns true if prompts may be shown.
func IsInteractive() bool {
	return GetPersonality().Level != PersonalityMachine && stdoutIsTerminal()
}

// ShouldShowProgress returns true if spinners should animate.
func ShouldShowProgress() bool {
	return GetPersonality().Level != PersonalityMachine
}

// DefaultPersonality returns the default personality settings
func DefaultPersonality() Personality {
	return Personality{
		Level:    PersonalityFull,
		ShowTips: true,
	}
}
