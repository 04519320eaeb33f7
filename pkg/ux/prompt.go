// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"sync"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by prompts when no terminal is attached.
// The default answer is returned alongside it.
var ErrNotInteractive = errors.New("not an interactive terminal")

// Option is one choice of a Select prompt.
type Option struct {
	Label string
	Value string
}

// Prompter asks the user questions.
type Prompter interface {
	Confirm(title string, def bool) (bool, error)
	Select(title string, options []Option, def string) (string, error)
}

// HuhPrompter renders prompts with charmbracelet/huh.
type HuhPrompter struct{}

// Confirm asks a yes/no question.
func (HuhPrompter) Confirm(title string, def bool) (bool, error) {
	if !IsInteractive() {
		return def, ErrNotInteractive
	}
	answer := def
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Yes").
			Negative("No").
			Value(&answer),
	))
	if err := form.Run(); err != nil {
		return def, err
	}
	return answer, nil
}

// Select asks the user to pick one option. def is preselected.
func (HuhPrompter) Select(title string, options []Option, def string) (string, error) {
	if !IsInteractive() {
		return def, ErrNotInteractive
	}
	answer := def
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		opts = append(opts, huh.NewOption(o.Label, o.Value).Selected(o.Value == def))
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(opts...).
			Value(&answer),
	))
	if err := form.Run(); err != nil {
		return def, err
	}
	return answer, nil
}

// MockPrompter answers from functions and records the titles asked.
type MockPrompter struct {
	ConfirmFunc func(title string, def bool) (bool, error)
	SelectFunc  func(title string, options []Option, def string) (string, error)

	mu     sync.Mutex
	Titles []string
}

func (m *MockPrompter) Confirm(title string, def bool) (bool, error) {
	m.mu.Lock()
	m.Titles = append(m.Titles, title)
	m.mu.Unlock()
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(title, def)
	}
	return def, nil
}

func (m *MockPrompter) Select(title string, options []Option, def string) (string, error) {
	m.mu.Lock()
	m.Titles = append(m.Titles, title)
	m.mu.Unlock()
	if m.SelectFunc != nil {
		return m.SelectFunc(title, options, def)
	}
	return def, nil
}

// GetTitles returns a copy of the prompts asked so far.
func (m *MockPrompter) GetTitles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Titles...)
}

var (
	_ Prompter = HuhPrompter{}
	_ Prompter = (*MockPrompter)(nil)
)
