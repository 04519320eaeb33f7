// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the zephyr-forge CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Zephyr palette, sky blues with a warm accent.
var (
	ColorSkyBright = lipgloss.Color("#7DD3FC") // highlights
	ColorSky       = lipgloss.Color("#38BDF8") // brand
	ColorSkyDeep   = lipgloss.Color("#0284C7") // borders
	ColorDusk      = lipgloss.Color("#64748B") // muted text
	ColorNight     = lipgloss.Color("#1E293B")

	ColorSuccess = lipgloss.Color("#34D399")
	ColorWarning = lipgloss.Color("#FBBF24")
	ColorError   = lipgloss.Color("#F87171")
	ColorMuted   = ColorDusk
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	TableHeader lipgloss.Style
	TableCell   lipgloss.Style
	TableBorder lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorSkyBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorSky),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorSkyBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSkyDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	TableHeader: lipgloss.NewStyle().Bold(true).Foreground(ColorSky).Padding(0, 1),
	TableCell:   lipgloss.NewStyle().Padding(0, 1),
	TableBorder: lipgloss.NewStyle().Foreground(ColorSkyDeep),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconRunning Icon = "●"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconWind    Icon = "≋"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess, IconRunning:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Output Streams
// =============================================================================

var (
	outMu  sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects helper output and returns a function restoring the
// previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	outMu.Lock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	outMu.Unlock()
	return func() {
		outMu.Lock()
		stdout, stderr = prevOut, prevErr
		outMu.Unlock()
	}
}

// Stdout returns the current standard output writer.
func Stdout() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return stdout
}

// Stderr returns the current error output writer.
func Stderr() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return stderr
}

// printf writes under the output lock so lines from log streamers and the
// spinner do not interleave mid-line.
func printf(w func() io.Writer, format string, args ...any) {
	target := w()
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(target, format, args...)
}

// =============================================================================
// Print helpers
// =============================================================================

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printf(Stdout, "%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf(Stdout, "OK: %s\n", text)
	case PersonalityMinimal:
		printf(Stdout, "%s %s\n", IconSuccess.Render(), text)
	default:
		printf(Stdout, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf(Stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		printf(Stdout, "%s %s\n", IconWarning.Render(), text)
	default:
		printf(Stdout, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf(Stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		printf(Stderr, "%s %s\n", IconError.Render(), text)
	default:
		printf(Stderr, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	if GetPersonality().Level == PersonalityMachine {
		printf(Stdout, "%s\n", text)
		return
	}
	printf(Stdout, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Nothing is printed in machine mode.
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printf(Stdout, "%s\n", Styles.Muted.Render(text))
}

// Tip prints a hint in full mode when tips are enabled.
func Tip(text string) {
	p := GetPersonality()
	if p.Level != PersonalityFull || !p.ShowTips {
		return
	}
	printf(Stdout, "%s %s\n", IconWind.Render(), Styles.Muted.Italic(true).Render(text))
}

// KeyValue prints an aligned "key  value" line.
func KeyValue(key, value string) {
	if GetPersonality().Level == PersonalityMachine {
		printf(Stdout, "%s=%s\n", key, value)
		return
	}
	printf(Stdout, "  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-16s", key)), value)
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printf(Stdout, "%s: %s\n", title, content)
		return
	}
	printf(Stdout, "%s\n", Styles.Box.Width(64).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printf(Stderr, "WARN %s: %s\n", title, content)
		return
	}
	printf(Stdout, "%s\n", Styles.WarningBox.Width(64).Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}

// ErrorBox prints text in an error-styled box on stderr.
func ErrorBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printf(Stderr, "ERROR %s: %s\n", title, content)
		return
	}
	printf(Stderr, "%s\n", Styles.ErrorBox.Width(64).Render(Styles.Error.Bold(true).Render(title)+"\n"+content))
}

// List prints items as bullets.
func List(items ...string) {
	for _, item := range items {
		if GetPersonality().Level == PersonalityMachine {
			printf(Stdout, "- %s\n", item)
			continue
		}
		printf(Stdout, "  %s %s\n", IconBullet.Render(), item)
	}
}

// Indent prefixes every line of text with n spaces.
func Indent(text string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}

// Truncate shortens s to maxLen runes, ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
