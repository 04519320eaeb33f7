// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// RenderTable formats rows under headers. Machine mode yields tab-separated
// lines with the header first.
func RenderTable(headers []string, rows [][]string) string {
	if GetPersonality().Level == PersonalityMachine {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteString("\n")
		for _, r := range rows {
			b.WriteString(strings.Join(r, "\t"))
			b.WriteString("\n")
		}
		return b.String()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.TableBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.TableHeader
			}
			return Styles.TableCell
		})
	return t.Render() + "\n"
}

// Table prints RenderTable to stdout.
func Table(headers []string, rows [][]string) {
	printf(Stdout, "%s", RenderTable(headers, rows))
}

// StatusCell renders an icon and label for a table cell.
func StatusCell(icon Icon, label string) string {
	if GetPersonality().Level == PersonalityMachine {
		return label
	}
	return icon.Render() + " " + label
}
