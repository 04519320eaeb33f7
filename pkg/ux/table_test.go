// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTable_Machine(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityMachine)

	got := RenderTable([]string{"SERVICE", "STATE"}, [][]string{
		{"PostgreSQL", StatusCell(IconRunning, "running")},
		{"Redis", "missing"},
	})
	assert.Equal(t, "SERVICE\tSTATE\nPostgreSQL\trunning\nRedis\tmissing\n", got)
}

func TestRenderTable_Styled(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityFull)

	got := RenderTable([]string{"SERVICE", "STATE"}, [][]string{{"MinIO", "stopped"}})
	for _, want := range []string{"SERVICE", "STATE", "MinIO", "stopped", "╭"} {
		assert.Contains(t, got, want)
	}
	assert.True(t, strings.HasSuffix(got, "\n"))
}
