// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/compose-spec/compose-go/v2/cli"
	composetypes "github.com/compose-spec/compose-go/v2/types"
)

// TopologyReport compares the registry with a compose file.
type TopologyReport struct {
	// File is the compose file that was read.
	File string

	// MissingServices are compose service keys the registry needs but the
	// file does not define.
	MissingServices []string

	// ContainerMismatches describe services whose container_name differs
	// from the registry's container name.
	ContainerMismatches []string

	// Unmanaged are compose services the registry does not know about.
	Unmanaged []string
}

// OK reports whether every registry service is present with the expected
// container name.
func (t *TopologyReport) OK() bool {
	return len(t.MissingServices) == 0 && len(t.ContainerMismatches) == 0
}

// VerifyTopology loads composeFile and checks it declares every service and
// init job in reg. Services behind inactive profiles count as declared.
//
// The file is only read; environment interpolation is disabled so missing
// .env values don't fail the check.
func VerifyTopology(ctx context.Context, composeFile string, reg *Registry) (*TopologyReport, error) {
	opts, err := cli.NewProjectOptions(
		[]string{composeFile},
		cli.WithName("zephyr-forge"),
		cli.WithDotEnv,
		cli.WithInterpolation(false),
	)
	if err != nil {
		return nil, fmt.Errorf("project options: %w", err)
	}

	project, err := cli.ProjectFromOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", composeFile, err)
	}

	declared := map[string]composetypes.ServiceConfig{}
	for name, svc := range project.Services {
		declared[name] = svc
	}
	for name, svc := range project.DisabledServices {
		declared[name] = svc
	}

	report := &TopologyReport{File: composeFile}
	known := map[string]bool{}

	check := func(composeService, container string) {
		known[composeService] = true
		svc, ok := declared[composeService]
		if !ok {
			report.MissingServices = append(report.MissingServices, composeService)
			return
		}
		if svc.ContainerName != "" && svc.ContainerName != container {
			report.ContainerMismatches = append(report.ContainerMismatches,
				fmt.Sprintf("%s: container_name %q, expected %q", composeService, svc.ContainerName, container))
		}
	}

	for _, d := range reg.Ordered() {
		check(d.ComposeService, d.ContainerName)
		for _, job := range d.InitJobs {
			check(job.ComposeService, job.ContainerName)
		}
	}

	for name := range declared {
		if !known[name] {
			report.Unmanaged = append(report.Unmanaged, name)
		}
	}
	sort.Strings(report.Unmanaged)

	return report, nil
}
