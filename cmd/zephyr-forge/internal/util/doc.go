// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the zephyr-forge CLI.
//
// This package has no dependencies on other internal packages and is a leaf
// in the dependency graph.
//
// # Overview
//
//   - Timeout Management: minimum and default timeouts for commands, probes
//     and init jobs so that no wait can hang forever
//   - Ring Buffer: thread-safe circular buffer holding the most recent log
//     lines of each container for failure diagnostics
//   - Goroutine Safety: panic recovery for the background log streamers
//
// # Key Types
//
//	timeout := util.EnforceMinTimeout(requested, util.MinProbeTimeout)
//
//	lines := util.NewRingBuffer[string](50)
//	lines.Push("database system is ready to accept connections")
//	recent := lines.Last(20)
//
//	util.SafeGoGroup(ctx, &wg, func() { streamLogs(ctx) }, func(r util.SafeGoResult) {
//	    logger.Error("log streamer panicked", "panic", r.PanicValue)
//	})
//
// # Thread Safety
//
// [RingBuffer] is safe for concurrent use. The timeout helpers are pure.
package util
