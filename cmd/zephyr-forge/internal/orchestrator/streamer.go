// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/infra/runtime"
	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/util"
)

// logStreamer follows container logs in the background for one run.
//
// Each followed container gets one goroutine that forwards lines to the
// sink and keeps the most recent ones in a ring buffer for error reports.
// stop cancels every follower and waits for them.
type logStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	rt     runtime.Runtime
	sink   Sink
	logger *slog.Logger
	size   int

	// forward is false when lines are only buffered, not shown.
	forward bool

	wg      sync.WaitGroup
	mu      sync.Mutex
	buffers map[string]*util.RingBuffer[string]
}

func newLogStreamer(parent context.Context, rt runtime.Runtime, sink Sink, size int, forward bool, logger *slog.Logger) *logStreamer {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &logStreamer{
		ctx:     ctx,
		cancel:  cancel,
		rt:      rt,
		sink:    sink,
		logger:  logger,
		size:    size,
		forward: forward,
		buffers: make(map[string]*util.RingBuffer[string]),
	}
}

// follow starts streaming container unless it is already followed.
func (s *logStreamer) follow(container string) {
	s.mu.Lock()
	if _, ok := s.buffers[container]; ok {
		s.mu.Unlock()
		return
	}
	buf := util.NewRingBuffer[string](s.size)
	s.buffers[container] = buf
	s.mu.Unlock()

	util.SafeGoGroup(s.ctx, &s.wg, func() {
		err := s.rt.FollowLogs(s.ctx, container, func(line string) {
			buf.Push(line)
			if s.forward {
				s.sink.LogLine(container, line)
			}
		})
		if err != nil && s.ctx.Err() == nil {
			s.logger.Debug("[Orchestrator] log stream ended", "container", container, "error", err)
		}
	}, func(r util.SafeGoResult) {
		s.logger.Error("[Orchestrator] log streamer panicked", "container", container, "panic", r.PanicValue)
	})
}

// recent returns up to n buffered lines for container.
func (s *logStreamer) recent(container string, n int) []string {
	s.mu.Lock()
	buf, ok := s.buffers[container]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return buf.Last(n)
}

// forget drops the buffer of a container that is about to be replaced, so
// the next follow starts a fresh stream.
func (s *logStreamer) forget(container string) {
	s.mu.Lock()
	delete(s.buffers, container)
	s.mu.Unlock()
}

// stop cancels all followers and waits for them to return.
func (s *logStreamer) stop() {
	s.cancel()
	s.wg.Wait()
}
