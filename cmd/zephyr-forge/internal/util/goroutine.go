// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"context"
	"runtime/debug"
	"sync"
)

// SafeGoResult describes a recovered panic.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// Stack is the goroutine stack at the time of the panic.
	Stack string
}

// SafeGoGroup runs fn in a new goroutine tracked by wg and recovers any
// panic, so a crashing background task (such as a container log streamer)
// cannot take the CLI down mid bring-up. fn is skipped when ctx is already
// done. onPanic may be nil.
func SafeGoGroup(ctx context.Context, wg *sync.WaitGroup, fn func(), onPanic func(SafeGoResult)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer RecoverPanic(onPanic)()
		select {
		case <-ctx.Done():
			return
		default:
			fn()
		}
	}()
}

// RecoverPanic returns a deferred function that recovers a panic and hands
// it to onPanic.
//
//	defer util.RecoverPanic(func(r util.SafeGoResult) { log(r) })()
func RecoverPanic(onPanic func(SafeGoResult)) func() {
	return func() {
		if r := recover(); r != nil {
			result := SafeGoResult{
				PanicValue: r,
				Stack:      string(debug.Stack()),
			}
			if onPanic != nil {
				onPanic(result)
			}
		}
	}
}
