// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"net"
	"strconv"
)

// PortAvailable reports whether a TCP listener can bind port on all
// interfaces.
func PortAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// PortsInUse returns the ports from ports that cannot be bound, in order.
func PortsInUse(ports ...int) []int {
	var busy []int
	for _, p := range ports {
		if !PortAvailable(p) {
			busy = append(busy, p)
		}
	}
	return busy
}
