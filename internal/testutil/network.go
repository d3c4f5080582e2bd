// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testutil provides loopback test plumbing: port helpers and a
// scripted Lightning peer to run handshakes and RPC flows against.
package testutil

import (
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

var portCounter int64 = 21000

// GetAvailablePort returns an available TCP port for testing.
func GetAvailablePort() (int, error) {
	basePort := atomic.AddInt64(&portCounter, 1)

	for i := 0; i < 100; i++ {
		port := int(basePort) + i
		if port > 65535 {
			port = 21000 + (port % 44535)
		}
		if isPortAvailable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available ports found in range")
}

func isPortAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// WaitWithTimeout polls condition until it holds or the timeout
// expires, failing the test on expiry.
func WaitWithTimeout(t testing.TB, condition func() bool, timeout, interval time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	t.Fatalf("condition not met within %v", timeout)
}
