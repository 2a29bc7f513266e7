// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package testutil provides utilities for testing, with a focus on integration test helpers.
package testutil

import (
	"os"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

// RequireLinux skips the test if not running on Linux.
func RequireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("Test requires Linux")
	}
}

// RequireProcFilesystem verifies that a live /proc is mounted.
func RequireProcFilesystem(t *testing.T) {
	t.Helper()
	RequireLinux(t)

	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skipf("Test requires /proc filesystem: %v", err)
	}
}

// RequireReadable skips the test unless path exists and is readable. Kernel
// interfaces such as /proc/uid_io/stats are only present on some builds.
func RequireReadable(t *testing.T, path string) {
	t.Helper()
	RequireLinux(t)

	if err := unix.Access(path, unix.R_OK); err != nil {
		t.Skipf("Test requires readable %s: %v", path, err)
	}
}

// RequireRoot checks if the test is running as root.
// Some operations require root privileges.
func RequireRoot(t *testing.T) {
	t.Helper()
	RequireLinux(t)

	if os.Geteuid() != 0 {
		t.Skip("Test requires root privileges")
	}
}
