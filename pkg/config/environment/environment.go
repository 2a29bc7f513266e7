// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package environment provides utilities for extracting configuration from environment variables
package environment

import (
	"os"
	"path/filepath"
)

// GetNodeName returns the node name from NODE_NAME environment variable,
// falling back to hostname if not set.
func GetNodeName() (string, error) {
	nodeName := os.Getenv("NODE_NAME")
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", err
		}
		nodeName = hostname
	}
	return nodeName, nil
}

// HostPaths contains the host filesystem paths for containerized environments
type HostPaths struct {
	Proc string // Path to /proc (e.g., /host/proc in containers)
}

// GetHostPaths returns the host filesystem paths from environment variables,
// with defaults if not set. Relative overrides are ignored.
func GetHostPaths() HostPaths {
	paths := HostPaths{
		Proc: "/proc",
	}

	if procPath := os.Getenv("HOST_PROC"); procPath != "" && filepath.IsAbs(procPath) {
		paths.Proc = filepath.Clean(procPath)
	}

	return paths
}
