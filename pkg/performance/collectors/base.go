// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package collectors reads the kernel counters sampled by the I/O performance
// scheduler. Every source returns cumulative counters; deltas are computed by
// the aggregator.
package collectors

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// ErrMalformed is returned when a counter file cannot be parsed.
var ErrMalformed = errors.New("malformed counter file")

// baseSource holds what every counter source shares. Whether the source is
// enabled is decided once, when it is built: a file that disappears later is a
// read failure, not a disabled source.
type baseSource struct {
	name    string
	path    string
	enabled bool
	logger  logr.Logger
}

func newBaseSource(name, path string, logger logr.Logger) baseSource {
	b := baseSource{
		name:    name,
		path:    path,
		enabled: unix.Access(path, unix.R_OK) == nil,
		logger:  logger.WithName(name),
	}
	if !b.enabled {
		b.logger.Info("counter source disabled, file not readable", "path", path)
	}
	return b
}

func (b *baseSource) Name() string {
	return b.name
}

// Path returns the file or directory the source reads.
func (b *baseSource) Path() string {
	return b.path
}

// Enabled reports whether the source's file was readable when it was built.
func (b *baseSource) Enabled() bool {
	return b.enabled
}

func (b *baseSource) Logger() logr.Logger {
	return b.logger
}

func validateProcPath(procPath string) error {
	if procPath == "" {
		return fmt.Errorf("HostProcPath is required but not provided")
	}
	if !filepath.IsAbs(procPath) {
		return fmt.Errorf("HostProcPath must be an absolute path, got: %q", procPath)
	}
	return nil
}
