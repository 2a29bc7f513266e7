// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package recordlog

import (
	"errors"
	"time"
)

// Config holds configuration for the record log consumer
type Config struct {
	// OutputPath is the directory holding the record log files
	OutputPath string
	// RotationInterval is how often to rotate to a new file
	RotationInterval time.Duration
	// MaxFileSize is the size after which the next record goes to a new file
	// (0 = no size limit)
	MaxFileSize int64
	// MaxFiles is the number of log files to keep (0 = unlimited)
	MaxFiles int
	// BufferSize is the size of the write buffer
	BufferSize int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		OutputPath:       "/var/lib/watchdog/ioperf",
		RotationInterval: 1 * time.Hour,
		MaxFileSize:      16 * 1024 * 1024, // 16 MB
		MaxFiles:         24,               // Keep 24 hours worth
		BufferSize:       32 * 1024,        // 32 KB buffer
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.OutputPath == "" {
		return errors.New("output path cannot be empty")
	}
	if c.RotationInterval <= 0 {
		return errors.New("rotation interval must be positive")
	}
	if c.MaxFileSize < 0 {
		return errors.New("max file size cannot be negative")
	}
	if c.MaxFiles < 0 {
		return errors.New("max files cannot be negative")
	}
	if c.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}
