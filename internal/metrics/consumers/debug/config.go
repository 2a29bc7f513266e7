// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"flag"
	"fmt"
	"slices"
)

var enabled bool

func init() {
	flag.BoolVar(&enabled, "enable-debug-consumer", false,
		"Log every collected I/O performance record")
}

// Enabled reports whether the debug consumer was requested on the command line.
func Enabled() bool {
	return enabled
}

// LogLevel determines the verbosity of debug output
type LogLevel int

const (
	LogLevelBasic   LogLevel = 0 // mode and headline numbers only
	LogLevelDetails LogLevel = 1 // include node and top offenders
	LogLevelVerbose LogLevel = 2 // include the full record
)

// Common errors
var (
	ErrInvalidLogLevel  = fmt.Errorf("log level must be basic (%d), details (%d), or verbose (%d)", LogLevelBasic, LogLevelDetails, LogLevelVerbose)
	ErrInvalidLogFormat = fmt.Errorf("log format must be '%s' or '%s'", LogFormatJSON, LogFormatText)
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelBasic:
		return "basic"
	case LogLevelDetails:
		return "details"
	case LogLevelVerbose:
		return "verbose"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// LogFormat determines the output format
type LogFormat string

const (
	LogFormatJSON LogFormat = "json" // structured JSON output
	LogFormatText LogFormat = "text" // human-readable text format
)

func (f LogFormat) IsValid() bool {
	return f == LogFormatJSON || f == LogFormatText
}

type Config struct {
	LogLevel  LogLevel
	LogFormat LogFormat

	IncludeTimestamp bool

	// MaxDataLength caps the size of the full record in verbose output (0 = no limit).
	MaxDataLength int

	// ModeFilter only logs records from these collection modes (empty = all)
	ModeFilter []string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		LogLevel:         LogLevelDetails,
		LogFormat:        LogFormatText,
		IncludeTimestamp: true,
		MaxDataLength:    1000,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.LogLevel < LogLevelBasic || c.LogLevel > LogLevelVerbose {
		return ErrInvalidLogLevel
	}
	if !c.LogFormat.IsValid() {
		return ErrInvalidLogFormat
	}
	if c.MaxDataLength < 0 {
		c.MaxDataLength = 0
	}
	return nil
}

func (c *Config) ShouldLogMode(mode string) bool {
	return len(c.ModeFilter) == 0 || slices.Contains(c.ModeFilter, mode)
}
