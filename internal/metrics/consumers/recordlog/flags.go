// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package recordlog

import "flag"

// Command-line flag variables (populated by init())
var (
	flagEnabled *bool
	flagPath    *string
)

func init() {
	flagEnabled = flag.Bool("enable-record-log", false, "Append every I/O performance record to rotated YAML files")
	flagPath = flag.String("record-log-path", DefaultConfig().OutputPath, "Output directory for record log files")
}

// IsEnabled returns whether the record log consumer is enabled via flags
func IsEnabled() bool {
	return flagEnabled != nil && *flagEnabled
}

// GetConfigFromFlags builds a Config from the package's command-line flags
func GetConfigFromFlags() Config {
	config := DefaultConfig()
	if flagPath != nil && *flagPath != "" {
		config.OutputPath = *flagPath
	}
	return config
}
