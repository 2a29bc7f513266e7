// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt
package config

import (
	"flag"

	"github.com/go-logr/logr"

	"github.com/antimetal/watchdog/pkg/performance"
)

var defaultPath string

func init() {
	flag.StringVar(&defaultPath, "config", "",
		"Path to the collection config file (YAML or JSON); built-in defaults are used when empty")
}

// LoadFromFlags loads the file named by -config, or returns the defaults when
// the flag is unset.
func LoadFromFlags(logger logr.Logger) (performance.Config, error) {
	if defaultPath == "" {
		logger.V(1).Info("no config file given, using defaults")
		return performance.DefaultConfig(), nil
	}
	cfg, err := Load(defaultPath)
	if err != nil {
		return performance.Config{}, err
	}
	logger.Info("loaded collection config", "path", defaultPath)
	return cfg, nil
}
