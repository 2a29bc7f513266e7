// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads the collection configuration of the I/O performance
// scheduler from a YAML (or JSON) file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antimetal/watchdog/pkg/performance"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config file format")
	ErrEmptyConfig       = errors.New("config file is empty")
)

// IsConfigFile reports whether filename has an extension Load understands.
func IsConfigFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

// Load reads the collection config at path. Fields missing from the file keep
// their defaults and the result is validated. Durations are written as Go
// duration strings, e.g. "10s" or "30m".
func Load(path string) (performance.Config, error) {
	if !IsConfigFile(path) {
		return performance.Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return performance.Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return performance.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document into a validated config. JSON is accepted as
// the YAML subset it is. Unknown keys are rejected.
func Parse(data []byte) (performance.Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return performance.Config{}, ErrEmptyConfig
	}

	cfg := performance.DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return performance.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return performance.Config{}, err
	}
	return cfg, nil
}
