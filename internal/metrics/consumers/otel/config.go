// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CompressionGZip = "gzip"
	CompressionNone = "none"

	// MaxQueueSize bounds the records held between the router and the
	// recorder. One record expands to a few dozen data points.
	MaxQueueSize = 10000

	defaultServiceName    = "ioperfd"
	defaultEndpoint       = "localhost:4317"
	defaultTimeout        = 10 * time.Second
	defaultExportInterval = 10 * time.Second
	defaultQueueSize      = 360
	defaultFlushThreshold = 30
)

var (
	ErrEndpointRequired       = errors.New("OTLP endpoint is required when OpenTelemetry export is enabled")
	ErrInvalidCompression     = fmt.Errorf("compression must be %q or %q", CompressionGZip, CompressionNone)
	ErrQueueSizeTooLarge      = fmt.Errorf("queue size cannot exceed %d records", MaxQueueSize)
	ErrFlushThresholdTooLarge = errors.New("flush threshold cannot exceed the queue size")
)

var flagEnabled *bool

func init() {
	flagEnabled = flag.Bool("enable-otel", false, "Export I/O performance records over OTLP (configure via OTEL_* environment variables)")
}

// Config controls how records are exported. Everything but the enable flag
// comes from the standard OTEL_* environment variables.
type Config struct {
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	Compression string
	Timeout     time.Duration

	// ExportInterval is how often gauges are pushed to the collector. Failed
	// exports are retried until the next push is due.
	ExportInterval time.Duration

	// QueueSize is how many records wait for the recorder before the oldest
	// is dropped. FlushThreshold wakes the recorder before its next tick.
	QueueSize      int
	FlushThreshold int

	ServiceName        string
	ServiceVersion     string
	ResourceAttributes map[string]string
}

func DefaultConfig() Config {
	return Config{
		Endpoint:           defaultEndpoint,
		Headers:            map[string]string{},
		Compression:        CompressionGZip,
		Timeout:            defaultTimeout,
		ExportInterval:     defaultExportInterval,
		QueueSize:          defaultQueueSize,
		FlushThreshold:     defaultFlushThreshold,
		ServiceName:        defaultServiceName,
		ResourceAttributes: map[string]string{},
	}
}

// ApplyEnvironment overlays the OTEL_* variables returned by getenv. Metric
// specific variables take precedence over the generic exporter ones. Values
// that do not parse are ignored.
func (c *Config) ApplyEnvironment(getenv func(string) string) {
	first := func(names ...string) string {
		for _, name := range names {
			if v := getenv(name); v != "" {
				return v
			}
		}
		return ""
	}

	if v := first("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := first("OTEL_EXPORTER_OTLP_METRICS_INSECURE", "OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		if insecure, err := strconv.ParseBool(v); err == nil {
			c.Insecure = insecure
		}
	}
	if v := first("OTEL_EXPORTER_OTLP_METRICS_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		c.Headers = parseKeyValues(v)
	}
	if v := first("OTEL_EXPORTER_OTLP_METRICS_COMPRESSION", "OTEL_EXPORTER_OTLP_COMPRESSION"); v != "" {
		c.Compression = v
	}
	if v := first("OTEL_EXPORTER_OTLP_METRICS_TIMEOUT", "OTEL_EXPORTER_OTLP_TIMEOUT"); v != "" {
		if d, ok := parseMillis(v); ok {
			c.Timeout = d
		}
	}
	if v := getenv("OTEL_METRIC_EXPORT_INTERVAL"); v != "" {
		if d, ok := parseMillis(v); ok {
			c.ExportInterval = d
		}
	}

	if v := getenv("OTEL_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := getenv("OTEL_SERVICE_VERSION"); v != "" {
		c.ServiceVersion = v
	}
	if v := getenv("OTEL_RESOURCE_ATTRIBUTES"); v != "" {
		c.ResourceAttributes = parseKeyValues(v)
		// service.name in the attribute list only applies when
		// OTEL_SERVICE_NAME is unset.
		if name, ok := c.ResourceAttributes["service.name"]; ok {
			if getenv("OTEL_SERVICE_NAME") == "" {
				c.ServiceName = name
			}
			delete(c.ResourceAttributes, "service.name")
		}
	}

	if v := getenv("IOPERF_OTEL_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.QueueSize = n
		}
	}
}

// parseMillis reads an OTEL duration, an integer number of milliseconds.
// Go duration strings are accepted as well.
func parseMillis(v string) (time.Duration, bool) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond, true
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}

// parseKeyValues parses a W3C baggage style list, key1=value1,key2=value2,
// with percent-encoded values. Malformed members are skipped.
func parseKeyValues(list string) map[string]string {
	result := make(map[string]string)
	for _, member := range strings.Split(list, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(member), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		result[key] = value
	}
	return result
}

// Validate fills zero values with defaults and rejects settings the exporter
// cannot use.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointRequired
	}
	switch c.Compression {
	case "":
		c.Compression = CompressionGZip
	case CompressionGZip, CompressionNone:
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidCompression, c.Compression)
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.ExportInterval <= 0 {
		c.ExportInterval = defaultExportInterval
	}

	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	} else if c.QueueSize > MaxQueueSize {
		return ErrQueueSizeTooLarge
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = min(defaultFlushThreshold, c.QueueSize)
	} else if c.FlushThreshold > c.QueueSize {
		return fmt.Errorf("%w: %d > %d", ErrFlushThresholdTooLarge, c.FlushThreshold, c.QueueSize)
	}

	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	return nil
}

// GetConfigFromEnvironment returns the defaults overlaid with the process
// environment.
func GetConfigFromEnvironment() Config {
	config := DefaultConfig()
	config.ApplyEnvironment(os.Getenv)
	return config
}

func IsEnabled() bool {
	return flagEnabled != nil && *flagEnabled
}
