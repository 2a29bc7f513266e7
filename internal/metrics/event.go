// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import (
	"time"
)

// MetricType represents the type of metric carried by an event.
type MetricType string

const (
	// MetricTypeIOPerf events carry one aggregated I/O performance record.
	MetricTypeIOPerf MetricType = "io_perf"
)

// MetricEvent represents a metrics event flowing through the pipeline.
//
// EventType indicates how to interpret the metric:
//   - "gauge": Point-in-time value (e.g., I/O wait share)
//   - "counter": Monotonically increasing value (e.g., major faults)
//   - "snapshot": Complete state capture
//
// For MetricTypeIOPerf the Data field is a *performance.RecordEvent and
// CollectionMode names the mode that produced it.
type MetricEvent struct {
	// Event metadata
	Timestamp time.Time
	Source    string // e.g., "ioperf-scheduler"
	NodeName  string

	// Metric identification
	MetricType     MetricType
	EventType      EventType
	CollectionMode string

	// Metric data
	Data any
}

// EventType indicates the nature of the metric event
type EventType string

const (
	EventTypeGauge    EventType = "gauge"    // Point-in-time value
	EventTypeCounter  EventType = "counter"  // Monotonically increasing value
	EventTypeSnapshot EventType = "snapshot" // Complete snapshot of data
)

// Router defines the interface for routing metrics events to consumers
type Router interface {
	// Publish emits a metrics event to all registered consumers
	Publish(event MetricEvent) error

	// PublishBatch emits multiple metrics events efficiently
	PublishBatch(events []MetricEvent) error
}
