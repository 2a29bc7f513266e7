// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import "time"

// LogEntry represents a structured log entry for JSON output
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Level     string         `json:"level"`
	Consumer  string         `json:"consumer"`
	Message   string         `json:"message"`
	Record    *RecordSummary `json:"record,omitempty"`
	Data      any            `json:"data,omitempty"`
	Stats     *ConsumerStats `json:"stats,omitempty"`
}

// RecordSummary is the condensed view of one I/O performance record.
type RecordSummary struct {
	Mode             string    `json:"mode"`
	NodeName         string    `json:"node_name,omitempty"`
	CollectedAt      time.Time `json:"collected_at"`
	IOWaitPercent    float64   `json:"iowait_percent"`
	BlockedProcesses uint32    `json:"blocked_processes"`
	TotalProcesses   uint32    `json:"total_processes"`
	MajorFaults      uint64    `json:"major_faults"`
	MajorFaultChange float64   `json:"major_fault_change_percent"`
	TopReader        *Offender `json:"top_reader,omitempty"`
	TopWriter        *Offender `json:"top_writer,omitempty"`
	TopBlocked       *Offender `json:"top_io_blocked,omitempty"`
}

// Offender names the first entry of a top-N table.
type Offender struct {
	Name  string `json:"name"`
	ID    int64  `json:"id"`
	Value uint64 `json:"value"`
}

// ConsumerStats provides runtime statistics for the debug consumer
type ConsumerStats struct {
	EventsProcessed uint64            `json:"events_processed"`
	ErrorsCount     uint64            `json:"errors_count"`
	Uptime          time.Duration     `json:"uptime"`
	EventsByMode    map[string]uint64 `json:"events_by_mode"`
}
