// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antimetal/watchdog/internal/metrics"
	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
)

const (
	consumerName = "debug"

	// statsEvery is how often, in events, running statistics are logged.
	statsEvery = 1000
)

// ErrUnexpectedData is returned for io_perf events that do not carry a record.
var ErrUnexpectedData = errors.New("io_perf event without a record")

// Consumer logs every I/O performance record it receives.
type Consumer struct {
	config Config
	logger logr.Logger

	healthy   atomic.Bool
	lastError atomic.Pointer[error]

	eventsProcessed atomic.Uint64
	errorsCount     atomic.Uint64
	startTime       time.Time

	statsMutex   sync.Mutex
	eventsByMode map[string]uint64
}

func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	consumer := &Consumer{
		config:       config,
		logger:       logger.WithName("debug-consumer"),
		startTime:    time.Now(),
		eventsByMode: make(map[string]uint64),
	}
	consumer.healthy.Store(true)
	return consumer, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent logs the record carried by event. Events of other metric types
// are ignored.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	if err := c.processEvent(event); err != nil {
		c.logger.Error(err, "Failed to process metrics event",
			"metric_type", event.MetricType,
			"source", event.Source)
		c.errorsCount.Add(1)
		c.lastError.Store(&err)
		return err
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Debug consumer",
		"log_level", c.config.LogLevel,
		"log_format", c.config.LogFormat)
	return nil
}

func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}

	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsProcessed.Load(),
		ErrorsCount: c.errorsCount.Load(),
	}
}

// Stats returns the consumer's running statistics.
func (c *Consumer) Stats() *ConsumerStats {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	byMode := make(map[string]uint64, len(c.eventsByMode))
	for mode, count := range c.eventsByMode {
		byMode[mode] = count
	}
	return &ConsumerStats{
		EventsProcessed: c.eventsProcessed.Load(),
		ErrorsCount:     c.errorsCount.Load(),
		Uptime:          time.Since(c.startTime),
		EventsByMode:    byMode,
	}
}

func (c *Consumer) processEvent(event metrics.MetricEvent) error {
	if event.MetricType != metrics.MetricTypeIOPerf {
		return nil
	}
	if !c.config.ShouldLogMode(event.CollectionMode) {
		return nil
	}

	recordEvent, ok := event.Data.(*performance.RecordEvent)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrUnexpectedData, event.Data)
	}

	c.statsMutex.Lock()
	c.eventsByMode[event.CollectionMode]++
	c.statsMutex.Unlock()
	processed := c.eventsProcessed.Add(1)

	summary := summarize(event, recordEvent)
	var err error
	if c.config.LogFormat == LogFormatJSON {
		err = c.logJSON(summary, recordEvent, processed)
	} else {
		c.logText(summary, recordEvent, processed)
	}
	return err
}

func summarize(event metrics.MetricEvent, recordEvent *performance.RecordEvent) *RecordSummary {
	record := recordEvent.Record
	summary := &RecordSummary{
		Mode:             recordEvent.Mode.String(),
		NodeName:         event.NodeName,
		CollectedAt:      record.Time,
		IOWaitPercent:    record.System.IOWaitPercent(),
		BlockedProcesses: record.System.BlockedProcesses,
		TotalProcesses:   record.System.TotalProcesses,
		MajorFaults:      record.Process.TotalMajorFaults,
		MajorFaultChange: record.Process.MajorFaultsPercentChange,
	}

	if reads := record.UserIO.TopNReads; len(reads) > 0 {
		top := reads[0]
		summary.TopReader = &Offender{
			Name:  top.Name,
			ID:    int64(top.UID),
			Value: top.Bytes[performance.MetricRead][performance.StateForeground] + top.Bytes[performance.MetricRead][performance.StateBackground],
		}
	}
	if writes := record.UserIO.TopNWrites; len(writes) > 0 {
		top := writes[0]
		summary.TopWriter = &Offender{
			Name:  top.Name,
			ID:    int64(top.UID),
			Value: top.Bytes[performance.MetricWrite][performance.StateForeground] + top.Bytes[performance.MetricWrite][performance.StateBackground],
		}
	}
	if blocked := record.Process.TopNIOBlocked; len(blocked) > 0 {
		top := blocked[0]
		summary.TopBlocked = &Offender{Name: top.Comm, ID: int64(top.PID), Value: top.Count}
	}
	return summary
}

func (c *Consumer) logJSON(summary *RecordSummary, recordEvent *performance.RecordEvent, processed uint64) error {
	entry := LogEntry{
		Level:    "INFO",
		Consumer: consumerName,
		Message:  "I/O performance record",
		Record:   summary,
	}
	if c.config.IncludeTimestamp {
		entry.Timestamp = time.Now()
	}
	if c.config.LogLevel >= LogLevelVerbose {
		entry.Data = c.truncate(recordEvent.Record)
	}
	if processed%statsEvery == 0 {
		entry.Stats = c.Stats()
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	c.logger.Info(string(jsonBytes))
	return nil
}

func (c *Consumer) logText(summary *RecordSummary, recordEvent *performance.RecordEvent, processed uint64) {
	parts := []string{
		fmt.Sprintf("Mode: %s", summary.Mode),
		fmt.Sprintf("IOWait: %.2f%%", summary.IOWaitPercent),
		fmt.Sprintf("Blocked: %d/%d", summary.BlockedProcesses, summary.TotalProcesses),
		fmt.Sprintf("MajorFaults: %d (%+.2f%%)", summary.MajorFaults, summary.MajorFaultChange),
	}

	if c.config.LogLevel >= LogLevelDetails {
		if summary.NodeName != "" {
			parts = append(parts, fmt.Sprintf("Node: %s", summary.NodeName))
		}
		if o := summary.TopReader; o != nil {
			parts = append(parts, fmt.Sprintf("TopReader: %s(%d)=%d", o.Name, o.ID, o.Value))
		}
		if o := summary.TopWriter; o != nil {
			parts = append(parts, fmt.Sprintf("TopWriter: %s(%d)=%d", o.Name, o.ID, o.Value))
		}
		if o := summary.TopBlocked; o != nil {
			parts = append(parts, fmt.Sprintf("TopIOBlocked: %s(%d)=%d", o.Name, o.ID, o.Value))
		}
	}

	if c.config.LogLevel >= LogLevelVerbose {
		parts = append(parts, fmt.Sprintf("Data: %v", c.truncate(recordEvent.Record)))
	}

	message := strings.Join(parts, " | ")
	if c.config.IncludeTimestamp {
		message = fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05.000"), message)
	}
	c.logger.Info(message)

	if processed%statsEvery == 0 {
		stats := c.Stats()
		c.logger.Info("Debug consumer stats",
			"events_processed", stats.EventsProcessed,
			"errors", stats.ErrorsCount,
			"uptime", stats.Uptime,
			"by_mode", stats.EventsByMode)
	}
}

// truncate renders record as JSON, cut to MaxDataLength.
func (c *Consumer) truncate(record performance.Record) string {
	dataBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Sprintf("Error marshaling data: %v", err)
	}
	if c.config.MaxDataLength == 0 || len(dataBytes) <= c.config.MaxDataLength {
		return string(dataBytes)
	}
	return fmt.Sprintf("%s... (truncated from %d bytes)", dataBytes[:c.config.MaxDataLength], len(dataBytes))
}

// Compile-time check that Consumer implements metrics.Consumer
var _ metrics.Consumer = (*Consumer)(nil)
