// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/antimetal/watchdog/internal/metrics"
	"github.com/antimetal/watchdog/pkg/performance"
)

const (
	// MaxAttributesPerMetric limits the number of attributes per data point
	MaxAttributesPerMetric = 50
	// MaxInstrumentCacheSize limits the instrument cache size
	MaxInstrumentCacheSize = 1000
)

// Exported metric names.
const (
	MetricIOWait             = "ioperf.system.iowait"
	MetricBlockedProcesses   = "ioperf.system.processes.blocked"
	MetricTotalProcesses     = "ioperf.system.processes.total"
	MetricMajorFaults        = "ioperf.system.major_faults"
	MetricMajorFaultsChange  = "ioperf.system.major_faults.change"
	MetricUserIO             = "ioperf.user.io"
	MetricUserFsync          = "ioperf.user.fsync"
	MetricTotalIO            = "ioperf.io"
	MetricTotalFsync         = "ioperf.fsync"
	MetricProcessIOBlocked   = "ioperf.process.io_blocked_tasks"
	MetricProcessMajorFaults = "ioperf.process.major_faults"
)

var (
	stateNames     = [performance.UIDStates]string{"foreground", "background"}
	directionNames = [performance.MetricTypes]string{"read", "write"}
)

// Transformer records io_perf events as OpenTelemetry gauges.
type Transformer struct {
	meter          metric.Meter
	logger         logr.Logger
	serviceVersion string

	// Cached instruments keyed by kind and name
	instruments      map[string]any
	instrumentsMutex sync.RWMutex
}

// NewTransformer creates a new OpenTelemetry metrics transformer
func NewTransformer(meter metric.Meter, logger logr.Logger, serviceVersion string) *Transformer {
	return &Transformer{
		meter:          meter,
		logger:         logger.WithName("otel-transformer"),
		serviceVersion: serviceVersion,
		instruments:    make(map[string]any),
	}
}

// TransformAndRecord records every gauge carried by an io_perf event. Events of
// other metric types are ignored.
//
// Recording is synchronous and there is no trace context to propagate, so
// context.Background() is used for the instrument calls.
func (t *Transformer) TransformAndRecord(event metrics.MetricEvent) error {
	if event.MetricType != metrics.MetricTypeIOPerf {
		t.logger.V(1).Info("Unknown metric type", "type", event.MetricType)
		return nil
	}

	recordEvent, ok := event.Data.(*performance.RecordEvent)
	if !ok || recordEvent == nil {
		return fmt.Errorf("%w: %T", ErrUnexpectedData, event.Data)
	}

	ctx := context.Background()
	attrs := t.buildAttributes(event, recordEvent.Mode)
	record := &recordEvent.Record

	if err := t.recordSystem(ctx, record, attrs); err != nil {
		return err
	}
	if err := t.recordUserIO(ctx, &record.UserIO, attrs); err != nil {
		return err
	}
	return t.recordProcesses(ctx, &record.Process, attrs)
}

// buildAttributes returns the attributes shared by every data point of event:
// host.name, service.instance.id, service.version and ioperf.mode.
func (t *Transformer) buildAttributes(event metrics.MetricEvent, mode performance.CollectionMode) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)

	if event.NodeName != "" {
		attrs = append(attrs, attribute.String("host.name", event.NodeName))
	}
	if event.Source != "" {
		attrs = append(attrs, attribute.String("service.instance.id", event.Source))
	}
	if t.serviceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", t.serviceVersion))
	}
	attrs = append(attrs, attribute.String("ioperf.mode", mode.String()))

	return attrs
}

// with returns base extended by extra, capped at MaxAttributesPerMetric. base
// is never modified.
func with(base []attribute.KeyValue, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(base)+len(extra))
	attrs = append(attrs, base...)
	attrs = append(attrs, extra...)
	if len(attrs) > MaxAttributesPerMetric {
		attrs = attrs[:MaxAttributesPerMetric]
	}
	return metric.WithAttributes(attrs...)
}

func (t *Transformer) recordSystem(ctx context.Context, record *performance.Record, attrs []attribute.KeyValue) error {
	iowait, err := t.getOrCreateFloat64Gauge(MetricIOWait, "Share of CPU time spent waiting on I/O", "%")
	if err != nil {
		return err
	}
	iowait.Record(ctx, record.System.IOWaitPercent(), with(attrs))

	blocked, err := t.getOrCreateInt64Gauge(MetricBlockedProcesses, "Processes blocked on I/O", "{process}")
	if err != nil {
		return err
	}
	blocked.Record(ctx, int64(record.System.BlockedProcesses), with(attrs))

	total, err := t.getOrCreateInt64Gauge(MetricTotalProcesses, "Runnable and blocked processes", "{process}")
	if err != nil {
		return err
	}
	total.Record(ctx, int64(record.System.TotalProcesses), with(attrs))

	faults, err := t.getOrCreateInt64Gauge(MetricMajorFaults, "Major page faults across all processes", "{fault}")
	if err != nil {
		return err
	}
	faults.Record(ctx, clampInt64(record.Process.TotalMajorFaults), with(attrs))

	change, err := t.getOrCreateFloat64Gauge(MetricMajorFaultsChange, "Change in major page faults since the previous record", "%")
	if err != nil {
		return err
	}
	change.Record(ctx, record.Process.MajorFaultsPercentChange, with(attrs))

	return nil
}

func (t *Transformer) recordUserIO(ctx context.Context, data *performance.UserIOData, attrs []attribute.KeyValue) error {
	totalIO, err := t.getOrCreateInt64Gauge(MetricTotalIO, "Bytes of storage I/O across all users", "By")
	if err != nil {
		return err
	}
	totalFsync, err := t.getOrCreateInt64Gauge(MetricTotalFsync, "fsync calls across all users", "{call}")
	if err != nil {
		return err
	}
	for state := 0; state < performance.UIDStates; state++ {
		stateAttr := attribute.String("ioperf.state", stateNames[state])
		for dir := 0; dir < performance.MetricTypes; dir++ {
			totalIO.Record(ctx, clampInt64(data.Total[dir][state]),
				with(attrs, stateAttr, attribute.String("ioperf.direction", directionNames[dir])))
		}
		totalFsync.Record(ctx, clampInt64(data.TotalFsync[state]), with(attrs, stateAttr))
	}

	userIO, err := t.getOrCreateInt64Gauge(MetricUserIO, "Bytes of storage I/O by the top users", "By")
	if err != nil {
		return err
	}
	for dir, table := range [performance.MetricTypes][]performance.UserIOStats{data.TopNReads, data.TopNWrites} {
		for rank, user := range table {
			userAttrs := append(userAttributes(user.UID, user.Name, rank),
				attribute.String("ioperf.direction", directionNames[dir]))
			for state := 0; state < performance.UIDStates; state++ {
				userIO.Record(ctx, clampInt64(user.Bytes[dir][state]),
					with(attrs, append(userAttrs, attribute.String("ioperf.state", stateNames[state]))...))
			}
		}
	}

	userFsync, err := t.getOrCreateInt64Gauge(MetricUserFsync, "fsync calls by the top users", "{call}")
	if err != nil {
		return err
	}
	for rank, user := range data.TopNFsync {
		userAttrs := userAttributes(user.UID, user.Name, rank)
		for state := 0; state < performance.UIDStates; state++ {
			userFsync.Record(ctx, clampInt64(user.Fsync[state]),
				with(attrs, append(userAttrs, attribute.String("ioperf.state", stateNames[state]))...))
		}
	}

	return nil
}

func (t *Transformer) recordProcesses(ctx context.Context, data *performance.ProcessData, attrs []attribute.KeyValue) error {
	blocked, err := t.getOrCreateInt64Gauge(MetricProcessIOBlocked, "Tasks in uninterruptible sleep for the top processes", "{task}")
	if err != nil {
		return err
	}
	for rank, proc := range data.TopNIOBlocked {
		blocked.Record(ctx, clampInt64(proc.Count), with(attrs, processAttributes(proc, rank)...))
	}

	faults, err := t.getOrCreateInt64Gauge(MetricProcessMajorFaults, "Major page faults of the top processes", "{fault}")
	if err != nil {
		return err
	}
	for rank, proc := range data.TopNMajorFaults {
		faults.Record(ctx, clampInt64(proc.Count), with(attrs, processAttributes(proc, rank)...))
	}

	return nil
}

func userAttributes(uid uint32, name string, rank int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("user.id", strconv.FormatUint(uint64(uid), 10)),
		attribute.String("user.name", name),
		attribute.Int("ioperf.rank", rank+1),
	}
}

func processAttributes(proc performance.ProcessStats, rank int) []attribute.KeyValue {
	return append(userAttributes(proc.UID, proc.Name, rank),
		attribute.Int("process.pid", int(proc.PID)),
		attribute.String("process.command", proc.Comm),
		attribute.Int64("ioperf.owner_task_count", clampInt64(proc.OwnerTaskCount)),
	)
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}

// getOrCreateFloat64Gauge gets or creates a Float64Gauge instrument
func (t *Transformer) getOrCreateFloat64Gauge(name, description, unit string) (metric.Float64Gauge, error) {
	key := "f64_gauge_" + name

	t.instrumentsMutex.RLock()
	if inst, exists := t.instruments[key]; exists {
		t.instrumentsMutex.RUnlock()
		return inst.(metric.Float64Gauge), nil
	}
	t.instrumentsMutex.RUnlock()

	t.instrumentsMutex.Lock()
	defer t.instrumentsMutex.Unlock()

	// Double-check after acquiring write lock
	if inst, exists := t.instruments[key]; exists {
		return inst.(metric.Float64Gauge), nil
	}

	gauge, err := t.meter.Float64Gauge(name,
		metric.WithDescription(description),
		metric.WithUnit(unit))
	if err != nil {
		return nil, err
	}

	if len(t.instruments) >= MaxInstrumentCacheSize {
		t.logger.V(1).Info("Instrument cache size limit reached", "current_size", len(t.instruments), "limit", MaxInstrumentCacheSize)
		return gauge, nil
	}
	t.instruments[key] = gauge
	return gauge, nil
}

// getOrCreateInt64Gauge gets or creates an Int64Gauge instrument
func (t *Transformer) getOrCreateInt64Gauge(name, description, unit string) (metric.Int64Gauge, error) {
	key := "i64_gauge_" + name

	t.instrumentsMutex.RLock()
	if inst, exists := t.instruments[key]; exists {
		t.instrumentsMutex.RUnlock()
		return inst.(metric.Int64Gauge), nil
	}
	t.instrumentsMutex.RUnlock()

	t.instrumentsMutex.Lock()
	defer t.instrumentsMutex.Unlock()

	if inst, exists := t.instruments[key]; exists {
		return inst.(metric.Int64Gauge), nil
	}

	gauge, err := t.meter.Int64Gauge(name,
		metric.WithDescription(description),
		metric.WithUnit(unit))
	if err != nil {
		return nil, err
	}

	if len(t.instruments) >= MaxInstrumentCacheSize {
		t.logger.V(1).Info("Instrument cache size limit reached", "current_size", len(t.instruments), "limit", MaxInstrumentCacheSize)
		return gauge, nil
	}
	t.instruments[key] = gauge
	return gauge, nil
}
