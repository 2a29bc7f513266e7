// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/antimetal/watchdog/internal/metrics"
)

var _ metrics.Consumer = (*Consumer)(nil)

const (
	consumerName = "opentelemetry"
	meterName    = "github.com/antimetal/watchdog/ioperf"
)

// ErrUnexpectedData is returned for io_perf events that do not carry a record.
var ErrUnexpectedData = errors.New("unexpected io_perf event data")

// Consumer exports io_perf records as OTLP gauges. The router hands records
// over through a bounded queue that drops the oldest record when full, so a
// stalled collector never backs up collection. Every other metric type is
// ignored.
type Consumer struct {
	config Config
	logger logr.Logger

	queue       *MetricsBuffer
	provider    *metricSDK.MeterProvider
	transformer *Transformer

	wg        sync.WaitGroup
	healthy   atomic.Bool
	recorded  atomic.Uint64
	failed    atomic.Uint64
	lastError atomic.Pointer[error]
	startTime time.Time
}

func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	queue, err := NewMetricsBuffer(config.QueueSize, config.FlushThreshold)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		config:    config,
		logger:    logger.WithName("otel-consumer"),
		queue:     queue,
		startTime: time.Now(),
	}
	c.healthy.Store(true)
	return c, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// exporterOptions maps the config onto the OTLP gRPC exporter. Retries give up
// once the next export is due so a dead collector does not pile up requests.
func (c *Consumer) exporterOptions() []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(c.config.Endpoint),
		otlpmetricgrpc.WithTimeout(c.config.Timeout),
		otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: time.Second,
			MaxInterval:     max(c.config.ExportInterval/2, time.Second),
			MaxElapsedTime:  c.config.ExportInterval,
		}),
	}
	if c.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(c.config.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(c.config.Headers))
	}
	if c.config.Compression == CompressionGZip {
		opts = append(opts, otlpmetricgrpc.WithCompressor(CompressionGZip))
	}
	return opts
}

// resourceAttributes lists service.name, service.version when known, then the
// custom attributes sorted by key.
func (c *Consumer) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.config.ServiceName),
	}
	if c.config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.config.ServiceVersion))
	}
	keys := make([]string, 0, len(c.config.ResourceAttributes))
	for k := range c.config.ResourceAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, c.config.ResourceAttributes[k]))
	}
	return attrs
}

// Start dials the collector and starts recording queued records. It returns
// once the exporter is set up; recording stops when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	exporter, err := otlpmetricgrpc.New(ctx, c.exporterOptions()...)
	if err != nil {
		return err
	}

	c.provider = metricSDK.NewMeterProvider(
		metricSDK.WithReader(metricSDK.NewPeriodicReader(exporter,
			metricSDK.WithInterval(c.config.ExportInterval))),
		metricSDK.WithResource(resource.NewWithAttributes(semconv.SchemaURL, c.resourceAttributes()...)),
	)
	meter := c.provider.Meter(meterName, metric.WithInstrumentationVersion(c.config.ServiceVersion))
	c.transformer = NewTransformer(meter, c.logger, c.config.ServiceVersion)

	c.logger.Info("exporting I/O performance records",
		"endpoint", c.config.Endpoint,
		"service_name", c.config.ServiceName,
		"interval", c.config.ExportInterval)

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// HandleEvent queues an io_perf record for recording. It never blocks.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	if event.MetricType != metrics.MetricTypeIOPerf {
		return nil
	}
	if c.queue.Push(event) {
		c.logger.V(1).Info("export queue full, dropped oldest record",
			"queue_size", c.queue.Cap(), "dropped_total", c.queue.Dropped())
	}
	return nil
}

// Health counts dropped records as errors: they never reach the collector.
func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.recorded.Load(),
		ErrorsCount: c.failed.Load() + c.queue.Dropped(),
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.queue.NotifyChannel():
			c.record(c.queue.Drain())
		case <-ticker.C:
			c.record(c.queue.Drain())
		case <-ctx.Done():
			c.record(c.queue.Drain())
			c.shutdown(context.WithoutCancel(ctx))
			return
		}
	}
}

// record turns each record into gauge measurements. The consumer stays
// healthy as long as the most recent record was recorded.
func (c *Consumer) record(events []metrics.MetricEvent) {
	for _, event := range events {
		if err := c.transformer.TransformAndRecord(event); err != nil {
			c.logger.Error(err, "failed to record io_perf event",
				"source", event.Source, "mode", event.CollectionMode)
			c.failed.Add(1)
			c.lastError.Store(&err)
			c.healthy.Store(false)
			continue
		}
		c.recorded.Add(1)
		c.healthy.Store(true)
	}
	if len(events) > 0 {
		c.logger.V(2).Info("recorded io_perf events", "count", len(events))
	}
}

// shutdown pushes the last measurements and closes the exporter.
func (c *Consumer) shutdown(ctx context.Context) {
	if c.provider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		if err := c.provider.Shutdown(shutdownCtx); err != nil {
			c.logger.Error(err, "failed to flush OTLP exporter")
		}
	}

	c.logger.Info("OpenTelemetry consumer stopped",
		"recorded", c.recorded.Load(),
		"failed", c.failed.Load(),
		"dropped", c.queue.Dropped(),
		"uptime", time.Since(c.startTime))
}
