// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
)

// Compile-time checks
var _ Router = (*MetricsRouter)(nil)
var _ performance.Receiver = (*MetricsRouter)(nil)

var (
	// ErrRouterClosed is returned when attempting to publish to a closed router
	ErrRouterClosed = errors.New("metrics router is closed")
)

// SourceIOPerf is the source of events built from scheduler records.
const SourceIOPerf = "ioperf-scheduler"

// MetricsRouter is a simple registry that routes metrics events to multiple consumers.
// It receives records from the collection scheduler as a performance.Receiver.
type MetricsRouter struct {
	logger    logr.Logger
	nodeName  string
	mu        sync.RWMutex
	consumers map[string]Consumer
	closed    bool // Set when shutting down
}

// NewMetricsRouter creates a new metrics router. nodeName is stamped on every
// event built from a scheduler record.
func NewMetricsRouter(logger logr.Logger, nodeName string) *MetricsRouter {
	return &MetricsRouter{
		logger:    logger.WithName("metrics-router"),
		nodeName:  nodeName,
		consumers: make(map[string]Consumer),
	}
}

// Start blocks until the context is cancelled, then closes the router.
func (r *MetricsRouter) Start(ctx context.Context) error {
	r.logger.Info("Starting metrics router")

	<-ctx.Done()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("Metrics router shutdown")
	return nil
}

// RegisterConsumer starts consumer with ctx and adds it to receive events.
func (r *MetricsRouter) RegisterConsumer(ctx context.Context, consumer Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := consumer.Name()
	if _, exists := r.consumers[name]; exists {
		return fmt.Errorf("consumer %s already registered", name)
	}

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer %s: %w", name, err)
	}

	r.consumers[name] = consumer
	r.logger.Info("Consumer registered", "consumer", name)
	return nil
}

// UnregisterConsumer removes a consumer
func (r *MetricsRouter) UnregisterConsumer(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.consumers[name]
	if !exists {
		return fmt.Errorf("consumer %s not found", name)
	}

	delete(r.consumers, name)
	r.logger.Info("Consumer unregistered", "consumer", name)
	return nil
}

// Publish emits a single metrics event to all registered consumers
func (r *MetricsRouter) Publish(event MetricEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRouterClosed
	}

	// Consumers handle their own buffering/batching internally
	var lastErr error
	for name, consumer := range r.consumers {
		if err := consumer.HandleEvent(event); err != nil {
			// Log but don't fail - other consumers should still get the event
			r.logger.V(1).Info("Failed to handle event in consumer",
				"consumer", name, "error", err)
			lastErr = err
		}
	}

	return lastErr
}

// PublishBatch emits multiple metrics events efficiently
func (r *MetricsRouter) PublishBatch(events []MetricEvent) error {
	for _, event := range events {
		if err := r.Publish(event); err != nil {
			return err
		}
	}
	return nil
}

// Accept implements performance.Receiver by publishing each record as an
// io_perf snapshot event.
func (r *MetricsRouter) Accept(data any) error {
	event, ok := data.(*performance.RecordEvent)
	if !ok {
		return fmt.Errorf("unsupported data type %T", data)
	}
	return r.Publish(MetricEvent{
		Timestamp:      event.Record.Time,
		Source:         SourceIOPerf,
		NodeName:       r.nodeName,
		MetricType:     MetricTypeIOPerf,
		EventType:      EventTypeSnapshot,
		CollectionMode: event.Mode.String(),
		Data:           event,
	})
}

// Name implements performance.Receiver
func (r *MetricsRouter) Name() string {
	return "metrics-router"
}

// GetStats returns router statistics
func (r *MetricsRouter) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	consumerStats := make(map[string]ConsumerHealth)
	for name, consumer := range r.consumers {
		consumerStats[name] = consumer.Health()
	}

	return RouterStats{
		ConsumerCount: len(r.consumers),
		Consumers:     consumerStats,
	}
}

// RouterStats contains metrics about the event router
type RouterStats struct {
	ConsumerCount int
	Consumers     map[string]ConsumerHealth
}
