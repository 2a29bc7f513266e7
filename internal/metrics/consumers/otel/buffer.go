// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"sync"

	"github.com/antimetal/watchdog/internal/metrics"
	"github.com/antimetal/watchdog/pkg/ringbuffer"
)

// MetricsBuffer is a bounded, drop-oldest queue of metric events between the
// router and the export loop.
type MetricsBuffer struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer[metrics.MetricEvent]

	// notifyThreshold is the queue length at which the export loop is woken
	// before its next tick.
	notifyThreshold int
	notify          chan struct{}
	dropped         uint64
}

// NewMetricsBuffer creates a buffer holding up to capacity events. A
// notifyThreshold of zero or less wakes the export loop on every push.
func NewMetricsBuffer(capacity, notifyThreshold int) (*MetricsBuffer, error) {
	rb, err := ringbuffer.New[metrics.MetricEvent](capacity)
	if err != nil {
		return nil, err
	}
	if notifyThreshold <= 0 || notifyThreshold > capacity {
		notifyThreshold = 1
	}

	return &MetricsBuffer{
		rb:              rb,
		notifyThreshold: notifyThreshold,
		notify:          make(chan struct{}, 1),
	}, nil
}

// Push adds an event, overwriting the oldest one when full, and reports
// whether an event was dropped. It never blocks.
func (b *MetricsBuffer) Push(event metrics.MetricEvent) (dropped bool) {
	b.mu.Lock()
	dropped = b.rb.Push(event)
	if dropped {
		b.dropped++
	}
	ready := b.rb.Len() >= b.notifyThreshold
	b.mu.Unlock()

	if ready {
		select {
		case b.notify <- struct{}{}:
		default:
			// a wakeup is already pending
		}
	}
	return dropped
}

// Drain removes and returns every buffered event, oldest first. It returns
// nil when the buffer is empty.
func (b *MetricsBuffer) Drain() []metrics.MetricEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rb.Len() == 0 {
		return nil
	}
	events := b.rb.GetAll()
	b.rb.Clear()
	return events
}

// NotifyChannel returns the channel signalled when the notify threshold is reached.
func (b *MetricsBuffer) NotifyChannel() <-chan struct{} {
	return b.notify
}

// Dropped returns how many events were overwritten before being drained.
func (b *MetricsBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *MetricsBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Len()
}

func (b *MetricsBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Cap()
}
