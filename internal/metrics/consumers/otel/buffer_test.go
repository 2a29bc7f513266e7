// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/watchdog/internal/metrics"
)

func TestMetricsBuffer_DrainOldestFirst(t *testing.T) {
	buf, err := NewMetricsBuffer(3, 0)
	require.NoError(t, err)

	for _, src := range []string{"a", "b", "c"} {
		assert.False(t, buf.Push(metrics.MetricEvent{Source: src}))
	}
	assert.True(t, buf.Push(metrics.MetricEvent{Source: "d"}))

	events := buf.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, "b", events[0].Source)
	assert.Equal(t, "d", events[2].Source)
	assert.Equal(t, uint64(1), buf.Dropped())
	assert.Equal(t, 0, buf.Len())
	assert.Nil(t, buf.Drain())
}

func TestMetricsBuffer_NotifyThreshold(t *testing.T) {
	buf, err := NewMetricsBuffer(10, 2)
	require.NoError(t, err)

	buf.Push(metrics.MetricEvent{})
	select {
	case <-buf.NotifyChannel():
		t.Fatal("notified below threshold")
	default:
	}

	buf.Push(metrics.MetricEvent{})
	select {
	case <-buf.NotifyChannel():
	default:
		t.Fatal("expected notification at threshold")
	}
}

func TestMetricsBuffer_InvalidCapacity(t *testing.T) {
	_, err := NewMetricsBuffer(0, 1)
	assert.Error(t, err)
}
