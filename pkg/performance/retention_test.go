// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance_test

import (
	"testing"
	"time"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordAt(seconds int) performance.Record {
	return performance.Record{Time: time.Unix(int64(seconds), 0)}
}

func TestRetentionBuffer_Overflow(t *testing.T) {
	const capacity = 4
	buffer, err := performance.NewRetentionBuffer(capacity)
	require.NoError(t, err)
	assert.Equal(t, capacity, buffer.Cap())

	for i := 1; i <= capacity; i++ {
		assert.False(t, buffer.Append(recordAt(i)))
	}
	assert.True(t, buffer.Append(recordAt(capacity+1)))

	records := buffer.Records()
	require.Len(t, records, capacity)
	for i, record := range records {
		assert.Equal(t, time.Unix(int64(i+2), 0), record.Time)
	}

	latest, ok := buffer.Latest()
	require.True(t, ok)
	assert.Equal(t, time.Unix(capacity+1, 0), latest.Time)
}

func TestRetentionBuffer_RecordsIsACopy(t *testing.T) {
	buffer, err := performance.NewRetentionBuffer(2)
	require.NoError(t, err)
	buffer.Append(recordAt(1))

	records := buffer.Records()
	records[0].Time = time.Unix(99, 0)

	assert.Equal(t, time.Unix(1, 0), buffer.Records()[0].Time)
}

func TestRetentionBuffer_Clear(t *testing.T) {
	buffer, err := performance.NewRetentionBuffer(2)
	require.NoError(t, err)
	buffer.Append(recordAt(1))
	buffer.Append(recordAt(2))

	buffer.Clear()
	assert.Zero(t, buffer.Len())
	assert.Empty(t, buffer.Records())
	_, ok := buffer.Latest()
	assert.False(t, ok)

	buffer.Append(recordAt(3))
	assert.Equal(t, 1, buffer.Len())
}

func TestRetentionBuffer_InvalidCapacity(t *testing.T) {
	_, err := performance.NewRetentionBuffer(0)
	assert.Error(t, err)
}
