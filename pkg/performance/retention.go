// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"sync"

	"github.com/antimetal/watchdog/pkg/ringbuffer"
)

// RetentionBuffer keeps the most recent records of one collection mode,
// oldest first. It is safe for concurrent use; readers always get a copy.
type RetentionBuffer struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer[Record]
}

// NewRetentionBuffer creates a buffer holding at most maxRecords records.
func NewRetentionBuffer(maxRecords int) (*RetentionBuffer, error) {
	rb, err := ringbuffer.New[Record](maxRecords)
	if err != nil {
		return nil, err
	}
	return &RetentionBuffer{rb: rb}, nil
}

// Append stores record, evicting the oldest record when full. It reports
// whether a record was evicted.
func (b *RetentionBuffer) Append(record Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Push(record)
}

// Records returns a point-in-time copy of the stored records, oldest first.
func (b *RetentionBuffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.GetAll()
}

// Latest returns the most recent record.
func (b *RetentionBuffer) Latest() (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Newest()
}

// Clear drops every record.
func (b *RetentionBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rb.Clear()
}

// Len returns the number of stored records.
func (b *RetentionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Len()
}

// Cap returns the maximum number of records.
func (b *RetentionBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Cap()
}
