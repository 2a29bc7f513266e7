// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"sync"
)

// MockReceiver is a test implementation of the Receiver interface.
// It keeps every record event it is handed.
type MockReceiver struct {
	mu         sync.Mutex
	name       string
	events     []RecordEvent
	AcceptFunc func(data any) error
}

func NewMockReceiver(name string) *MockReceiver {
	return &MockReceiver{name: name}
}

// Accept implements the Receiver interface
func (m *MockReceiver) Accept(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event, ok := data.(*RecordEvent); ok {
		m.events = append(m.events, *event)
	}
	if m.AcceptFunc != nil {
		return m.AcceptFunc(data)
	}
	return nil
}

// Name implements the Receiver interface
func (m *MockReceiver) Name() string {
	return m.name
}

// Events returns a copy of the accepted events.
func (m *MockReceiver) Events() []RecordEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]RecordEvent, len(m.events))
	copy(events, m.events)
	return events
}

// CallCount returns the number of accepted events.
func (m *MockReceiver) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
