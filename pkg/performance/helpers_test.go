// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/antimetal/watchdog/pkg/performance"
)

// fakeSource returns produce(n) on the nth read, starting at 1.
type fakeSource[T any] struct {
	name    string
	produce func(n int) (T, error)

	mu       sync.Mutex
	disabled bool
	failure  error
	reads    int
}

func (f *fakeSource[T]) Name() string { return f.name }

func (f *fakeSource[T]) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disabled
}

func (f *fakeSource[T]) Read(ctx context.Context) (T, error) {
	f.mu.Lock()
	f.reads++
	n := f.reads
	failure := f.failure
	f.mu.Unlock()
	if failure != nil {
		var zero T
		return zero, failure
	}
	return f.produce(n)
}

func (f *fakeSource[T]) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
}

func (f *fakeSource[T]) setDisabled(disabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = disabled
}

func (f *fakeSource[T]) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeSources struct {
	userIO  *fakeSource[*performance.UserIOSnapshot]
	system  *fakeSource[*performance.SystemSnapshot]
	process *fakeSource[*performance.ProcessSnapshot]
}

// newFakeSources returns sources whose counters grow linearly with the read
// number, so every record can be checked for internal consistency.
func newFakeSources() *fakeSources {
	return &fakeSources{
		userIO: &fakeSource[*performance.UserIOSnapshot]{
			name: "fake_uid_io",
			produce: func(n int) (*performance.UserIOSnapshot, error) {
				a := performance.UserIOCounters{UID: 1000}
				a.Bytes[performance.MetricRead][performance.StateForeground] = uint64(n) * 100
				a.Bytes[performance.MetricWrite][performance.StateBackground] = uint64(n) * 10
				a.Fsync[performance.StateForeground] = uint64(n)
				b := performance.UserIOCounters{UID: 2000}
				b.Bytes[performance.MetricRead][performance.StateBackground] = uint64(n) * 50
				return &performance.UserIOSnapshot{Users: []performance.UserIOCounters{a, b}}, nil
			},
		},
		system: &fakeSource[*performance.SystemSnapshot]{
			name: "fake_stat",
			produce: func(n int) (*performance.SystemSnapshot, error) {
				return &performance.SystemSnapshot{
					IOWaitTime:       uint64(n),
					TotalCPUTime:     uint64(n) * 10,
					BlockedProcesses: 1,
					RunningProcesses: 3,
				}, nil
			},
		},
		process: &fakeSource[*performance.ProcessSnapshot]{
			name: "fake_pid_stat",
			produce: func(n int) (*performance.ProcessSnapshot, error) {
				return &performance.ProcessSnapshot{Processes: []performance.ProcessCounters{
					{PID: 1, UID: 1000, Comm: "init", MajorFaults: uint64(n) * 10, TotalTasks: 2, IOBlockedTasks: 1},
				}}, nil
			},
		},
	}
}

func (f *fakeSources) sources() performance.Sources {
	return performance.Sources{UserIO: f.userIO, System: f.system, Process: f.process}
}

// fakeResolver names uids from a fixed table, or fails when err is set.
type fakeResolver struct {
	names map[uint32]string
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, uids []uint32) (map[uint32]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[uint32]string)
	for _, uid := range uids {
		if name, ok := r.names[uid]; ok {
			out[uid] = name
		}
	}
	return out, nil
}

type recordingSink struct {
	mu          sync.Mutex
	statuses    []performance.DumpStatus
	collections []performance.Collection
	err         error
	validate    func(performance.Collection)
}

func (s *recordingSink) WriteStatus(status performance.DumpStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *recordingSink) WriteCollection(collection performance.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.validate != nil {
		s.validate(collection)
	}
	s.collections = append(s.collections, collection)
	return nil
}

func (s *recordingSink) Collections() []performance.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]performance.Collection(nil), s.collections...)
}

var errInjected = errors.New("injected failure")

// fastConfig collects every few milliseconds.
func fastConfig() performance.Config {
	return performance.Config{
		TopN:        5,
		MinInterval: time.Millisecond,
		BootTime:    performance.CollectionConfig{Interval: 5 * time.Millisecond, MaxRecords: 1000},
		Periodic:    performance.CollectionConfig{Interval: 5 * time.Millisecond, MaxRecords: 1000},
		Custom:      performance.CollectionConfig{Interval: 5 * time.Millisecond, MaxRecords: 1000, MaxDuration: time.Hour},
	}
}

// idleConfig never fires a cycle within a test.
func idleConfig() performance.Config {
	return performance.Config{
		TopN:        5,
		MinInterval: time.Millisecond,
		BootTime:    performance.CollectionConfig{Interval: time.Hour, MaxRecords: 10},
		Periodic:    performance.CollectionConfig{Interval: time.Hour, MaxRecords: 10},
		Custom:      performance.CollectionConfig{Interval: time.Hour, MaxRecords: 10, MaxDuration: 2 * time.Hour},
	}
}
