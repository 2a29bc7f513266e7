// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"context"
	"fmt"
)

// CounterSource produces snapshots of cumulative kernel counters.
type CounterSource[T any] interface {
	// Name identifies the source in logs and dumps.
	Name() string

	// Enabled reports whether the source can be read on this system.
	Enabled() bool

	// Read returns a fresh snapshot. The snapshot must not be modified afterwards.
	Read(ctx context.Context) (T, error)
}

// Sources bundles the counter sources sampled on every cycle.
type Sources struct {
	UserIO  CounterSource[*UserIOSnapshot]
	System  CounterSource[*SystemSnapshot]
	Process CounterSource[*ProcessSnapshot]
}

// SourceStatus describes a counter source for dumps.
type SourceStatus struct {
	Name    string
	Enabled bool
}

// Status returns the status of every configured source.
func (s Sources) Status() []SourceStatus {
	var statuses []SourceStatus
	if s.UserIO != nil {
		statuses = append(statuses, SourceStatus{Name: s.UserIO.Name(), Enabled: s.UserIO.Enabled()})
	}
	if s.System != nil {
		statuses = append(statuses, SourceStatus{Name: s.System.Name(), Enabled: s.System.Enabled()})
	}
	if s.Process != nil {
		statuses = append(statuses, SourceStatus{Name: s.Process.Name(), Enabled: s.Process.Enabled()})
	}
	return statuses
}

func (s Sources) anyEnabled() bool {
	for _, status := range s.Status() {
		if status.Enabled {
			return true
		}
	}
	return false
}

// enabledOnly returns the sources that are enabled now, with disabled members
// left nil. The scheduler keeps this set for the whole run.
func (s Sources) enabledOnly() Sources {
	return Sources{
		UserIO:  keepEnabled(s.UserIO),
		System:  keepEnabled(s.System),
		Process: keepEnabled(s.Process),
	}
}

func keepEnabled[T any](source CounterSource[T]) CounterSource[T] {
	if source == nil || !source.Enabled() {
		return nil
	}
	return source
}

// read samples every source in the set. Any failing source fails the whole
// read, including a source that reports itself disabled after the set was
// taken.
func (s Sources) read(ctx context.Context) (*RawSnapshot, error) {
	snapshot := &RawSnapshot{}

	var err error
	if snapshot.UserIO, err = readSource(ctx, s.UserIO); err != nil {
		return nil, err
	}
	if snapshot.System, err = readSource(ctx, s.System); err != nil {
		return nil, err
	}
	if snapshot.Process, err = readSource(ctx, s.Process); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func readSource[T any](ctx context.Context, source CounterSource[T]) (T, error) {
	var zero T
	if source == nil {
		return zero, nil
	}
	if !source.Enabled() {
		return zero, fmt.Errorf("%w: %s: %w", ErrSourceRead, source.Name(), ErrSourceUnavailable)
	}

	data, err := source.Read(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrSourceRead, source.Name(), err)
	}
	return data, nil
}
