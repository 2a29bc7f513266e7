// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"sort"
	"time"
)

// NameFunc returns the display name of a user id.
type NameFunc func(uid uint32) string

// Aggregator turns raw counter snapshots into ranked records.
type Aggregator struct {
	topN int
}

func NewAggregator(topN int) *Aggregator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Aggregator{topN: topN}
}

// TopN returns the width of every ranked table.
func (a *Aggregator) TopN() int {
	return a.topN
}

// Aggregate builds the record for current. previous is the preceding snapshot of
// the same collection lineage, or nil on the first cycle; when present, per-user
// I/O and per-process major faults are ranked on their growth since previous.
func (a *Aggregator) Aggregate(current, previous *RawSnapshot, names NameFunc) Record {
	if names == nil {
		names = PlaceholderName
	}
	when := current.Time
	if when.IsZero() {
		when = time.Now()
	}

	record := Record{Time: when}

	var prevUserIO *UserIOSnapshot
	var prevProcess *ProcessSnapshot
	if previous != nil {
		prevUserIO = previous.UserIO
		prevProcess = previous.Process
	}

	if current.UserIO != nil {
		record.UserIO = a.aggregateUserIO(current.UserIO, prevUserIO, names)
	}
	if current.System != nil {
		record.System = SystemData{
			IOWaitTime:       current.System.IOWaitTime,
			TotalCPUTime:     current.System.TotalCPUTime,
			BlockedProcesses: current.System.BlockedProcesses,
			TotalProcesses:   current.System.RunningProcesses + current.System.BlockedProcesses,
		}
	}
	if current.Process != nil {
		record.Process = a.aggregateProcesses(current.Process, prevProcess, names)
	}
	return record
}

func (a *Aggregator) aggregateUserIO(current, previous *UserIOSnapshot, names NameFunc) UserIOData {
	var prev map[uint32]UserIOCounters
	if previous != nil {
		prev = make(map[uint32]UserIOCounters, len(previous.Users))
		for _, u := range previous.Users {
			prev[u.UID] = u
		}
	}

	var data UserIOData
	usages := make([]UserIOStats, 0, len(current.Users))
	for _, u := range current.Users {
		usage := u
		if p, ok := prev[u.UID]; ok {
			usage = userIODelta(u, p)
		}
		for metric := 0; metric < MetricTypes; metric++ {
			for state := 0; state < UIDStates; state++ {
				data.Total[metric][state] += usage.Bytes[metric][state]
			}
		}
		for state := 0; state < UIDStates; state++ {
			data.TotalFsync[state] += usage.Fsync[state]
		}
		usages = append(usages, UserIOStats{
			UID:   usage.UID,
			Bytes: usage.Bytes,
			Fsync: usage.Fsync,
		})
	}

	userID := func(s UserIOStats) int64 { return int64(s.UID) }
	data.TopNReads = topN(usages, a.topN, func(s UserIOStats) uint64 {
		return s.Bytes[MetricRead][StateForeground] + s.Bytes[MetricRead][StateBackground]
	}, userID)
	data.TopNWrites = topN(usages, a.topN, func(s UserIOStats) uint64 {
		return s.Bytes[MetricWrite][StateForeground] + s.Bytes[MetricWrite][StateBackground]
	}, userID)
	data.TopNFsync = topN(usages, a.topN, func(s UserIOStats) uint64 {
		return s.Fsync[StateForeground] + s.Fsync[StateBackground]
	}, userID)

	for _, table := range [][]UserIOStats{data.TopNReads, data.TopNWrites, data.TopNFsync} {
		for i := range table {
			table[i].Name = names(table[i].UID)
		}
	}
	return data
}

func (a *Aggregator) aggregateProcesses(current, previous *ProcessSnapshot, names NameFunc) ProcessData {
	type key struct {
		pid  int32
		comm string
	}
	var prev map[key]uint64
	if previous != nil {
		prev = make(map[key]uint64, len(previous.Processes))
		for _, p := range previous.Processes {
			prev[key{p.PID, p.Comm}] = p.MajorFaults
		}
	}

	ownerTasks := make(map[uint32]uint64)
	for _, p := range current.Processes {
		ownerTasks[p.UID] += uint64(p.TotalTasks)
	}

	blocked := make([]ProcessStats, 0, len(current.Processes))
	faults := make([]ProcessStats, 0, len(current.Processes))
	for _, p := range current.Processes {
		stat := ProcessStats{
			PID:            p.PID,
			Comm:           p.Comm,
			UID:            p.UID,
			OwnerTaskCount: ownerTasks[p.UID],
		}

		majorFaults := p.MajorFaults
		if prevFaults, ok := prev[key{p.PID, p.Comm}]; ok {
			majorFaults, _ = counterDelta(p.MajorFaults, prevFaults)
		}

		stat.Count = uint64(p.IOBlockedTasks)
		blocked = append(blocked, stat)
		stat.Count = majorFaults
		faults = append(faults, stat)
	}

	count := func(s ProcessStats) uint64 { return s.Count }
	pid := func(s ProcessStats) int64 { return int64(s.PID) }

	data := ProcessData{
		TopNIOBlocked:    topN(blocked, a.topN, count, pid),
		TopNMajorFaults:  topN(faults, a.topN, count, pid),
		TotalMajorFaults: current.TotalMajorFaults(),
	}
	if previous != nil {
		data.MajorFaultsPercentChange = MajorFaultsPercentChange(previous.TotalMajorFaults(), data.TotalMajorFaults)
	}

	for _, table := range [][]ProcessStats{data.TopNIOBlocked, data.TopNMajorFaults} {
		for i := range table {
			table[i].Name = names(table[i].UID)
		}
	}
	return data
}

// topN returns at most n items with a non-zero key, sorted by key descending
// and then by id ascending. The input slice is not modified.
func topN[T any](items []T, n int, key func(T) uint64, id func(T) int64) []T {
	ranked := make([]T, 0, len(items))
	for _, item := range items {
		if key(item) > 0 {
			ranked = append(ranked, item)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		ki, kj := key(ranked[i]), key(ranked[j])
		if ki != kj {
			return ki > kj
		}
		return id(ranked[i]) < id(ranked[j])
	})

	if len(ranked) > n {
		ranked = ranked[:n:n]
	}
	return ranked
}
