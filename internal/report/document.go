// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package report renders scheduler dumps and records for humans (text) and
// tools (YAML).
package report

import (
	"time"

	"github.com/antimetal/watchdog/pkg/performance"
)

// StatusDoc is the serialized form of performance.DumpStatus.
type StatusDoc struct {
	Mode      string      `yaml:"mode"`
	Sources   []SourceDoc `yaml:"sources"`
	LastError string      `yaml:"lastError,omitempty"`
}

type SourceDoc struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// CollectionDoc is the serialized form of performance.Collection.
type CollectionDoc struct {
	Mode       string        `yaml:"mode"`
	Interval   time.Duration `yaml:"interval"`
	MaxRecords int           `yaml:"maxRecords"`
	Records    []RecordDoc   `yaml:"records"`
}

// RecordDoc is the serialized form of one record.
type RecordDoc struct {
	Time    time.Time  `yaml:"time"`
	Mode    string     `yaml:"mode,omitempty"`
	System  SystemDoc  `yaml:"system"`
	UserIO  UserIODoc  `yaml:"userIO"`
	Process ProcessDoc `yaml:"process"`
}

type SystemDoc struct {
	IOWaitPercent    float64 `yaml:"ioWaitPercent"`
	IOWaitTime       uint64  `yaml:"ioWaitTime"`
	TotalCPUTime     uint64  `yaml:"totalCpuTime"`
	BlockedProcesses uint32  `yaml:"blockedProcesses"`
	TotalProcesses   uint32  `yaml:"totalProcesses"`
}

// StateCounts splits a counter by UID state.
type StateCounts struct {
	Foreground uint64 `yaml:"foreground"`
	Background uint64 `yaml:"background"`
}

type UserIODoc struct {
	TotalRead  StateCounts `yaml:"totalRead"`
	TotalWrite StateCounts `yaml:"totalWrite"`
	TotalFsync StateCounts `yaml:"totalFsync"`
	TopReads   []UserDoc   `yaml:"topReads"`
	TopWrites  []UserDoc   `yaml:"topWrites"`
	TopFsync   []UserDoc   `yaml:"topFsync"`
}

type UserDoc struct {
	UID   uint32      `yaml:"uid"`
	Name  string      `yaml:"name"`
	Read  StateCounts `yaml:"read"`
	Write StateCounts `yaml:"write"`
	Fsync StateCounts `yaml:"fsync"`
}

type ProcessDoc struct {
	TotalMajorFaults         uint64       `yaml:"totalMajorFaults"`
	MajorFaultsPercentChange float64      `yaml:"majorFaultsPercentChange"`
	TopIOBlocked             []ProcessRow `yaml:"topIOBlocked"`
	TopMajorFaults           []ProcessRow `yaml:"topMajorFaults"`
}

type ProcessRow struct {
	PID            int32  `yaml:"pid"`
	Comm           string `yaml:"comm"`
	UID            uint32 `yaml:"uid"`
	Name           string `yaml:"name"`
	Count          uint64 `yaml:"count"`
	OwnerTaskCount uint64 `yaml:"ownerTaskCount"`
}

func NewStatusDoc(status performance.DumpStatus) StatusDoc {
	doc := StatusDoc{
		Mode:    status.Mode.String(),
		Sources: make([]SourceDoc, 0, len(status.Sources)),
	}
	for _, s := range status.Sources {
		doc.Sources = append(doc.Sources, SourceDoc{Name: s.Name, Enabled: s.Enabled})
	}
	if status.LastError != nil {
		doc.LastError = status.LastError.Error()
	}
	return doc
}

func NewCollectionDoc(c performance.Collection) CollectionDoc {
	doc := CollectionDoc{
		Mode:       c.Mode.String(),
		Interval:   c.Interval,
		MaxRecords: c.MaxRecords,
		Records:    make([]RecordDoc, 0, len(c.Records)),
	}
	for _, r := range c.Records {
		doc.Records = append(doc.Records, NewRecordDoc(r))
	}
	return doc
}

// NewRecordDoc converts a record. Mode is left empty; callers that stream
// records outside a collection set it.
func NewRecordDoc(r performance.Record) RecordDoc {
	return RecordDoc{
		Time: r.Time.UTC(),
		System: SystemDoc{
			IOWaitPercent:    r.System.IOWaitPercent(),
			IOWaitTime:       r.System.IOWaitTime,
			TotalCPUTime:     r.System.TotalCPUTime,
			BlockedProcesses: r.System.BlockedProcesses,
			TotalProcesses:   r.System.TotalProcesses,
		},
		UserIO: UserIODoc{
			TotalRead:  states(r.UserIO.Total[performance.MetricRead]),
			TotalWrite: states(r.UserIO.Total[performance.MetricWrite]),
			TotalFsync: states(r.UserIO.TotalFsync),
			TopReads:   users(r.UserIO.TopNReads),
			TopWrites:  users(r.UserIO.TopNWrites),
			TopFsync:   users(r.UserIO.TopNFsync),
		},
		Process: ProcessDoc{
			TotalMajorFaults:         r.Process.TotalMajorFaults,
			MajorFaultsPercentChange: r.Process.MajorFaultsPercentChange,
			TopIOBlocked:             processes(r.Process.TopNIOBlocked),
			TopMajorFaults:           processes(r.Process.TopNMajorFaults),
		},
	}
}

func states(v [performance.UIDStates]uint64) StateCounts {
	return StateCounts{
		Foreground: v[performance.StateForeground],
		Background: v[performance.StateBackground],
	}
}

func users(in []performance.UserIOStats) []UserDoc {
	out := make([]UserDoc, 0, len(in))
	for _, u := range in {
		out = append(out, UserDoc{
			UID:   u.UID,
			Name:  u.Name,
			Read:  states(u.Bytes[performance.MetricRead]),
			Write: states(u.Bytes[performance.MetricWrite]),
			Fsync: states(u.Fsync),
		})
	}
	return out
}

func processes(in []performance.ProcessStats) []ProcessRow {
	out := make([]ProcessRow, 0, len(in))
	for _, p := range in {
		out = append(out, ProcessRow{
			PID:            p.PID,
			Comm:           p.Comm,
			UID:            p.UID,
			Name:           p.Name,
			Count:          p.Count,
			OwnerTaskCount: p.OwnerTaskCount,
		})
	}
	return out
}
