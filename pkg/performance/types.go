// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"fmt"
	"time"
)

// CollectionMode is the collection phase the scheduler is in.
type CollectionMode int

const (
	ModeInit CollectionMode = iota
	ModeBootTime
	ModePeriodic
	ModeCustom
	ModeTerminated
)

func (m CollectionMode) String() string {
	switch m {
	case ModeInit:
		return "INIT"
	case ModeBootTime:
		return "BOOT_TIME"
	case ModePeriodic:
		return "PERIODIC"
	case ModeCustom:
		return "CUSTOM"
	case ModeTerminated:
		return "TERMINATED"
	default:
		return "INVALID"
	}
}

// collects reports whether records are gathered in this mode.
func (m CollectionMode) collects() bool {
	return m == ModeBootTime || m == ModePeriodic || m == ModeCustom
}

// UID states as tracked by /proc/uid_io/stats.
const (
	StateForeground = iota
	StateBackground
	UIDStates
)

// I/O metric types.
const (
	MetricRead = iota
	MetricWrite
	MetricTypes
)

// UserIOCounters holds the cumulative I/O counters of one user.
type UserIOCounters struct {
	UID   uint32
	Bytes [MetricTypes][UIDStates]uint64
	Fsync [UIDStates]uint64
}

// UserIOSnapshot is one read of the per-user I/O counters.
type UserIOSnapshot struct {
	Users []UserIOCounters
}

// SystemSnapshot is one read of the system-wide CPU and process counters.
type SystemSnapshot struct {
	IOWaitTime       uint64 // cumulative CPU time waiting on I/O, in clock ticks
	TotalCPUTime     uint64 // cumulative CPU time across all states, in clock ticks
	BlockedProcesses uint32 // processes currently blocked on I/O
	RunningProcesses uint32 // processes currently runnable
}

// ProcessCounters holds the fault and delay counters of one process, summed
// over its tasks.
type ProcessCounters struct {
	PID             int32
	UID             uint32
	Comm            string
	MajorFaults     uint64 // cumulative major page faults
	TotalTasks      uint32
	IOBlockedTasks  uint32 // tasks currently in uninterruptible sleep
	BlkioDelayTicks uint64 // cumulative block I/O delay
}

// ProcessSnapshot is one read of the per-process counters.
type ProcessSnapshot struct {
	Processes []ProcessCounters
}

// TotalMajorFaults sums the major faults of every process in the snapshot.
func (s *ProcessSnapshot) TotalMajorFaults() uint64 {
	if s == nil {
		return 0
	}
	var total uint64
	for _, p := range s.Processes {
		total += p.MajorFaults
	}
	return total
}

// RawSnapshot groups one read from each counter source. A nil member means the
// source was disabled for that cycle.
type RawSnapshot struct {
	Time    time.Time
	UserIO  *UserIOSnapshot
	System  *SystemSnapshot
	Process *ProcessSnapshot
}

// UIDs returns every user id referenced by the snapshot.
func (s *RawSnapshot) UIDs() []uint32 {
	seen := make(map[uint32]struct{})
	var uids []uint32
	add := func(uid uint32) {
		if _, ok := seen[uid]; ok {
			return
		}
		seen[uid] = struct{}{}
		uids = append(uids, uid)
	}
	if s.UserIO != nil {
		for _, u := range s.UserIO.Users {
			add(u.UID)
		}
	}
	if s.Process != nil {
		for _, p := range s.Process.Processes {
			add(p.UID)
		}
	}
	return uids
}

// UserIOStats is one row of a per-user I/O top-N table.
type UserIOStats struct {
	UID   uint32
	Name  string
	Bytes [MetricTypes][UIDStates]uint64
	Fsync [UIDStates]uint64
}

// UserIOData is the per-user I/O part of a record.
type UserIOData struct {
	TopNReads  []UserIOStats
	TopNWrites []UserIOStats
	TopNFsync  []UserIOStats
	Total      [MetricTypes][UIDStates]uint64
	TotalFsync [UIDStates]uint64
}

// SystemData is the system-wide part of a record.
type SystemData struct {
	IOWaitTime       uint64
	TotalCPUTime     uint64
	BlockedProcesses uint32
	TotalProcesses   uint32
}

// IOWaitPercent returns the share of CPU time spent waiting on I/O.
func (d SystemData) IOWaitPercent() float64 {
	if d.TotalCPUTime == 0 {
		return 0
	}
	return float64(d.IOWaitTime) * 100 / float64(d.TotalCPUTime)
}

// ProcessStats is one row of a per-process top-N table.
type ProcessStats struct {
	PID   int32
	Comm  string
	UID   uint32
	Name  string // owning user's name
	Count uint64 // ranking key: I/O-blocked tasks or major faults
	// OwnerTaskCount is the number of tasks owned by the process's user.
	OwnerTaskCount uint64
}

// ProcessData is the per-process part of a record.
type ProcessData struct {
	TopNIOBlocked            []ProcessStats
	TopNMajorFaults          []ProcessStats
	TotalMajorFaults         uint64
	MajorFaultsPercentChange float64
}

// Record is one aggregated collection. Records are not modified after they are
// stored.
type Record struct {
	Time    time.Time
	UserIO  UserIOData
	System  SystemData
	Process ProcessData
}

// CollectionConfig configures one collection mode.
type CollectionConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxRecords  int           `yaml:"maxRecords"`
	MaxDuration time.Duration `yaml:"maxDuration,omitempty"` // custom collection only
}

// Config configures the scheduler. It is fixed once the scheduler is built.
type Config struct {
	TopN        int              `yaml:"topN"`
	MinInterval time.Duration    `yaml:"minInterval"`
	BootTime    CollectionConfig `yaml:"bootTime"`
	Periodic    CollectionConfig `yaml:"periodic"`
	Custom      CollectionConfig `yaml:"custom"`
}

const (
	DefaultTopN                = 5
	DefaultMinInterval         = time.Second
	DefaultBootTimeInterval    = time.Second
	DefaultPeriodicInterval    = 10 * time.Second
	DefaultPeriodicBufferSize  = 180
	DefaultCustomInterval      = 10 * time.Second
	DefaultCustomMaxDuration   = 30 * time.Minute
	defaultUnboundedBufferSize = 1 << 20
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TopN:        DefaultTopN,
		MinInterval: DefaultMinInterval,
		BootTime: CollectionConfig{
			Interval:   DefaultBootTimeInterval,
			MaxRecords: defaultUnboundedBufferSize,
		},
		Periodic: CollectionConfig{
			Interval:   DefaultPeriodicInterval,
			MaxRecords: DefaultPeriodicBufferSize,
		},
		Custom: CollectionConfig{
			Interval:    DefaultCustomInterval,
			MaxRecords:  defaultUnboundedBufferSize,
			MaxDuration: DefaultCustomMaxDuration,
		},
	}
}

// ApplyDefaults fills in zero values with defaults
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.TopN == 0 {
		c.TopN = defaults.TopN
	}
	if c.MinInterval == 0 {
		c.MinInterval = defaults.MinInterval
	}
	c.BootTime.applyDefaults(defaults.BootTime)
	c.Periodic.applyDefaults(defaults.Periodic)
	c.Custom.applyDefaults(defaults.Custom)
}

func (c *CollectionConfig) applyDefaults(defaults CollectionConfig) {
	if c.Interval == 0 {
		c.Interval = defaults.Interval
	}
	if c.MaxRecords == 0 {
		c.MaxRecords = defaults.MaxRecords
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = defaults.MaxDuration
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	if c.TopN <= 0 {
		return fmt.Errorf("topN must be positive, got %d", c.TopN)
	}
	if c.MinInterval <= 0 {
		return fmt.Errorf("minInterval must be positive, got %v", c.MinInterval)
	}
	for _, mc := range []struct {
		mode CollectionMode
		cfg  CollectionConfig
	}{
		{ModeBootTime, c.BootTime},
		{ModePeriodic, c.Periodic},
		{ModeCustom, c.Custom},
	} {
		if mc.cfg.Interval < c.MinInterval {
			return fmt.Errorf("%s interval %v is below the minimum %v", mc.mode, mc.cfg.Interval, c.MinInterval)
		}
		if mc.cfg.MaxRecords <= 0 {
			return fmt.Errorf("%s maxRecords must be positive, got %d", mc.mode, mc.cfg.MaxRecords)
		}
	}
	if c.Custom.MaxDuration < c.Custom.Interval {
		return fmt.Errorf("custom maxDuration %v is shorter than its interval %v", c.Custom.MaxDuration, c.Custom.Interval)
	}
	return nil
}
