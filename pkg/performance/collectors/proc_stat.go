// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
)

var _ performance.CounterSource[*performance.SystemSnapshot] = (*ProcStat)(nil)

// Indexes into the aggregate cpu line of /proc/stat, after the "cpu" label.
const (
	cpuUser = iota
	cpuNice
	cpuSystem
	cpuIdle
	cpuIOWait
	cpuIRQ
	cpuSoftIRQ
	cpuSteal
	cpuTimeFields // guest and guest_nice are already part of user and nice
)

// ProcStat reads system-wide CPU time and process state counters from /proc/stat.
//
// The cpu line, procs_running and procs_blocked are required; the rest of the
// file is ignored.
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#miscellaneous-kernel-statistics-in-proc-stat
type ProcStat struct {
	baseSource
}

func NewProcStat(logger logr.Logger, procPath string) (*ProcStat, error) {
	if err := validateProcPath(procPath); err != nil {
		return nil, err
	}
	return &ProcStat{
		baseSource: newBaseSource("proc_stat", filepath.Join(procPath, "stat"), logger),
	}, nil
}

func (c *ProcStat) Read(ctx context.Context) (*performance.SystemSnapshot, error) {
	file, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.path, err)
	}
	defer file.Close()

	snapshot := &performance.SystemSnapshot{}
	var haveCPU, haveRunning, haveBlocked bool

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		switch fields[0] {
		case "cpu":
			if err := parseCPULine(fields[1:], snapshot); err != nil {
				return nil, fmt.Errorf("%s: %w", c.path, err)
			}
			haveCPU = true
		case "procs_running":
			value, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: %w: invalid procs_running %q", c.path, ErrMalformed, fields[1])
			}
			snapshot.RunningProcesses = uint32(value)
			haveRunning = true
		case "procs_blocked":
			value, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: %w: invalid procs_blocked %q", c.path, ErrMalformed, fields[1])
			}
			snapshot.BlockedProcesses = uint32(value)
			haveBlocked = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.path, err)
	}

	switch {
	case !haveCPU:
		return nil, fmt.Errorf("%s: %w: missing cpu line", c.path, ErrMalformed)
	case !haveRunning:
		return nil, fmt.Errorf("%s: %w: missing procs_running", c.path, ErrMalformed)
	case !haveBlocked:
		return nil, fmt.Errorf("%s: %w: missing procs_blocked", c.path, ErrMalformed)
	}

	c.logger.V(2).Info("read system counters",
		"iowait", snapshot.IOWaitTime,
		"total", snapshot.TotalCPUTime,
		"running", snapshot.RunningProcesses,
		"blocked", snapshot.BlockedProcesses)
	return snapshot, nil
}

func parseCPULine(fields []string, snapshot *performance.SystemSnapshot) error {
	if len(fields) < cpuTimeFields {
		return fmt.Errorf("%w: cpu line has %d fields, expected at least %d", ErrMalformed, len(fields), cpuTimeFields)
	}

	var total uint64
	for i := 0; i < cpuTimeFields; i++ {
		value, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid cpu time %q", ErrMalformed, fields[i])
		}
		if i == cpuIOWait {
			snapshot.IOWaitTime = value
		}
		total += value
	}
	snapshot.TotalCPUTime = total
	return nil
}
