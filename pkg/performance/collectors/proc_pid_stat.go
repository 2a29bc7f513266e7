// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
)

var _ performance.CounterSource[*performance.ProcessSnapshot] = (*ProcPidStat)(nil)

// Field positions in /proc/[pid]/stat counted from the state field, which is
// the first field after the parenthesised comm.
const (
	statState          = 0
	statMajorFaults    = 9
	statBlkioDelay     = 39
	statMinFieldsAfter = statMajorFaults + 1
)

// ProcPidStat reads per-process fault and task state counters from
// /proc/[pid]/stat, /proc/[pid]/status and /proc/[pid]/task/[tid]/stat.
//
// Processes that exit while being read are skipped. Only a failure to list
// /proc itself fails the read.
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#process-specific-subdirectories
type ProcPidStat struct {
	baseSource
}

func NewProcPidStat(logger logr.Logger, procPath string) (*ProcPidStat, error) {
	if err := validateProcPath(procPath); err != nil {
		return nil, err
	}
	return &ProcPidStat{
		baseSource: newBaseSource("proc_pid_stat", procPath, logger),
	}, nil
}

func (c *ProcPidStat) Read(ctx context.Context) (*performance.ProcessSnapshot, error) {
	entries, err := os.ReadDir(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.path, err)
	}

	snapshot := &performance.ProcessSnapshot{}
	skipped := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		process, err := c.readProcess(int32(pid))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.V(1).Info("skipping process", "pid", pid, "error", err)
			}
			skipped++
			continue
		}
		snapshot.Processes = append(snapshot.Processes, process)
	}

	c.logger.V(2).Info("read process counters", "processes", len(snapshot.Processes), "skipped", skipped)
	return snapshot, nil
}

func (c *ProcPidStat) readProcess(pid int32) (performance.ProcessCounters, error) {
	pidDir := filepath.Join(c.path, strconv.Itoa(int(pid)))
	process := performance.ProcessCounters{PID: pid}

	data, err := os.ReadFile(filepath.Join(pidDir, "stat"))
	if err != nil {
		return process, err
	}
	stat, err := parsePidStat(data)
	if err != nil {
		return process, err
	}
	process.Comm = stat.comm
	process.MajorFaults = stat.majorFaults
	process.BlkioDelayTicks = stat.blkioDelay

	process.UID, err = readStatusUID(filepath.Join(pidDir, "status"))
	if err != nil {
		return process, err
	}

	process.TotalTasks, process.IOBlockedTasks = c.readTasks(filepath.Join(pidDir, "task"))
	if process.TotalTasks == 0 {
		// Kernels without task directories still describe the main thread.
		process.TotalTasks = 1
		if stat.state == 'D' {
			process.IOBlockedTasks = 1
		}
	}
	return process, nil
}

// readTasks counts the tasks of a process and how many of them are in
// uninterruptible sleep. Tasks that exit mid-read are not counted.
func (c *ProcPidStat) readTasks(taskDir string) (total, blocked uint32) {
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(taskDir, entry.Name(), "stat"))
		if err != nil {
			continue
		}
		stat, err := parsePidStat(data)
		if err != nil {
			continue
		}
		total++
		if stat.state == 'D' {
			blocked++
		}
	}
	return total, blocked
}

type pidStat struct {
	comm        string
	state       byte
	majorFaults uint64
	blkioDelay  uint64
}

// parsePidStat parses a stat line. comm may contain spaces and parentheses,
// so it is delimited by the first '(' and the last ')'.
func parsePidStat(data []byte) (pidStat, error) {
	var stat pidStat

	open := bytes.IndexByte(data, '(')
	closing := bytes.LastIndexByte(data, ')')
	if open < 0 || closing < open {
		return stat, fmt.Errorf("%w: stat line has no comm", ErrMalformed)
	}
	stat.comm = string(data[open+1 : closing])

	fields := strings.Fields(string(data[closing+1:]))
	if len(fields) < statMinFieldsAfter {
		return stat, fmt.Errorf("%w: stat line has %d fields after comm", ErrMalformed, len(fields))
	}
	if len(fields[statState]) != 1 {
		return stat, fmt.Errorf("%w: invalid state %q", ErrMalformed, fields[statState])
	}
	stat.state = fields[statState][0]

	var err error
	stat.majorFaults, err = strconv.ParseUint(fields[statMajorFaults], 10, 64)
	if err != nil {
		return stat, fmt.Errorf("%w: invalid majflt %q", ErrMalformed, fields[statMajorFaults])
	}
	// delayacct_blkio_ticks is missing on old kernels.
	if len(fields) > statBlkioDelay {
		if stat.blkioDelay, err = strconv.ParseUint(fields[statBlkioDelay], 10, 64); err != nil {
			return stat, fmt.Errorf("%w: invalid delayacct_blkio_ticks %q", ErrMalformed, fields[statBlkioDelay])
		}
	}
	return stat, nil
}

// readStatusUID returns the real user id from a /proc/[pid]/status file.
func readStatusUID(path string) (uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "Uid:"))
		if len(fields) == 0 {
			break
		}
		uid, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid uid %q", ErrMalformed, fields[0])
		}
		return uint32(uid), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%w: %s has no Uid line", ErrMalformed, path)
}
