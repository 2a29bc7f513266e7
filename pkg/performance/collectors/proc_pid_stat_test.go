// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !integration

package collectors_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/antimetal/watchdog/pkg/performance/collectors"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTask struct {
	tid   int
	state byte
}

type testProcess struct {
	pid         int
	comm        string
	uid         uint32
	state       byte
	majorFaults uint64
	blkioDelay  uint64
	tasks       []testTask
}

func statLine(pid int, comm string, state byte, majorFaults, blkioDelay uint64) string {
	// pid (comm) state ppid pgrp session tty tpgid flags minflt cminflt majflt
	fields := []string{
		fmt.Sprintf("%d (%s) %c", pid, comm, state),
		"1 1 1 0 -1 4194560 100 0",
		fmt.Sprintf("%d", majorFaults),
	}
	// cmajflt through blkio delay's predecessor.
	for i := 0; i < 29; i++ {
		fields = append(fields, "0")
	}
	fields = append(fields, fmt.Sprintf("%d", blkioDelay))
	return strings.Join(fields, " ") + "\n"
}

func statusContent(comm string, uid uint32) string {
	return fmt.Sprintf("Name:\t%s\nState:\tS (sleeping)\nUid:\t%d\t%d\t%d\t%d\nGid:\t0\t0\t0\t0\n", comm, uid, uid, uid, uid)
}

func createTestProcPidStat(t *testing.T, processes ...testProcess) *collectors.ProcPidStat {
	t.Helper()
	procPath := filepath.Join(t.TempDir(), "proc")
	require.NoError(t, os.MkdirAll(procPath, 0755))

	for _, p := range processes {
		dir := fmt.Sprintf("%d", p.pid)
		writeProcFile(t, procPath, filepath.Join(dir, "stat"), statLine(p.pid, p.comm, p.state, p.majorFaults, p.blkioDelay))
		writeProcFile(t, procPath, filepath.Join(dir, "status"), statusContent(p.comm, p.uid))
		for _, task := range p.tasks {
			writeProcFile(t, procPath, filepath.Join(dir, "task", fmt.Sprintf("%d", task.tid), "stat"),
				statLine(task.tid, p.comm, task.state, 0, 0))
		}
	}
	// Entries that are not processes must be ignored.
	writeProcFile(t, procPath, "stat", validStatContent)
	require.NoError(t, os.MkdirAll(filepath.Join(procPath, "sys"), 0755))

	source, err := collectors.NewProcPidStat(logr.Discard(), procPath)
	require.NoError(t, err)
	return source
}

func TestProcPidStat_Read(t *testing.T) {
	source := createTestProcPidStat(t,
		testProcess{
			pid: 1, comm: "init", uid: 0, state: 'S', majorFaults: 120, blkioDelay: 7,
			tasks: []testTask{{tid: 1, state: 'S'}},
		},
		testProcess{
			pid: 200, comm: "disk (writer) 2", uid: 1000, state: 'D', majorFaults: 55,
			tasks: []testTask{{tid: 200, state: 'D'}, {tid: 201, state: 'R'}, {tid: 202, state: 'D'}},
		},
		testProcess{
			pid: 300, comm: "no-tasks", uid: 1000, state: 'D', majorFaults: 0,
		},
	)
	require.True(t, source.Enabled())

	snapshot, err := source.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Processes, 3)

	processes := snapshot.Processes
	sort.Slice(processes, func(i, j int) bool { return processes[i].PID < processes[j].PID })

	assert.Equal(t, performance.ProcessCounters{
		PID: 1, UID: 0, Comm: "init", MajorFaults: 120, TotalTasks: 1, IOBlockedTasks: 0, BlkioDelayTicks: 7,
	}, processes[0])
	assert.Equal(t, performance.ProcessCounters{
		PID: 200, UID: 1000, Comm: "disk (writer) 2", MajorFaults: 55, TotalTasks: 3, IOBlockedTasks: 2,
	}, processes[1])
	assert.Equal(t, performance.ProcessCounters{
		PID: 300, UID: 1000, Comm: "no-tasks", TotalTasks: 1, IOBlockedTasks: 1,
	}, processes[2])

	assert.Equal(t, uint64(175), snapshot.TotalMajorFaults())
}

func TestProcPidStat_SkipsBrokenProcesses(t *testing.T) {
	source := createTestProcPidStat(t,
		testProcess{pid: 10, comm: "ok", uid: 1, state: 'S', majorFaults: 3, tasks: []testTask{{tid: 10, state: 'S'}}},
	)
	writeProcFile(t, source.Path(), "11/stat", "11 garbage\n")
	writeProcFile(t, source.Path(), "11/status", statusContent("garbage", 1))
	// A process that exited between listing and reading leaves an empty directory.
	require.NoError(t, os.MkdirAll(filepath.Join(source.Path(), "12"), 0755))

	snapshot, err := source.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Processes, 1)
	assert.Equal(t, int32(10), snapshot.Processes[0].PID)
}

func TestProcPidStat_MissingProcDir(t *testing.T) {
	source, err := collectors.NewProcPidStat(logr.Discard(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.False(t, source.Enabled())

	_, err = source.Read(context.Background())
	assert.Error(t, err)
}

func TestProcPidStat_CancelledContext(t *testing.T) {
	source := createTestProcPidStat(t, testProcess{pid: 1, comm: "init", state: 'S'})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := source.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
