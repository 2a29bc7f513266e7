// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antimetal/watchdog/pkg/performance"
)

const (
	fixtureStat = `cpu  1000 100 500 8000 400 0 0 0 0 0
cpu0 1000 100 500 8000 400 0 0 0 0 0
procs_running 3
procs_blocked 1
`
	fixtureUidIo = `0 100 200 4096 8192 0 0 0 0 3 0
10001 50 60 1024 2048 10 20 512 256 1 2
`
)

func writeFixture(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newFixtureScheduler(t *testing.T) *performance.Scheduler {
	t.Helper()
	scheduler, _ := newFixtureSchedulerAt(t)
	return scheduler
}

func newFixtureSchedulerAt(t *testing.T) (*performance.Scheduler, string) {
	t.Helper()
	procPath := filepath.Join(t.TempDir(), "proc")
	writeFixture(t, procPath, "stat", fixtureStat)
	writeFixture(t, procPath, "uid_io/stats", fixtureUidIo)

	logger := zapr.NewLogger(zaptest.NewLogger(t))
	setupLog = logger.WithName("setup")

	sources, err := newSources(logger, procPath)
	require.NoError(t, err)

	cfg := performance.DefaultConfig()
	cfg.MinInterval = 10 * time.Millisecond
	cfg.BootTime.Interval = 20 * time.Millisecond

	scheduler, err := performance.NewScheduler(performance.SchedulerOptions{
		Config:  cfg,
		Logger:  logger,
		Sources: sources,
	})
	require.NoError(t, err)
	t.Cleanup(scheduler.Terminate)
	return scheduler, procPath
}

func TestPipeline_BootTimeDump(t *testing.T) {
	defer func(prev string) { dumpFormat = prev }(dumpFormat)
	scheduler := newFixtureScheduler(t)
	require.NoError(t, scheduler.Start())

	require.Eventually(t, func() bool {
		return len(scheduler.Records(performance.ModeBootTime)) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, scheduler.OnBootFinished())

	var buf bytes.Buffer
	dumpFormat = "text"
	require.NoError(t, dumpTo(&buf, scheduler.Dump))
	out := buf.String()
	assert.Contains(t, out, "Collection mode: PERIODIC")
	assert.Contains(t, out, "BOOT_TIME collection")
	assert.Contains(t, out, "Blocked processes: 1/4")
}

func TestHandleControl_TogglesCustomCollection(t *testing.T) {
	scheduler := newFixtureScheduler(t)
	require.NoError(t, scheduler.Start())
	require.NoError(t, scheduler.OnBootFinished())

	handleControl(scheduler, syscall.SIGUSR2)
	assert.Equal(t, performance.ModeCustom, scheduler.Mode())

	// Ending before the first custom cycle still returns to periodic.
	handleControl(scheduler, syscall.SIGUSR2)
	assert.Equal(t, performance.ModePeriodic, scheduler.Mode())

	handleControl(scheduler, syscall.SIGUSR1)
	assert.Equal(t, performance.ModePeriodic, scheduler.Mode())
}

func TestPipeline_VanishedCounterFileTerminates(t *testing.T) {
	scheduler, procPath := newFixtureSchedulerAt(t)
	require.NoError(t, scheduler.Start())
	require.Eventually(t, func() bool {
		return len(scheduler.Records(performance.ModeBootTime)) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(procPath, "uid_io", "stats")))
	require.Eventually(t, func() bool {
		return scheduler.Mode() == performance.ModeTerminated
	}, 5*time.Second, 10*time.Millisecond)

	err := scheduler.LastError()
	assert.ErrorIs(t, err, performance.ErrSourceRead)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "uid_io_stats")

	records := scheduler.Records(performance.ModeBootTime)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, scheduler.Records(performance.ModeBootTime), len(records))
}
