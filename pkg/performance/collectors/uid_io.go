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

var _ performance.CounterSource[*performance.UserIOSnapshot] = (*UidIoStats)(nil)

// Column layout of /proc/uid_io/stats:
//
//	uid fg_rchar fg_wchar fg_read_bytes fg_write_bytes bg_rchar bg_wchar bg_read_bytes bg_write_bytes fg_fsync bg_fsync
const (
	uidIoColumns      = 11
	uidIoFgReadBytes  = 3
	uidIoFgWriteBytes = 4
	uidIoBgReadBytes  = 7
	uidIoBgWriteBytes = 8
	uidIoFgFsync      = 9
	uidIoBgFsync      = 10
)

// UidIoStats reads the per-user storage I/O counters from /proc/uid_io/stats.
// Only bytes that reached the storage layer are reported; the rchar and wchar
// columns also count page cache hits and are ignored.
type UidIoStats struct {
	baseSource
}

func NewUidIoStats(logger logr.Logger, procPath string) (*UidIoStats, error) {
	if err := validateProcPath(procPath); err != nil {
		return nil, err
	}
	return &UidIoStats{
		baseSource: newBaseSource("uid_io_stats", filepath.Join(procPath, "uid_io", "stats"), logger),
	}, nil
}

func (c *UidIoStats) Read(ctx context.Context) (*performance.UserIOSnapshot, error) {
	file, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.path, err)
	}
	defer file.Close()

	snapshot := &performance.UserIOSnapshot{}
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if line%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		counters, err := parseUidIoLine(text)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", c.path, line, err)
		}
		snapshot.Users = append(snapshot.Users, counters)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.path, err)
	}

	c.logger.V(2).Info("read user io counters", "users", len(snapshot.Users))
	return snapshot, nil
}

func parseUidIoLine(line string) (performance.UserIOCounters, error) {
	var counters performance.UserIOCounters

	fields := strings.Fields(line)
	if len(fields) != uidIoColumns {
		return counters, fmt.Errorf("%w: expected %d columns, got %d", ErrMalformed, uidIoColumns, len(fields))
	}

	uid, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return counters, fmt.Errorf("%w: invalid uid %q", ErrMalformed, fields[0])
	}
	counters.UID = uint32(uid)

	values := make([]uint64, uidIoColumns)
	for i := 1; i < uidIoColumns; i++ {
		values[i], err = strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return counters, fmt.Errorf("%w: invalid value %q in column %d", ErrMalformed, fields[i], i)
		}
	}

	counters.Bytes[performance.MetricRead][performance.StateForeground] = values[uidIoFgReadBytes]
	counters.Bytes[performance.MetricWrite][performance.StateForeground] = values[uidIoFgWriteBytes]
	counters.Bytes[performance.MetricRead][performance.StateBackground] = values[uidIoBgReadBytes]
	counters.Bytes[performance.MetricWrite][performance.StateBackground] = values[uidIoBgWriteBytes]
	counters.Fsync[performance.StateForeground] = values[uidIoFgFsync]
	counters.Fsync[performance.StateBackground] = values[uidIoBgFsync]
	return counters, nil
}
