// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/antimetal/watchdog/pkg/performance"
)

var _ performance.Sink = (*TextSink)(nil)

const rule = "--------------------------------------------------------------------------------"

// TextSink renders dumps as aligned, human readable tables.
type TextSink struct {
	w io.Writer
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) WriteStatus(status performance.DumpStatus) error {
	p := &printer{w: s.w}
	p.printf("I/O performance collection\n%s\n", rule)
	p.printf("Collection mode: %s\n", status.Mode)
	for _, src := range status.Sources {
		state := "enabled"
		if !src.Enabled {
			state = "disabled"
		}
		p.printf("Source %s: %s\n", src.Name, state)
	}
	if status.LastError != nil {
		p.printf("Collection stopped on error: %v\n", status.LastError)
	}
	return p.err
}

func (s *TextSink) WriteCollection(collection performance.Collection) error {
	p := &printer{w: s.w}
	p.printf("\n%s collection (interval %v, max %d records): %d records\n%s\n",
		collection.Mode, collection.Interval, collection.MaxRecords, len(collection.Records), rule)
	for i, record := range collection.Records {
		s.writeRecord(p, i, record)
	}
	return p.err
}

func (s *TextSink) writeRecord(p *printer, index int, r performance.Record) {
	p.printf("\nRecord %d at %s\n", index+1, r.Time.UTC().Format("2006-01-02 15:04:05"))
	p.printf("CPU I/O wait: %.2f%% | Blocked processes: %d/%d | Major faults: %d (%+.2f%%)\n",
		r.System.IOWaitPercent(), r.System.BlockedProcesses, r.System.TotalProcesses,
		r.Process.TotalMajorFaults, r.Process.MajorFaultsPercentChange)

	total := r.UserIO.Total
	p.printf("Total read: %s fg / %s bg | Total write: %s fg / %s bg | Total fsync: %d fg / %d bg\n",
		bytes(total[performance.MetricRead][performance.StateForeground]),
		bytes(total[performance.MetricRead][performance.StateBackground]),
		bytes(total[performance.MetricWrite][performance.StateForeground]),
		bytes(total[performance.MetricWrite][performance.StateBackground]),
		r.UserIO.TotalFsync[performance.StateForeground],
		r.UserIO.TotalFsync[performance.StateBackground])

	s.writeUsers(p, "Top reads", r.UserIO.TopNReads, func(u performance.UserIOStats) [performance.UIDStates]uint64 {
		return u.Bytes[performance.MetricRead]
	}, true)
	s.writeUsers(p, "Top writes", r.UserIO.TopNWrites, func(u performance.UserIOStats) [performance.UIDStates]uint64 {
		return u.Bytes[performance.MetricWrite]
	}, true)
	s.writeUsers(p, "Top fsync", r.UserIO.TopNFsync, func(u performance.UserIOStats) [performance.UIDStates]uint64 {
		return u.Fsync
	}, false)
	s.writeProcesses(p, "Top I/O blocked", "BLOCKED TASKS", r.Process.TopNIOBlocked)
	s.writeProcesses(p, "Top major faults", "MAJOR FAULTS", r.Process.TopNMajorFaults)
}

func (s *TextSink) writeUsers(p *printer, title string, rows []performance.UserIOStats,
	value func(performance.UserIOStats) [performance.UIDStates]uint64, inBytes bool) {
	if len(rows) == 0 {
		return
	}
	p.printf("%s:\n", title)
	tw := tabwriter.NewWriter(p, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  USER\tUID\tFOREGROUND\tBACKGROUND\t")
	for _, u := range rows {
		v := value(u)
		fg, bg := fmt.Sprint(v[performance.StateForeground]), fmt.Sprint(v[performance.StateBackground])
		if inBytes {
			fg, bg = bytes(v[performance.StateForeground]), bytes(v[performance.StateBackground])
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t\n", u.Name, u.UID, fg, bg)
	}
	_ = tw.Flush()
}

func (s *TextSink) writeProcesses(p *printer, title, countHeader string, rows []performance.ProcessStats) {
	if len(rows) == 0 {
		return
	}
	p.printf("%s:\n", title)
	tw := tabwriter.NewWriter(p, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "  USER\tPID\tCOMMAND\t%s\tOWNER TASKS\t\n", countHeader)
	for _, proc := range rows {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\t%s\t%d\t%d\t\n", proc.Name, proc.PID, sanitize(proc.Comm), proc.Count, proc.OwnerTaskCount)
	}
	_ = tw.Flush()
}

func bytes(v uint64) string {
	return humanize.IBytes(v)
}

// sanitize keeps process names from breaking table columns.
func sanitize(comm string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return ' '
		}
		return r
	}, comm)
}

// printer remembers the first write error so rendering code stays linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	if err != nil {
		p.err = err
	}
	return n, err
}

func (p *printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p, format, args...)
}
