// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package recordlog

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/antimetal/watchdog/internal/metrics"
	"github.com/antimetal/watchdog/internal/report"
	"github.com/antimetal/watchdog/pkg/performance"
)

// Writer appends records to one log file as a stream of YAML documents.
type Writer struct {
	buf    *bufio.Writer
	count  *countingWriter
	sink   *report.YAMLSink
	logger logr.Logger
}

// NewWriter creates a writer on top of w. Nothing reaches w until Flush or Close.
func NewWriter(w io.Writer, bufferSize int, logger logr.Logger) *Writer {
	buf := bufio.NewWriterSize(w, bufferSize)
	count := &countingWriter{w: buf}
	return &Writer{
		buf:    buf,
		count:  count,
		sink:   report.NewYAMLSink(count),
		logger: logger.WithName("recordlog-writer"),
	}
}

// WriteRecord writes the record carried by event and returns the number of
// bytes it took.
func (w *Writer) WriteRecord(event metrics.MetricEvent) (int64, error) {
	recordEvent, ok := event.Data.(*performance.RecordEvent)
	if !ok || recordEvent == nil {
		return 0, fmt.Errorf("expected *performance.RecordEvent, got %T", event.Data)
	}

	before := w.count.n
	if err := w.sink.WriteRecord(recordEvent.Mode, recordEvent.Record); err != nil {
		return w.count.n - before, err
	}
	written := w.count.n - before

	w.logger.V(2).Info("wrote record", "mode", recordEvent.Mode, "bytes", written)
	return written, nil
}

func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close ends the YAML stream and flushes buffered data. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if err := w.sink.Close(); err != nil {
		return err
	}
	return w.buf.Flush()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
