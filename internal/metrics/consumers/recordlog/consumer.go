// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package recordlog persists every I/O performance record to size and time
// rotated YAML files.
package recordlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/watchdog/internal/metrics"
)

// Compile-time check
var _ metrics.Consumer = (*Consumer)(nil)

const (
	consumerName = "recordlog"
	filePrefix   = "ioperf-"
	fileSuffix   = ".yaml"
)

var ErrNotStarted = errors.New("record log consumer not started")

// Consumer implements metrics.Consumer by writing records to disk
type Consumer struct {
	config Config
	logger logr.Logger

	// Internal state
	mu            sync.Mutex
	writer        *Writer
	currentFile   *os.File
	currentPath   string
	currentSize   int64
	rotationTimer *time.Timer
	started       bool
	stopped       bool
	healthy       atomic.Bool
	lastError     atomic.Pointer[error]

	// Statistics
	eventsReceived atomic.Uint64
	eventsWritten  atomic.Uint64
	eventsDropped  atomic.Uint64
	bytesWritten   atomic.Uint64
	filesCreated   atomic.Uint64
}

// NewConsumer creates a new record log consumer
func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(config.OutputPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	consumer := &Consumer{
		config: config,
		logger: logger.WithName(consumerName),
	}

	consumer.healthy.Store(true)
	return consumer, nil
}

// Name returns the consumer name
func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent writes the record carried by an io_perf event. Other events are
// ignored.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	if event.MetricType != metrics.MetricTypeIOPerf {
		return nil
	}
	c.eventsReceived.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		c.eventsDropped.Add(1)
		return ErrNotStarted
	}

	if c.config.MaxFileSize > 0 && c.currentSize >= c.config.MaxFileSize {
		if err := c.rotateLocked(); err != nil {
			c.eventsDropped.Add(1)
			c.setLastError(err)
			return fmt.Errorf("failed to rotate file: %w", err)
		}
	}

	n, err := c.writer.WriteRecord(event)
	c.currentSize += n
	c.bytesWritten.Add(uint64(n))
	if err != nil {
		c.eventsDropped.Add(1)
		c.setLastError(err)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		c.setLastError(err)
		return fmt.Errorf("failed to flush record: %w", err)
	}

	c.eventsWritten.Add(1)
	return nil
}

// Start opens the first log file and stops the consumer when ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("consumer already started")
	}

	if err := c.rotateLocked(); err != nil {
		return fmt.Errorf("failed to create initial file: %w", err)
	}
	c.started = true

	c.rotationTimer = time.AfterFunc(c.config.RotationInterval, c.timedRotation)

	go func() {
		<-ctx.Done()
		if err := c.Stop(); err != nil {
			c.logger.Error(err, "failed to stop record log consumer")
		}
	}()

	c.logger.Info("record log consumer started",
		"output_path", c.config.OutputPath,
		"rotation_interval", c.config.RotationInterval,
		"max_file_size", c.config.MaxFileSize,
		"max_files", c.config.MaxFiles)

	return nil
}

// rotateLocked closes the current file and opens a new one (caller must hold mutex)
func (c *Consumer) rotateLocked() error {
	if err := c.closeFileLocked(); err != nil {
		c.logger.Error(err, "failed to close current file", "path", c.currentPath)
	}

	seq := c.filesCreated.Add(1)
	filename := fmt.Sprintf("%s%s-%06d%s", filePrefix, time.Now().UTC().Format("20060102-150405"), seq, fileSuffix)
	path := filepath.Join(c.config.OutputPath, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	c.currentFile = file
	c.currentPath = path
	c.currentSize = 0
	c.writer = NewWriter(file, c.config.BufferSize, c.logger)

	c.logger.V(1).Info("rotated to new record log file", "path", path)

	if c.config.MaxFiles > 0 {
		c.cleanupOldFiles()
	}
	return nil
}

func (c *Consumer) closeFileLocked() error {
	var errs []error
	if c.writer != nil {
		errs = append(errs, c.writer.Close())
		c.writer = nil
	}
	if c.currentFile != nil {
		errs = append(errs, c.currentFile.Close())
		c.currentFile = nil
	}
	return errors.Join(errs...)
}

// timedRotation handles periodic rotation
func (c *Consumer) timedRotation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if err := c.rotateLocked(); err != nil {
		c.logger.Error(err, "failed to rotate file")
		c.setLastError(err)
	}
	c.rotationTimer.Reset(c.config.RotationInterval)
}

// cleanupOldFiles removes the oldest log files beyond MaxFiles. File names
// sort chronologically.
func (c *Consumer) cleanupOldFiles() {
	matches, err := filepath.Glob(filepath.Join(c.config.OutputPath, filePrefix+"*"+fileSuffix))
	if err != nil {
		c.logger.Error(err, "failed to list record log files")
		return
	}
	if len(matches) <= c.config.MaxFiles {
		return
	}

	sort.Strings(matches)
	for _, path := range matches[:len(matches)-c.config.MaxFiles] {
		if path == c.currentPath {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Error(err, "failed to remove old record log file", "path", path)
			continue
		}
		c.logger.V(1).Info("removed old record log file", "path", path)
	}
}

// CurrentPath returns the file records are currently written to.
func (c *Consumer) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPath
}

// Health returns the current health status
func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}

	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsReceived.Load(),
		ErrorsCount: c.eventsDropped.Load(),
	}
}

// setLastError stores the most recent error
func (c *Consumer) setLastError(err error) {
	c.lastError.Store(&err)
	c.healthy.Store(false)
}

// Stop flushes and closes the current file. It is safe to call more than once.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true

	if c.rotationTimer != nil {
		c.rotationTimer.Stop()
		c.rotationTimer = nil
	}
	err := c.closeFileLocked()

	c.logger.Info("record log consumer stopped",
		"events_received", c.eventsReceived.Load(),
		"events_written", c.eventsWritten.Load(),
		"events_dropped", c.eventsDropped.Load(),
		"bytes_written", c.bytesWritten.Load(),
		"files_created", c.filesCreated.Load())

	return err
}
