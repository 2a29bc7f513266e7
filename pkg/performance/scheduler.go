// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Scheduler drives I/O performance collection through its modes:
//
//	INIT -> BOOT_TIME -> PERIODIC <-> CUSTOM, and any mode -> TERMINATED
//
// Control calls may come from any goroutine. Cycles run on a single worker
// goroutine, one message at a time. A single mutex guards the mode and the
// per-mode state; it is never held while a counter source is being read.
type Scheduler struct {
	config     Config
	logger     logr.Logger
	sources    Sources
	active     Sources // sources enabled at Start, read on every cycle
	identities *IdentityCache
	aggregator *Aggregator
	receivers  []Receiver

	mu             sync.Mutex
	mode           CollectionMode
	generation     uint64
	looper         *looper
	buffers        map[CollectionMode]*RetentionBuffer
	previous       map[CollectionMode]*RawSnapshot
	customInterval time.Duration
	lastError      error
}

type SchedulerOptions struct {
	Config    Config
	Logger    logr.Logger // The zero Logger discards
	Sources   Sources
	Resolver  IdentityResolver // Optional, users keep placeholder names without it
	Receivers []Receiver       // Optional, notified of every stored record
}

func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	config := opts.Config
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collection config: %w", err)
	}

	buffers := make(map[CollectionMode]*RetentionBuffer, 3)
	for mode, cfg := range map[CollectionMode]CollectionConfig{
		ModeBootTime: config.BootTime,
		ModePeriodic: config.Periodic,
		ModeCustom:   config.Custom,
	} {
		buffer, err := NewRetentionBuffer(cfg.MaxRecords)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s buffer: %w", mode, err)
		}
		buffers[mode] = buffer
	}

	logger := opts.Logger.WithName("ioperf")
	return &Scheduler{
		config:     config,
		logger:     logger,
		sources:    opts.Sources,
		identities: NewIdentityCache(opts.Resolver, logger),
		aggregator: NewAggregator(config.TopN),
		receivers:  opts.Receivers,
		mode:       ModeInit,
		buffers:    buffers,
		previous:   make(map[CollectionMode]*RawSnapshot),
	}, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Mode returns the current collection mode.
func (s *Scheduler) Mode() CollectionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// LastError returns the error that terminated collection, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Records returns a copy of the records retained for mode.
func (s *Scheduler) Records(mode CollectionMode) []Record {
	buffer, ok := s.buffers[mode]
	if !ok {
		return nil
	}
	return buffer.Records()
}

// Start begins boot-time collection on a new worker goroutine and returns
// immediately. It may only be called once. The sources enabled now are the
// ones read for the rest of the run; a source that later stops working ends
// collection.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeInit {
		return invalidState("start", s.mode)
	}
	if !s.sources.anyEnabled() {
		s.logger.Error(ErrNoSourcesEnabled, "cannot start collection")
		s.lastError = ErrNoSourcesEnabled
		s.switchModeLocked(ModeTerminated)
		return fmt.Errorf("start: %w", ErrNoSourcesEnabled)
	}

	for _, buffer := range s.buffers {
		buffer.Clear()
	}
	clear(s.previous)
	s.active = s.sources.enabledOnly()

	s.looper = newLooper(s.logger)
	s.looper.start(s.handleMessage)

	s.switchModeLocked(ModeBootTime)
	s.scheduleCollectLocked(ModeBootTime)
	s.logger.Info("started boot-time collection", "interval", s.config.BootTime.Interval)
	return nil
}

// OnBootFinished ends boot-time collection and begins periodic collection.
// Boot-time records are kept for the life of the service.
func (s *Scheduler) OnBootFinished() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeBootTime {
		return invalidState("boot finished", s.mode)
	}

	s.switchModeLocked(ModePeriodic)
	s.scheduleCollectLocked(ModePeriodic)
	s.logger.Info("switched to periodic collection",
		"boot_time_records", s.buffers[ModeBootTime].Len(),
		"interval", s.config.Periodic.Interval)
	return nil
}

// StartCustomCollection pauses periodic collection and collects every interval
// until EndCustomCollection is called or maxDuration elapses, whichever comes
// first. Zero values select the configured custom defaults.
func (s *Scheduler) StartCustomCollection(interval, maxDuration time.Duration) error {
	if interval == 0 {
		interval = s.config.Custom.Interval
	}
	if maxDuration == 0 {
		maxDuration = s.config.Custom.MaxDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModePeriodic {
		return invalidState("start custom collection", s.mode)
	}
	if interval < s.config.MinInterval {
		return fmt.Errorf("%w: interval %v is below the minimum %v", ErrInvalidArgument, interval, s.config.MinInterval)
	}
	if maxDuration < interval {
		return fmt.Errorf("%w: max duration %v is shorter than the interval %v", ErrInvalidArgument, maxDuration, interval)
	}

	s.buffers[ModeCustom].Clear()
	delete(s.previous, ModeCustom)
	s.customInterval = interval

	s.switchModeLocked(ModeCustom)
	s.scheduleCollectLocked(ModeCustom)
	s.looper.sendDelayed(maxDuration, message{
		kind:       messageEndCustom,
		mode:       ModeCustom,
		generation: s.generation,
	})
	s.logger.Info("started custom collection", "interval", interval, "max_duration", maxDuration)
	return nil
}

// EndCustomCollection ends the running custom collection, writes its records
// to sink and resumes periodic collection. The collection ends even when it
// gathered nothing, in which case ErrBufferEmpty is returned.
func (s *Scheduler) EndCustomCollection(sink Sink) error {
	if sink == nil {
		return fmt.Errorf("end custom collection: %w: nil sink", ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.mode != ModeCustom {
		mode := s.mode
		s.mu.Unlock()
		return invalidState("end custom collection", mode)
	}
	collection := s.collectionLocked(ModeCustom)
	s.endCustomLocked()
	s.mu.Unlock()

	if len(collection.Records) == 0 {
		return fmt.Errorf("end custom collection: %w", ErrBufferEmpty)
	}
	if err := sink.WriteCollection(collection); err != nil {
		return fmt.Errorf("failed to write custom collection: %w", err)
	}
	return nil
}

// Terminate stops collection for good and waits for the worker to exit.
// Retained records stay available to Dump. Calling it again is a no-op.
func (s *Scheduler) Terminate() {
	s.mu.Lock()
	if s.mode != ModeTerminated {
		s.logger.Info("terminating collection", "mode", s.mode)
		s.terminateLocked()
	}
	l := s.looper
	s.looper = nil
	s.mu.Unlock()

	if l != nil {
		l.wait()
	}
}

// Dump writes the scheduler status followed by the boot-time and periodic
// collections. The custom collection follows while one is running, or when
// collection stopped with custom records still held.
func (s *Scheduler) Dump(sink Sink) error {
	if sink == nil {
		return fmt.Errorf("dump: %w: nil sink", ErrInvalidArgument)
	}
	s.mu.Lock()
	status := DumpStatus{Mode: s.mode, LastError: s.lastError}
	collections := []Collection{
		s.collectionLocked(ModeBootTime),
		s.collectionLocked(ModePeriodic),
	}
	if s.mode == ModeCustom || s.buffers[ModeCustom].Len() > 0 {
		collections = append(collections, s.collectionLocked(ModeCustom))
	}
	s.mu.Unlock()

	status.Sources = s.sources.Status()
	if err := sink.WriteStatus(status); err != nil {
		return fmt.Errorf("failed to write dump status: %w", err)
	}
	for _, collection := range collections {
		if err := sink.WriteCollection(collection); err != nil {
			return fmt.Errorf("failed to write %s collection: %w", collection.Mode, err)
		}
	}
	return nil
}

func (s *Scheduler) collectionLocked(mode CollectionMode) Collection {
	var maxRecords int
	switch mode {
	case ModeBootTime:
		maxRecords = s.config.BootTime.MaxRecords
	case ModePeriodic:
		maxRecords = s.config.Periodic.MaxRecords
	case ModeCustom:
		maxRecords = s.config.Custom.MaxRecords
	}
	return Collection{
		Mode:       mode,
		Interval:   s.intervalLocked(mode),
		MaxRecords: maxRecords,
		Records:    s.buffers[mode].Records(),
	}
}

func (s *Scheduler) intervalLocked(mode CollectionMode) time.Duration {
	switch mode {
	case ModeBootTime:
		return s.config.BootTime.Interval
	case ModePeriodic:
		return s.config.Periodic.Interval
	case ModeCustom:
		if s.customInterval > 0 {
			return s.customInterval
		}
		return s.config.Custom.Interval
	default:
		return 0
	}
}

// switchModeLocked moves to mode and cancels every message armed for the
// previous mode.
func (s *Scheduler) switchModeLocked(mode CollectionMode) {
	s.logger.V(1).Info("collection mode changed", "from", s.mode, "to", mode)
	s.mode = mode
	s.generation++
}

func (s *Scheduler) scheduleCollectLocked(mode CollectionMode) {
	s.looper.sendDelayed(s.intervalLocked(mode), message{
		kind:       messageCollect,
		mode:       mode,
		generation: s.generation,
	})
}

func (s *Scheduler) endCustomLocked() {
	s.buffers[ModeCustom].Clear()
	delete(s.previous, ModeCustom)
	s.customInterval = 0

	s.switchModeLocked(ModePeriodic)
	s.scheduleCollectLocked(ModePeriodic)
}

// terminateLocked stops the worker without waiting for it, so the worker may
// call it while handling a message.
func (s *Scheduler) terminateLocked() {
	s.switchModeLocked(ModeTerminated)
	if s.looper != nil {
		s.looper.stop()
	}
}

func (s *Scheduler) isCurrentLocked(msg message) bool {
	return msg.mode.collects() && msg.generation == s.generation && msg.mode == s.mode
}

func (s *Scheduler) handleMessage(ctx context.Context, msg message) {
	switch msg.kind {
	case messageCollect:
		s.processCollect(ctx, msg)
	case messageEndCustom:
		s.processEndCustom(msg)
	default:
		s.logger.V(1).Info("ignoring unknown message", "kind", msg.kind)
	}
}

func (s *Scheduler) processCollect(ctx context.Context, msg message) {
	s.mu.Lock()
	current := s.isCurrentLocked(msg)
	sources := s.active
	s.mu.Unlock()
	if !current {
		s.logger.V(2).Info("dropping cancelled collection", "mode", msg.mode)
		return
	}

	snapshot, err := sources.read(ctx)
	if err == nil {
		snapshot.Time = time.Now()
		if err := s.identities.Refresh(ctx, snapshot.UIDs()); err != nil {
			s.logger.Error(err, "failed to resolve user names, using placeholders")
		}
	}

	s.mu.Lock()
	// A transition may have happened while the sources were being read.
	if !s.isCurrentLocked(msg) {
		s.mu.Unlock()
		s.logger.V(1).Info("discarding collection superseded by a mode change", "mode", msg.mode)
		return
	}
	if err != nil {
		s.logger.Error(err, "collection failed, terminating", "mode", msg.mode)
		s.lastError = err
		s.terminateLocked()
		s.mu.Unlock()
		return
	}

	record := s.aggregator.Aggregate(snapshot, s.previous[msg.mode], s.identities.Name)
	s.previous[msg.mode] = snapshot
	evicted := s.buffers[msg.mode].Append(record)
	s.scheduleCollectLocked(msg.mode)
	s.mu.Unlock()

	s.logger.V(1).Info("collected io perf record",
		"mode", msg.mode,
		"records", s.buffers[msg.mode].Len(),
		"evicted", evicted)
	s.publish(msg.mode, record)
}

func (s *Scheduler) processEndCustom(msg message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrentLocked(msg) {
		s.logger.V(2).Info("dropping cancelled custom collection timeout")
		return
	}
	s.logger.Info("custom collection reached its max duration, discarding records",
		"records", s.buffers[ModeCustom].Len())
	s.endCustomLocked()
}

func (s *Scheduler) publish(mode CollectionMode, record Record) {
	for _, receiver := range s.receivers {
		if err := receiver.Accept(&RecordEvent{Mode: mode, Record: record}); err != nil {
			s.logger.V(1).Info("receiver rejected record", "receiver", receiver.Name(), "error", err)
		}
	}
}
