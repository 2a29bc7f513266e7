// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

type messageKind int

const (
	// messageCollect runs one collection cycle for message.mode.
	messageCollect messageKind = iota
	// messageEndCustom ends a custom collection that reached its max duration.
	messageEndCustom
)

func (k messageKind) String() string {
	switch k {
	case messageCollect:
		return "collect"
	case messageEndCustom:
		return "end-custom"
	default:
		return "unknown"
	}
}

// message is delivered to the worker. generation ties it to the transition that
// armed it; a message from an older generation has been cancelled.
type message struct {
	kind       messageKind
	mode       CollectionMode
	generation uint64
}

// looper runs messages one at a time on a dedicated goroutine.
type looper struct {
	logger logr.Logger
	queue  chan message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func newLooper(logger logr.Logger) *looper {
	ctx, cancel := context.WithCancel(context.Background())
	return &looper{
		logger: logger.WithName("looper"),
		queue:  make(chan message, 8),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[*time.Timer]struct{}),
	}
}

// start launches the worker goroutine that passes each message to handle.
func (l *looper) start(handle func(ctx context.Context, msg message)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.logger.V(1).Info("worker started")
		for {
			select {
			case <-l.ctx.Done():
				l.logger.V(1).Info("worker stopped")
				return
			case msg := <-l.queue:
				l.logger.V(2).Info("handling message", "kind", msg.kind, "mode", msg.mode, "generation", msg.generation)
				handle(l.ctx, msg)
			}
		}
	}()
}

// sendDelayed delivers msg to the worker after delay. Messages armed after stop
// are dropped.
func (l *looper) sendDelayed(delay time.Duration, msg message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, timer)
		l.mu.Unlock()

		select {
		case l.queue <- msg:
		case <-l.ctx.Done():
		}
	})
	l.timers[timer] = struct{}{}
}

// stop halts the worker and every pending timer. It does not wait for an
// in-flight message, so it may be called from the worker itself.
func (l *looper) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel()
	for timer := range l.timers {
		timer.Stop()
	}
	clear(l.timers)
}

// wait blocks until the worker goroutine has exited.
func (l *looper) wait() {
	l.wg.Wait()
}
