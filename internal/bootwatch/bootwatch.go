// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bootwatch signals the end of system boot when a marker file shows
// up on disk.
package bootwatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watcher calls its callback exactly once, as soon as the marker file exists.
type Watcher struct {
	path    string
	logger  logr.Logger
	watcher *fsnotify.Watcher
	onBoot  func()

	fireOnce  sync.Once
	fired     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New starts watching for the marker at path. If the marker already exists,
// onBoot runs before New returns. The parent directory of path must exist.
func New(path string, onBoot func(), logger logr.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("boot marker path is required")
	}
	if onBoot == nil {
		return nil, errors.New("boot callback is required")
	}

	w := &Watcher{
		path:   filepath.Clean(path),
		logger: logger.WithName("bootwatch"),
		onBoot: onBoot,
		fired:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	// Watch before checking so a marker created in between is not missed.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			w.logger.Error(cerr, "failed to close fs watcher")
		}
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	if w.markerExists() {
		w.fire("marker present at startup")
		return w, nil
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Fired returns a channel closed once the callback has run.
func (w *Watcher) Fired() <-chan struct{} {
	return w.fired
}

// Close stops watching. The callback does not run after Close returns.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-w.fired:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.logger.V(1).Info("received marker event", "file", event.Name, "op", event.Op)

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		w.fire("marker created")
	}
}

func (w *Watcher) markerExists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}

// fire runs the callback at most once.
func (w *Watcher) fire(reason string) {
	w.fireOnce.Do(func() {
		w.logger.Info("boot finished", "marker", w.path, "reason", reason)
		w.onBoot()
		close(w.fired)
	})
}
