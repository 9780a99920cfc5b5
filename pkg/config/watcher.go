// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors the settings file and reloads it on change. It uses
// file system notifications and falls back to polling the modification
// time when a watch cannot be established.
type Watcher struct {
	mu          sync.RWMutex
	path        string
	interval    time.Duration
	debounce    time.Duration
	forcePoll   bool
	lastModTime time.Time
	config      *Config
	listeners   []func(*Config)
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	started     atomic.Bool
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval used by the fallback.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithPolling skips file system notifications and polls instead.
func WithPolling() WatcherOption {
	return func(w *Watcher) { w.forcePoll = true }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads path and prepares to watch it.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: time.Second,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if abs, err := filepath.Abs(path); err == nil {
		w.path = abs
	}

	if info, err := os.Stat(path); err == nil {
		w.lastModTime = info.ModTime()
	}
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if w.forcePoll {
		go w.poll(ctx)
		return
	}
	fw, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory: editors often replace the file on save.
		err = fw.Add(filepath.Dir(w.path))
		if err != nil {
			_ = fw.Close()
		}
	}
	if err != nil {
		w.logger.Warn("config.watch.fallback", slog.String("error", err.Error()), slog.Duration("interval", w.interval))
		go w.poll(ctx)
		return
	}
	go w.notify(ctx, fw)
}

// Stop stops the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.started.Load() {
		<-w.doneCh
	}
}

func (w *Watcher) notify(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.doneCh)
	defer fw.Close()

	target := filepath.Clean(w.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config.watch.error", slog.String("error", err.Error()))
		case <-timer.C:
			w.markSeen()
			w.reload()
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) markSeen() {
	if info, err := os.Stat(w.path); err == nil {
		w.mu.Lock()
		w.lastModTime = info.ModTime()
		w.mu.Unlock()
	}
}

func (w *Watcher) checkForChanges() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().After(w.lastModTime) {
		w.lastModTime = info.ModTime()
		return true
	}
	return false
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Failed to reload settings, keeping the previous ones", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("Reloaded settings")
	for _, fn := range listeners {
		fn(cfg)
	}
}
