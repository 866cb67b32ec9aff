// Package watch observes source files and triggers heal cycles when saves
// settle. Rapid saves are debounced so one editor session produces one cycle,
// not one per keystroke.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"remedy/internal/logging"
)

// HealFunc runs one heal cycle over the changed files.
type HealFunc func(ctx context.Context, files []string) error

// Stats tracks watcher activity.
type Stats struct {
	EventsReceived  int64
	EventsDebounced int64
	CyclesTriggered int64
	CycleErrors     int64
}

// Watcher triggers heal cycles on settled file changes.
type Watcher struct {
	workspace   string
	watcher     *fsnotify.Watcher
	heal        HealFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}

	mu    sync.Mutex
	stats Stats
}

// watchedExtensions limits events to source files the loop can act on.
var watchedExtensions = map[string]bool{
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
	".mjs": true,
	".go":  true,
	".css": true,
}

// New creates a watcher over the workspace tree.
func New(workspace string, heal HealFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		workspace:   workspace,
		watcher:     fw,
		heal:        heal,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start registers the workspace directories and begins watching. Returns
// after the watch loop is running; Stop shuts it down.
func (w *Watcher) Start(ctx context.Context) error {
	err := filepath.Walk(w.workspace, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasPrefix(name, ".") && path != w.workspace {
			return filepath.SkipDir
		}
		if name == "node_modules" || name == "vendor" || name == "dist" {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return err
	}

	go w.run(ctx)
	logging.WatchDebug("watching %s (debounce %s)", w.workspace, w.debounceDur)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

// Snapshot returns the current watcher activity counters.
func (w *Watcher) Snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
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
			logging.WatchDebug("watch error: %v", err)
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !watchedExtensions[filepath.Ext(event.Name)] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.EventsReceived++
	if _, pending := w.debounceMap[event.Name]; pending {
		w.stats.EventsDebounced++
	}
	w.debounceMap[event.Name] = time.Now()
}

// processSettled fires one heal cycle for every batch of files whose last
// event is older than the debounce window.
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	files := make([]string, 0, len(settled))
	for _, p := range settled {
		if rel, err := filepath.Rel(w.workspace, p); err == nil {
			files = append(files, rel)
		}
	}

	logging.WatchDebug("%d file(s) settled, triggering heal: %v", len(files), files)
	err := w.heal(ctx, files)

	w.mu.Lock()
	w.stats.CyclesTriggered++
	if err != nil {
		w.stats.CycleErrors++
	}
	w.mu.Unlock()

	if err != nil {
		logging.WatchDebug("heal cycle failed: %v", err)
	}
}
