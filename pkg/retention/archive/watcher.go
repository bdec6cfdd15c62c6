package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"permafrost-hq/permafrost/pkg/retention"
)

// TamperWatcher observes the filesystem backend's tier directories for
// out-of-band writes and removals and flags the touched records for
// priority integrity verification. It is purely advisory: it never
// mutates tier state itself.
type TamperWatcher struct {
	watcher  *fsnotify.Watcher
	backend  *FilesystemBackend
	manager  *Manager
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTamperWatcher creates a watcher over the backend's tier
// directories. debounce collapses event bursts from bulk operations;
// 0 selects a 500ms default.
func NewTamperWatcher(backend *FilesystemBackend, manager *Manager, debounce time.Duration) (*TamperWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	for _, tier := range []retention.Tier{retention.TierWarm, retention.TierCold, retention.TierEternal} {
		if err := watcher.Add(backend.TierDir(tier)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch tier directory: %w", err)
		}
	}

	return &TamperWatcher{
		watcher:  watcher,
		backend:  backend,
		manager:  manager,
		logger:   slog.Default().With("component", "retention.archive.watcher"),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch runs until the context is cancelled or Stop is called,
// flagging records whose payload files change on disk.
func (w *TamperWatcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("tamper watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	flush := func() {
		for key := range pending {
			w.manager.FlagForVerification(key)
			w.logger.Warn("out-of-band change detected, record flagged for verification",
				"key", key)
		}
		pending = make(map[string]struct{})
		flushCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			key, ok := w.backend.KeyForPath(event.Name)
			if !ok {
				continue
			}
			pending[key] = struct{}{}

			if flushTimer == nil {
				flushTimer = time.NewTimer(w.debounce)
			} else {
				flushTimer.Reset(w.debounce)
			}
			flushCh = flushTimer.C

		case <-flushCh:
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("tamper watcher error", "error", err)
		}
	}
}

// Stop halts the watcher and waits for Watch to return.
func (w *TamperWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
