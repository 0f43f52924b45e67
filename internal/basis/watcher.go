package basis

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives freshly loaded basis vectors.
type ReloadFunc func(vectors [][]float32) error

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Debounce time.Duration
	Logger   *zap.Logger
}

// DefaultWatcherOptions debounces bursts of writes for 200ms.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{Debounce: 200 * time.Millisecond}
}

// Watcher reloads a basis file whenever it changes on disk.
type Watcher struct {
	path     string
	onLoad   ReloadFunc
	debounce time.Duration
	logger   *zap.Logger

	fs       *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher for the basis file at path.
func NewWatcher(path string, onLoad ReloadFunc, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve basis path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     abs,
		onLoad:   onLoad,
		debounce: opts.Debounce,
		logger:   logger.With(zap.String("basis_file", abs)),
		fs:       fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the file's directory. It returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}
	// Editors often replace files by rename, so the directory is watched.
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watching = true
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fs.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("basis watcher error", zap.Error(err))
		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	vectors, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("basis reload skipped", zap.Error(err))
		return
	}
	if err := w.onLoad(vectors); err != nil {
		w.logger.Warn("basis rejected", zap.Error(err))
		return
	}
	w.logger.Info("basis reloaded", zap.Int("vectors", len(vectors)))
}
