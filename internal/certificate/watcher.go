package certificate

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// DefaultDebounceDelay coalesces bursts of writes to one reload.
const DefaultDebounceDelay = 100 * time.Millisecond

// ReloadFunc is called after a changed file was loaded into the key set.
type ReloadFunc func(path string, added int, err error)

// KeyFileWatcher adds the keys of peer gateway certificates to a
// TrustedKeySet whenever their PEM files change. Keys are only ever
// added, so a rotated or corrupt file never revokes trust.
type KeyFileWatcher struct {
	keys          *TrustedKeySet
	paths         map[string]struct{}
	watcher       *fsnotify.Watcher
	logger        observability.Logger
	debounceDelay time.Duration
	onReload      ReloadFunc

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

// WatcherOption configures a KeyFileWatcher.
type WatcherOption func(*KeyFileWatcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger observability.Logger) WatcherOption {
	return func(w *KeyFileWatcher) {
		w.logger = logger
	}
}

// WithDebounceDelay sets how long to wait for writes to settle.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *KeyFileWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithReloadHook sets a function called after every reload attempt.
func WithReloadHook(fn ReloadFunc) WatcherOption {
	return func(w *KeyFileWatcher) {
		w.onReload = fn
	}
}

// NewKeyFileWatcher creates a watcher for paths feeding keys.
func NewKeyFileWatcher(keys *TrustedKeySet, paths []string, opts ...WatcherOption) (*KeyFileWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &KeyFileWatcher{
		keys:          keys,
		paths:         make(map[string]struct{}, len(paths)),
		watcher:       fsWatcher,
		logger:        observability.NopLogger(),
		debounceDelay: DefaultDebounceDelay,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
		w.paths[abs] = struct{}{}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the directories of the configured files. Directories are
// watched instead of files so that replacement by rename is seen.
func (w *KeyFileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dirs := make(map[string]struct{})
	for p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}

	w.running = true
	go w.watch(ctx)

	w.logger.Info("watching trusted gateway certificates",
		observability.Int("files", len(w.paths)),
	)
	return nil
}

// Stop ends watching and releases the underlying watcher.
func (w *KeyFileWatcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	var err error
	w.closeOnce.Do(func() {
		if wasRunning {
			close(w.stopCh)
			<-w.stoppedCh
		}
		err = w.watcher.Close()
	})
	return err
}

func (w *KeyFileWatcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	pending := make(map[string]struct{})
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			path := filepath.Clean(event.Name)
			if _, watched := w.paths[path]; !watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[path] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			for path := range pending {
				w.reload(path)
				delete(pending, path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("certificate watcher error", observability.Error(err))
		}
	}
}

func (w *KeyFileWatcher) reload(path string) {
	added, err := w.keys.SeedFromFiles(path)
	if err != nil {
		w.logger.Warn("failed to reload trusted gateway certificate",
			observability.String("path", path),
			observability.Error(err),
		)
	} else {
		w.logger.Info("trusted gateway certificate reloaded",
			observability.String("path", path),
			observability.Int("added", added),
			observability.Int("keys", w.keys.Len()),
		)
	}
	if w.onReload != nil {
		w.onReload(path, added, err)
	}
}
