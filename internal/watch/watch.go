// Package watch triggers remediation runs when watched source files change.
//
// The watcher monitors the project tree recursively, coalesces bursts of
// filesystem events until they settle past a debounce window, and then
// invokes a single trigger callback with the changed paths. A rate limiter
// enforces a minimum interval between triggered runs; a change that
// arrives too early stays pending and fires once the interval elapses.
//
// The trigger callback runs the remediation itself, and fixers write
// source files. Events observed while the callback runs, and for a short
// quiet period after it returns, are therefore the run's own writes and
// are discarded. A user edit landing inside that window is dropped; the
// next edit triggers normally.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// defaultDebounce is the settle window for event bursts.
	defaultDebounce = 500 * time.Millisecond

	// tickInterval is how often pending events are checked for settling.
	tickInterval = 100 * time.Millisecond

	// quietPeriod is how long the watcher keeps discarding events after
	// the trigger callback returns.
	quietPeriod = 200 * time.Millisecond
)

// Config holds watcher configuration.
type Config struct {
	// Root is the project root. Required.
	Root string

	// Paths are watched directories relative to Root. Empty means the
	// root itself.
	Paths []string

	// Debounce is the settle window for event bursts.
	Debounce time.Duration

	// MinInterval is the shortest time between two triggered runs. Zero
	// disables rate limiting.
	MinInterval time.Duration

	// Ignore lists additional base names or root-relative paths that
	// never trigger, typically the report artifact.
	Ignore []string
}

// Trigger is invoked once per settled change with the changed paths,
// relative to the root and sorted. It runs on the watcher goroutine.
type Trigger func(ctx context.Context, changed []string)

// Stats tracks watcher activity for debugging.
type Stats struct {
	Events        int
	Triggers      int
	Discarded     int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher owns the filesystem watches and the trigger loop.
type Watcher struct {
	mu      sync.RWMutex
	config  Config
	watcher *fsnotify.Watcher
	trigger Trigger
	limiter *rate.Limiter
	logger  *zap.Logger
	ignore  map[string]struct{}
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stats   Stats
}

// New creates a watcher for the given root. The trigger is required.
func New(cfg Config, trigger Trigger, logger *zap.Logger) (*Watcher, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	ignore := make(map[string]struct{}, len(cfg.Ignore))
	for _, name := range cfg.Ignore {
		ignore[filepath.ToSlash(name)] = struct{}{}
	}

	return &Watcher{
		config:  cfg,
		watcher: fsw,
		trigger: trigger,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		ignore:  ignore,
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start adds the watches and begins the trigger loop. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	roots := w.config.Paths
	if len(roots) == 0 {
		roots = []string{"."}
	}

	dirs := 0
	for _, p := range roots {
		n, err := w.addRecursive(filepath.Join(w.config.Root, p))
		if err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		dirs += n
	}
	if dirs == 0 {
		return fmt.Errorf("no watchable directories under %s", w.config.Root)
	}

	w.logger.Info("watching for changes",
		zap.String("root", w.config.Root),
		zap.Int("dirs", dirs),
		zap.Duration("debounce", w.config.Debounce),
		zap.Duration("min_interval", w.config.MinInterval))

	go w.run(ctx)

	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("closing filesystem watcher", zap.Error(err))
	}
}

// IsWatching reports whether the loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// WatchedDirs returns the directories currently being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}

// addRecursive walks dir and adds a watch for every non-ignored
// directory, returning how many were added.
func (w *Watcher) addRecursive(dir string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("adding watch on %s: %w", path, err)
		}
		added++
		return nil
	})
	return added, err
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tickInterval)
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
			w.logger.Warn("filesystem watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.maybeTrigger(ctx)
		}
	}
}

// handleEvent records one filesystem event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if w.ignored(event.Name) {
		return
	}

	// A created directory needs its own watch before files inside it
	// produce events.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}

	rel := w.relPath(event.Name)

	w.mu.Lock()
	w.pending[rel] = time.Now()
	w.stats.Events++
	w.stats.LastEventPath = rel
	w.stats.LastEventTime = time.Now()
	w.mu.Unlock()
}

// maybeTrigger fires the callback once the pending events have settled
// and the rate limiter permits a run. Pending events survive a denied
// permit and are retried on the next tick.
func (w *Watcher) maybeTrigger(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	var newest time.Time
	for _, at := range w.pending {
		if at.After(newest) {
			newest = at
		}
	}
	if time.Since(newest) < w.config.Debounce {
		w.mu.Unlock()
		return
	}

	if !w.limiter.Allow() {
		w.mu.Unlock()
		return
	}

	changed := make([]string, 0, len(w.pending))
	for path := range w.pending {
		changed = append(changed, path)
	}
	sort.Strings(changed)
	w.pending = make(map[string]time.Time)
	w.stats.Triggers++
	w.mu.Unlock()

	w.logger.Info("change settled, triggering run", zap.Int("files", len(changed)))
	w.trigger(ctx, changed)
	w.drainOwnWrites(ctx)
}

// drainOwnWrites discards events until the stream has been quiet for
// quietPeriod. The callback's fixers wrote source files, and those writes
// are still arriving when it returns.
func (w *Watcher) drainOwnWrites(ctx context.Context) {
	discarded := 0
	defer func() {
		if discarded > 0 {
			w.mu.Lock()
			w.stats.Discarded += discarded
			w.mu.Unlock()
			w.logger.Debug("discarded events from triggered run", zap.Int("events", discarded))
		}
	}()

	timer := time.NewTimer(quietPeriod)
	defer timer.Stop()

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
			// New directories created by the run still need watches so
			// later edits inside them are seen.
			if event.Op&fsnotify.Create != 0 && !w.ignored(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_, _ = w.addRecursive(event.Name)
					continue
				}
			}
			discarded++
			timer.Reset(quietPeriod)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))

		case <-timer.C:
			return
		}
	}
}

// ignored reports whether a path never triggers: anything under a dot
// directory, dot files, editor backups, and the configured ignore list.
func (w *Watcher) ignored(path string) bool {
	rel := w.relPath(path)

	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}

	base := filepath.Base(path)
	if strings.HasSuffix(base, "~") {
		return true
	}
	if _, ok := w.ignore[base]; ok {
		return true
	}
	if _, ok := w.ignore[rel]; ok {
		return true
	}
	return false
}

// relPath converts an event path to a slash-separated path relative to
// the root, falling back to the input when it is outside the root.
func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
