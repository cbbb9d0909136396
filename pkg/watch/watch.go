// Package watch feeds local filesystem changes into the sync queue.
//
// A recursive fsnotify watcher observes a root directory; write bursts are
// debounced per file so editors that write in several passes produce one
// upload task, not five.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/store/state"
	"github.com/functionland/fulasync/pkg/syncer"
)

// DefaultDebounce is how long a file must stay quiet before it is queued.
const DefaultDebounce = 500 * time.Millisecond

// Config describes one watched directory tree.
type Config struct {
	// Dir is the root directory to watch recursively.
	Dir string `mapstructure:"dir" validate:"required"`

	// Bucket is the destination bucket for queued uploads.
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Prefix is prepended to the relative path to form the object key.
	Prefix string `mapstructure:"prefix"`

	// Encrypt requests client-side encryption for queued uploads.
	Encrypt bool `mapstructure:"encrypt"`

	// Debounce is the quiet period before a changed file is queued. Zero
	// means DefaultDebounce.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Enqueuer accepts upload tasks. *syncer.Queue is the production
// implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, req syncer.EnqueueRequest) (*state.Task, error)
}

// Watcher turns filesystem events under a root into upload tasks.
//
// Thread Safety: Run owns all mutable state; the watcher is driven by a
// single goroutine.
type Watcher struct {
	cfg     Config
	queue   Enqueuer
	watcher *fsnotify.Watcher
}

// New creates a watcher for the configured root. The root must exist.
func New(cfg Config, queue Enqueuer) (*Watcher, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", cfg.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", cfg.Dir)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	return &Watcher{cfg: cfg, queue: queue, watcher: fsw}, nil
}

// Run watches until ctx is canceled. New subdirectories are added to the
// watch as they appear; files are queued once their debounce window closes.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	if err := w.addRecursive(w.cfg.Dir); err != nil {
		return err
	}
	logger.Info("watching %s -> %s/%s", w.cfg.Dir, w.cfg.Bucket, w.cfg.Prefix)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(ctx, pending, time.Time{})
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, pending)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("filesystem watcher error: %v", err)

		case now := <-ticker.C:
			w.flush(ctx, pending, now.Add(-w.cfg.Debounce))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, pending map[string]time.Time) {
	if ignored(filepath.Base(event.Name)) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				logger.Warn("failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
		pending[event.Name] = time.Now()
	}
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		delete(pending, event.Name)
	}
}

// flush queues every pending file whose last event is at or before cutoff.
// A zero cutoff flushes everything.
func (w *Watcher) flush(ctx context.Context, pending map[string]time.Time, cutoff time.Time) {
	for path, last := range pending {
		if !cutoff.IsZero() && last.After(cutoff) {
			continue
		}
		delete(pending, path)

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}

		key, err := w.keyFor(path)
		if err != nil {
			logger.Warn("skipping %s: %v", path, err)
			continue
		}

		if _, err := w.queue.Enqueue(ctx, syncer.EnqueueRequest{
			LocalPath: path,
			Bucket:    w.cfg.Bucket,
			Key:       key,
			Direction: state.DirectionUpload,
			Encrypt:   w.cfg.Encrypt,
		}); err != nil {
			logger.Error("failed to enqueue %s: %v", path, err)
		}
	}
}

// keyFor maps a local path to its object key under the configured prefix.
func (w *Watcher) keyFor(path string) (string, error) {
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the watch root", path)
	}
	key := filepath.ToSlash(rel)
	if w.cfg.Prefix != "" {
		key = strings.TrimSuffix(w.cfg.Prefix, "/") + "/" + key
	}
	return key, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignored(d.Name()) && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// ignored filters editor droppings and our own temp files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp")
}
