package config

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Limits is the hot-reloadable subset of the configuration. A snapshot is
// taken per request so a reload never changes limits mid-upload.
type Limits struct {
	Upload   Upload
	Pipeline Pipeline
}

// Watcher watches the configuration file and atomically swaps the tunable
// limits when it changes. Invalid updates are logged and ignored; the last
// good snapshot stays in effect.
type Watcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Limits]
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher seeded with the limits from cfg. When path is
// empty the watcher is inert and only serves the seed snapshot.
func NewWatcher(path string, cfg *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{path: path, logger: logger}
	w.current.Store(&Limits{Upload: cfg.Upload, Pipeline: cfg.Pipeline})

	if path == "" {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and configmap mounts replace the file
	// instead of writing it in place.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.watcher = fsw
	return w, nil
}

// Limits returns the current snapshot.
func (w *Watcher) Limits() Limits {
	return *w.current.Load()
}

// Run processes file events until the context is cancelled. It is a no-op
// for inert watchers.
func (w *Watcher) Run(ctx context.Context) {
	if w.watcher == nil {
		return
	}
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config update",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.current.Store(&Limits{Upload: cfg.Upload, Pipeline: cfg.Pipeline})
	w.logger.Info("reloaded limits",
		zap.Int64("upload_max_bytes", cfg.Upload.MaxBytes),
		zap.Int("upload_max_parts", cfg.Upload.MaxParts),
		zap.Int("worker_concurrency", cfg.Pipeline.WorkerConcurrency),
		zap.Duration("request_timeout", cfg.Pipeline.RequestTimeout),
	)
}
