package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize template watcher")

// reloadDebounce coalesces bursts of writes from editors into one reload.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads a template directory into a catalog's overrides whenever
// its contents change.
type Watcher struct {
	dir     string
	catalog *Catalog
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	reloads chan error
	stop    chan struct{}
}

// NewWatcher loads dir into catalog once and prepares to watch it.
func NewWatcher(dir string, catalog *Catalog, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := Reload(dir, catalog); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		catalog: catalog,
		watcher: fw,
		logger:  logger,
		reloads: make(chan error, 1),
		stop:    make(chan struct{}),
	}, nil
}

// Reload parses dir and replaces catalog's overrides. A parse or validation
// error leaves the previous overrides untouched.
func Reload(dir string, catalog *Catalog) error {
	templates, err := LoadDir(dir)
	if err != nil {
		return err
	}
	return catalog.ReplaceOverrides(templates)
}

// Start processes filesystem events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Reloads reports the outcome of each reload triggered by a change. Only the
// latest undelivered result is kept.
func (w *Watcher) Reloads() <-chan error {
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			err := Reload(w.dir, w.catalog)
			if err != nil {
				w.logger.Warn("template reload failed", zap.String("dir", w.dir), zap.Error(err))
			} else {
				w.logger.Info("templates reloaded", zap.String("dir", w.dir))
			}
			w.publish(err)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("template watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) publish(err error) {
	select {
	case <-w.reloads:
	default:
	}
	select {
	case w.reloads <- err:
	default:
	}
}
