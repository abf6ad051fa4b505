package registry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MagicBeansAI/magictunnel/internal/log"
)

// DebounceWindow is the minimum coalescing window for bursts of filesystem
// events before a reload is triggered (spec §4.R Algorithm step 6).
const DebounceWindow = 250 * time.Millisecond

// Watcher watches a set of directories for changes and triggers Catalog
// reloads, coalescing bursts into a single reload per debounce window.
type Watcher struct {
	watcher *fsnotify.Watcher
	catalog *Catalog
	roots   map[string]bool // canonicalized absolute directories being watched
}

// NewWatcher creates a Watcher over the directories containing each root
// glob/path, canonicalizing both sides (spec §4.R Path-matching edge
// case) so relative and absolute configuration never miss events.
func NewWatcher(catalog *Catalog, roots []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := map[string]bool{}
	for _, root := range roots {
		dir := filepath.Dir(root)
		abs, err := canonicalize(dir)
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		if !dirs[abs] {
			if err := fw.Add(abs); err != nil {
				_ = fw.Close()
				return nil, err
			}
			dirs[abs] = true
		}
	}
	return &Watcher{watcher: fw, catalog: catalog, roots: dirs}, nil
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

// Run blocks, debouncing filesystem events and triggering a Catalog.Reload
// after each quiet period, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			log.Emit(log.Debug, "registry.watch", "filesystem event observed", map[string]interface{}{
				"path": ev.Name, "op": ev.Op.String(),
			})
			if timer == nil {
				timer = time.NewTimer(DebounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(DebounceWindow)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			if _, err := w.catalog.Reload(ctx); err != nil {
				log.Emit(log.Error, "registry.watch", "reload failed", map[string]interface{}{"error": err.Error()})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Emit(log.Error, "registry.watch", "watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
