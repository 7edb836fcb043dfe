package permissions

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a layer's rules file on change. Edits that fail to
// parse or validate are logged and skipped; the previous rules stay active.
type Watcher struct {
	set  *RuleSet
	path string
	fsw  *fsnotify.Watcher
}

// Watch loads the rules file into set and begins watching it for changes
// until ctx is cancelled.
func Watch(ctx context.Context, set *RuleSet, path string) (*Watcher, error) {
	if err := set.LoadFile(path); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files via rename, which drops a
	// watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{set: set, path: path, fsw: fsw}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.fsw.Close()

	var debounce *time.Timer
	reload := func() {
		if err := w.set.LoadFile(w.path); err != nil {
			slog.Warn("permissions.reload_failed", "path", w.path, "error", err)
			return
		}
		slog.Info("permissions.reloaded", "path", w.path, "layer", w.set.layer.String())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("permissions.watch_error", "path", w.path, "error", err)
		}
	}
}
