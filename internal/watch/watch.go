// Package watch reruns a function when files under a set of roots change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/vormadev/outhash/kit/colorlog"
)

const DefaultDebounce = 100 * time.Millisecond

// Func receives the sorted, de-duplicated paths that changed since the last
// call.
type Func func(ctx context.Context, changed []string) error

type Watcher struct {
	log      *slog.Logger
	fsWatch  *fsnotify.Watcher
	roots    []string
	ignore   []string
	debounce time.Duration

	watchedDirs sync.Map
}

// New watches roots recursively. Ignore patterns are doublestar globs
// matched against absolute, slash-separated paths; relative patterns are
// anchored at each root.
func New(roots, ignore []string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.New("watch: no paths")
	}
	for _, p := range ignore {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, errors.Newf("watch: invalid ignore pattern %q", p)
		}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "watch")
	}
	w := &Watcher{
		log:      colorlog.Or(log),
		fsWatch:  fsWatch,
		debounce: debounce,
	}

	for _, r := range roots {
		abs := norm(r)
		w.roots = append(w.roots, abs)
		for _, p := range ignore {
			p = filepath.ToSlash(p)
			if !filepath.IsAbs(p) {
				p = abs + "/" + p
			}
			w.ignore = append(w.ignore, p)
		}
	}

	for _, r := range w.roots {
		if err := w.addDir(r); err != nil {
			fsWatch.Close()
			return nil, err
		}
	}
	return w, nil
}

func norm(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(abs)
}

// Ignored reports whether path, or a directory at path, is excluded.
func (w *Watcher) Ignored(path string) bool {
	p := norm(path)
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, p+"/"); ok {
			return true
		}
	}
	return false
}

// addDir watches root and every directory below it that is not ignored.
// A root that is a file is watched through its parent directory.
func (w *Watcher) addDir(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "watch %s", root)
	}
	if !info.IsDir() {
		return w.add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if path != root && w.Ignored(path) {
			return filepath.SkipDir
		}
		return w.add(path)
	})
}

func (w *Watcher) add(dir string) error {
	key := norm(dir)
	if _, exists := w.watchedDirs.Load(key); exists {
		return nil
	}
	if err := w.fsWatch.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	w.watchedDirs.Store(key, true)
	return nil
}

// removeStale drops watches on directories that no longer exist.
func (w *Watcher) removeStale() {
	w.watchedDirs.Range(func(key, _ any) bool {
		path := key.(string)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			_ = w.fsWatch.Remove(path)
			w.watchedDirs.Delete(path)
		}
		return true
	})
}

func (w *Watcher) inRoots(path string) bool {
	p := norm(path)
	for _, r := range w.roots {
		if p == r || len(p) > len(r) && p[:len(r)] == r && p[len(r)] == '/' {
			return true
		}
	}
	return false
}

// Run calls fn once per burst of changes until ctx is done. Calls never
// overlap; changes arriving while fn runs form the next burst. Errors from
// fn are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context, fn Func) error {
	defer w.fsWatch.Close()

	var (
		pending = make(map[string]bool)
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsWatch.Events:
			if !ok {
				return nil
			}
			if !w.relevant(evt) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addDir(evt.Name); err != nil {
						w.log.Warn("could not watch new directory", "dir", evt.Name, "error", err)
					}
				}
			}
			pending[filepath.ToSlash(evt.Name)] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsWatch.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			slices.Sort(changed)
			clear(pending)

			w.removeStale()
			w.log.Debug("change detected", "files", len(changed))
			if err := fn(ctx, changed); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.log.Error("rebuild failed", "error", err)
			}
		}
	}
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if !w.inRoots(evt.Name) {
		return false
	}
	if w.Ignored(evt.Name) {
		return false
	}
	return !isNonEmptyChmodOnly(evt)
}

// isNonEmptyChmodOnly skips permission changes. Some editors chmod an empty
// file before writing it, so those still count.
func isNonEmptyChmodOnly(evt fsnotify.Event) bool {
	if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Remove) ||
		evt.Has(fsnotify.Rename) {
		return false
	}
	info, err := os.Stat(evt.Name)
	if err != nil {
		return false
	}
	return info.Size() > 0
}
