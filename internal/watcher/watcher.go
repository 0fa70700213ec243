// Package watcher reports source changes below a directory, aggregating
// bursts of changes into a single notification.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often the tree is scanned in polling mode.
const DefaultPollInterval = time.Second

type Options struct {
	// Root is watched recursively.
	Root string
	// Skip lists directory names that are never descended into.
	Skip []string
	// AggregateTimeout is the quiet period after the last change before
	// OnChange is called.
	AggregateTimeout time.Duration
	// Poll scans the tree instead of relying on file system events.
	Poll         bool
	PollInterval time.Duration
}

// ChangeFunc receives the sorted set of paths changed since the last call.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches a directory tree for changes.
type Watcher struct {
	opts   Options
	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) (*Watcher, error) {
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %q is not a directory", opts.Root)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Watcher{opts: opts, logger: logger}, nil
}

// Run blocks until ctx is done, calling onChange after every aggregated
// burst of changes. Calls to onChange never overlap.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	changes := make(chan string, 100)

	var (
		source func(ctx context.Context, out chan<- string) error
		mode   string
	)
	if w.opts.Poll {
		source, mode = w.poll, "poll"
	} else {
		source, mode = w.notify, "native"
	}

	w.logger.Info().
		Str("root", w.opts.Root).
		Str("mode", mode).
		Dur("aggregate_timeout", w.opts.AggregateTimeout).
		Msg("Watching for changes")

	errc := make(chan error, 1)
	go func() {
		errc <- source(ctx, changes)
	}()

	return w.aggregate(ctx, changes, errc, onChange)
}

// aggregate collects paths until no change has arrived for the aggregate
// timeout, then hands the batch to onChange.
func (w *Watcher) aggregate(ctx context.Context, changes <-chan string, errc <-chan error, onChange ChangeFunc) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.opts.AggregateTimeout)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case err := <-errc:
			timer.Stop()
			if ctx.Err() != nil {
				return nil
			}
			return err

		case p := <-changes:
			pending[p] = struct{}{}
			timer.Reset(w.opts.AggregateTimeout)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			clear(pending)

			w.logger.Debug().Strs("paths", paths).Msg("Changes detected")
			onChange(ctx, paths)
		}
	}
}

func (w *Watcher) skipped(name string) bool {
	return slices.Contains(w.opts.Skip, name)
}

// walkDirs calls fn for every directory below the root that is not skipped.
func (w *Watcher) walkDirs(fn func(dir string) error) error {
	return filepath.WalkDir(w.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.Root && w.skipped(d.Name()) {
			return filepath.SkipDir
		}
		return fn(path)
	})
}

// notify uses native file system events. New directories are added to the
// watch list as they appear.
func (w *Watcher) notify(ctx context.Context, out chan<- string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.walkDirs(fsw.Add); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.Root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignoredPath(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fsw.Add(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			select {
			case out <- event.Name:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// ignoredPath reports whether any path element below the root is skipped.
func (w *Watcher) ignoredPath(path string) bool {
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil {
		return false
	}
	dir := filepath.Dir(rel)
	for dir != "." && dir != string(filepath.Separator) {
		if w.skipped(filepath.Base(dir)) {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return w.skipped(filepath.Base(rel))
}

type fileState struct {
	size    int64
	modTime time.Time
}

// poll scans the tree on an interval and reports added, changed and
// removed files.
func (w *Watcher) poll(ctx context.Context, out chan<- string) error {
	prev, err := w.snapshot()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		next, err := w.snapshot()
		if err != nil {
			w.logger.Warn().Err(err).Msg("Failed to scan for changes")
			continue
		}

		for _, p := range diff(prev, next) {
			select {
			case out <- p:
			case <-ctx.Done():
				return nil
			}
		}
		prev = next
	}
}

func (w *Watcher) snapshot() (map[string]fileState, error) {
	files := make(map[string]fileState)
	err := w.walkDirs(func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files[filepath.Join(dir, e.Name())] = fileState{size: info.Size(), modTime: info.ModTime()}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", w.opts.Root, err)
	}
	return files, nil
}

func diff(prev, next map[string]fileState) []string {
	var changed []string
	for p, n := range next {
		if o, ok := prev[p]; !ok || o.size != n.size || !o.modTime.Equal(n.modTime) {
			changed = append(changed, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			changed = append(changed, p)
		}
	}
	slices.Sort(changed)
	return changed
}
