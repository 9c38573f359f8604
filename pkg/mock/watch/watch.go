// Package watch reports changes under a fixture root. Events are coalesced
// over a debounce window and delivered as a batch.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	pkglog "github.com/theroutercompany/mock_api/pkg/log"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 200 * time.Millisecond

// Event describes one change. Path is slash-separated and relative to the root.
type Event struct {
	Op   string    `json:"op"`
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   pkglog.Logger
	fsw      *fsnotify.Watcher
	now      func() time.Time
}

// New registers watches on root and every directory beneath it.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     abs,
		debounce: DefaultDebounce,
		logger:   pkglog.Shared(),
		fsw:      fsw,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	if err := w.addTree(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string { return w.root }

// Run delivers batches to onChange until ctx is cancelled. It closes the
// underlying watcher before returning.
func (w *Watcher) Run(ctx context.Context, onChange func([]Event)) error {
	defer w.fsw.Close()

	var (
		pending  = make(map[string]Event)
		debounce <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			e, keep := w.translate(evt)
			if !keep {
				continue
			}
			pending[e.Path] = e
			debounce = time.After(w.debounce)
		case <-debounce:
			debounce = nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]Event, 0, len(pending))
			for _, e := range pending {
				batch = append(batch, e)
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			pending = make(map[string]Event)
			if onChange != nil {
				onChange(batch)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warnw("fixture watch overflow, events dropped", "root", w.root)
				continue
			}
			w.logger.Warnw("fixture watch error", "error", err, "root", w.root)
		}
	}
}

func (w *Watcher) translate(evt fsnotify.Event) (Event, bool) {
	var op string
	switch {
	case evt.Has(fsnotify.Create):
		op = "create"
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.addTree(evt.Name); err != nil {
				w.logger.Warnw("failed to watch new directory", "error", err, "path", evt.Name)
			}
		}
	case evt.Has(fsnotify.Write):
		op = "write"
	case evt.Has(fsnotify.Remove):
		op = "remove"
	case evt.Has(fsnotify.Rename):
		op = "rename"
	default:
		return Event{}, false
	}

	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil {
		return Event{}, false
	}
	return Event{Op: op, Path: filepath.ToSlash(rel), Time: w.now().UTC()}, true
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
