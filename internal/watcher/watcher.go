// Package watcher watches inbox directories for bottle images. New or rewritten images
// are embedded and added after a debounce; removed or renamed images are removed.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/fileid"
	"github.com/hyperjump/bottlematch/internal/indexer"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives inbox changes. *indexer.Indexer implements it.
type Sink interface {
	IndexFile(ctx context.Context, path string) (models.Bottle, error)
	DeleteFile(ctx context.Context, path string) error
}

var _ Sink = (*indexer.Indexer)(nil)

// Watcher watches root directories and forwards image changes to a Sink.
type Watcher struct {
	sink       Sink
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	ctx       context.Context
	roots     []string
	rootPaths map[string][]string // root -> directories added to fsnotify
	pending   map[string]*time.Timer
	fsw       *fsnotify.Watcher
	started   bool
	done      chan struct{}
	stopOnce  sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithExtensions sets the image extensions that trigger indexing.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) {
		if len(exts) > 0 {
			w.extensions = exts
		}
	}
}

// WithRecursive makes the watcher descend into subdirectories.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithDebounce sets how long a file must stay quiet before it is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. Nothing is watched until Start.
func NewWatcher(roots []string, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		extensions: indexer.DefaultExtensions,
		debounce:   defaultDebounce,
		ctx:        context.Background(),
		roots:      append([]string(nil), roots...),
		rootPaths:  make(map[string][]string),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching. Missing roots are created. The watcher runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.started = true
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
		if fileid.IsImage(path, w.extensions) {
			w.remove(path)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if fileid.IsImage(path, w.extensions) {
			w.schedule(path)
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root (when recursive)
// and indexes the images already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	fsw := w.fsw
	root := w.rootOf(dir)
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		w.mu.Lock()
		w.rootPaths[root] = append(w.rootPaths[root], path)
		w.mu.Unlock()
		return nil
	})
	w.syncDirectory(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOf(path) != ""
}

func (w *Watcher) rootOf(path string) string {
	for _, root := range w.roots {
		root = filepath.Clean(root)
		if root == path || inDir(root, path) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)starts the debounce timer for path. Writers emit several events per
// file; only the last one triggers indexing.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.index(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) index(ctx context.Context, path string) {
	b, err := w.sink.IndexFile(ctx, path)
	if err != nil {
		w.logger.Warn("watcher failed to index image", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("bottle added from inbox", zap.String("id", b.ID), zap.String("path", path))
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if err := w.sink.DeleteFile(ctx, path); err != nil {
		w.logger.Warn("watcher failed to remove bottle", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("watcher removed bottle", zap.String("path", path))
}

// AddDirectory starts watching root. When syncExisting is set, images already in root
// are indexed in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

// RemoveDirectory stops watching root. Bottles already added from it are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for i, r := range w.roots {
		if filepath.Clean(r) != abs {
			continue
		}
		for _, p := range w.rootPaths[abs] {
			_ = w.fsw.Remove(p)
		}
		delete(w.rootPaths, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Debug("watcher directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles indexes the images already present in every root. Call it after
// Start to pick up files dropped while the server was down.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

func (w *Watcher) syncDirectory(dir string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	w.logger.Debug("watcher syncing directory", zap.String("dir", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if fileid.IsImage(path, w.extensions) {
			w.index(ctx, path)
		}
		return nil
	})
}

// Stop stops watching and drops pending index timers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
