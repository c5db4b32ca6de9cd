package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/bottlematch/internal/fileid"
	"github.com/hyperjump/bottlematch/internal/models"
)

type recordingSink struct {
	mu      sync.Mutex
	indexed []string
	removed []string
}

func (s *recordingSink) IndexFile(_ context.Context, path string) (models.Bottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, filepath.Base(path))
	return models.Bottle{ID: fileid.BottleID(path), Name: fileid.BottleName(path)}, nil
}

func (s *recordingSink) DeleteFile(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, filepath.Base(path))
	return nil
}

func (s *recordingSink) snapshot() (indexed, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	indexed = append([]string(nil), s.indexed...)
	removed = append([]string(nil), s.removed...)
	sort.Strings(indexed)
	return indexed, removed
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, roots []string, sink Sink, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	w := NewWatcher(roots, sink, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, nil, &recordingSink{})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_IndexesNewImages(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, []string{dir}, sink)

	if err := writeFile(filepath.Join(dir, "Oban_14.jpg"), "img"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "notes.txt"), "skip"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		return len(indexed) == 1
	})
	time.Sleep(150 * time.Millisecond)
	indexed, _ := sink.snapshot()
	if len(indexed) != 1 || indexed[0] != "Oban_14.jpg" {
		t.Errorf("indexed = %v, want [Oban_14.jpg]", indexed)
	}
}

func TestWatcher_RemovesDeletedImages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "talisker.png")
	if err := writeFile(path, "img"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	startWatcher(t, []string{dir}, sink)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, removed := sink.snapshot()
		return len(removed) == 1 && removed[0] == "talisker.png"
	})
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.JPEG", "ignore.txt"} {
		if err := writeFile(filepath.Join(dir, name), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "sub", "c.jpg"), "x"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := startWatcher(t, []string{dir}, sink)
	w.SyncExistingFiles()

	indexed, _ := sink.snapshot()
	if len(indexed) != 2 || indexed[0] != "a.jpg" || indexed[1] != "b.JPEG" {
		t.Errorf("indexed = %v, want [a.jpg b.JPEG]", indexed)
	}
}

func TestWatcher_RecursiveNewDirectory(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	startWatcher(t, []string{dir}, sink, WithRecursive(true))

	nested := filepath.Join(dir, "batch", "day1")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "lagavulin.jpg"), "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		for _, p := range indexed {
			if p == "lagavulin.jpg" {
				return true
			}
		}
		return false
	})
}

func TestWatcher_Start_createsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "new")
	startWatcher(t, []string{root}, &recordingSink{})
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.jpg", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab/c.jpg", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
