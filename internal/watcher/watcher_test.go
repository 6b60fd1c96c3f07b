package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

const wait = 2 * time.Second

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func expectChange(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case _, ok := <-w.Changes():
		if !ok {
			t.Fatal("Changes() closed unexpectedly")
		}
	case <-time.After(wait):
		t.Fatal("no change signalled")
	}
}

func expectQuiet(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Changes():
		t.Fatal("unexpected change signalled")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", 0, nil); err == nil {
		t.Error("New(\"\") expected error, got nil")
	}

	w, err := New(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", w.debounce, DefaultDebounce)
	}
}

func TestStartCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	startWatcher(t, dir)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("Start() did not create %s: %v", dir, err)
	}
}

func TestSignalsOnSnapshotWrite(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "work.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectChange(t, w)

	if err := os.Remove(filepath.Join(dir, "work.json")); err != nil {
		t.Fatal(err)
	}
	expectChange(t, w)
}

func TestIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	if err := os.WriteFile(filepath.Join(dir, ".tmp-work.json-123"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectQuiet(t, w)
}

func TestCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	for _, name := range []string{"a.json", "b.json", "c.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	expectChange(t, w)
	expectQuiet(t, w)
}

func TestStop(t *testing.T) {
	w := startWatcher(t, t.TempDir())

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, ok := <-w.Changes(); ok {
		t.Error("Changes() should be closed after Stop()")
	}
	// Second stop is a no-op.
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	w, err := New(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if _, ok := <-w.Changes(); ok {
		t.Error("Changes() should be closed after Stop()")
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create", fsnotify.Event{Name: "/s/work.json", Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: "/s/work.json", Op: fsnotify.Write}, true},
		{"remove", fsnotify.Event{Name: "/s/work.json", Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: "/s/work.json", Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: "/s/work.json", Op: fsnotify.Chmod}, false},
		{"hidden temp", fsnotify.Event{Name: "/s/.tmp-work.json-1", Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relevant(tt.ev); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}
