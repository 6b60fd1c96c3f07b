package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cxlinux/cx/internal/layout"
)

func testLayout(cwd string) layout.Workspace {
	return layout.Workspace{Windows: []layout.Window{
		{
			Title: "main",
			Tabs: []layout.Tab{
				{
					Title: "dev",
					Nodes: []layout.Node{
						{Split: layout.Vertical, Ratio: 0.6, First: 1, Second: 2},
						{Pane: &layout.Pane{WorkingDir: cwd, Command: "nvim .", Cols: 120, Rows: 40}},
						{Split: layout.Horizontal, Ratio: 0.35, First: 3, Second: 4},
						{Pane: &layout.Pane{WorkingDir: cwd}},
						{Pane: &layout.Pane{WorkingDir: "/tmp", Title: "scratch"}},
					},
				},
				layout.SinglePane("logs", layout.Pane{WorkingDir: "/var/log"}),
			},
		},
	}}
}

// newTestStore returns a store in a fresh temp dir with a controllable clock.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	st := New(filepath.Join(t.TempDir(), "snapshots"), nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return clock }
	return st, &clock
}

type fakeRecorder struct {
	events []string
	err    error
}

func (f *fakeRecorder) RecordEvent(name, action, detail string) error {
	f.events = append(f.events, action+":"+name)
	return f.err
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	want := testLayout("/home/dev/project")

	if _, err := st.Save(context.Background(), "work", "daily setup", want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	rec, err := st.Load("work")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !reflect.DeepEqual(rec.Layout, want) {
		t.Errorf("loaded layout differs from saved layout\n got: %+v\nwant: %+v", rec.Layout, want)
	}
	if rec.Description != "daily setup" {
		t.Errorf("Description = %q, want %q", rec.Description, "daily setup")
	}
	if rec.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", rec.SchemaVersion, CurrentSchemaVersion)
	}
}

func TestSaveWritesSchemaVersionFirst(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Save(context.Background(), "first", "", testLayout("/")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(st.Dir(), "first.json"))
	if err != nil {
		t.Fatalf("failed to read snapshot file: %v", err)
	}
	body := strings.TrimLeft(strings.TrimPrefix(string(data), "{"), " \n")
	if !strings.HasPrefix(body, `"schema_version"`) {
		t.Errorf("schema_version is not the first key:\n%s", data)
	}
}

func TestSaveTwiceKeepsSecondLayout(t *testing.T) {
	st, _ := newTestStore(t)
	first := testLayout("/first")
	second := layout.Workspace{Windows: []layout.Window{
		{Tabs: []layout.Tab{layout.SinglePane("", layout.Pane{WorkingDir: "/second"})}},
	}}

	if _, err := st.Save(context.Background(), "a", "", first); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	if _, err := st.Save(context.Background(), "a", "", second); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	rec, err := st.Load("a")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !reflect.DeepEqual(rec.Layout, second) {
		t.Errorf("Load() returned %+v, want second layout", rec.Layout)
	}

	count := 0
	for _, err := range st.List() {
		if err != nil {
			t.Fatalf("List() yielded error: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Errorf("List() returned %d entries, want 1", count)
	}
}

func TestDeleteTwice(t *testing.T) {
	rec := &fakeRecorder{}
	st, _ := newTestStore(t)
	st.WithRecorder(rec)

	if _, err := st.Save(context.Background(), "gone", "", testLayout("/")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := st.Delete("gone"); err != nil {
		t.Fatalf("first Delete() failed: %v", err)
	}
	err := st.Delete("gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}

	var se *StoreError
	if !errors.As(err, &se) || se.Name != "gone" || se.Op != "delete" {
		t.Errorf("expected StoreError with op and name, got %#v", err)
	}

	want := []string{"save:gone", "delete:gone"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("recorded events = %v, want %v", rec.events, want)
	}
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	st, _ := newTestStore(t)
	st.WithRecorder(&fakeRecorder{err: errors.New("database is locked")})

	if _, err := st.Save(context.Background(), "ok", "", testLayout("/")); err != nil {
		t.Fatalf("Save() should succeed despite recorder failure: %v", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Load("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestInterruptedSaveIsInvisible(t *testing.T) {
	st, _ := newTestStore(t)
	if err := os.MkdirAll(st.Dir(), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	// A crash after the temp write but before the rename leaves only this file.
	data, _ := json.Marshal(Record{SchemaVersion: CurrentSchemaVersion, Name: "pending"})
	tmp := filepath.Join(st.Dir(), tempPrefix+"pending.json-12345")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	if _, err := st.Load("pending"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
	for sum, err := range st.List() {
		t.Errorf("List() yielded %+v, %v; want nothing", sum, err)
	}
}

func TestListSweepsStaleTempFiles(t *testing.T) {
	st, clock := newTestStore(t)
	if _, err := st.Save(context.Background(), "kept", "", testLayout("/")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stale := filepath.Join(st.Dir(), tempPrefix+"old.json-111")
	fresh := filepath.Join(st.Dir(), tempPrefix+"new.json-222")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("{"), 0600); err != nil {
			t.Fatalf("failed to write temp file: %v", err)
		}
	}
	if err := os.Chtimes(stale, clock.Add(-2*time.Hour), clock.Add(-2*time.Hour)); err != nil {
		t.Fatalf("failed to age temp file: %v", err)
	}
	if err := os.Chtimes(fresh, clock.Add(-time.Minute), clock.Add(-time.Minute)); err != nil {
		t.Fatalf("failed to age temp file: %v", err)
	}

	var names []string
	for sum, err := range st.List() {
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		names = append(names, sum.Name)
	}
	if !reflect.DeepEqual(names, []string{"kept"}) {
		t.Errorf("List() = %v, want [kept]", names)
	}

	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale temp file should be removed, stat error = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh temp file should be kept: %v", err)
	}
}

func TestSaveCancelledBeforeRename(t *testing.T) {
	st, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.Save(ctx, "cancelled", "", testLayout("/")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save() error = %v, want context.Canceled", err)
	}
	if ok, _ := st.Exists("cancelled"); ok {
		t.Error("cancelled save must not be visible")
	}

	entries, _ := os.ReadDir(st.Dir())
	for _, e := range entries {
		t.Errorf("unexpected leftover file %s", e.Name())
	}
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	st, _ := newTestStore(t)

	if _, err := st.Save(context.Background(), "../escape", "", testLayout("/")); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Save() with bad name error = %v, want ErrInvalidName", err)
	}

	empty := layout.Workspace{Windows: []layout.Window{{Tabs: []layout.Tab{{}}}}}
	if _, err := st.Save(context.Background(), "empty", "", empty); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("Save() with empty tab error = %v, want ErrInvalidLayout", err)
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Save(context.Background(), "tamper", "", testLayout("/home/a")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	path := filepath.Join(st.Dir(), "tamper.json")
	data, _ := os.ReadFile(path)
	data = []byte(strings.Replace(string(data), "/home/a", "/home/b", 1))
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}

	if _, err := st.Load("tamper"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load() error = %v, want ErrCorrupt", err)
	}
}

func TestLoadCorruptFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"not json", "{{{", ErrCorrupt},
		{"no version", `{"name":"x"}`, ErrCorrupt},
		{"schema violation", `{"schema_version":2,"name":"x","created_at":"2026-01-01T00:00:00Z","checksum":"nope","layout":{"windows":[]}}`, ErrCorrupt},
		{"future version", `{"schema_version":99,"name":"x"}`, ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := newTestStore(t)
			if err := os.MkdirAll(st.Dir(), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(st.Dir(), "x.json"), []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := st.Load("x")
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadMigratesVersion1(t *testing.T) {
	st, _ := newTestStore(t)
	if err := os.MkdirAll(st.Dir(), 0755); err != nil {
		t.Fatal(err)
	}

	v1 := `{
  "schema_version": 1,
  "name": "old",
  "created_at": "2025-06-01T08:00:00Z",
  "layout": {"windows": [{"tabs": [{"nodes": [{"pane": {"cwd": "/srv/app", "command": "htop"}}]}]}]}
}`
	path := filepath.Join(st.Dir(), "old.json")
	if err := os.WriteFile(path, []byte(v1), 0600); err != nil {
		t.Fatal(err)
	}

	rec, err := st.Load("old")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	pane := rec.Layout.Windows[0].Tabs[0].Nodes[0].Pane
	if pane == nil || pane.WorkingDir != "/srv/app" || pane.Command != "htop" {
		t.Errorf("migrated pane = %+v, want working_dir /srv/app and command htop", pane)
	}

	// Loading must not rewrite the file.
	onDisk, _ := os.ReadFile(path)
	if string(onDisk) != v1 {
		t.Error("Load() rewrote the record; migration must only persist via Migrate")
	}

	from, to, err := st.Migrate(context.Background(), "old")
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if from != 1 || to != CurrentSchemaVersion {
		t.Errorf("Migrate() = (%d, %d), want (1, %d)", from, to, CurrentSchemaVersion)
	}

	again, err := st.Load("old")
	if err != nil {
		t.Fatalf("Load() after Migrate failed: %v", err)
	}
	if again.SchemaVersion != CurrentSchemaVersion || again.Checksum == "" {
		t.Errorf("migrated record = version %d checksum %q", again.SchemaVersion, again.Checksum)
	}

	from, to, err = st.Migrate(context.Background(), "old")
	if err != nil || from != to {
		t.Errorf("second Migrate() = (%d, %d, %v), want no-op", from, to, err)
	}
}

func TestListOrderAndRestart(t *testing.T) {
	st, clock := newTestStore(t)

	for i, name := range []string{"alpha", "Bravo", "charlie"} {
		*clock = time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC)
		if _, err := st.Save(context.Background(), name, "snapshot "+name, testLayout("/")); err != nil {
			t.Fatalf("Save(%s) failed: %v", name, err)
		}
	}

	collect := func() []string {
		var names []string
		for sum, err := range st.List() {
			if err != nil {
				t.Fatalf("List() yielded error: %v", err)
			}
			names = append(names, sum.Name)
		}
		return names
	}

	want := []string{"charlie", "Bravo", "alpha"}
	if got := collect(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	if err := st.Delete("Bravo"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if got := collect(); !reflect.DeepEqual(got, []string{"charlie", "alpha"}) {
		t.Errorf("List() after delete = %v", got)
	}
}

func TestListReportsCorruptEntries(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Save(context.Background(), "good", "", testLayout("/")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(st.Dir(), "bad.json"), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(st.Dir(), "notes.txt"), []byte("ignored"), 0600); err != nil {
		t.Fatal(err)
	}

	var names []string
	var errs []error
	for sum, err := range st.List() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		names = append(names, sum.Name)
	}

	if !reflect.DeepEqual(names, []string{"good"}) {
		t.Errorf("names = %v, want [good]", names)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrCorrupt) {
		t.Errorf("errs = %v, want one ErrCorrupt", errs)
	}
}

func TestListMissingDirectory(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "never-created"), nil)
	for sum, err := range st.List() {
		t.Errorf("List() yielded %+v, %v from a missing directory", sum, err)
	}
}

func TestListStopsEarly(t *testing.T) {
	st, clock := newTestStore(t)
	for i := 0; i < 3; i++ {
		*clock = clock.Add(time.Minute)
		if _, err := st.Save(context.Background(), "s"+string(rune('a'+i)), "", testLayout("/")); err != nil {
			t.Fatal(err)
		}
	}

	seen := 0
	for range st.List() {
		seen++
		break
	}
	if seen != 1 {
		t.Errorf("iteration did not stop after break, seen %d", seen)
	}
}
