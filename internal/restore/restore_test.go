package restore

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxlinux/cx/internal/capture"
	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/host/hosttest"
	"github.com/cxlinux/cx/internal/layout"
)

func leaf(dir, cmd string) layout.Node {
	return layout.Node{Pane: &layout.Pane{WorkingDir: dir, Command: cmd}}
}

// threePanes is a | (b / c).
func threePanes(a, b, c string) layout.Tab {
	return layout.Tab{Nodes: []layout.Node{
		{Split: layout.Vertical, Ratio: 0.5, First: 1, Second: 2},
		leaf(a, "vim"),
		{Split: layout.Horizontal, Ratio: 0.3, First: 3, Second: 4},
		leaf(b, ""),
		leaf(c, "make watch"),
	}}
}

func TestRestoreMissingDirIsWarning(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	fallback := t.TempDir()
	missing := filepath.Join(t.TempDir(), "deleted")

	ws := layout.Workspace{Windows: []layout.Window{{Tabs: []layout.Tab{threePanes(a, b, missing)}}}}
	h := hosttest.New()

	rep, err := New(Config{FallbackDir: fallback}).Restore(context.Background(), ws, h)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Restored())
	assert.Equal(t, 1, rep.Degraded())
	assert.Equal(t, 0, rep.Failed())
	assert.Len(t, rep.Warnings, 1)
	assert.Empty(t, rep.Failures)
	assert.False(t, rep.Clean())
	assert.Equal(t, 3, h.PaneCount())

	deg := rep.Panes[2]
	assert.Equal(t, StatusDegraded, deg.Status)
	assert.Equal(t, 4, deg.Node)
	assert.Equal(t, 2, deg.Leaf, "third pane of the tab")
	assert.Equal(t, missing, deg.WorkingDir)
	assert.Equal(t, fallback, deg.Dir)
	assert.Equal(t, fallback, h.PaneCwd(deg.Pane))
	assert.Equal(t, a, h.PaneCwd(rep.Panes[0].Pane))
}

func TestRestoreOrdersRatiosAndLaunchesLast(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	ws := layout.Workspace{Windows: []layout.Window{
		{Tabs: []layout.Tab{threePanes(a, b, a), layout.SinglePane("", layout.Pane{WorkingDir: b, Command: "htop"})}},
		{Tabs: []layout.Tab{threePanes(b, a, b)}},
	}}
	h := hosttest.New()

	rep, err := New(Config{LaunchCommands: true}).Restore(context.Background(), ws, h)
	require.NoError(t, err)
	assert.True(t, rep.Clean(), "warnings: %v failures: %v", rep.Warnings, rep.Failures)
	assert.Equal(t, 2, rep.Windows)
	assert.Equal(t, 3, rep.Tabs)
	assert.Equal(t, 7, rep.Restored())

	lastSplit := slices.Index(h.Ops, "resize") - 1
	require.GreaterOrEqual(t, lastSplit, 0)
	for _, op := range h.Ops[lastSplit+1:] {
		assert.Contains(t, []string{"resize", "launch"}, op)
	}
	firstLaunch := slices.Index(h.Ops, "launch")
	for _, op := range h.Ops[firstLaunch:] {
		assert.Equal(t, "launch", op)
	}
	assert.Len(t, h.Resizes, 4)
	assert.Len(t, h.Launched, 5)
}

// resizeRecorder keeps the pane sets of every ResizeSplit call.
type resizeRecorder struct {
	*hosttest.Host
	sides [][2][]host.PaneID
}

func (r *resizeRecorder) ResizeSplit(ctx context.Context, first, second []host.PaneID, o layout.Orientation, ratio float64) error {
	r.sides = append(r.sides, [2][]host.PaneID{first, second})
	return r.Host.ResizeSplit(ctx, first, second, o, ratio)
}

func TestRestoreResizePassesBothSides(t *testing.T) {
	dir := t.TempDir()
	// Three columns: (a | b) | c.
	tab := layout.Tab{Nodes: []layout.Node{
		{Split: layout.Vertical, Ratio: 0.6, First: 1, Second: 4},
		{Split: layout.Vertical, Ratio: 0.5, First: 2, Second: 3},
		leaf(dir, ""),
		leaf(dir, ""),
		leaf(dir, ""),
	}}
	ws := layout.Workspace{Windows: []layout.Window{{Tabs: []layout.Tab{tab}}}}
	rec := &resizeRecorder{Host: hosttest.New()}

	rep, err := New(Config{}).Restore(context.Background(), ws, rec)
	require.NoError(t, err)
	require.True(t, rep.Clean(), "warnings: %v failures: %v", rep.Warnings, rep.Failures)
	require.Len(t, rep.Panes, 3)

	a, b, c := rep.Panes[0].Pane, rep.Panes[1].Pane, rep.Panes[2].Pane
	assert.Equal(t, [][2][]host.PaneID{
		{{a, b}, {c}},
		{{a}, {b}},
	}, rec.sides)
	assert.Equal(t, []string{
		string(a) + "|" + string(c) + "=0.60",
		string(a) + "|" + string(b) + "=0.50",
	}, rec.Resizes)
}

func TestRestoreRejectedSplitIsIsolated(t *testing.T) {
	dir := t.TempDir()
	ws := layout.Workspace{Windows: []layout.Window{
		{Tabs: []layout.Tab{threePanes(dir, dir, dir)}},
		{Tabs: []layout.Tab{layout.SinglePane("", layout.Pane{WorkingDir: dir})}},
	}}
	h := hosttest.New()
	splits := 0
	h.Hook = func(_ context.Context, op, _ string) error {
		if op == "split" {
			splits++
			if splits == 1 {
				return errors.New("split rejected")
			}
		}
		return nil
	}

	rep, err := New(Config{LaunchCommands: true}).Restore(context.Background(), ws, h)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Restored(), "left pane and second window survive")
	assert.Equal(t, 2, rep.Failed(), "both panes under the rejected split fail")
	assert.Len(t, rep.Failures, 1)
	assert.Equal(t, 2, h.WindowCount())
	assert.Equal(t, 2, h.PaneCount())
	assert.Equal(t, 1, splits, "no split is attempted inside a failed subtree")
	assert.Equal(t, []string{string(rep.Panes[0].Pane) + ":vim"}, h.Launched)
}

func TestRestoreRejectedWindow(t *testing.T) {
	dir := t.TempDir()
	ws := layout.Workspace{Windows: []layout.Window{
		{Tabs: []layout.Tab{threePanes(dir, dir, dir)}},
		{Tabs: []layout.Tab{layout.SinglePane("", layout.Pane{WorkingDir: dir})}},
	}}
	h := hosttest.New()
	created := 0
	h.Hook = func(_ context.Context, op, _ string) error {
		if op == "create-window" {
			created++
			if created == 1 {
				return errors.New("no display")
			}
		}
		return nil
	}

	rep, err := New(Config{}).Restore(context.Background(), ws, h)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Failed())
	assert.Equal(t, 1, rep.Restored())
	assert.Equal(t, 1, rep.Windows)
}

func TestRestoreLaunchFailureIsWarning(t *testing.T) {
	dir := t.TempDir()
	ws := layout.Workspace{Windows: []layout.Window{{Tabs: []layout.Tab{threePanes(dir, dir, dir)}}}}
	h := hosttest.New()
	h.Hook = func(_ context.Context, op, _ string) error {
		if op == "launch" {
			return errors.New("command not found")
		}
		return nil
	}

	rep, err := New(Config{LaunchCommands: true}).Restore(context.Background(), ws, h)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Restored())
	assert.Len(t, rep.Warnings, 2)
	assert.Empty(t, rep.Failures)
}

func TestRestoreWithoutCommands(t *testing.T) {
	dir := t.TempDir()
	ws := layout.Workspace{Windows: []layout.Window{{Tabs: []layout.Tab{threePanes(dir, dir, dir)}}}}
	h := hosttest.New()

	_, err := New(Config{LaunchCommands: false}).Restore(context.Background(), ws, h)
	require.NoError(t, err)
	assert.Empty(t, h.Launched)
}

func TestRestoreInvalidAndCancelled(t *testing.T) {
	h := hosttest.New()
	o := New(Config{})

	_, err := o.Restore(context.Background(), layout.Workspace{}, h)
	require.ErrorIs(t, err, ErrInvalidLayout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ws := layout.Workspace{Windows: []layout.Window{{Tabs: []layout.Tab{layout.SinglePane("", layout.Pane{WorkingDir: "/"})}}}}
	_, err = o.Restore(ctx, ws, h)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.WindowCount())
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	a, b, c := t.TempDir(), t.TempDir(), t.TempDir()
	src := hosttest.New()
	p := src.AddWindow("", a, "vim")
	q := src.Split(p, layout.Vertical, 0.3, b, "")
	src.Split(q, layout.Horizontal, 0.7, c, "make watch")
	src.AddTab(p, "", b, "")
	r := src.AddWindow("", c, "htop")
	src.Split(r, layout.Horizontal, 0.25, a, "")

	cp := capture.New(capture.Config{})
	want, err := cp.Capture(context.Background(), src)
	require.NoError(t, err)

	dst := hosttest.New()
	rep, err := New(Config{LaunchCommands: true}).Restore(context.Background(), want, dst)
	require.NoError(t, err)
	require.True(t, rep.Clean(), "warnings: %v failures: %v", rep.Warnings, rep.Failures)

	got, err := cp.Capture(context.Background(), dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
