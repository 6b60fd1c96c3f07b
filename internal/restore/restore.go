// Package restore replays a stored workspace layout into a terminal session.
//
// Restore is best-effort: a window, tab or split the host rejects is recorded
// in the Report together with every pane that depended on it, and the rest of
// the workspace is still replayed. Nothing already created is rolled back.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/layout"
)

// ErrInvalidLayout is returned when the workspace fails validation.
var ErrInvalidLayout = errors.New("invalid layout")

// evenRatio is used while splitting; stored ratios are applied afterwards.
const evenRatio = 0.5

// Config configures an Orchestrator.
type Config struct {
	// FallbackDir replaces missing working directories. Empty means the
	// user's home directory.
	FallbackDir string
	// LaunchCommands relaunches stored pane commands when true.
	LaunchCommands bool
	Logger         *zap.Logger
}

// Orchestrator restores workspaces.
type Orchestrator struct {
	fallback string
	launch   bool
	logger   *zap.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		fallback: cfg.FallbackDir,
		launch:   cfg.LaunchCommands,
		logger:   cfg.Logger,
	}
	if o.fallback == "" {
		if home, err := os.UserHomeDir(); err == nil {
			o.fallback = home
		} else {
			o.fallback = "/"
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// resize is a stored ratio waiting to be applied.
type resize struct {
	first, second []host.PaneID
	split         layout.Orientation
	ratio         float64
}

// run holds the state of one Restore call.
type run struct {
	o       *Orchestrator
	s       host.Session
	report  *Report
	resizes []resize
	dirs    map[string]bool
}

// Restore replays ws into s. Windows are created in order, each window's
// first tab with it and later tabs after; each tab's tree is rebuilt by
// splitting the pane occupying a region, the first child keeping it. Stored
// ratios are applied once every tree exists and commands are launched last.
//
// The error is non-nil only for an invalid layout or a context cancelled
// before anything was created.
func (o *Orchestrator) Restore(ctx context.Context, ws layout.Workspace, s host.Session) (*Report, error) {
	if err := ws.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &run{o: o, s: s, report: &Report{}, dirs: map[string]bool{}}
	for wi, win := range ws.Windows {
		r.window(ctx, wi, win)
	}
	r.applyRatios(ctx)
	if o.launch {
		r.launchCommands(ctx)
	}

	rep := r.report
	o.logger.Info("restore finished",
		zap.Int("windows", rep.Windows),
		zap.Int("tabs", rep.Tabs),
		zap.Int("restored", rep.Restored()),
		zap.Int("degraded", rep.Degraded()),
		zap.Int("failed", rep.Failed()),
		zap.Int("warnings", len(rep.Warnings)))
	return rep, nil
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.report.Warnings = append(r.report.Warnings, msg)
	r.o.logger.Warn(msg)
}

func (r *run) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.report.Failures = append(r.report.Failures, msg)
	r.o.logger.Error(msg)
}

// dir returns the directory to create a pane in and whether it had to fall back.
func (r *run) dir(p *layout.Pane) (string, bool) {
	if p.WorkingDir != "" {
		ok, seen := r.dirs[p.WorkingDir]
		if !seen {
			info, err := os.Stat(p.WorkingDir)
			ok = err == nil && info.IsDir()
			r.dirs[p.WorkingDir] = ok
		}
		if ok {
			return p.WorkingDir, false
		}
	}
	return r.o.fallback, true
}

// firstLeaf returns the leaf that keeps the pane created for subtree i.
func firstLeaf(tab layout.Tab, i int) *layout.Pane {
	for !tab.Nodes[i].IsLeaf() {
		i = tab.Nodes[i].First
	}
	return tab.Nodes[i].Pane
}

func (r *run) window(ctx context.Context, wi int, win layout.Window) {
	first := win.Tabs[0]
	dir, _ := r.dir(firstLeaf(first, 0))
	wid, tid, pid, err := r.s.CreateWindow(ctx, dir)
	if err != nil {
		r.fail("window %d: create failed: %v", wi+1, err)
		for ti, tab := range win.Tabs {
			r.failSubtree(wi, ti, tab, 0, fmt.Sprintf("window not created: %v", err))
		}
		return
	}
	r.report.Windows++
	r.report.Tabs++
	r.o.logger.Debug("created window", zap.String("window", string(wid)), zap.String("tab", string(tid)))
	r.node(ctx, wi, 0, first, 0, pid)

	for ti := 1; ti < len(win.Tabs); ti++ {
		tab := win.Tabs[ti]
		dir, _ := r.dir(firstLeaf(tab, 0))
		tid, pid, err := r.s.CreateTab(ctx, wid, dir)
		if err != nil {
			r.fail("window %d tab %d: create failed: %v", wi+1, ti+1, err)
			r.failSubtree(wi, ti, tab, 0, fmt.Sprintf("tab not created: %v", err))
			continue
		}
		r.report.Tabs++
		r.o.logger.Debug("created tab", zap.String("tab", string(tid)))
		r.node(ctx, wi, ti, tab, 0, pid)
	}
}

// node replays subtree i into the pane that currently occupies its region
// and returns the panes the subtree ended up with, pane first.
func (r *run) node(ctx context.Context, wi, ti int, tab layout.Tab, i int, pane host.PaneID) []host.PaneID {
	n := tab.Nodes[i]
	if n.IsLeaf() {
		r.leaf(wi, ti, tab, i, pane)
		return []host.PaneID{pane}
	}

	dir, _ := r.dir(firstLeaf(tab, n.Second))
	second, err := r.s.SplitPane(ctx, pane, n.Split, evenRatio, dir)
	if err != nil {
		r.fail("window %d tab %d: %s split of node %d failed: %v", wi+1, ti+1, n.Split, i, err)
		panes := r.node(ctx, wi, ti, tab, n.First, pane)
		r.failSubtree(wi, ti, tab, n.Second, fmt.Sprintf("split rejected: %v", err))
		return panes
	}

	// Outer splits are resized before inner ones.
	k := len(r.resizes)
	r.resizes = append(r.resizes, resize{split: n.Split, ratio: n.Ratio})
	a := r.node(ctx, wi, ti, tab, n.First, pane)
	b := r.node(ctx, wi, ti, tab, n.Second, second)
	r.resizes[k].first, r.resizes[k].second = a, b
	return slices.Concat(a, b)
}

func (r *run) leaf(wi, ti int, tab layout.Tab, i int, pane host.PaneID) {
	p := tab.Nodes[i].Pane
	dir, fellBack := r.dir(p)
	out := PaneOutcome{
		Window:     wi,
		Tab:        ti,
		Leaf:       slices.Index(tab.Leaves(), i),
		Node:       i,
		WorkingDir: p.WorkingDir,
		Dir:        dir,
		Command:    p.Command,
		Pane:       pane,
		Status:     StatusRestored,
	}
	if fellBack {
		out.Status = StatusDegraded
		out.Reason = fmt.Sprintf("working directory %q missing", p.WorkingDir)
		r.warn("window %d tab %d: working directory %q missing, using %s", wi+1, ti+1, p.WorkingDir, dir)
	}
	r.report.Panes = append(r.report.Panes, out)
}

func (r *run) failSubtree(wi, ti int, tab layout.Tab, i int, reason string) {
	var walk func(i int)
	walk = func(i int) {
		n := tab.Nodes[i]
		if !n.IsLeaf() {
			walk(n.First)
			walk(n.Second)
			return
		}
		r.report.Panes = append(r.report.Panes, PaneOutcome{
			Window:     wi,
			Tab:        ti,
			Leaf:       slices.Index(tab.Leaves(), i),
			Node:       i,
			WorkingDir: n.Pane.WorkingDir,
			Command:    n.Pane.Command,
			Status:     StatusFailed,
			Reason:     reason,
		})
	}
	walk(i)
}

func (r *run) applyRatios(ctx context.Context) {
	for _, rs := range r.resizes {
		if err := r.s.ResizeSplit(ctx, rs.first, rs.second, rs.split, rs.ratio); err != nil {
			r.warn("could not apply ratio %.2f between panes %s and %s: %v", rs.ratio, rs.first[0], rs.second[0], err)
		}
	}
}

func (r *run) launchCommands(ctx context.Context) {
	for _, p := range r.report.Panes {
		if p.Status == StatusFailed || p.Command == "" {
			continue
		}
		if err := r.s.Launch(ctx, p.Pane, p.Command); err != nil {
			r.warn("could not relaunch %q in pane %s: %v", p.Command, p.Pane, err)
		}
	}
}
