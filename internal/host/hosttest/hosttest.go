// Package hosttest provides an in-memory terminal implementing host.Session
// for tests. Pane geometry is derived from each tab's split tree so capture
// and restore can be exercised against each other.
package hosttest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/layout"
)

// Default tab size in cells.
const (
	DefaultCols = 201
	DefaultRows = 51
)

// Hook is consulted at the start of every operation. A non-nil error fails
// the operation. op is one of "windows", "tabs", "panes", "metadata",
// "create-window", "create-tab", "split", "resize", "launch"; id names the
// window, tab or pane the operation targets ("" for windows/create-window).
type Hook func(ctx context.Context, op, id string) error

// Host is a fake terminal. The zero value is not usable; call New.
type Host struct {
	mu      sync.Mutex
	windows []*window
	panes   map[host.PaneID]*pane
	tabs    map[host.TabID]*tab
	nextID  int

	Cols, Rows int
	Hook       Hook

	// Launched records Launch calls as "pane:command".
	Launched []string
	// Resizes records ResizeSplit calls in order.
	Resizes []string
	// Ops records every mutating operation in order.
	Ops []string
}

type window struct {
	id    host.WindowID
	title string
	tabs  []*tab
}

type tab struct {
	id    host.TabID
	title string
	root  *node
}

type node struct {
	pane   host.PaneID
	split  layout.Orientation
	ratio  float64
	first  *node
	second *node
	parent *node
}

type pane struct {
	id      host.PaneID
	title   string
	cwd     string
	command string
	tab     *tab
	leaf    *node
}

// New returns an empty terminal.
func New() *Host {
	return &Host{
		panes: make(map[host.PaneID]*pane),
		tabs:  make(map[host.TabID]*tab),
		Cols:  DefaultCols,
		Rows:  DefaultRows,
	}
}

func (h *Host) id(prefix string) string {
	h.nextID++
	return fmt.Sprintf("%s%d", prefix, h.nextID)
}

func (h *Host) hook(ctx context.Context, op, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.Hook == nil {
		return nil
	}
	return h.Hook(ctx, op, id)
}

// AddWindow seeds a window whose first tab holds a single pane and returns the pane.
func (h *Host) AddWindow(title, cwd, command string) host.PaneID {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &window{id: host.WindowID(h.id("w")), title: title}
	h.windows = append(h.windows, w)
	_, p := h.addTab(w, "", cwd)
	p.command = command
	return p.id
}

// AddTab seeds a tab in the window holding pane and returns the new tab's pane.
func (h *Host) AddTab(inWindowOf host.PaneID, title, cwd, command string) host.PaneID {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.panes[inWindowOf]
	w := h.windowOf(p.tab)
	_, np := h.addTab(w, title, cwd)
	np.command = command
	return np.id
}

// Split seeds a split of an existing pane and returns the new pane.
func (h *Host) Split(of host.PaneID, o layout.Orientation, ratio float64, cwd, command string) host.PaneID {
	h.mu.Lock()
	defer h.mu.Unlock()
	np := h.split(h.panes[of], o, ratio, cwd)
	np.command = command
	return np.id
}

// SetPaneTitle seeds a pane title.
func (h *Host) SetPaneTitle(id host.PaneID, title string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panes[id].title = title
}

// PaneCwd returns the working directory a pane was created with.
func (h *Host) PaneCwd(id host.PaneID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.panes[id]; ok {
		return p.cwd
	}
	return ""
}

// PaneCount returns the number of live panes.
func (h *Host) PaneCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.panes)
}

// WindowCount returns the number of windows.
func (h *Host) WindowCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}

func (h *Host) addTab(w *window, title, cwd string) (*tab, *pane) {
	t := &tab{id: host.TabID(h.id("t")), title: title}
	p := &pane{id: host.PaneID(h.id("p")), cwd: cwd, tab: t}
	p.leaf = &node{pane: p.id}
	t.root = p.leaf
	w.tabs = append(w.tabs, t)
	h.tabs[t.id] = t
	h.panes[p.id] = p
	return t, p
}

func (h *Host) split(p *pane, o layout.Orientation, ratio float64, cwd string) *pane {
	np := &pane{id: host.PaneID(h.id("p")), cwd: cwd, tab: p.tab}
	old := p.leaf
	inner := &node{split: o, ratio: ratio, parent: old.parent}
	if old.parent == nil {
		p.tab.root = inner
	} else if old.parent.first == old {
		old.parent.first = inner
	} else {
		old.parent.second = inner
	}
	old.parent = inner
	np.leaf = &node{pane: np.id, parent: inner}
	inner.first = old
	inner.second = np.leaf
	h.panes[np.id] = np
	return np
}

func (h *Host) windowOf(t *tab) *window {
	for _, w := range h.windows {
		for _, wt := range w.tabs {
			if wt == t {
				return w
			}
		}
	}
	return nil
}

// Windows implements host.Session.
func (h *Host) Windows(ctx context.Context) ([]host.Window, error) {
	if err := h.hook(ctx, "windows", ""); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.Window, 0, len(h.windows))
	for _, w := range h.windows {
		out = append(out, host.Window{ID: w.id, Title: w.title})
	}
	return out, nil
}

// Tabs implements host.Session.
func (h *Host) Tabs(ctx context.Context, id host.WindowID) ([]host.Tab, error) {
	if err := h.hook(ctx, "tabs", string(id)); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.windows {
		if w.id != id {
			continue
		}
		out := make([]host.Tab, 0, len(w.tabs))
		for _, t := range w.tabs {
			out = append(out, host.Tab{ID: t.id, Title: t.title})
		}
		return out, nil
	}
	return nil, fmt.Errorf("no window %s", id)
}

// Panes implements host.Session.
func (h *Host) Panes(ctx context.Context, id host.TabID) ([]host.Pane, error) {
	if err := h.hook(ctx, "panes", string(id)); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return nil, fmt.Errorf("no tab %s", id)
	}
	var out []host.Pane
	h.geometry(t.root, 0, 0, h.Cols, h.Rows, &out)
	return out, nil
}

// geometry lays the tree out with a one-cell divider between siblings.
func (h *Host) geometry(n *node, left, top, cols, rows int, out *[]host.Pane) {
	if n.split == "" {
		p := h.panes[n.pane]
		*out = append(*out, host.Pane{ID: p.id, Title: p.title, Left: left, Top: top, Cols: cols, Rows: rows})
		return
	}
	if n.split == layout.Vertical {
		first := int(math.Round(float64(cols-1) * n.ratio))
		h.geometry(n.first, left, top, first, rows, out)
		h.geometry(n.second, left+first+1, top, cols-first-1, rows, out)
		return
	}
	first := int(math.Round(float64(rows-1) * n.ratio))
	h.geometry(n.first, left, top, cols, first, out)
	h.geometry(n.second, left, top+first+1, cols, rows-first-1, out)
}

// PaneMetadata implements host.Session.
func (h *Host) PaneMetadata(ctx context.Context, id host.PaneID) (host.PaneMetadata, error) {
	if err := h.hook(ctx, "metadata", string(id)); err != nil {
		return host.PaneMetadata{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.panes[id]
	if !ok {
		return host.PaneMetadata{}, fmt.Errorf("no pane %s", id)
	}
	return host.PaneMetadata{Cwd: "file://localhost" + p.cwd, Command: p.command}, nil
}

// CreateWindow implements host.Session.
func (h *Host) CreateWindow(ctx context.Context, cwd string) (host.WindowID, host.TabID, host.PaneID, error) {
	if err := h.hook(ctx, "create-window", ""); err != nil {
		return "", "", "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &window{id: host.WindowID(h.id("w"))}
	h.windows = append(h.windows, w)
	t, p := h.addTab(w, "", cwd)
	h.Ops = append(h.Ops, "create-window")
	return w.id, t.id, p.id, nil
}

// CreateTab implements host.Session.
func (h *Host) CreateTab(ctx context.Context, id host.WindowID, cwd string) (host.TabID, host.PaneID, error) {
	if err := h.hook(ctx, "create-tab", string(id)); err != nil {
		return "", "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.windows {
		if w.id == id {
			t, p := h.addTab(w, "", cwd)
			h.Ops = append(h.Ops, "create-tab")
			return t.id, p.id, nil
		}
	}
	return "", "", fmt.Errorf("no window %s", id)
}

// SplitPane implements host.Session. New splits start even; ResizeSplit sets the ratio.
func (h *Host) SplitPane(ctx context.Context, id host.PaneID, o layout.Orientation, ratio float64, cwd string) (host.PaneID, error) {
	if err := h.hook(ctx, "split", string(id)); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.panes[id]
	if !ok {
		return "", fmt.Errorf("no pane %s", id)
	}
	np := h.split(p, o, 0.5, cwd)
	h.Ops = append(h.Ops, "split")
	return np.id, nil
}

// ResizeSplit implements host.Session. The split is the lowest common
// ancestor of first[0] and second[0]; every listed pane must lie on its side.
func (h *Host) ResizeSplit(ctx context.Context, first, second []host.PaneID, o layout.Orientation, ratio float64) error {
	if len(first) == 0 || len(second) == 0 {
		return fmt.Errorf("split needs panes on both sides")
	}
	if err := h.hook(ctx, "resize", string(first[0])); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok1 := h.panes[first[0]]
	b, ok2 := h.panes[second[0]]
	if !ok1 || !ok2 {
		return fmt.Errorf("unknown panes %s, %s", first[0], second[0])
	}
	ancestors := map[*node]bool{}
	for n := a.leaf.parent; n != nil; n = n.parent {
		ancestors[n] = true
	}
	for n := b.leaf.parent; n != nil; n = n.parent {
		if !ancestors[n] {
			continue
		}
		if n.split != o {
			return fmt.Errorf("panes %s and %s are not split %s", first[0], second[0], o)
		}
		if err := h.within(n.first, first); err != nil {
			return err
		}
		if err := h.within(n.second, second); err != nil {
			return err
		}
		n.ratio = ratio
		h.Resizes = append(h.Resizes, fmt.Sprintf("%s|%s=%.2f", first[0], second[0], ratio))
		h.Ops = append(h.Ops, "resize")
		return nil
	}
	return fmt.Errorf("panes %s and %s share no split", first[0], second[0])
}

// within reports an error unless every pane in ids is a leaf under root.
func (h *Host) within(root *node, ids []host.PaneID) error {
	for _, id := range ids {
		p, ok := h.panes[id]
		if !ok {
			return fmt.Errorf("no pane %s", id)
		}
		n := p.leaf
		for n != nil && n != root {
			n = n.parent
		}
		if n == nil {
			return fmt.Errorf("pane %s is on the wrong side of the split", id)
		}
	}
	return nil
}

// Launch implements host.Session.
func (h *Host) Launch(ctx context.Context, id host.PaneID, command string) error {
	if err := h.hook(ctx, "launch", string(id)); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.panes[id]
	if !ok {
		return fmt.Errorf("no pane %s", id)
	}
	p.command = command
	h.Launched = append(h.Launched, string(id)+":"+command)
	h.Ops = append(h.Ops, "launch")
	return nil
}

var _ host.Session = (*Host)(nil)
