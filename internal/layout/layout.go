// Package layout defines the value types describing a terminal workspace:
// windows, tabs and the pane tree inside each tab.
//
// Pane trees are stored as an arena: a flat slice of nodes addressed by index,
// with the root at index 0. A split node names its two children by index and
// both indices are strictly greater than its own, so a well-formed tree can
// never contain a cycle and serializes without any pointer bookkeeping.
package layout

import (
	"errors"
	"fmt"
)

// Orientation is the direction of a pane split.
type Orientation string

const (
	// Vertical places the two children side by side (left | right).
	Vertical Orientation = "vertical"
	// Horizontal stacks the two children (top / bottom).
	Horizontal Orientation = "horizontal"
)

// Valid reports whether o is a known orientation.
func (o Orientation) Valid() bool {
	return o == Vertical || o == Horizontal
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid layout")

// Workspace is an ordered set of windows.
type Workspace struct {
	Windows []Window `json:"windows"`
}

// Window is an ordered set of tabs.
type Window struct {
	Title string `json:"title,omitempty"`
	Tabs  []Tab  `json:"tabs"`
}

// Tab holds one pane tree. Nodes[0] is the root.
type Tab struct {
	Title string `json:"title,omitempty"`
	Nodes []Node `json:"nodes"`
}

// Node is either a split (Split set, Pane nil) or a leaf (Pane set).
type Node struct {
	Split  Orientation `json:"split,omitempty"`
	Ratio  float64     `json:"ratio,omitempty"`
	First  int         `json:"first,omitempty"`
	Second int         `json:"second,omitempty"`
	Pane   *Pane       `json:"pane,omitempty"`
}

// IsLeaf reports whether n is a pane rather than a split.
func (n Node) IsLeaf() bool {
	return n.Pane != nil
}

// Pane is the restorable state of a single pane.
type Pane struct {
	WorkingDir string `json:"working_dir"`
	Command    string `json:"command,omitempty"`
	Title      string `json:"title,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
}

// Counts summarizes the size of a workspace.
type Counts struct {
	Windows int
	Tabs    int
	Panes   int
}

// Count returns the number of windows, tabs and leaf panes in w.
func (w Workspace) Count() Counts {
	var c Counts
	c.Windows = len(w.Windows)
	for _, win := range w.Windows {
		c.Tabs += len(win.Tabs)
		for _, tab := range win.Tabs {
			c.Panes += len(tab.Leaves())
		}
	}
	return c
}

// Leaves returns the indices of the tab's leaf nodes in depth-first,
// first-child-first order, which is the visual left-to-right/top-to-bottom order.
func (t Tab) Leaves() []int {
	if len(t.Nodes) == 0 {
		return nil
	}
	var out []int
	var walk func(i int)
	walk = func(i int) {
		if i < 0 || i >= len(t.Nodes) {
			return
		}
		n := t.Nodes[i]
		if n.IsLeaf() {
			out = append(out, i)
			return
		}
		if n.First <= i || n.Second <= i {
			return
		}
		walk(n.First)
		walk(n.Second)
	}
	walk(0)
	return out
}

// SinglePane builds a tab containing exactly one pane.
func SinglePane(title string, p Pane) Tab {
	return Tab{Title: title, Nodes: []Node{{Pane: &p}}}
}

// Validate checks every structural invariant of the workspace.
func (w Workspace) Validate() error {
	if len(w.Windows) == 0 {
		return fmt.Errorf("%w: workspace has no windows", ErrInvalid)
	}
	for wi, win := range w.Windows {
		if len(win.Tabs) == 0 {
			return fmt.Errorf("%w: window %d has no tabs", ErrInvalid, wi)
		}
		for ti, tab := range win.Tabs {
			if err := tab.Validate(); err != nil {
				return fmt.Errorf("window %d tab %d: %w", wi, ti, err)
			}
		}
	}
	return nil
}

// Validate checks that the arena forms a single tree rooted at index 0 in
// which every node is referenced exactly once and children follow parents.
func (t Tab) Validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: tab has no panes", ErrInvalid)
	}

	refs := make([]int, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			if n.Split != "" {
				return fmt.Errorf("%w: node %d is both a pane and a split", ErrInvalid, i)
			}
			continue
		}
		if !n.Split.Valid() {
			return fmt.Errorf("%w: node %d has unknown split %q", ErrInvalid, i, n.Split)
		}
		if !(n.Ratio > 0 && n.Ratio < 1) {
			return fmt.Errorf("%w: node %d ratio %v outside (0,1)", ErrInvalid, i, n.Ratio)
		}
		for _, c := range []int{n.First, n.Second} {
			if c <= i || c >= len(t.Nodes) {
				return fmt.Errorf("%w: node %d has out-of-order child %d", ErrInvalid, i, c)
			}
			refs[c]++
		}
		if n.First == n.Second {
			return fmt.Errorf("%w: node %d references child %d twice", ErrInvalid, i, n.First)
		}
	}

	if refs[0] != 0 {
		return fmt.Errorf("%w: root is referenced as a child", ErrInvalid)
	}
	for i := 1; i < len(refs); i++ {
		if refs[i] != 1 {
			return fmt.Errorf("%w: node %d referenced %d times", ErrInvalid, i, refs[i])
		}
	}
	return nil
}
