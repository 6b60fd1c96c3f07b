// Package host defines the narrow capability set the snapshot engine needs
// from a running terminal: enumerate windows, tabs and panes, read pane
// metadata, and create or split panes. Implementations live in subpackages.
package host

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/cxlinux/cx/internal/layout"
)

// ErrUnavailable is wrapped by implementations when the terminal cannot be reached.
var ErrUnavailable = errors.New("terminal session unavailable")

// WindowID, TabID and PaneID are opaque host identifiers.
type (
	WindowID string
	TabID    string
	PaneID   string
)

// Window is an enumerated window.
type Window struct {
	ID    WindowID
	Title string
}

// Tab is an enumerated tab.
type Tab struct {
	ID    TabID
	Title string
}

// Pane is an enumerated pane with its cell geometry inside the tab.
type Pane struct {
	ID    PaneID
	Title string
	Left  int
	Top   int
	Cols  int
	Rows  int
}

// PaneMetadata is the restorable state reported for a pane.
type PaneMetadata struct {
	Cwd     string
	Command string
}

// Session is the host terminal as seen by capture and restore.
type Session interface {
	Windows(ctx context.Context) ([]Window, error)
	Tabs(ctx context.Context, window WindowID) ([]Tab, error)
	Panes(ctx context.Context, tab TabID) ([]Pane, error)
	PaneMetadata(ctx context.Context, pane PaneID) (PaneMetadata, error)

	// CreateWindow opens a window with one tab holding one pane.
	CreateWindow(ctx context.Context, cwd string) (WindowID, TabID, PaneID, error)
	// CreateTab opens a tab with one pane in an existing window.
	CreateTab(ctx context.Context, window WindowID, cwd string) (TabID, PaneID, error)
	// SplitPane splits pane; the new pane takes the second (right or bottom) region.
	SplitPane(ctx context.Context, pane PaneID, o layout.Orientation, ratio float64, cwd string) (PaneID, error)
	// ResizeSplit sets the share of the first side of a split. first and
	// second list every pane on each side; first[0] is the pane that was
	// split and second[0] the pane the split created.
	ResizeSplit(ctx context.Context, first, second []PaneID, o layout.Orientation, ratio float64) error
	// Launch starts command in pane.
	Launch(ctx context.Context, pane PaneID, command string) error
}

// CwdPath reduces a reported working directory to a local path. Terminals
// commonly report file://host/path URLs via OSC 7.
func CwdPath(cwd string) string {
	if !strings.HasPrefix(cwd, "file://") {
		return cwd
	}
	u, err := url.Parse(cwd)
	if err != nil || u.Path == "" {
		return strings.TrimPrefix(cwd, "file://")
	}
	return u.Path
}
