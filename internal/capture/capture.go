// Package capture reads the live window/tab/pane structure from a terminal
// session into a layout.Workspace.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/layout"
)

var (
	// ErrSessionUnavailable means the terminal could not be queried.
	ErrSessionUnavailable = errors.New("terminal session unavailable")
	// ErrEmptyWorkspace means the session has no panes to capture.
	ErrEmptyWorkspace = errors.New("workspace is empty")
)

// Config controls capture timing.
type Config struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
	Concurrency  int
	Logger       *zap.Logger
}

// Capturer captures workspaces.
type Capturer struct {
	timeout     time.Duration
	backoff     time.Duration
	concurrency int
	logger      *zap.Logger
}

// New creates a Capturer, applying defaults for zero values.
func New(cfg Config) *Capturer {
	c := &Capturer{
		timeout:     cfg.Timeout,
		backoff:     cfg.RetryBackoff,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.backoff < 0 {
		c.backoff = 0
	}
	if c.concurrency <= 0 {
		c.concurrency = 8
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Capture reads the whole session. A failed read is retried once; the result
// is either a complete workspace or an error, never a partial layout.
func (c *Capturer) Capture(ctx context.Context, s host.Session) (layout.Workspace, error) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ws, err := c.capture(tctx, s)
	if err == nil || errors.Is(err, ErrEmptyWorkspace) {
		return ws, err
	}
	if cerr := c.interrupted(ctx, tctx); cerr != nil {
		return layout.Workspace{}, cerr
	}

	c.logger.Warn("capture failed, retrying", zap.Error(err), zap.Duration("backoff", c.backoff))
	select {
	case <-time.After(c.backoff):
	case <-tctx.Done():
		if cerr := c.interrupted(ctx, tctx); cerr != nil {
			return layout.Workspace{}, cerr
		}
	}

	ws, err = c.capture(tctx, s)
	if err == nil || errors.Is(err, ErrEmptyWorkspace) {
		return ws, err
	}
	if cerr := c.interrupted(ctx, tctx); cerr != nil {
		return layout.Workspace{}, cerr
	}
	return layout.Workspace{}, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
}

// interrupted distinguishes caller cancellation from our own deadline.
func (c *Capturer) interrupted(parent, tctx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if tctx.Err() != nil {
		return fmt.Errorf("%w: timed out after %s", ErrSessionUnavailable, c.timeout)
	}
	return nil
}

func (c *Capturer) capture(ctx context.Context, s host.Session) (layout.Workspace, error) {
	windows, err := s.Windows(ctx)
	if err != nil {
		return layout.Workspace{}, fmt.Errorf("failed to list windows: %w", err)
	}

	var ws layout.Workspace
	for _, w := range windows {
		tabs, err := s.Tabs(ctx, w.ID)
		if err != nil {
			return layout.Workspace{}, fmt.Errorf("failed to list tabs of window %s: %w", w.ID, err)
		}

		win := layout.Window{Title: w.Title}
		for _, t := range tabs {
			tab, ok, err := c.captureTab(ctx, s, t)
			if err != nil {
				return layout.Workspace{}, err
			}
			if !ok {
				c.logger.Info("skipping tab without panes", zap.String("tab", string(t.ID)))
				continue
			}
			win.Tabs = append(win.Tabs, tab)
		}
		if len(win.Tabs) == 0 {
			c.logger.Info("skipping window without tabs", zap.String("window", string(w.ID)))
			continue
		}
		ws.Windows = append(ws.Windows, win)
	}

	if len(ws.Windows) == 0 {
		return layout.Workspace{}, ErrEmptyWorkspace
	}
	return ws, nil
}

func (c *Capturer) captureTab(ctx context.Context, s host.Session, t host.Tab) (layout.Tab, bool, error) {
	panes, err := s.Panes(ctx, t.ID)
	if err != nil {
		return layout.Tab{}, false, fmt.Errorf("failed to list panes of tab %s: %w", t.ID, err)
	}
	if len(panes) == 0 {
		return layout.Tab{}, false, nil
	}

	meta := make([]host.PaneMetadata, len(panes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, p := range panes {
		g.Go(func() error {
			md, err := s.PaneMetadata(gctx, p.ID)
			if err != nil {
				return fmt.Errorf("failed to read pane %s: %w", p.ID, err)
			}
			meta[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return layout.Tab{}, false, err
	}

	leaves := make([]layout.Pane, len(panes))
	for i, p := range panes {
		leaves[i] = layout.Pane{
			WorkingDir: host.CwdPath(meta[i].Cwd),
			Command:    meta[i].Command,
			Title:      p.Title,
			Cols:       p.Cols,
			Rows:       p.Rows,
		}
	}

	nodes, exact := BuildTree(panes, leaves)
	if !exact {
		c.logger.Warn("pane geometry does not form a split tree, using an even chain",
			zap.String("tab", string(t.ID)), zap.Int("panes", len(panes)))
	}
	return layout.Tab{Title: t.Title, Nodes: nodes}, true, nil
}
