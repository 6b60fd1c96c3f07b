// Package wezterm implements host.Session on top of the terminal's
// "cli" subcommand (wezterm cli list/spawn/split-pane/adjust-pane-size/send-text).
package wezterm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/layout"
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config configures the adapter.
type Config struct {
	Binary  string        // terminal executable, e.g. "wezterm"
	Timeout time.Duration // per-call timeout
	Logger  *zap.Logger
	Runner  Runner // nil uses os/exec
}

// Session talks to a running terminal through its CLI.
type Session struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
	run     Runner

	mu       sync.Mutex
	cached   []paneEntry
	cachedAt time.Time
}

const listTTL = 500 * time.Millisecond

// New creates a Session.
func New(cfg Config) *Session {
	s := &Session{
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		run:     cfg.Runner,
	}
	if s.binary == "" {
		s.binary = "wezterm"
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.run == nil {
		s.run = execRunner
	}
	return s
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// paneEntry is one element of "cli list --format json".
type paneEntry struct {
	WindowID    int    `json:"window_id"`
	TabID       int    `json:"tab_id"`
	PaneID      int    `json:"pane_id"`
	Workspace   string `json:"workspace"`
	Title       string `json:"title"`
	Cwd         string `json:"cwd"`
	TabTitle    string `json:"tab_title"`
	WindowTitle string `json:"window_title"`
	LeftCol     int    `json:"left_col"`
	TopRow      int    `json:"top_row"`
	TTYName     string `json:"tty_name"`
	Size        struct {
		Rows int `json:"rows"`
		Cols int `json:"cols"`
	} `json:"size"`
}

func (s *Session) cli(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	full := append([]string{"cli"}, args...)
	s.logger.Debug("terminal cli", zap.String("binary", s.binary), zap.Strings("args", full))
	out, err := s.run(ctx, s.binary, full...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
			strings.Contains(err.Error(), "failed to connect") {
			return nil, fmt.Errorf("%w: %v", host.ErrUnavailable, err)
		}
		return nil, err
	}
	return out, nil
}

func (s *Session) list(ctx context.Context) ([]paneEntry, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < listTTL {
		entries := s.cached
		s.mu.Unlock()
		return entries, nil
	}
	s.mu.Unlock()

	out, err := s.cli(ctx, "list", "--format", "json")
	if err != nil {
		return nil, err
	}
	var entries []paneEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse pane list: %w", err)
	}

	s.mu.Lock()
	s.cached = entries
	s.cachedAt = time.Now()
	s.mu.Unlock()
	return entries, nil
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Windows implements host.Session.
func (s *Session) Windows(ctx context.Context) ([]host.Window, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	var out []host.Window
	for _, e := range entries {
		if seen[e.WindowID] {
			continue
		}
		seen[e.WindowID] = true
		out = append(out, host.Window{ID: windowID(e.WindowID), Title: e.WindowTitle})
	}
	return out, nil
}

// Tabs implements host.Session.
func (s *Session) Tabs(ctx context.Context, window host.WindowID) ([]host.Tab, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	var out []host.Tab
	for _, e := range entries {
		if windowID(e.WindowID) != window || seen[e.TabID] {
			continue
		}
		seen[e.TabID] = true
		out = append(out, host.Tab{ID: tabID(e.TabID), Title: e.TabTitle})
	}
	return out, nil
}

// Panes implements host.Session.
func (s *Session) Panes(ctx context.Context, tab host.TabID) ([]host.Pane, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	var out []host.Pane
	for _, e := range entries {
		if tabID(e.TabID) != tab {
			continue
		}
		out = append(out, host.Pane{
			ID:    paneID(e.PaneID),
			Title: e.Title,
			Left:  e.LeftCol,
			Top:   e.TopRow,
			Cols:  e.Size.Cols,
			Rows:  e.Size.Rows,
		})
	}
	return out, nil
}

// PaneMetadata implements host.Session. The command is the pane's foreground
// process when it is not a shell; lookup failures leave it empty.
func (s *Session) PaneMetadata(ctx context.Context, pane host.PaneID) (host.PaneMetadata, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return host.PaneMetadata{}, err
	}
	for _, e := range entries {
		if paneID(e.PaneID) != pane {
			continue
		}
		md := host.PaneMetadata{Cwd: e.Cwd}
		if e.TTYName != "" {
			md.Command = s.foregroundCommand(ctx, e.TTYName)
		}
		return md, nil
	}
	return host.PaneMetadata{}, fmt.Errorf("pane %s not found", pane)
}

var shells = map[string]bool{
	"bash": true, "zsh": true, "fish": true, "sh": true, "dash": true, "ksh": true, "nu": true, "tcsh": true,
}

// foregroundCommand returns the command line of the foreground process on tty.
func (s *Session) foregroundCommand(ctx context.Context, tty string) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.run(ctx, "ps", "-o", "stat=,args=", "-t", strings.TrimPrefix(tty, "/dev/"))
	if err != nil {
		s.logger.Debug("foreground process lookup failed", zap.String("tty", tty), zap.Error(err))
		return ""
	}
	return parseForeground(string(out))
}

// parseForeground picks the last foreground ('+' in STAT) process that is not a shell.
func parseForeground(psOut string) string {
	cmd := ""
	for _, line := range strings.Split(psOut, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[0], "+") {
			continue
		}
		prog := strings.TrimPrefix(filepath.Base(fields[1]), "-")
		if shells[prog] {
			continue
		}
		cmd = strings.Join(fields[1:], " ")
	}
	return cmd
}

// CreateWindow implements host.Session.
func (s *Session) CreateWindow(ctx context.Context, cwd string) (host.WindowID, host.TabID, host.PaneID, error) {
	out, err := s.cli(ctx, "spawn", "--new-window", "--cwd", cwd)
	if err != nil {
		return "", "", "", err
	}
	s.invalidate()
	p, err := parsePaneID(out)
	if err != nil {
		return "", "", "", err
	}
	e, err := s.find(ctx, p)
	if err != nil {
		return "", "", "", err
	}
	return windowID(e.WindowID), tabID(e.TabID), paneID(p), nil
}

// CreateTab implements host.Session.
func (s *Session) CreateTab(ctx context.Context, window host.WindowID, cwd string) (host.TabID, host.PaneID, error) {
	out, err := s.cli(ctx, "spawn", "--window-id", string(window), "--cwd", cwd)
	if err != nil {
		return "", "", err
	}
	s.invalidate()
	p, err := parsePaneID(out)
	if err != nil {
		return "", "", err
	}
	e, err := s.find(ctx, p)
	if err != nil {
		return "", "", err
	}
	return tabID(e.TabID), paneID(p), nil
}

// SplitPane implements host.Session.
func (s *Session) SplitPane(ctx context.Context, pane host.PaneID, o layout.Orientation, ratio float64, cwd string) (host.PaneID, error) {
	dir := "--right"
	if o == layout.Horizontal {
		dir = "--bottom"
	}
	percent := int(math.Round((1 - ratio) * 100))
	percent = max(1, min(99, percent))

	out, err := s.cli(ctx, "split-pane", "--pane-id", string(pane), dir,
		"--percent", strconv.Itoa(percent), "--cwd", cwd)
	if err != nil {
		return "", err
	}
	s.invalidate()
	p, err := parsePaneID(out)
	if err != nil {
		return "", err
	}
	return paneID(p), nil
}

// ResizeSplit implements host.Session. The region is bounded by the panes
// on each side; the first-side pane touching the divider is adjusted so the
// first side takes ratio of the combined extent.
func (s *Session) ResizeSplit(ctx context.Context, first, second []host.PaneID, o layout.Orientation, ratio float64) error {
	if len(first) == 0 || len(second) == 0 {
		return fmt.Errorf("split needs panes on both sides")
	}
	entries, err := s.list(ctx)
	if err != nil {
		return err
	}
	a, err := side(entries, first)
	if err != nil {
		return err
	}
	b, err := side(entries, second)
	if err != nil {
		return err
	}

	// lead and span project a pane onto the resized axis.
	lead := func(e paneEntry) int { return e.LeftCol }
	span := func(e paneEntry) int { return e.Size.Cols }
	if o == layout.Horizontal {
		lead = func(e paneEntry) int { return e.TopRow }
		span = func(e paneEntry) int { return e.Size.Rows }
	}

	start, divider, end := lead(a[0]), lead(b[0])-1, 0
	for _, e := range a {
		start = min(start, lead(e))
	}
	for _, e := range b {
		divider = min(divider, lead(e)-1)
		end = max(end, lead(e)+span(e))
	}
	edge := a[0]
	for _, e := range a {
		if lead(e)+span(e) == divider {
			edge = e
			break
		}
	}

	firstExtent := divider - start
	total := firstExtent + (end - divider - 1)
	delta := int(math.Round(ratio*float64(total))) - firstExtent
	if delta == 0 {
		return nil
	}

	direction := "Right"
	if o == layout.Horizontal {
		direction = "Down"
	}
	if delta < 0 {
		delta = -delta
		if o == layout.Vertical {
			direction = "Left"
		} else {
			direction = "Up"
		}
	}

	if _, err := s.cli(ctx, "adjust-pane-size", "--pane-id", strconv.Itoa(edge.PaneID),
		"--amount", strconv.Itoa(delta), direction); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// side resolves panes to their list entries, in order.
func side(entries []paneEntry, panes []host.PaneID) ([]paneEntry, error) {
	out := make([]paneEntry, 0, len(panes))
	for _, id := range panes {
		e, ok := lookup(entries, id)
		if !ok {
			return nil, fmt.Errorf("pane %s not found", id)
		}
		out = append(out, e)
	}
	return out, nil
}

// Launch implements host.Session by typing the command into the pane.
func (s *Session) Launch(ctx context.Context, pane host.PaneID, command string) error {
	_, err := s.cli(ctx, "send-text", "--pane-id", string(pane), "--no-paste", command+"\r")
	return err
}

func (s *Session) find(ctx context.Context, pane int) (paneEntry, error) {
	entries, err := s.list(ctx)
	if err != nil {
		return paneEntry{}, err
	}
	if e, ok := lookup(entries, paneID(pane)); ok {
		return e, nil
	}
	return paneEntry{}, fmt.Errorf("spawned pane %d not listed", pane)
}

func lookup(entries []paneEntry, id host.PaneID) (paneEntry, bool) {
	for _, e := range entries {
		if paneID(e.PaneID) == id {
			return e, true
		}
	}
	return paneEntry{}, false
}

func parsePaneID(out []byte) (int, error) {
	s := strings.TrimSpace(string(out))
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unexpected pane id %q", s)
	}
	return id, nil
}

func windowID(id int) host.WindowID { return host.WindowID(strconv.Itoa(id)) }
func tabID(id int) host.TabID       { return host.TabID(strconv.Itoa(id)) }
func paneID(id int) host.PaneID     { return host.PaneID(strconv.Itoa(id)) }

var _ host.Session = (*Session)(nil)
