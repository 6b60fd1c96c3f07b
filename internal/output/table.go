// Package output provides terminal output utilities for cx.
//
// This package includes:
//   - Table rendering for snapshots, restore reports, history and templates
//   - Progress bars for long-running operations
//   - Spinners for indeterminate operations
//
// Tables use plain characters and ANSI color codes only when stdout is a
// terminal and NO_COLOR is unset. Progress indicators are safe for concurrent use.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/cxlinux/cx/internal/restore"
	"github.com/cxlinux/cx/internal/snapshots"
	"github.com/cxlinux/cx/internal/store"
	"github.com/cxlinux/cx/internal/templates"
)

// ANSI color codes for status display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderSnapshotTable renders a table of snapshot summaries in the order given.
// snapshots.Store.List already yields newest first. lastRestored maps names to
// their latest restore; a nil map means history is unavailable.
func RenderSnapshotTable(summaries []snapshots.Summary, lastRestored map[string]time.Time) string {
	if len(summaries) == 0 {
		return "No snapshots found.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-24s %-8s %-5s %-6s %-15s %-15s %s\n",
		"Name", "Windows", "Tabs", "Panes", "Created", "Last restored", "Description"))
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, s := range summaries {
		restored := "-"
		if lastRestored != nil {
			restored = "never"
			if t, ok := lastRestored[s.Name]; ok {
				restored = formatRelativeTime(t)
			}
		}
		sb.WriteString(fmt.Sprintf("%-24s %-8d %-5d %-6d %-15s %-15s %s\n",
			truncate(s.Name, 24),
			s.Windows,
			s.Tabs,
			s.Panes,
			formatRelativeTime(s.CreatedAt),
			restored,
			truncate(s.Description, 30)))
	}

	return sb.String()
}

// RenderRestoreReport renders the per-pane outcome of a restore followed by
// its warnings and failures.
func RenderRestoreReport(r *restore.Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Restored %q: %d windows, %d tabs, %d panes\n",
		r.Snapshot, r.Windows, r.Tabs, len(r.Panes)))

	if len(r.Panes) > 0 {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%-7s %-4s %-4s %-10s %-32s %s\n",
			"Window", "Tab", "Pane", "Status", "Directory", "Command"))
		sb.WriteString(strings.Repeat("─", 80))
		sb.WriteString("\n")

		for _, p := range r.Panes {
			dir := p.Dir
			if dir == "" {
				dir = p.WorkingDir
			}
			status := fmt.Sprintf("%-10s", p.Status)
			sb.WriteString(fmt.Sprintf("%-7d %-4d %-4d %s %-32s %s\n",
				p.Window+1,
				p.Tab+1,
				p.Leaf+1,
				colorize(statusColor(p.Status), status),
				truncate(dir, 32),
				truncate(p.Command, 24)))
		}
	}

	sb.WriteString(fmt.Sprintf("\n%d restored, %d degraded, %d failed\n",
		r.Restored(), r.Degraded(), r.Failed()))

	for _, w := range r.Warnings {
		sb.WriteString(colorize(colorYellow, "warning: ") + w + "\n")
	}
	for _, f := range r.Failures {
		sb.WriteString(colorize(colorRed, "failed: ") + f + "\n")
	}

	return sb.String()
}

func statusColor(s restore.Status) string {
	switch s {
	case restore.StatusRestored:
		return colorGreen
	case restore.StatusDegraded:
		return colorYellow
	case restore.StatusFailed:
		return colorRed
	default:
		return colorGray
	}
}

// RenderEvents renders snapshot log entries in the order given.
func RenderEvents(events []*store.Event) string {
	if len(events) == 0 {
		return "No snapshot history.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-15s %-8s %-24s %s\n", "When", "Action", "Snapshot", "Detail"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, e := range events {
		sb.WriteString(fmt.Sprintf("%-15s %-8s %-24s %s\n",
			formatRelativeTime(e.CreatedAt),
			e.Action,
			truncate(e.Snapshot, 24),
			truncate(e.Detail, 30)))
	}

	return sb.String()
}

// RenderRestoreRuns renders recorded restore runs in the order given.
func RenderRestoreRuns(runs []*store.RestoreRun) string {
	if len(runs) == 0 {
		return "No restores recorded.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-8s %-15s %-24s %-9s %-9s %-9s %-7s %s\n",
		"ID", "When", "Snapshot", "Restored", "Degraded", "Failed", "Issues", "Took"))
	sb.WriteString(strings.Repeat("─", 99))
	sb.WriteString("\n")

	for _, r := range runs {
		failed := fmt.Sprintf("%-9d", r.Failed)
		if r.Failed > 0 {
			failed = colorize(colorRed, failed)
		}
		sb.WriteString(fmt.Sprintf("%-8s %-15s %-24s %-9d %-9d %s %-7d %s\n",
			ShortID(r.ID),
			formatRelativeTime(r.StartedAt),
			truncate(r.Snapshot, 24),
			r.Restored,
			r.Degraded,
			failed,
			len(r.Issues),
			formatDuration(r.FinishedAt.Sub(r.StartedAt))))
	}

	return sb.String()
}

// RenderRestoreRun renders one recorded restore with its warnings and failures.
func RenderRestoreRun(r *store.RestoreRun) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Restore %s of %q\n", r.ID, r.Snapshot))
	sb.WriteString(fmt.Sprintf("Started:  %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), formatRelativeTime(r.StartedAt)))
	sb.WriteString(fmt.Sprintf("Took:     %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt))))
	sb.WriteString(fmt.Sprintf("Created:  %d window(s), %d tab(s)\n", r.Windows, r.Tabs))
	sb.WriteString(fmt.Sprintf("Panes:    %d restored, %d degraded, %d failed\n", r.Restored, r.Degraded, r.Failed))

	if len(r.Issues) == 0 {
		sb.WriteString("\nNo issues.\n")
		return sb.String()
	}
	sb.WriteString("\n")
	for _, issue := range r.Issues {
		switch issue.Kind {
		case store.IssueFailure:
			sb.WriteString(colorize(colorRed, "failed: ") + issue.Message + "\n")
		default:
			sb.WriteString(colorize(colorYellow, "warning: ") + issue.Message + "\n")
		}
	}
	return sb.String()
}

// ShortID returns the leading part of a run ID shown in tables.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderTemplateTable renders template descriptors in the order given.
func RenderTemplateTable(descs []templates.Descriptor) string {
	if len(descs) == 0 {
		return "No templates registered.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-20s %-10s %-30s %s\n", "Template", "Version", "Source", "Description"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, d := range descs {
		version := "-"
		if d.Version != nil {
			version = d.Version.String()
		}
		sb.WriteString(fmt.Sprintf("%-20s %-10s %-30s %s\n",
			truncate(d.ID, 20),
			version,
			truncate(d.Source, 30),
			truncate(d.Description, 40)))
	}

	return sb.String()
}

// formatDuration renders d to the nearest sensible unit ("850ms", "2.4s", "3m12s").
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/24/7), "week")
	case diff < 365*24*time.Hour:
		return plural(int(diff.Hours()/24/30), "month")
	default:
		return plural(int(diff.Hours()/24/365), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
