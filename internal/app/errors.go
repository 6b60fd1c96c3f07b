package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cxlinux/cx/internal/capture"
	"github.com/cxlinux/cx/internal/restore"
	"github.com/cxlinux/cx/internal/scaffold"
	"github.com/cxlinux/cx/internal/snapshots"
	"github.com/cxlinux/cx/internal/store"
)

// errIncomplete marks a restore that ran to the end with failed panes.
var errIncomplete = errors.New("restore incomplete")

var hints = []struct {
	err  error
	hint string
}{
	{snapshots.ErrNotFound, "Run 'cx snapshots' to see available snapshots."},
	{snapshots.ErrInvalidName, "Snapshot names use letters, digits, '.', '_' and '-'."},
	{snapshots.ErrCorrupt, "The file was modified outside cx. Remove it with 'cx snapshots --delete NAME'."},
	{snapshots.ErrUnsupportedVersion, "The snapshot was written by a newer cx. Upgrade cx to read it."},
	{snapshots.ErrInvalidLayout, "The captured layout is inconsistent. Run with --verbose and report the log."},
	{restore.ErrInvalidLayout, "The stored layout is inconsistent. Save the workspace again."},
	{capture.ErrSessionUnavailable, "Is WezTerm running? cx talks to it through 'wezterm cli' (see host.binary in config.yaml)."},
	{capture.ErrEmptyWorkspace, "Open at least one window before saving."},
	{scaffold.ErrUnknownTemplate, "Run 'cx templates' to see available templates."},
	{scaffold.ErrTargetExists, "Use --force to replace the directory, or choose another with --dir."},
	{scaffold.ErrInvalidName, "The project name must be a single path segment."},
	{store.ErrNotInitialized, "Run 'cx save' to create the history database."},
	{store.ErrRunNotFound, "Run 'cx snapshots --history' to see recorded restores."},
	{errIncomplete, "Panes that failed are listed above. Run with --verbose for details."},
}

// withHint appends a suggestion for errors the user can act on.
func withHint(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errors.New("interrupted")
	}
	for _, h := range hints {
		if errors.Is(err, h.err) {
			return fmt.Errorf("%w\n\n%s", err, h.hint)
		}
	}
	return err
}
