package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/output"
	"github.com/cxlinux/cx/internal/restore"
	"github.com/cxlinux/cx/internal/store"
)

var (
	restoreFlagFallbackDir string
	restoreFlagNoCommands  bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Recreate a saved workspace",
	Long: `Recreate the windows, tabs and split panes of a snapshot in the running
terminal, each pane in its recorded working directory, and relaunch the
recorded commands.

Restore is best-effort. A pane whose directory no longer exists opens in the
fallback directory (your home directory unless --fallback-dir or
restore.fallback_dir says otherwise). A window, tab or split the terminal
rejects is reported and the rest of the workspace is still restored.

The outcome is recorded in the history database; see 'cx snapshots --history'.`,
	Example: `  cx restore work
  cx restore work --fallback-dir ~/src
  cx restore work --no-commands     # layout and directories only`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVar(&restoreFlagFallbackDir, "fallback-dir", "", "directory for panes whose directory is missing (default: home)")
	restoreCmd.Flags().BoolVar(&restoreFlagNoCommands, "no-commands", false, "do not relaunch recorded commands")
}

func runRestore(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	name := args[0]
	rec, err := e.snapshotStore().Load(name)
	if err != nil {
		return err
	}

	o := restore.New(restore.Config{
		FallbackDir:    e.cfg.Restore.FallbackDir,
		LaunchCommands: e.cfg.Restore.LaunchCommands && !restoreFlagNoCommands,
		Logger:         e.logger,
	})

	started := time.Now()
	spinner := output.NewSpinner(fmt.Sprintf("Restoring %s", name))
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	report, err := o.Restore(cmd.Context(), rec.Layout, e.session())
	spinner.Stop()
	if err != nil {
		return err
	}
	report.Snapshot = rec.Name

	if h := e.historyStore(); h != nil {
		if _, err := h.RecordRestore(restoreRun(report, started, time.Now())); err != nil {
			e.logger.Warn("failed to record restore", zap.String("snapshot", name), zap.Error(err))
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderRestoreReport(report))

	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%w: %d of %s could not be created", errIncomplete, failed, plural(len(report.Panes), "pane"))
	}
	return nil
}

// restoreRun converts a report to its history row.
func restoreRun(r *restore.Report, started, finished time.Time) *store.RestoreRun {
	run := &store.RestoreRun{
		Snapshot:   r.Snapshot,
		StartedAt:  started,
		FinishedAt: finished,
		Windows:    r.Windows,
		Tabs:       r.Tabs,
		Restored:   r.Restored(),
		Degraded:   r.Degraded(),
		Failed:     r.Failed(),
	}
	for _, w := range r.Warnings {
		run.Issues = append(run.Issues, store.Issue{Kind: store.IssueWarning, Message: w})
	}
	for _, f := range r.Failures {
		run.Issues = append(run.Issues, store.Issue{Kind: store.IssueFailure, Message: f})
	}
	return run
}
