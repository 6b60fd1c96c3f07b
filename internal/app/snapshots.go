package app

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/output"
	"github.com/cxlinux/cx/internal/snapshots"
	"github.com/cxlinux/cx/internal/store"
	"github.com/cxlinux/cx/internal/watcher"
)

var (
	snapshotsFlagList    bool
	snapshotsFlagDelete  string
	snapshotsFlagMigrate string
	snapshotsFlagHistory bool
	snapshotsFlagRun     string
	snapshotsFlagWatch   bool
	snapshotsFlagLimit   int
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List, delete and migrate saved snapshots",
	Long: `Manage saved workspace snapshots.

Without flags the snapshots are listed newest first. Files that cannot be
read are reported after the list and do not hide the others.

--history shows the log of saves, deletions and migrations together with past
restores and how they went; --run shows the warnings and failures of one
restore, by the ID (or its first characters) from that list. --watch keeps the
list on screen and refreshes it whenever the snapshot directory changes.`,
	Example: `  cx snapshots                  # list
  cx snapshots --delete work
  cx snapshots --migrate work   # rewrite at the current schema version
  cx snapshots --history
  cx snapshots --run 3f2a9c1e   # details of one restore
  cx snapshots --watch          # Ctrl+C to stop`,
	Args: cobra.NoArgs,
	RunE: runSnapshots,
}

func init() {
	snapshotsCmd.Flags().BoolVarP(&snapshotsFlagList, "list", "l", false, "list snapshots (default)")
	snapshotsCmd.Flags().StringVarP(&snapshotsFlagDelete, "delete", "d", "", "delete the named snapshot")
	snapshotsCmd.Flags().StringVar(&snapshotsFlagMigrate, "migrate", "", "rewrite the named snapshot at the current schema version")
	snapshotsCmd.Flags().BoolVar(&snapshotsFlagHistory, "history", false, "show snapshot and restore history")
	snapshotsCmd.Flags().StringVar(&snapshotsFlagRun, "run", "", "show the issues of one recorded restore")
	snapshotsCmd.Flags().BoolVar(&snapshotsFlagWatch, "watch", false, "refresh the list when snapshots change")
	snapshotsCmd.Flags().IntVar(&snapshotsFlagLimit, "limit", 20, "maximum history entries to show")

	snapshotsCmd.MarkFlagsMutuallyExclusive("list", "delete", "migrate", "history", "run", "watch")
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	st := e.snapshotStore()
	out := cmd.OutOrStdout()

	switch {
	case snapshotsFlagDelete != "":
		if err := st.Delete(snapshotsFlagDelete); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted snapshot %s\n", snapshotsFlagDelete)
		return nil

	case snapshotsFlagMigrate != "":
		from, to, err := st.Migrate(cmd.Context(), snapshotsFlagMigrate)
		if err != nil {
			return err
		}
		if from == to {
			fmt.Fprintf(out, "Snapshot %s is already at schema version %d\n", snapshotsFlagMigrate, to)
			return nil
		}
		fmt.Fprintf(out, "Migrated snapshot %s from schema version %d to %d\n", snapshotsFlagMigrate, from, to)
		return nil

	case snapshotsFlagHistory:
		return showHistory(e, out)

	case snapshotsFlagRun != "":
		return showRun(e, out, snapshotsFlagRun)

	case snapshotsFlagWatch:
		return watchSnapshots(cmd, e, st)
	}

	listSnapshots(e, st, out, cmd.ErrOrStderr())
	return nil
}

// listSnapshots prints the table, then a warning per unreadable file.
func listSnapshots(e *env, st *snapshots.Store, out, errOut io.Writer) {
	var (
		summaries []snapshots.Summary
		failures  []error
	)
	for sum, err := range st.List() {
		if err != nil {
			failures = append(failures, err)
			continue
		}
		summaries = append(summaries, sum)
	}

	fmt.Fprint(out, output.RenderSnapshotTable(summaries, lastRestores(e, summaries)))
	for _, err := range failures {
		fmt.Fprintf(errOut, "warning: %v\n", err)
	}
}

// lastRestores looks up when each snapshot was last restored. It returns nil
// when history is unavailable.
func lastRestores(e *env, summaries []snapshots.Summary) map[string]time.Time {
	h := e.historyStore()
	if h == nil {
		return nil
	}
	last := make(map[string]time.Time, len(summaries))
	for _, sum := range summaries {
		t, err := h.LastRestore(sum.Name)
		if err != nil {
			e.logger.Warn("failed to read restore history", zap.String("snapshot", sum.Name), zap.Error(err))
			return nil
		}
		if t != nil {
			last[sum.Name] = *t
		}
	}
	return last
}

func showHistory(e *env, out io.Writer) error {
	h, err := requireHistory(e)
	if err != nil {
		return err
	}

	events, err := h.Events("", snapshotsFlagLimit)
	if err != nil {
		return err
	}
	runs, err := h.RestoreRuns("", snapshotsFlagLimit)
	if err != nil {
		return err
	}
	// RestoreRuns leaves issues out; load them for the Issues column.
	for i, r := range runs {
		full, err := h.GetRestoreRun(r.ID)
		if err != nil {
			return err
		}
		runs[i] = full
	}

	fmt.Fprintln(out, "Snapshot changes:")
	fmt.Fprint(out, output.RenderEvents(events))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Restores:")
	fmt.Fprint(out, output.RenderRestoreRuns(runs))
	return nil
}

func showRun(e *env, out io.Writer, id string) error {
	h, err := requireHistory(e)
	if err != nil {
		return err
	}
	run, err := h.GetRestoreRun(id)
	if err != nil {
		return err
	}
	fmt.Fprint(out, output.RenderRestoreRun(run))
	return nil
}

func requireHistory(e *env) (*store.Store, error) {
	h := e.historyStore()
	if h == nil {
		return nil, fmt.Errorf("history database %s could not be opened (run with --verbose for details)", e.cfg.DBPath)
	}
	return h, nil
}

func watchSnapshots(cmd *cobra.Command, e *env, st *snapshots.Store) error {
	w, err := watcher.New(st.Dir(), watcher.DefaultDebounce, e.logger)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	listSnapshots(e, st, out, errOut)
	fmt.Fprintf(errOut, "Watching %s (Ctrl+C to stop)\n", st.Dir())

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-w.Changes():
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "\n%s\n", now().Format("15:04:05"))
			listSnapshots(e, st, out, errOut)
		}
	}
}
