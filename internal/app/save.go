package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cxlinux/cx/internal/capture"
	"github.com/cxlinux/cx/internal/output"
)

var (
	saveFlagName        string
	saveFlagDescription string
	saveFlagForce       bool
)

// now is replaced in tests.
var now = time.Now

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the current workspace as a snapshot",
	Long: `Capture the windows, tabs, split panes, working directories and
foreground commands of the running terminal and store them under a name.

Saving is atomic: an interrupted save leaves any previous snapshot with the
same name untouched. An existing name is only overwritten with --force.`,
	Example: `  cx save                               # snapshot-20260301-093000
  cx save -n work -d "api + logs"
  cx save --name work --force           # replace "work"`,
	Args: cobra.NoArgs,
	RunE: runSave,
}

func init() {
	saveCmd.Flags().StringVarP(&saveFlagName, "name", "n", "", "snapshot name (default: snapshot-YYYYMMDD-HHMMSS)")
	saveCmd.Flags().StringVarP(&saveFlagDescription, "description", "d", "", "free-form description")
	saveCmd.Flags().BoolVar(&saveFlagForce, "force", false, "overwrite an existing snapshot with the same name")
}

func defaultSnapshotName(t time.Time) string {
	return "snapshot-" + t.Format("20060102-150405")
}

func runSave(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	name := saveFlagName
	if name == "" {
		name = defaultSnapshotName(now())
	}

	st := e.snapshotStore()
	exists, err := st.Exists(name)
	if err != nil {
		return err
	}
	if exists && !saveFlagForce {
		return fmt.Errorf("snapshot %q already exists\n\nUse --force to overwrite it, or choose another --name", name)
	}

	c := capture.New(capture.Config{
		Timeout:      e.cfg.Capture.Timeout,
		RetryBackoff: e.cfg.Capture.RetryBackoff,
		Concurrency:  e.cfg.Capture.Concurrency,
		Logger:       e.logger,
	})

	spinner := output.NewSpinner("Capturing workspace").WithTimeout(e.cfg.Capture.Timeout)
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	ws, err := c.Capture(cmd.Context(), e.session())
	spinner.Stop()
	if err != nil {
		return err
	}

	rec, err := st.Save(cmd.Context(), name, saveFlagDescription, ws)
	if err != nil {
		return err
	}

	counts := rec.Layout.Count()
	fmt.Fprintf(cmd.OutOrStdout(), "Saved snapshot %s: %s, %s, %s\n",
		rec.Name,
		plural(counts.Windows, "window"),
		plural(counts.Tabs, "tab"),
		plural(counts.Panes, "pane"))
	return nil
}
