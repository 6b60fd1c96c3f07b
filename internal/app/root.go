package app

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	configFile  string
	snapshotDir string
	dbPath      string
	logLevel    string
	verbose     bool

	// RootCmd is the root command for cx
	RootCmd = &cobra.Command{
		Use:   "cx",
		Short: "Project templates and terminal workspace snapshots",
		Long: `cx scaffolds new projects from templates and saves, restores and lists
snapshots of your terminal workspace: windows, tabs, split panes, working
directories and the commands running in them.

Snapshots are captured from a running WezTerm through 'wezterm cli'.

Configuration is read from $XDG_CONFIG_HOME/cx/config.yaml (or ~/.config/cx),
then CX_* environment variables (CX_SNAPSHOT_DIR, CX_CAPTURE_TIMEOUT, ...),
then flags.`,
		Example: `  # Start a project from the default template
  cx new --name demo

  # Save the current workspace and bring it back later
  cx save --name work --description "api + logs"
  cx restore work

  # See what is stored
  cx snapshots
  cx snapshots --history`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cx/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&snapshotDir, "snapshot-dir", "", "snapshot directory (default: $XDG_DATA_HOME/cx/snapshots)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path (default: $XDG_DATA_HOME/cx/history.db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: warn)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(newCmd)
	RootCmd.AddCommand(saveCmd)
	RootCmd.AddCommand(restoreCmd)
	RootCmd.AddCommand(snapshotsCmd)
	RootCmd.AddCommand(templatesCmd)
}

// Execute runs the root command. Cancelling ctx interrupts capture, restore
// and scaffolding at their next checkpoint.
func Execute(ctx context.Context) error {
	err := RootCmd.ExecuteContext(ctx)
	return withHint(err)
}
