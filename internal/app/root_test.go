package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/config"
	"github.com/cxlinux/cx/internal/host"
)

// isolate points every cx path at a fresh temp tree and returns it.
func isolate(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))
	t.Setenv("NO_COLOR", "1")
	return base
}

// useHost makes commands talk to s instead of WezTerm.
func useHost(t *testing.T, s host.Session) {
	t.Helper()
	old := newSession
	newSession = func(*config.Config, *zap.Logger) host.Session { return s }
	t.Cleanup(func() { newSession = old })
}

// run executes cx with args and returns stdout and stderr. Flag values and
// contexts are reset afterwards since cobra keeps them between executions.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	RootCmd.SetArgs(args)
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	defer resetFlags(RootCmd)

	err := Execute(context.Background())
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	// cobra only hands the root context to a subcommand whose own is unset.
	cmd.SetContext(nil)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "cx" {
		t.Errorf("expected Use to be 'cx', got '%s'", RootCmd.Use)
	}
	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}
	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}
	if !RootCmd.SilenceUsage || !RootCmd.SilenceErrors {
		t.Error("expected SilenceUsage and SilenceErrors to be true")
	}
	if RootCmd.SuggestionsMinimumDistance != 2 {
		t.Errorf("SuggestionsMinimumDistance = %d, want 2", RootCmd.SuggestionsMinimumDistance)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, expected := range []string{"new", "save", "restore", "snapshots", "templates"} {
		if !found[expected] {
			t.Errorf("expected command '%s' to be registered", expected)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "snapshot-dir", "db", "log-level", "verbose"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}
}

func TestSnapshotDirFlagOverridesConfig(t *testing.T) {
	base := isolate(t)
	dir := filepath.Join(base, "elsewhere")

	stdout, _, err := run(t, "snapshots", "--snapshot-dir", dir)
	if err != nil {
		t.Fatalf("snapshots failed: %v", err)
	}
	if !strings.Contains(stdout, "No snapshots found") {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "templates", "--log-level", "loud")
	if err == nil {
		t.Fatal("expected an error for an unknown log level")
	}
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "snapshot")
	if err == nil || !strings.Contains(err.Error(), "snapshots") {
		t.Errorf("expected a suggestion for 'snapshots', got %v", err)
	}
}
