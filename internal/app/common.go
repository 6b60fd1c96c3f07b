package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cxlinux/cx/internal/config"
	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/host/wezterm"
	"github.com/cxlinux/cx/internal/logging"
	"github.com/cxlinux/cx/internal/snapshots"
	"github.com/cxlinux/cx/internal/store"
)

// newSession connects to the terminal. Tests replace it with a fake host.
var newSession = func(cfg *config.Config, logger *zap.Logger) host.Session {
	return wezterm.New(wezterm.Config{
		Binary:  cfg.Host.Binary,
		Timeout: cfg.Host.Timeout,
		Logger:  logger,
	})
}

// env is what every command needs once configuration is resolved.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	history *store.Store
	opened  bool
}

// setup loads configuration with cmd's flags applied on top and builds the logger.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configFile, boundFlags(cmd))
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("configuration loaded",
		zap.String("file", cfg.File),
		zap.String("snapshot_dir", cfg.SnapshotDir),
		zap.String("db", cfg.DBPath))

	return &env{cfg: cfg, logger: logger}, nil
}

// boundFlags maps config keys to the flags of cmd that override them.
// Flags a command does not define are nil and ignored by config.Load.
func boundFlags(cmd *cobra.Command) map[string]*pflag.Flag {
	f := cmd.Flags()
	return map[string]*pflag.Flag{
		config.KeySnapshotDir: f.Lookup("snapshot-dir"),
		config.KeyDBPath:      f.Lookup("db"),
		config.KeyLogLevel:    f.Lookup("log-level"),
		config.KeyFallbackDir: f.Lookup("fallback-dir"),
	}
}

func (e *env) close() {
	if e.history != nil {
		e.history.Close()
	}
	_ = e.logger.Sync()
}

// historyStore opens the history database on first use. A database that
// cannot be opened is logged and reported as nil: history is an audit
// trail, never a reason to fail a snapshot operation.
func (e *env) historyStore() *store.Store {
	if e.opened {
		return e.history
	}
	e.opened = true

	st, err := store.Open(e.cfg.DBPath)
	if err != nil {
		e.logger.Warn("history disabled", zap.String("db", e.cfg.DBPath), zap.Error(err))
		return nil
	}
	e.history = st
	return st
}

// snapshotStore returns the snapshot store with history recording attached when available.
func (e *env) snapshotStore() *snapshots.Store {
	s := snapshots.New(e.cfg.SnapshotDir, e.logger)
	if h := e.historyStore(); h != nil {
		s.WithRecorder(h)
	}
	return s
}

func (e *env) session() host.Session {
	return newSession(e.cfg, e.logger)
}

// plural returns "1 pane" or "3 panes".
func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
