// Package config loads cx settings from config.yaml, CX_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cxlinux/cx/internal/logging"
)

const (
	appName   = "cx"
	fileName  = "config.yaml"
	envPrefix = "CX"
)

// Keys understood in config.yaml. Environment variables use the upper-case
// key with dots replaced by underscores, e.g. CX_CAPTURE_TIMEOUT.
const (
	KeySnapshotDir    = "snapshot_dir"
	KeyDBPath         = "db_path"
	KeyRegistry       = "templates.registry"
	KeyHostBinary     = "host.binary"
	KeyHostTimeout    = "host.timeout"
	KeyCaptureTimeout = "capture.timeout"
	KeyCaptureBackoff = "capture.retry_backoff"
	KeyCaptureWorkers = "capture.concurrency"
	KeyFallbackDir    = "restore.fallback_dir"
	KeyLaunchCommands = "restore.launch_commands"
	KeyLogLevel       = "log.level"
	KeyLogDevelopment = "log.development"
)

// Config holds resolved settings.
type Config struct {
	File         string // config file that was read, empty if none
	SnapshotDir  string
	DBPath       string
	RegistryPath string
	Host         HostConfig
	Capture      CaptureConfig
	Restore      RestoreConfig
	Log          logging.Config
}

// HostConfig configures the terminal adapter.
type HostConfig struct {
	Binary  string
	Timeout time.Duration
}

// CaptureConfig configures session capture.
type CaptureConfig struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
	Concurrency  int
}

// RestoreConfig configures restore.
type RestoreConfig struct {
	FallbackDir    string
	LaunchCommands bool
}

// Dir returns the cx config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/cx if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// DataDir returns the cx data directory, respecting XDG_DATA_HOME.
// Defaults to ~/.local/share/cx if XDG_DATA_HOME is not set.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appName), nil
}

// Load resolves the configuration. file names an explicit config file, which
// must exist; when empty, config.yaml in Dir is read if present. flags maps
// config keys to command-line flags that override them when set.
func Load(file string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	explicit := file != ""
	if !explicit {
		dir, err := Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
		file = filepath.Join(dir, fileName)
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	read := file
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		read = ""
	}

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag --%s: %w", flag.Name, err)
		}
	}

	cfg := &Config{
		File:         read,
		SnapshotDir:  expandHome(v.GetString(KeySnapshotDir)),
		DBPath:       expandHome(v.GetString(KeyDBPath)),
		RegistryPath: expandHome(v.GetString(KeyRegistry)),
		Host: HostConfig{
			Binary:  v.GetString(KeyHostBinary),
			Timeout: v.GetDuration(KeyHostTimeout),
		},
		Capture: CaptureConfig{
			Timeout:      v.GetDuration(KeyCaptureTimeout),
			RetryBackoff: v.GetDuration(KeyCaptureBackoff),
			Concurrency:  v.GetInt(KeyCaptureWorkers),
		},
		Restore: RestoreConfig{
			FallbackDir:    expandHome(v.GetString(KeyFallbackDir)),
			LaunchCommands: v.GetBool(KeyLaunchCommands),
		},
		Log: logging.Config{
			Level:       v.GetString(KeyLogLevel),
			Development: v.GetBool(KeyLogDevelopment),
			OutputPaths: []string{"stderr"},
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) error {
	configDir, err := Dir()
	if err != nil {
		return fmt.Errorf("failed to locate config directory: %w", err)
	}
	dataDir, err := DataDir()
	if err != nil {
		return fmt.Errorf("failed to locate data directory: %w", err)
	}

	v.SetDefault(KeySnapshotDir, filepath.Join(dataDir, "snapshots"))
	v.SetDefault(KeyDBPath, filepath.Join(dataDir, "history.db"))
	v.SetDefault(KeyRegistry, filepath.Join(configDir, "templates.yaml"))
	v.SetDefault(KeyHostBinary, "wezterm")
	v.SetDefault(KeyHostTimeout, 5*time.Second)
	v.SetDefault(KeyCaptureTimeout, 10*time.Second)
	v.SetDefault(KeyCaptureBackoff, 250*time.Millisecond)
	v.SetDefault(KeyCaptureWorkers, 8)
	v.SetDefault(KeyFallbackDir, "")
	v.SetDefault(KeyLaunchCommands, true)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogDevelopment, false)
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.SnapshotDir == "" {
		return fmt.Errorf("%s must not be empty", KeySnapshotDir)
	}
	if c.Host.Timeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyHostTimeout, c.Host.Timeout)
	}
	if c.Capture.Timeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyCaptureTimeout, c.Capture.Timeout)
	}
	if c.Capture.RetryBackoff < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyCaptureBackoff, c.Capture.RetryBackoff)
	}
	if c.Capture.Concurrency < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyCaptureWorkers, c.Capture.Concurrency)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
