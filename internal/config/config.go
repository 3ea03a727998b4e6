package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// LevelConfig holds the resource ceilings of one security level.
// Memory uses the "512M" notation, durations the Go duration syntax.
type LevelConfig struct {
	MaxMemory    string        `mapstructure:"max_memory" yaml:"max_memory"`
	MaxCPU       time.Duration `mapstructure:"max_cpu" yaml:"max_cpu"`
	MaxFDs       int           `mapstructure:"max_fds" yaml:"max_fds"`
	MaxWallClock time.Duration `mapstructure:"max_wall_clock" yaml:"max_wall_clock"`
}

// Config holds the application configuration
type Config struct {
	ExtensionsDir string `mapstructure:"extensions_dir"`

	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`

	AuditEnabled bool   `mapstructure:"audit_enabled"`
	AuditLogFile string `mapstructure:"audit_log_file"`

	DefaultSecurityLevel string                 `mapstructure:"default_security_level"`
	SecurityLevels       map[string]LevelConfig `mapstructure:"security_levels"`
	MonitorInterval      time.Duration          `mapstructure:"monitor_interval"`
	MaxSourceBytes       int                    `mapstructure:"max_source_bytes"`
	MaxExtensions        int                    `mapstructure:"max_extensions"`
	ScanCacheSize        int                    `mapstructure:"scan_cache_size"`

	AllowedRoots       []string      `mapstructure:"allowed_roots"`
	CommandBinary      string        `mapstructure:"command_binary"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	AllowedCommands    []string      `mapstructure:"allowed_commands"`
	AllowedDispatchers []string      `mapstructure:"allowed_dispatchers"`

	DeniedModules  []string          `mapstructure:"denied_modules"`
	AllowedModules []string          `mapstructure:"allowed_modules"`
	PinnedDigests  map[string]string `mapstructure:"pinned_digests"`
	HostConfig     map[string]string `mapstructure:"host_config"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Default security level table. Exactly these three tiers are accepted.
var defaultLevels = map[string]any{
	"strict":  map[string]any{"max_memory": "50M", "max_cpu": "10s", "max_fds": 20, "max_wall_clock": "10s"},
	"medium":  map[string]any{"max_memory": "100M", "max_cpu": "30s", "max_fds": 50, "max_wall_clock": "30s"},
	"relaxed": map[string]any{"max_memory": "200M", "max_cpu": "60s", "max_fds": 100, "max_wall_clock": "60s"},
}

// LoadConfig loads configuration from the default locations and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom loads configuration from an explicit file when configFile is
// set. A missing file at the default locations is not an error.
func LoadConfigFrom(configFile string) (*Config, error) {
	home := getHomeDir()

	// Set defaults
	viper.SetDefault("extensions_dir", filepath.Join(home, ".config", "hyprrice", "plugins"))
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file", "")
	viper.SetDefault("log_max_size_mb", 10)
	viper.SetDefault("log_max_backups", 3)
	viper.SetDefault("log_max_age_days", 28)
	viper.SetDefault("audit_enabled", true)
	viper.SetDefault("audit_log_file", filepath.Join(home, ".hyprrice", "audit.log"))

	// Security defaults (three tiers, see defaultLevels)
	viper.SetDefault("default_security_level", "medium")
	viper.SetDefault("security_levels", defaultLevels)
	viper.SetDefault("monitor_interval", 100*time.Millisecond)
	viper.SetDefault("max_source_bytes", 1<<20)
	viper.SetDefault("max_extensions", 50)
	viper.SetDefault("scan_cache_size", 256)

	viper.SetDefault("allowed_roots", []string{
		"~/.config/hyprrice",
		"~/.hyprrice",
		"~/.config/hypr",
		"~/.config/waybar",
		"~/.config/rofi",
	})
	viper.SetDefault("command_binary", "hyprctl")
	viper.SetDefault("command_timeout", 10*time.Second)
	viper.SetDefault("allowed_commands", []string{
		"monitors", "workspaces", "clients", "devices", "layers",
		"version", "reload", "kill", "dispatch", "keyword",
	})
	viper.SetDefault("allowed_dispatchers", []string{"workspace", "movetoworkspace", "togglefloating", "fullscreen"})

	viper.SetDefault("denied_modules", []string{
		"subprocess", "multiprocessing", "threading", "socket", "urllib", "http",
		"ftplib", "telnetlib", "smtplib", "poplib", "imaplib", "ctypes", "gc",
		"importlib", "builtins", "os", "sys", "shutil", "pty", "fcntl", "signal",
	})
	viper.SetDefault("allowed_modules", []string{"json", "math", "time"})
	viper.SetDefault("pinned_digests", map[string]string{})
	viper.SetDefault("host_config", map[string]string{})
	viper.SetDefault("metrics_addr", "")

	// Set config file location
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		viper.SetConfigName("sandbox")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(filepath.Join(home, ".hyprrice"))
		viper.AddConfigPath(".")

		// Read config file (ignore error if file doesn't exist)
		_ = viper.ReadInConfig() // nolint:errcheck // config file is optional
	}

	// Override with environment variables
	viper.SetEnvPrefix("HYPRSANDBOX")
	viper.AutomaticEnv()

	// Map env var names to config keys (errors are unlikely and safe to ignore)
	_ = viper.BindEnv("extensions_dir", "HYPRSANDBOX_EXTENSIONS_DIR")         // nolint:errcheck // errors are unlikely here
	_ = viper.BindEnv("log_level", "HYPRSANDBOX_LOG_LEVEL")                   // nolint:errcheck // errors are unlikely here
	_ = viper.BindEnv("log_file", "HYPRSANDBOX_LOG_FILE")                     // nolint:errcheck // errors are unlikely here
	_ = viper.BindEnv("audit_log_file", "HYPRSANDBOX_AUDIT_LOG_FILE")         // nolint:errcheck // errors are unlikely here
	_ = viper.BindEnv("default_security_level", "HYPRSANDBOX_SECURITY_LEVEL") // nolint:errcheck // errors are unlikely here

	// Unmarshal into Config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Expand ~ in paths
	cfg.ExtensionsDir = expandPath(cfg.ExtensionsDir)
	cfg.AuditLogFile = expandPath(cfg.AuditLogFile)
	cfg.LogFile = expandPath(cfg.LogFile)
	for i, root := range cfg.AllowedRoots {
		cfg.AllowedRoots[i] = expandPath(root)
	}

	return &cfg, nil
}

// getHomeDir returns the user's home directory
func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home := getHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
