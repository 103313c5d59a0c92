package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "DUMPITALL_CONFIG"

// DefaultConfigPaths are searched in order when DUMPITALL_CONFIG is unset.
var DefaultConfigPaths = []string{
	"dumpitall.yaml",
	"dumpitall.yml",
	"/etc/dumpitall/config.yaml",
}

type Config struct {
	// Storage
	BackupDir     string        `koanf:"backup_dir"`
	RetentionDays int           `koanf:"backup_retention_days"`
	Interval      time.Duration `koanf:"backup_interval"`

	// Discovery
	ScanHost       string   `koanf:"scan_host"`
	SearchRoots    []string `koanf:"config_search_roots"`
	ConfigPatterns []string `koanf:"config_patterns"`
	SQLiteRoots    []string `koanf:"sqlite_roots"`
	DockerEnabled  bool     `koanf:"docker_enabled"`

	// Timeouts
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ProbeTimeout   time.Duration `koanf:"probe_timeout"`
	ToolTimeout    time.Duration `koanf:"tool_timeout"`
	ExecTimeout    time.Duration `koanf:"exec_timeout"`
	DumpTimeout    time.Duration `koanf:"dump_timeout"`

	// Optional services
	NatsURL    string `koanf:"nats_url"`
	HealthPort string `koanf:"health_port"`

	// Logging
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		BackupDir:      "./backups",
		RetentionDays:  7,
		Interval:       30 * time.Minute,
		ScanHost:       "localhost",
		SearchRoots:    append([]string(nil), defaultSearchRoots...),
		ConfigPatterns: append([]string(nil), defaultConfigPatterns...),
		SQLiteRoots:    append([]string(nil), defaultSQLiteRoots...),
		DockerEnabled:  true,
		ConnectTimeout: 2 * time.Second,
		ProbeTimeout:   10 * time.Second,
		ToolTimeout:    10 * time.Second,
		ExecTimeout:    30 * time.Second,
		DumpTimeout:    2 * time.Hour,
		HealthPort:     "8085",
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

var defaultSearchRoots = []string{
	".",
	"/home/*", "/home/*/*", "/home/*/*/*",
	"/var/www/*", "/var/www/*/*", "/var/www/*/*/*",
	"/opt/*", "/opt/*/*",
	"/etc", "/etc/*",
	"/usr/local/*", "/usr/local/*/*",
	"/srv/*", "/srv/*/*",
	"/app", "/app/*",
	"/data/*", "/data/*/*",
}

var defaultConfigPatterns = []string{
	".env", ".env.*", "*.env", "env", "env.*",
	".environment", "*.environment",
	"config.env", "config/*.env",
	"docker-compose.yml", "docker-compose.yaml",
	"database.yml", "database.yaml",
	"config.yml", "config.yaml",
	"settings.py", "settings.ini",
	"wp-config.php", "configuration.php",
}

var defaultSQLiteRoots = []string{"/var/lib", "/opt", "/home", "/usr/local", "/tmp"}

var sliceKeys = []string{"config_search_roots", "config_patterns", "sqlite_roots"}

// Load reads dotenvPath into the process environment (if present) and layers
// defaults, an optional YAML file and environment variables on top.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err == nil {
			log.Info().Str("path", dotenvPath).Msg("Loaded config")
		} else {
			log.Debug().Str("path", dotenvPath).Msg("No .env file found, using environment variables")
		}
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceKeys(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	required := map[string]string{
		"BACKUP_DIR": c.BackupDir,
		"SCAN_HOST":  c.ScanHost,
	}

	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must be at least 1")
	}

	if c.Interval < time.Minute {
		return fmt.Errorf("BACKUP_INTERVAL must be at least 1 minute")
	}

	timeouts := map[string]time.Duration{
		"CONNECT_TIMEOUT": c.ConnectTimeout,
		"PROBE_TIMEOUT":   c.ProbeTimeout,
		"TOOL_TIMEOUT":    c.ToolTimeout,
		"EXEC_TIMEOUT":    c.ExecTimeout,
		"DUMP_TIMEOUT":    c.DumpTimeout,
	}
	for name, value := range timeouts {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names onto config keys and drops
// everything else.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if _, ok := knownKeys[key]; ok {
		return key
	}
	return ""
}

var knownKeys = map[string]struct{}{
	"backup_dir":            {},
	"backup_retention_days": {},
	"backup_interval":       {},
	"scan_host":             {},
	"config_search_roots":   {},
	"config_patterns":       {},
	"sqlite_roots":          {},
	"docker_enabled":        {},
	"connect_timeout":       {},
	"probe_timeout":         {},
	"tool_timeout":          {},
	"exec_timeout":          {},
	"dump_timeout":          {},
	"nats_url":              {},
	"health_port":           {},
	"log_level":             {},
	"log_format":            {},
}

// splitSliceKeys turns comma-separated env values into slices.
func splitSliceKeys(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		raw, ok := k.Get(key).(string)
		if !ok || raw == "" {
			continue
		}

		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}

		if err := k.Set(key, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}
