package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"gopkg.in/yaml.v3"

	"warden/internal/logging"
	"warden/internal/security"
)

const (
	DefaultToolTimeoutSeconds       = 30
	DefaultShellTimeoutSeconds      = 60
	DefaultOutputWaitTimeoutSeconds = 30
	DefaultMaxOutput                = Size(1 << 20)
	DefaultBackgroundBuffer         = Size(1 << 20)
	DefaultBatchConcurrency         = 8
	DefaultRateLimitCount           = 60
	DefaultRateLimitWindowSeconds   = 60
	DefaultSessionCacheTTLSeconds   = 300

	maxTimeoutSeconds = 600
	maxIsolationHeap  = Size(512 << 20)
	minIsolationHeap  = Size(64 << 20)
)

// Config captures the tunable runtime settings for the execution engine.
type Config struct {
	ProjectRoot              string               `yaml:"project_root"`
	ToolTimeoutSeconds       int                  `yaml:"tool_timeout_seconds"`
	ShellTimeoutSeconds      int                  `yaml:"shell_timeout_seconds"`
	OutputWaitTimeoutSeconds int                  `yaml:"output_wait_timeout_seconds"`
	MaxOutput                Size                 `yaml:"max_output"`
	BackgroundBuffer         Size                 `yaml:"background_buffer"`
	IsolationMaxHeap         Size                 `yaml:"isolation_max_heap"`
	BatchConcurrency         int                  `yaml:"batch_concurrency"`
	RateLimit                RateLimit            `yaml:"rate_limit"`
	ToolRateLimits           map[string]RateLimit `yaml:"tool_rate_limits,omitempty"`
	ToolTiers                map[string]string    `yaml:"tool_tiers,omitempty"`
	GrantedTier              string               `yaml:"granted_tier"`
	ConsentedTools           []string             `yaml:"consented_tools,omitempty"`
	Sessions                 SessionConfig        `yaml:"sessions"`
	Events                   EventsConfig         `yaml:"events"`
	Log                      LogConfig            `yaml:"log"`
}

// RateLimit allows Count calls per WindowSeconds.
type RateLimit struct {
	Count         int `yaml:"count"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type SessionConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type EventsConfig struct {
	ClickHouseDSN string `yaml:"clickhouse_dsn,omitempty"`
	BufferSize    int    `yaml:"buffer_size"`
}

type LogConfig struct {
	Path       string `yaml:"path,omitempty"`
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a config with every default applied.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadUserConfig loads configuration from ~/.warden/config.yaml
// Checks WARDEN_CONFIG_PATH environment variable first.
// If the file doesn't exist, returns defaults
func LoadUserConfig() (Config, error) {
	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(configPath)
}

// Load reads the YAML configuration from disk and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.ProjectRoot == "" {
		c.ProjectRoot = "."
	}
	if c.ToolTimeoutSeconds <= 0 {
		c.ToolTimeoutSeconds = DefaultToolTimeoutSeconds
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = DefaultShellTimeoutSeconds
	}
	if c.OutputWaitTimeoutSeconds <= 0 {
		c.OutputWaitTimeoutSeconds = DefaultOutputWaitTimeoutSeconds
	}
	if c.MaxOutput <= 0 {
		c.MaxOutput = DefaultMaxOutput
	}
	if c.BackgroundBuffer <= 0 {
		c.BackgroundBuffer = DefaultBackgroundBuffer
	}
	if c.IsolationMaxHeap <= 0 {
		c.IsolationMaxHeap = defaultIsolationHeap()
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.RateLimit.Count <= 0 {
		c.RateLimit.Count = DefaultRateLimitCount
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = DefaultRateLimitWindowSeconds
	}
	if strings.TrimSpace(c.GrantedTier) == "" {
		c.GrantedTier = security.TierMutating.String()
	}
	if c.Sessions.Driver == "" {
		c.Sessions.Driver = "sqlite"
	}
	if c.Sessions.DSN == "" && c.Sessions.Driver == "sqlite" {
		c.Sessions.DSN = filepath.Join(GetConfigDir(), "sessions.db")
	}
	if c.Sessions.CacheTTLSeconds <= 0 {
		c.Sessions.CacheTTLSeconds = DefaultSessionCacheTTLSeconds
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// defaultIsolationHeap is an eighth of host memory, clamped to [64MiB, 512MiB].
func defaultIsolationHeap() Size {
	total := Size(memory.TotalMemory())
	if total == 0 {
		return maxIsolationHeap
	}
	heap := total / 8
	if heap > maxIsolationHeap {
		return maxIsolationHeap
	}
	if heap < minIsolationHeap {
		return minIsolationHeap
	}
	return heap
}

func (c Config) validate() error {
	if c.ToolTimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("tool_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ShellTimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("shell_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.OutputWaitTimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("output_wait_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.MaxOutput <= 0 || c.BackgroundBuffer <= 0 || c.IsolationMaxHeap <= 0 {
		return fmt.Errorf("max_output, background_buffer and isolation_max_heap must be positive")
	}
	if c.BatchConcurrency > 256 {
		return fmt.Errorf("batch_concurrency cannot exceed 256")
	}
	if _, err := security.ParseTier(c.GrantedTier); err != nil {
		return fmt.Errorf("granted_tier: %w", err)
	}
	for name, tier := range c.ToolTiers {
		if _, err := security.ParseTier(tier); err != nil {
			return fmt.Errorf("tool_tiers.%s: %w", name, err)
		}
	}
	for name, rl := range c.ToolRateLimits {
		if rl.Count <= 0 || rl.WindowSeconds <= 0 {
			return fmt.Errorf("tool_rate_limits.%s: count and window_seconds must be positive", name)
		}
	}
	switch c.Sessions.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("sessions.driver must be sqlite or pgx (got %q)", c.Sessions.Driver)
	}
	if c.Sessions.Driver == "pgx" && strings.TrimSpace(c.Sessions.DSN) == "" {
		return fmt.Errorf("sessions.dsn must be set for the pgx driver")
	}
	return nil
}

// ToolTimeout is the default per-call dispatch deadline.
func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// ShellTimeout exposes the configured duration for sandboxed shell commands.
func (c Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// OutputWaitTimeout bounds blocking reads of background command output.
func (c Config) OutputWaitTimeout() time.Duration {
	return time.Duration(c.OutputWaitTimeoutSeconds) * time.Second
}

func (c Config) SessionCacheTTL() time.Duration {
	return time.Duration(c.Sessions.CacheTTLSeconds) * time.Second
}

// Granted parses GrantedTier. validate has already rejected bad values.
func (c Config) Granted() security.Tier {
	tier, _ := security.ParseTier(c.GrantedTier)
	return tier
}

// ToolTier returns the configured tier override for a tool.
func (c Config) ToolTier(name string) (security.Tier, bool) {
	raw, ok := c.ToolTiers[name]
	if !ok {
		return security.TierUnset, false
	}
	tier, err := security.ParseTier(raw)
	if err != nil || tier == security.TierUnset {
		return security.TierUnset, false
	}
	return tier, true
}

// LogOptions maps the log section onto logging.Options.
func (c Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		JSON:       c.Log.JSON,
		Path:       c.Log.Path,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// OverrideProjectRoot swaps the project root at runtime.
func (c *Config) OverrideProjectRoot(root string) {
	if c == nil {
		return
	}
	if trimmed := strings.TrimSpace(root); trimmed != "" {
		c.ProjectRoot = trimmed
	}
}

func GetConfigDir() string {
	if configDir := os.Getenv("WARDEN_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// ConfigPath is WARDEN_CONFIG_PATH or config.yaml inside GetConfigDir.
func ConfigPath() string {
	if configPath := os.Getenv("WARDEN_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist
// and returns its path.
func EnsureDefaultConfig() (string, error) {
	configPath := ConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return configPath, Save(Default())
}

// Save writes the config to the user's config file
func Save(c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
