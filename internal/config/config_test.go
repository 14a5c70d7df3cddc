package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warden/internal/security"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name:        "defaults pass",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "shell timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.ShellTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "shell_timeout_seconds cannot exceed",
		},
		{
			name: "tool timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.ToolTimeoutSeconds = 601
			},
			expectError: true,
			errorString: "tool_timeout_seconds cannot exceed",
		},
		{
			name: "unknown granted tier fails",
			modifyFunc: func(c *Config) {
				c.GrantedTier = "root"
			},
			expectError: true,
			errorString: "granted_tier",
		},
		{
			name: "unknown tool tier fails",
			modifyFunc: func(c *Config) {
				c.ToolTiers = map[string]string{"run_command": "superuser"}
			},
			expectError: true,
			errorString: "tool_tiers.run_command",
		},
		{
			name: "bad session driver fails",
			modifyFunc: func(c *Config) {
				c.Sessions.Driver = "mysql"
			},
			expectError: true,
			errorString: "sessions.driver",
		},
		{
			name: "pgx without dsn fails",
			modifyFunc: func(c *Config) {
				c.Sessions.Driver = "pgx"
				c.Sessions.DSN = ""
			},
			expectError: true,
			errorString: "sessions.dsn",
		},
		{
			name: "zero tool rate limit fails",
			modifyFunc: func(c *Config) {
				c.ToolRateLimits = map[string]RateLimit{"read_file": {Count: 0, WindowSeconds: 10}}
			},
			expectError: true,
			errorString: "tool_rate_limits.read_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modifyFunc(&cfg)

			err := cfg.validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Expected error containing %q, got %q", tt.errorString, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadUserConfigMissingReturnsDefaults(t *testing.T) {
	t.Setenv("WARDEN_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("LoadUserConfig: %v", err)
	}
	if cfg.ToolTimeout() != 30*time.Second {
		t.Errorf("ToolTimeout = %s", cfg.ToolTimeout())
	}
	if cfg.ShellTimeout() != 60*time.Second {
		t.Errorf("ShellTimeout = %s", cfg.ShellTimeout())
	}
	if cfg.OutputWaitTimeout() != 30*time.Second {
		t.Errorf("OutputWaitTimeout = %s", cfg.OutputWaitTimeout())
	}
	if cfg.MaxOutput != 1<<20 {
		t.Errorf("MaxOutput = %d", cfg.MaxOutput)
	}
	if cfg.Granted() != security.TierMutating {
		t.Errorf("Granted = %s", cfg.Granted())
	}
	if cfg.IsolationMaxHeap < minIsolationHeap || cfg.IsolationMaxHeap > maxIsolationHeap {
		t.Errorf("IsolationMaxHeap out of range: %s", cfg.IsolationMaxHeap)
	}
}

func TestLoadParsesSizesAndTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
project_root: /srv/project
max_output: 256KiB
background_buffer: 2MiB
isolation_max_heap: 128MiB
granted_tier: read_only
tool_tiers:
  run_command: destructive
rate_limit:
  count: 5
  window_seconds: 10
sessions:
  driver: sqlite
  dsn: /tmp/sessions.db
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxOutput != 256<<10 {
		t.Errorf("MaxOutput = %d", cfg.MaxOutput)
	}
	if cfg.BackgroundBuffer != 2<<20 {
		t.Errorf("BackgroundBuffer = %d", cfg.BackgroundBuffer)
	}
	if cfg.IsolationMaxHeap != 128<<20 {
		t.Errorf("IsolationMaxHeap = %d", cfg.IsolationMaxHeap)
	}
	if cfg.Granted() != security.TierReadOnly {
		t.Errorf("Granted = %s", cfg.Granted())
	}
	if tier, ok := cfg.ToolTier("run_command"); !ok || tier != security.TierDestructive {
		t.Errorf("ToolTier = %s, %v", tier, ok)
	}
	if cfg.RateLimit.Window() != 10*time.Second {
		t.Errorf("Window = %s", cfg.RateLimit.Window())
	}
}

func TestLoadRejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("max_output: lots\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnsureDefaultConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_CONFIG_PATH", "")
	t.Setenv("WARDEN_CONFIG_DIR", dir)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig: %v", err)
	}
	if path != filepath.Join(dir, "config.yaml") {
		t.Fatalf("unexpected path %q", path)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written default: %v", err)
	}
	if cfg.MaxOutput != DefaultMaxOutput {
		t.Fatalf("MaxOutput did not survive the round trip: %s", cfg.MaxOutput)
	}
}
