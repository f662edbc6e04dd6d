package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: mux-1
ledger:
  url: http://red.example:3001
  prefix: example.red.
admin:
  username: admin
  password: admin-pass
subscription:
  global: true
  resync_interval: 5s
proxies:
  - alice
  - bob
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "mux-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "mux-1")
	}
	if cfg.Ledger.URL != "http://red.example:3001" {
		t.Errorf("Ledger.URL = %q, want %q", cfg.Ledger.URL, "http://red.example:3001")
	}
	if cfg.Ledger.Prefix != "example.red." {
		t.Errorf("Ledger.Prefix = %q, want %q", cfg.Ledger.Prefix, "example.red.")
	}
	if !cfg.Subscription.Global {
		t.Error("Subscription.Global = false, want true")
	}
	if cfg.Subscription.ResyncInterval != 5*time.Second {
		t.Errorf("Subscription.ResyncInterval = %v, want %v", cfg.Subscription.ResyncInterval, 5*time.Second)
	}
	if len(cfg.Proxies) != 2 || cfg.Proxies[0] != "alice" || cfg.Proxies[1] != "bob" {
		t.Errorf("Proxies = %v, want [alice bob]", cfg.Proxies)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_ADMIN_PASSWORD", "secret123")

	yaml := `
ledger:
  url: http://red.example:3001
admin:
  username: admin
  password: ${TEST_ADMIN_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Admin.Password != "secret123" {
		t.Errorf("Admin.Password = %q, want %q", cfg.Admin.Password, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load expected error for missing file")
	}
	if !strings.HasPrefix(err.Error(), "read config file:") {
		t.Errorf("error = %q, want read config file prefix", err.Error())
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeTempFile(t, "ledger: [unterminated")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load expected error for malformed yaml")
	}
	if !strings.HasPrefix(err.Error(), "parse config yaml:") {
		t.Errorf("error = %q, want parse config yaml prefix", err.Error())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	yaml := `
ledger:
  url: http://red.example:3001
admin:
  username: admin
  password: pass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != DefaultInstanceID {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, DefaultInstanceID)
	}
	if cfg.Ledger.Timeout != DefaultLedgerTimeout {
		t.Errorf("Ledger.Timeout = %v, want %v", cfg.Ledger.Timeout, DefaultLedgerTimeout)
	}
	if cfg.Subscription.ResyncInterval != DefaultResyncInterval {
		t.Errorf("Subscription.ResyncInterval = %v, want %v", cfg.Subscription.ResyncInterval, DefaultResyncInterval)
	}
	if cfg.Connection.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Connection.ReconnectMaxDelay = %v, want %v", cfg.Connection.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Connection.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("Connection.QueueCapacity = %d, want %d", cfg.Connection.QueueCapacity, DefaultQueueCapacity)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultServerPort)
	}
	if cfg.Server.MetricsPath != DefaultMetricsPath {
		t.Errorf("Server.MetricsPath = %q, want %q", cfg.Server.MetricsPath, DefaultMetricsPath)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestLoadUnsetEnvironmentVariable(t *testing.T) {
	yaml := `
ledger:
  url: ${TEST_LEDGER_URL_UNSET}
admin:
  username: admin
  password: ${TEST_ADMIN_PASSWORD_UNSET}
  password_file: ${TEST_ADMIN_PASSWORD_UNSET}
`
	path := writeTempFile(t, yaml)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load expected error for unset variables")
	}
	want := "config references unset environment variables: TEST_LEDGER_URL_UNSET, TEST_ADMIN_PASSWORD_UNSET"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestLoadUnknownField(t *testing.T) {
	yaml := `
ledger:
  url: http://red.example:3001
  prefx: example.red.
`
	path := writeTempFile(t, yaml)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "prefx") {
		t.Errorf("error = %q, want it to name the unknown field", err.Error())
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeTempFile(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultServerPort)
	}
}

func TestExpandEnv(t *testing.T) {
	env := map[string]string{"HOST": "red.example", "EMPTY": ""}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr string
	}{
		{name: "braced", in: "http://${HOST}:3001", want: "http://red.example:3001"},
		{name: "bare", in: "http://$HOST", want: "http://red.example"},
		{name: "fallback unused", in: "${HOST:-other}", want: "red.example"},
		{name: "fallback unset", in: "${PORT:-3001}", want: "3001"},
		{name: "fallback empty", in: "${EMPTY:-info}", want: "info"},
		{name: "set but empty", in: "[${EMPTY}]", want: "[]"},
		{name: "literal dollar", in: "pa$$word", want: "pa$word"},
		{name: "unset reported once", in: "${A} ${B} ${A}", wantErr: "config references unset environment variables: A, B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnv(tt.in, lookup)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Errorf("expandEnv(%q) error = %v, want %q", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnv(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "admin:\n  username: admin\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("LoadAndValidate expected error")
	}
	if err.Error() != "validate config: ledger.url is required" {
		t.Errorf("error = %q, want %q", err.Error(), "validate config: ledger.url is required")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing ledger url",
			mutate:  func(c *Config) { c.Ledger.URL = "" },
			wantErr: "ledger.url is required",
		},
		{
			name:    "non http ledger url",
			mutate:  func(c *Config) { c.Ledger.URL = "ws://red.example" },
			wantErr: `ledger.url must be an http(s) url, got "ws://red.example"`,
		},
		{
			name:    "missing admin username",
			mutate:  func(c *Config) { c.Admin.Username = "" },
			wantErr: "admin.username is required",
		},
		{
			name:    "missing admin password",
			mutate:  func(c *Config) { c.Admin.Password = "" },
			wantErr: "admin.password or admin.password_file is required",
		},
		{
			name: "password file is enough",
			mutate: func(c *Config) {
				c.Admin.Password = ""
				c.Admin.PasswordFile = "/run/secrets/admin"
			},
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Connection.ReconnectBaseDelay = 10 * time.Second
				c.Connection.ReconnectMaxDelay = time.Second
			},
			wantErr: "connection.reconnect_max_delay (1s) cannot be less than reconnect_base_delay (10s)",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: `log.level must be one of debug, info, warn, error, got "trace"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name:    "empty proxy username",
			mutate:  func(c *Config) { c.Proxies = []string{"alice", ""} },
			wantErr: "proxies[1] must not be empty",
		},
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func validConfig() Config {
	cfg := Config{
		Ledger: LedgerConfig{URL: "http://red.example:3001"},
		Admin:  AdminConfig{Username: "admin", Password: "pass"},
	}
	cfg.applyDefaults()
	return cfg
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
