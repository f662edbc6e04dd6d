package config

import "time"

// Config is the root configuration for a ledgermux instance.
type Config struct {
	Instance     InstanceConfig     `yaml:"instance"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Admin        AdminConfig        `yaml:"admin"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Connection   ConnectionConfig   `yaml:"connection"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`

	// Usernames to create proxies for at startup.
	Proxies []string `yaml:"proxies"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LedgerConfig holds ledger endpoint settings.
type LedgerConfig struct {
	URL        string        `yaml:"url"`    // Root URL, serves the metadata document
	Prefix     string        `yaml:"prefix"` // Overrides the ledger's ilp_prefix
	WSURL      string        `yaml:"ws_url"` // Overrides the ledger's websocket url
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AdminConfig holds the administrative identity.
type AdminConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // Read when password is empty
	Account      string `yaml:"account"`       // Admin account URI, optional
}

// SubscriptionConfig selects the subscription mode.
type SubscriptionConfig struct {
	Global         bool          `yaml:"global"`          // Subscribe to every account
	ResyncInterval time.Duration `yaml:"resync_interval"` // Retry period for degraded proxies
}

// ConnectionConfig holds admin websocket settings.
type ConnectionConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	BufferSize         int           `yaml:"buffer_size"`    // Socket message channel
	QueueCapacity      int           `yaml:"queue_capacity"` // Initial notification queue capacity
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
