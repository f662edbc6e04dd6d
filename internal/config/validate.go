package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Ledger.URL == "" {
		return errors.New("ledger.url is required")
	}
	u, err := url.Parse(c.Ledger.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ledger.url must be an http(s) url, got %q", c.Ledger.URL)
	}
	if c.Ledger.MaxRetries < 0 {
		return errors.New("ledger.max_retries must be >= 0")
	}

	if c.Admin.Username == "" {
		return errors.New("admin.username is required")
	}
	if c.Admin.Password == "" && c.Admin.PasswordFile == "" {
		return errors.New("admin.password or admin.password_file is required")
	}

	if c.Subscription.ResyncInterval < 0 {
		return errors.New("subscription.resync_interval must be >= 0")
	}

	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.RequestTimeout <= 0 {
		return errors.New("connection.request_timeout must be > 0")
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	if c.Connection.QueueCapacity < 1 {
		return errors.New("connection.queue_capacity must be >= 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	for i, name := range c.Proxies {
		if name == "" {
			return fmt.Errorf("proxies[%d] must not be empty", i)
		}
	}

	return nil
}
