package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.SendConcurrency < 1 {
		return errors.New("server.send_concurrency must be >= 1")
	}

	for id, path := range c.Server.Auth.Keys {
		if id == "" || path == "" {
			return errors.New("server.auth.keys entries need a key id and a path")
		}
	}
	if c.Server.Auth.MaxSkew < 0 {
		return errors.New("server.auth.max_skew must be >= 0")
	}

	if err := validateWSURL(c.Client.URL); err != nil {
		return err
	}
	if c.Client.HandshakeTimeout < 0 {
		return errors.New("client.handshake_timeout must be >= 0")
	}
	if (c.Client.Auth.KeyID == "") != (c.Client.Auth.PrivateKeyPath == "") {
		return errors.New("client.auth.key_id and client.auth.private_key_path must be set together")
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch == "" {
			return fmt.Errorf("channels[%d] is empty", i)
		}
		if seen[ch] {
			return fmt.Errorf("channels[%d] duplicates %q", i, ch)
		}
		seen[ch] = true
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log.level %q is invalid", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log rotation limits must be >= 0")
	}

	return nil
}

func (cc *ConnectionConfig) validate() error {
	if cc.QueueDepth < 1 {
		return errors.New("connection.queue_depth must be >= 1")
	}
	// Idle connections only stay up if a ping lands inside every read window
	if cc.ReadTimeout > 0 && cc.PingInterval > 0 && cc.ReadTimeout <= cc.PingInterval {
		return fmt.Errorf("connection.read_timeout (%v) must exceed ping_interval (%v)", cc.ReadTimeout, cc.PingInterval)
	}
	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("client.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client.url must use ws or wss, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("client.url has no host: %q", raw)
	}
	return nil
}
