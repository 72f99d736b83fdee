package config

import (
	"log/slog"
	"time"

	"github.com/rickgao/connmux/internal/connection"
)

// Config is the root configuration.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Client     ClientConfig     `yaml:"client"`
	Connection ConnectionConfig `yaml:"connection"`
	Channels   []string         `yaml:"channels"` // Channel keys the tools subscribe to
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this process in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds connhub's HTTP settings.
type ServerConfig struct {
	ListenAddr      string           `yaml:"listen_addr"`
	Path            string           `yaml:"path"`            // WebSocket upgrade path
	AllowedOrigins  []string         `yaml:"allowed_origins"` // Empty = same origin only
	SendConcurrency int              `yaml:"send_concurrency"`
	Auth            ServerAuthConfig `yaml:"auth"`
}

// ServerAuthConfig lists the public keys allowed to connect. No keys means
// handshakes are not authenticated.
type ServerAuthConfig struct {
	Keys    map[string]string `yaml:"keys"` // Key ID -> PEM public key path
	MaxSkew time.Duration     `yaml:"max_skew"`
}

// ClientConfig holds conntail's dial settings.
type ClientConfig struct {
	URL              string           `yaml:"url"` // e.g. ws://localhost:8080/_connmux
	HandshakeTimeout time.Duration    `yaml:"handshake_timeout"`
	Auth             ClientAuthConfig `yaml:"auth"`
}

// ClientAuthConfig holds the credentials used to sign handshakes.
type ClientAuthConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// ConnectionConfig holds per-connection multiplexer settings.
//
// For the timeouts, ping interval and read limit, 0 (or unset) means the
// default and a negative value turns the feature off.
type ConnectionConfig struct {
	QueueDepth   int           `yaml:"queue_depth"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	ReadLimit    int64         `yaml:"read_limit"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`   // Optional rotated log file, in addition to the console

	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// ConnectionConfig converts the loaded settings into a connection.Config.
func (c *Config) ConnectionConfig() connection.Config {
	return connection.Config{
		HandshakeTimeout: c.Client.HandshakeTimeout,
		Socket: connection.SocketConfig{
			WriteTimeout: enabled(c.Connection.WriteTimeout),
			PingInterval: enabled(c.Connection.PingInterval),
			ReadTimeout:  enabled(c.Connection.ReadTimeout),
			ReadLimit:    enabled(c.Connection.ReadLimit),
		},
		Manager: connection.ManagerConfig{
			QueueDepth: c.Connection.QueueDepth,
			Channels:   append([]string(nil), c.Channels...),
		},
	}
}

// enabled maps a negative "off" setting to the zero value SocketConfig
// treats as disabled.
func enabled[T time.Duration | int64](v T) T {
	if v < 0 {
		return 0
	}
	return v
}

// SlogLevel parses the configured log level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Level))
	return level, err
}
