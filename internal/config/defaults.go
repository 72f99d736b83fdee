package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID       = "connmux"
	DefaultListenAddr       = ":8080"
	DefaultServerPath       = "/_connmux"
	DefaultSendConcurrency  = 16
	DefaultClientURL        = "ws://localhost:8080/_connmux"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultQueueDepth       = 10
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultReadLimit        = 1 << 20
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultLogMaxSizeMB     = 100
	DefaultLogMaxBackups    = 3
	DefaultLogMaxAgeDays    = 28
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
	if c.Server.SendConcurrency == 0 {
		c.Server.SendConcurrency = DefaultSendConcurrency
	}

	// Client defaults
	if c.Client.URL == "" {
		c.Client.URL = DefaultClientURL
	}
	if c.Client.HandshakeTimeout == 0 {
		c.Client.HandshakeTimeout = DefaultHandshakeTimeout
	}

	// Connection defaults
	if c.Connection.QueueDepth == 0 {
		c.Connection.QueueDepth = DefaultQueueDepth
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.ReadTimeout == 0 {
		c.Connection.ReadTimeout = DefaultReadTimeout
	}
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = DefaultReadLimit
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}
}
