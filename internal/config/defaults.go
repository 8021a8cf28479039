package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "lastvalue"
	DefaultServerPort        = 8080
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultMaxBodyBytes      = 32 << 20
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultJournalBatchSize  = 500
	DefaultJournalFlush      = 1 * time.Second
	DefaultJournalBufferSize = 10000
	DefaultFeedSendBuffer    = 256
	DefaultFeedPingInterval  = 30 * time.Second
	DefaultFeedWriteTimeout  = 10 * time.Second
	DefaultKafkaMinBytes     = 1
	DefaultKafkaMaxBytes     = 10 << 20
	DefaultKafkaMaxWait      = 500 * time.Millisecond
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Database defaults
	applyDBDefaults(&c.Database.Journal)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultJournalBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultJournalFlush
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// Feed defaults
	if c.Feed.SendBuffer == 0 {
		c.Feed.SendBuffer = DefaultFeedSendBuffer
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultFeedPingInterval
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultFeedWriteTimeout
	}

	// Kafka defaults
	if c.Kafka.MinBytes == 0 {
		c.Kafka.MinBytes = DefaultKafkaMinBytes
	}
	if c.Kafka.MaxBytes == 0 {
		c.Kafka.MaxBytes = DefaultKafkaMaxBytes
	}
	if c.Kafka.MaxWait == 0 {
		c.Kafka.MaxWait = DefaultKafkaMaxWait
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
