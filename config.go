package sheetsync

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents configuration for the sync client
type Config struct {
	APIURL         string        `env:"API_URL"`                           // Remote endpoint
	DBPath         string        `env:"DB_PATH" envDefault:"sheetsync.db"` // Local store file
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"1200ms"` // Bound on every local store call (default: 1.2s)
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"2m"`     // Time-windowed policy interval (default: 2m)
	Scope          string        `env:"SCOPE" envDefault:"master"`         // Payload scope (default: master)
	ActiveStatus   string        `env:"ACTIVE_STATUS" envDefault:"Active"` // Status marker of active rows
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`        // Retries for read actions; 0 disables, negative means the default (3)
	RetryInterval  time.Duration `env:"RETRY_INTERVAL" envDefault:"100ms"` // Base backoff for read retries
	QueueRetention time.Duration `env:"QUEUE_RETENTION" envDefault:"24h"`  // Age after which queued writes are dropped unsent (default: 24h)
}

// DefaultConfig returns the configuration used when New receives nil.
func DefaultConfig() *Config {
	return &Config{
		DBPath:         "sheetsync.db",
		StoreTimeout:   1200 * time.Millisecond,
		SyncInterval:   2 * time.Minute,
		Scope:          "master",
		ActiveStatus:   "Active",
		MaxRetries:     3,
		RetryInterval:  100 * time.Millisecond,
		QueueRetention: 24 * time.Hour,
	}
}

// LoadConfig reads SHEETSYNC_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "SHEETSYNC_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.Scope == "" {
		c.Scope = d.Scope
	}
	if c.ActiveStatus == "" {
		c.ActiveStatus = d.ActiveStatus
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.QueueRetention <= 0 {
		c.QueueRetention = d.QueueRetention
	}
}
