package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Default values for optional configuration fields.
const (
	DefaultDriver                  = DriverPostgres
	DefaultDBPort                  = 5432
	DefaultDBSSLMode               = "prefer"
	DefaultMaxConns                = 10
	DefaultMinConns                = 2
	DefaultSellerCountCutoff       = 2
	DefaultTotalShareCutoff        = 1000
	DefaultRoundLength             = 7 * 24 * time.Hour
	DefaultClosingSoonLead         = 24 * time.Hour
	DefaultTimezone                = "Asia/Singapore"
	DefaultSellOrdersPerRoundLimit = 2
	DefaultBuyOrdersPerRoundLimit  = 1
	DefaultPollInterval            = 1 * time.Second
	DefaultSchedulerConcurrency    = 4
	DefaultTaskTimeout             = 2 * time.Minute
	DefaultRetryBaseDelay          = 5 * time.Second
	DefaultRetryMaxDelay           = 5 * time.Minute
	DefaultRecoverInterval         = 1 * time.Minute
	DefaultNotificationTopic       = "marketplace-notifications"
	DefaultNotificationBufferSize  = 1000
	DefaultPublishTimeout          = 10 * time.Second
	DefaultHTTPPort                = 8080
	DefaultUserHeader              = "X-User-ID"
	DefaultLogLevel                = "info"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func (c *Config) applyDefaults() {
	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	applyDBDefaults(&c.Database.Postgres)

	// Round defaults
	if c.Round.SellerCountCutoff == 0 {
		c.Round.SellerCountCutoff = DefaultSellerCountCutoff
	}
	if c.Round.TotalShareCutoff.IsZero() {
		c.Round.TotalShareCutoff = decimal.NewFromInt(DefaultTotalShareCutoff)
	}
	if c.Round.Length == 0 {
		c.Round.Length = DefaultRoundLength
	}
	if c.Round.ClosingSoonLead == 0 {
		c.Round.ClosingSoonLead = DefaultClosingSoonLead
	}
	if c.Round.Timezone == "" {
		c.Round.Timezone = DefaultTimezone
	}

	// Orders defaults
	if c.Orders.SellOrdersPerRoundLimit == 0 {
		c.Orders.SellOrdersPerRoundLimit = DefaultSellOrdersPerRoundLimit
	}
	if c.Orders.BuyOrdersPerRoundLimit == 0 {
		c.Orders.BuyOrdersPerRoundLimit = DefaultBuyOrdersPerRoundLimit
	}

	// Scheduler defaults
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = DefaultPollInterval
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = DefaultSchedulerConcurrency
	}
	if c.Scheduler.TaskTimeout == 0 {
		c.Scheduler.TaskTimeout = DefaultTaskTimeout
	}
	if c.Scheduler.RetryBaseDelay == 0 {
		c.Scheduler.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Scheduler.RetryMaxDelay == 0 {
		c.Scheduler.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Scheduler.RecoverInterval == 0 {
		c.Scheduler.RecoverInterval = DefaultRecoverInterval
	}

	// Notifications defaults
	if c.Notifications.Topic == "" {
		c.Notifications.Topic = DefaultNotificationTopic
	}
	if c.Notifications.BufferSize == 0 {
		c.Notifications.BufferSize = DefaultNotificationBufferSize
	}
	if c.Notifications.PublishTimeout == 0 {
		c.Notifications.PublishTimeout = DefaultPublishTimeout
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.UserHeader == "" {
		c.HTTP.UserHeader = DefaultUserHeader
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
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
