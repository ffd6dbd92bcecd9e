package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}

	if c.Round.SellerCountCutoff < 1 {
		return errors.New("round.seller_count_cutoff must be >= 1")
	}
	if !c.Round.TotalShareCutoff.IsPositive() {
		return errors.New("round.total_share_cutoff must be > 0")
	}
	if c.Round.Length <= 0 {
		return errors.New("round.length must be > 0")
	}
	if c.Round.ClosingSoonLead >= c.Round.Length {
		return fmt.Errorf("round.closing_soon_lead (%s) must be shorter than round.length (%s)", c.Round.ClosingSoonLead, c.Round.Length)
	}
	if _, err := c.Round.Location(); err != nil {
		return fmt.Errorf("round.timezone: %w", err)
	}

	if c.Orders.SellOrdersPerRoundLimit < 1 {
		return errors.New("orders.sell_orders_per_round_limit must be >= 1")
	}
	if c.Orders.BuyOrdersPerRoundLimit < 1 {
		return errors.New("orders.buy_orders_per_round_limit must be >= 1")
	}

	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler.poll_interval must be > 0")
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.New("scheduler.concurrency must be >= 1")
	}
	if c.Scheduler.RetryBaseDelay > c.Scheduler.RetryMaxDelay {
		return fmt.Errorf("scheduler.retry_base_delay (%s) cannot exceed retry_max_delay (%s)",
			c.Scheduler.RetryBaseDelay, c.Scheduler.RetryMaxDelay)
	}

	if len(c.Notifications.Brokers) > 0 && c.Notifications.Topic == "" {
		return errors.New("notifications.topic is required when brokers are set")
	}
	if c.Notifications.BufferSize < 1 {
		return errors.New("notifications.buffer_size must be >= 1")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// Location loads the configured timezone.
func (r RoundConfig) Location() (*time.Location, error) {
	return time.LoadLocation(r.Timezone)
}

// SlogLevel parses the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
