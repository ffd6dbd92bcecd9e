package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration for a marketd instance.
type Config struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Database      DatabaseConfig      `yaml:"database"`
	Round         RoundConfig         `yaml:"round"`
	Orders        OrdersConfig        `yaml:"orders"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Notifications NotificationsConfig `yaml:"notifications"`
	HTTP          HTTPConfig          `yaml:"http"`
	Log           LogConfig           `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory store loses all state on exit.
	Driver   string   `yaml:"driver"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RoundConfig holds the round lifecycle settings.
type RoundConfig struct {
	SellerCountCutoff int             `yaml:"seller_count_cutoff"`
	TotalShareCutoff  decimal.Decimal `yaml:"total_share_cutoff"` // decoded from text, exact
	Length            time.Duration   `yaml:"length"`
	ClosingSoonLead   time.Duration   `yaml:"closing_soon_lead"` // negative disables the reminder
	Timezone          string          `yaml:"timezone"`          // IANA name used in notification dates
}

// OrdersConfig holds the per-round order caps enforced by the intake API.
type OrdersConfig struct {
	SellOrdersPerRoundLimit int `yaml:"sell_orders_per_round_limit"`
	BuyOrdersPerRoundLimit  int `yaml:"buy_orders_per_round_limit"`
}

// SchedulerConfig holds deferred task settings.
type SchedulerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	Concurrency     int           `yaml:"concurrency"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	StorePath       string        `yaml:"store_path"`       // pebble directory; empty keeps tasks in memory
	RecoverInterval time.Duration `yaml:"recover_interval"` // task and chat room sweep; negative disables
}

// NotificationsConfig holds the outbound notification settings.
type NotificationsConfig struct {
	Brokers        []string      `yaml:"brokers"` // empty logs notifications instead of publishing
	Topic          string        `yaml:"topic"`
	BufferSize     int           `yaml:"buffer_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// HTTPConfig holds the API settings.
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	UserHeader     string   `yaml:"user_header"` // set by the authenticating gateway
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}
