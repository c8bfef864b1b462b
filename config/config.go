package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Listing       ListingConfig       `mapstructure:"listing"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Aggregation   AggregationConfig   `mapstructure:"aggregation"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Log           LogConfig           `mapstructure:"log"`
}

// ListingConfig points at the upstream market listing API.
type ListingConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`    // per page
	Convert   []string      `mapstructure:"convert" validate:"min=1"`   // quote currencies, e.g. USD,BTC
	PageSize  int           `mapstructure:"page_size" validate:"min=1"` // records per page request
	MaxCount  int           `mapstructure:"max_count" validate:"min=1"` // stop after this many records
	PageDelay time.Duration `mapstructure:"page_delay" validate:"gte=0"`
}

type SyncConfig struct {
	DeactivateMissing bool `mapstructure:"deactivate_missing"`
}

type AggregationConfig struct {
	QuoteCurrency string `mapstructure:"quote_currency" validate:"required"`
}

type AlertsConfig struct {
	Workers       int    `mapstructure:"workers" validate:"min=1"`
	QuoteCurrency string `mapstructure:"quote_currency" validate:"required"`
	CooldownCache string `mapstructure:"cooldown_cache" validate:"oneof=memory redis"`
}

type NotificationsConfig struct {
	Channel     string `mapstructure:"channel" validate:"oneof=log kafka"`
	MaxAttempts int    `mapstructure:"max_attempts" validate:"min=1"`
	RetryBatch  int    `mapstructure:"retry_batch" validate:"min=1"`
	// RetryGrace keeps the retry task away from rows the sync task just created.
	RetryGrace time.Duration `mapstructure:"retry_grace" validate:"gte=0"`
}

// TaskConfig configures one recurring scheduler task.
type TaskConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

type SchedulerConfig struct {
	Sync              TaskConfig `mapstructure:"sync"`
	Aggregation       TaskConfig `mapstructure:"aggregation"`
	Cleanup           TaskConfig `mapstructure:"cleanup"`
	NotificationRetry TaskConfig `mapstructure:"notification_retry"`
}

// RetentionConfig bounds how long raw snapshots and rolled-up history are kept.
// A zero history duration keeps that interval forever.
type RetentionConfig struct {
	Snapshots time.Duration            `mapstructure:"snapshots"`
	History   map[string]time.Duration `mapstructure:"history"`
}

type StorageConfig struct {
	Driver         string        `mapstructure:"driver" validate:"oneof=postgres memory"`
	BatchSize      int           `mapstructure:"batch_size" validate:"min=1"`
	CreateDatabase bool          `mapstructure:"create_database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"` // total backoff budget
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"` // log level
	Format      string `mapstructure:"format"`                                        // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"`                                   // file path to store logs (optional)
	Environment string `mapstructure:"environment"`                                   // environment: "dev" or "prod"
}

// minSnapshotRetention keeps enough raw data for the monthly rollup window.
const minSnapshotRetention = 720 * time.Hour

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	// .env is optional; real environment variables still win
	_ = godotenv.Load()

	var dir string
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		dir = filepath.Join(pwd, "../../config")
	} else {
		dir = filepath.Join(filepath.Dir(ex), "../config")
	}
	if env := os.Getenv("COINPULSE_CONFIG_DIR"); env != "" {
		dir = env
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from dir, applies defaults and environment
// overrides, and validates the result.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v)

	// Support environment variables with dot notation (e.g., LISTING_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-field rules viper cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Retention.Snapshots > 0 && c.Retention.Snapshots < minSnapshotRetention {
		return fmt.Errorf("invalid config: retention.snapshots %s is shorter than the monthly window %s",
			c.Retention.Snapshots, minSnapshotRetention)
	}
	if c.Notifications.Channel == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("invalid config: kafka channel requires kafka.brokers and kafka.topic")
	}
	if c.Alerts.CooldownCache == "redis" && c.Redis.Addr == "" {
		return errors.New("invalid config: redis cooldown cache requires redis.addr")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listing.base_url", "https://api.coinmarketcap.com/data-api/v3/cryptocurrency")
	v.SetDefault("listing.timeout", 10*time.Second)
	v.SetDefault("listing.convert", []string{"USD"})
	v.SetDefault("listing.page_size", 500)
	v.SetDefault("listing.max_count", 2000)
	v.SetDefault("listing.page_delay", 2*time.Second)

	v.SetDefault("sync.deactivate_missing", false)

	v.SetDefault("aggregation.quote_currency", "USD")

	v.SetDefault("alerts.workers", 8)
	v.SetDefault("alerts.quote_currency", "USD")
	v.SetDefault("alerts.cooldown_cache", "memory")

	v.SetDefault("notifications.channel", "log")
	v.SetDefault("notifications.max_attempts", 3)
	v.SetDefault("notifications.retry_batch", 100)
	v.SetDefault("notifications.retry_grace", 2*time.Minute)

	v.SetDefault("scheduler.sync.enabled", true)
	v.SetDefault("scheduler.sync.interval", 5*time.Minute)
	v.SetDefault("scheduler.sync.run_on_start", true)
	v.SetDefault("scheduler.aggregation.enabled", true)
	v.SetDefault("scheduler.aggregation.interval", time.Hour)
	v.SetDefault("scheduler.cleanup.enabled", true)
	v.SetDefault("scheduler.cleanup.interval", 24*time.Hour)
	v.SetDefault("scheduler.notification_retry.enabled", true)
	v.SetDefault("scheduler.notification_retry.interval", 10*time.Minute)

	v.SetDefault("retention.snapshots", 45*24*time.Hour)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.batch_size", 100)
	v.SetDefault("storage.create_database", false)
	v.SetDefault("storage.connect_timeout", 30*time.Second)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.dbname", "coinpulse")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "coinpulse:")

	v.SetDefault("kafka.topic", "alert-notifications")
	v.SetDefault("kafka.client_id", "coinpulse")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "dev")
}
