package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Events       EventsConfig       `mapstructure:"events"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Notification NotificationConfig `mapstructure:"notification"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            string        `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key" validate:"required"`
}

// LedgerConfig tunes the balance engine.
type LedgerConfig struct {
	StandardHoldDays     int           `mapstructure:"standard_hold_days" validate:"gte=0"`
	NegativeBalanceDelay time.Duration `mapstructure:"negative_balance_delay" validate:"gte=0"`
	CorrectionLockTTL    time.Duration `mapstructure:"correction_lock_ttl" validate:"gt=0"`
}

// StandardHold is how long a standard deposit hold restricts funds.
func (c LedgerConfig) StandardHold() time.Duration {
	return time.Duration(c.StandardHoldDays) * 24 * time.Hour
}

type EventsConfig struct {
	Workers   int `mapstructure:"workers" validate:"gte=1"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	KeyPrefix    string        `mapstructure:"key_prefix" validate:"required"`
	// Extra life of a scheduled job's state key past its due time.
	StateGrace time.Duration `mapstructure:"state_grace" validate:"gt=0"`
}

type NotificationConfig struct {
	Queue               string `mapstructure:"queue" validate:"required"`
	LowBalanceThreshold string `mapstructure:"low_balance_threshold" validate:"numeric"`
	// Minimum time between two low balance notifications for the same account.
	Frequency time.Duration `mapstructure:"frequency" validate:"gte=0"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

var envBindings = map[string]string{
	"server.port": "PORT",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",
	"database.migrate":  "DATABASE_MIGRATE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key": "JWT_SECRET_KEY",

	"ledger.standard_hold_days":     "LEDGER_STANDARD_HOLD_DAYS",
	"ledger.negative_balance_delay": "LEDGER_NEGATIVE_BALANCE_DELAY",

	"notification.low_balance_threshold": "NOTIFICATION_LOW_BALANCE_THRESHOLD",

	"log.level": "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "clearspend")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.standard_hold_days", 5)
	v.SetDefault("ledger.negative_balance_delay", 604800*time.Second)
	v.SetDefault("ledger.correction_lock_ttl", time.Minute)

	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_size", 1024)

	v.SetDefault("scheduler.poll_interval", 5*time.Second)
	v.SetDefault("scheduler.key_prefix", "scheduler")
	v.SetDefault("scheduler.state_grace", 24*time.Hour)

	v.SetDefault("notification.queue", "notification_queue")
	v.SetDefault("notification.low_balance_threshold", "100")
	v.SetDefault("notification.frequency", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration from the optional file at path, with environment variables taking
// precedence, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
