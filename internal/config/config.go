package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/mailing-scheduler/internal/email"
	"github.com/jwalitptl/mailing-scheduler/internal/service/dispatcher"
	"github.com/jwalitptl/mailing-scheduler/pkg/messaging/redis"
	"github.com/jwalitptl/mailing-scheduler/pkg/worker"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Relay      RelayConfig      `mapstructure:"relay"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`

	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	StoreOrigins    []string      `mapstructure:"store_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type DispatcherConfig struct {
	Schedule     string        `mapstructure:"schedule"`
	BatchSize    int           `mapstructure:"batch_size"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
	ReclaimEvery time.Duration `mapstructure:"reclaim_every"`
}

type RelayConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type SMTPConfig struct {
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	Burst              int           `mapstructure:"burst"`
	Timeout            time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `mapstructure:"breaker_open_for"`
}

type TrackingConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type TemplatesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AdminConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type WorkerConfig struct {
	HealthPort        int           `mapstructure:"health_port"`
	StockExpiryEvery  time.Duration `mapstructure:"stock_expiry_every"`
	EnableCronTrigger bool          `mapstructure:"enable_cron_trigger"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Secrets come from the environment only.
type Secrets struct {
	WebhookSecret string `envconfig:"WC_WEBHOOK_SECRET"`
	CronAPIKey    string `envconfig:"CRON_API_KEY"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	AppURL        string `envconfig:"APP_URL" default:"http://localhost:8080"`
	Environment   string `envconfig:"APP_ENV" default:"production"`
}

// Development makes order follow-ups due immediately.
func (s Secrets) Development() bool {
	return s.Environment == "development"
}

// BaseURL is the public origin used in tracking links, without a trailing slash.
func (s Secrets) BaseURL() string {
	return strings.TrimRight(s.AppURL, "/")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_size", 1<<20)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("dispatcher.schedule", "*/5 * * * *")
	v.SetDefault("dispatcher.batch_size", 200)
	v.SetDefault("dispatcher.run_timeout", "4m")
	v.SetDefault("dispatcher.lease_timeout", "30m")
	v.SetDefault("dispatcher.reclaim_every", "5m")

	v.SetDefault("relay.batch_size", 100)
	v.SetDefault("relay.poll_interval", "5s")
	v.SetDefault("relay.retry_attempts", 3)
	v.SetDefault("relay.retry_delay", "1s")

	v.SetDefault("smtp.rate_per_second", 10)
	v.SetDefault("smtp.burst", 5)
	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("smtp.breaker_max_failures", 5)
	v.SetDefault("smtp.breaker_open_for", "60s")

	v.SetDefault("tracking.rate_per_second", 50)
	v.SetDefault("tracking.burst", 100)

	v.SetDefault("templates.cache_ttl", "5m")

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.token_ttl", "12h")

	v.SetDefault("worker.health_port", 8081)
	v.SetDefault("worker.stock_expiry_every", "24h")
	v.SetDefault("worker.enable_cron_trigger", true)

	v.SetDefault("log.level", "info")
}

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &config, nil
}

func (c *DispatcherConfig) ToServiceConfig() dispatcher.Config {
	return dispatcher.Config{
		BatchSize:    c.BatchSize,
		RunTimeout:   c.RunTimeout,
		LeaseTimeout: c.LeaseTimeout,
	}
}

func (c *RelayConfig) ToWorkerConfig() worker.EventRelayConfig {
	return worker.EventRelayConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *SMTPConfig) ToTransportConfig() email.SMTPOptions {
	return email.SMTPOptions{
		Rate:               rate.Limit(c.RatePerSecond),
		Burst:              c.Burst,
		Timeout:            c.Timeout,
		BreakerMaxFailures: c.BreakerMaxFailures,
		BreakerOpenFor:     c.BreakerOpenFor,
	}
}
