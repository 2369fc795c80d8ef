package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Trackstar TrackstarConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Breaker   BreakerConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// TrackstarConfig holds settings for the outbound aggregator client and the
// inbound webhook receiver.
type TrackstarConfig struct {
	// BaseURL is the aggregator API root
	BaseURL string
	// APIKey is the shared key used for connection-establishment calls
	APIKey string
	// WebhookSecret is the shared HMAC secret for inbound deliveries
	WebhookSecret string
	// SignatureBypass disables webhook signature verification. Local
	// development only; refused in production.
	SignatureBypass bool
	// RequestTimeout is the per-request timeout for outbound calls
	RequestTimeout time.Duration
	// RateLimitPerSecond is the per-credential request budget per second
	RateLimitPerSecond int
	// MaxPages is the hard cap on pagination depth
	MaxPages int
}

// SyncConfig holds sync orchestration policy
type SyncConfig struct {
	// IncrementalInterval is the cadence of incremental order sync
	IncrementalInterval time.Duration
	// IncrementalLookback is how far behind now incremental sync fetches,
	// to tolerate clock skew and out-of-order delivery
	IncrementalLookback time.Duration
	// BackfillDelay is how long after connection creation the delayed full
	// backfill runs, giving the aggregator time to finish its own upstream sync
	BackfillDelay time.Duration
	// BackfillCooldown is the reschedule delay when the probe finds the
	// aggregator still syncing
	BackfillCooldown time.Duration
	// BackfillMaxAttempts bounds backfill reschedules
	BackfillMaxAttempts int
	// NightlyHour is the local hour (0-23) of the nightly reconciliation sweep
	NightlyHour int
	// ReconcileWindow is how much history the nightly sweep re-fetches
	ReconcileWindow time.Duration
}

// SchedulerConfig holds task runner configuration
type SchedulerConfig struct {
	Workers      int
	QueueSize    int
	TaskTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// BreakerConfig holds circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringWindow time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with WMS_ prefix (e.g., WMS_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("WMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Trackstar: TrackstarConfig{
			BaseURL:            v.GetString("trackstar.base_url"),
			APIKey:             v.GetString("trackstar.api_key"),
			WebhookSecret:      v.GetString("trackstar.webhook_secret"),
			SignatureBypass:    v.GetBool("trackstar.signature_bypass"),
			RequestTimeout:     v.GetDuration("trackstar.request_timeout"),
			RateLimitPerSecond: v.GetInt("trackstar.rate_limit_per_second"),
			MaxPages:           v.GetInt("trackstar.max_pages"),
		},
		Sync: SyncConfig{
			IncrementalInterval: v.GetDuration("sync.incremental_interval"),
			IncrementalLookback: v.GetDuration("sync.incremental_lookback"),
			BackfillDelay:       v.GetDuration("sync.backfill_delay"),
			BackfillCooldown:    v.GetDuration("sync.backfill_cooldown"),
			BackfillMaxAttempts: v.GetInt("sync.backfill_max_attempts"),
			NightlyHour:         v.GetInt("sync.nightly_hour"),
			ReconcileWindow:     v.GetDuration("sync.reconcile_window"),
		},
		Scheduler: SchedulerConfig{
			Workers:      v.GetInt("scheduler.workers"),
			QueueSize:    v.GetInt("scheduler.queue_size"),
			TaskTimeout:  v.GetDuration("scheduler.task_timeout"),
			MaxRetries:   v.GetInt("scheduler.max_retries"),
			RetryBackoff: v.GetDuration("scheduler.retry_backoff"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			ResetTimeout:     v.GetDuration("breaker.reset_timeout"),
			MonitoringWindow: v.GetDuration("breaker.monitoring_window"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "wms-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "wmsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB, webhook payloads are small
	}
	if cfg.Trackstar.BaseURL == "" {
		cfg.Trackstar.BaseURL = "https://production.trackstarhq.com"
	}
	if cfg.Trackstar.RequestTimeout == 0 {
		cfg.Trackstar.RequestTimeout = 30 * time.Second
	}
	if cfg.Trackstar.RateLimitPerSecond == 0 {
		cfg.Trackstar.RateLimitPerSecond = 10
	}
	if cfg.Trackstar.MaxPages == 0 {
		cfg.Trackstar.MaxPages = 100
	}
	if cfg.Sync.IncrementalInterval == 0 {
		cfg.Sync.IncrementalInterval = 5 * time.Minute
	}
	if cfg.Sync.IncrementalLookback == 0 {
		cfg.Sync.IncrementalLookback = 2 * time.Hour
	}
	if cfg.Sync.BackfillDelay == 0 {
		cfg.Sync.BackfillDelay = 5 * time.Hour
	}
	if cfg.Sync.BackfillCooldown == 0 {
		cfg.Sync.BackfillCooldown = 2 * time.Hour
	}
	if cfg.Sync.BackfillMaxAttempts == 0 {
		cfg.Sync.BackfillMaxAttempts = 6
	}
	if cfg.Sync.NightlyHour == 0 {
		cfg.Sync.NightlyHour = 3
	}
	if cfg.Sync.ReconcileWindow == 0 {
		cfg.Sync.ReconcileWindow = 30 * 24 * time.Hour
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 256
	}
	if cfg.Scheduler.TaskTimeout == 0 {
		cfg.Scheduler.TaskTimeout = 15 * time.Minute
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if cfg.Scheduler.RetryBackoff == 0 {
		cfg.Scheduler.RetryBackoff = 30 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 60 * time.Second
	}
	if cfg.Breaker.MonitoringWindow == 0 {
		cfg.Breaker.MonitoringWindow = 5 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "wms-sync"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sync.NightlyHour < 0 || c.Sync.NightlyHour > 23 {
		return fmt.Errorf("sync.nightly_hour must be between 0 and 23")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Trackstar.APIKey == "" {
			return fmt.Errorf("trackstar.api_key is required in production")
		}
		if c.Trackstar.WebhookSecret == "" {
			return fmt.Errorf("trackstar.webhook_secret is required in production")
		}
		if c.Trackstar.SignatureBypass {
			return fmt.Errorf("trackstar.signature_bypass must be false in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
