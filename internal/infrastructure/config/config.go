// Package config loads service settings from config.toml and STOREFRONT_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. STOREFRONT_DATABASE_PASSWORD
const EnvPrefix = "STOREFRONT"

// Config is the full service configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Import     ImportConfig     `mapstructure:"import"`
	Storefront StorefrontConfig `mapstructure:"storefront"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DatabaseConfig holds the PostgreSQL connection and pool settings
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// lifetimes are in minutes
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int `mapstructure:"conn_max_idle_time"`
}

// RedisConfig enables cross-instance job locks and progress fan-out; when
// disabled both stay in process
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type HTTPConfig struct {
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout of zero keeps progress streams open
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes   int           `mapstructure:"max_header_bytes"`
	MaxBodySize      int64         `mapstructure:"max_body_size"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
	TrustedProxies   []string      `mapstructure:"trusted_proxies"`
}

// ImportConfig tunes the order import engine
type ImportConfig struct {
	PageSize             int           `mapstructure:"page_size"`
	MaxPageSize          int           `mapstructure:"max_page_size"`
	InterBatchDelay      time.Duration `mapstructure:"inter_batch_delay"`
	RetryMaxAttempts     int           `mapstructure:"retry_max_attempts"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	StoreTimeout         time.Duration `mapstructure:"store_timeout"`
	Workers              int           `mapstructure:"workers"`
	QueueSize            int           `mapstructure:"queue_size"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	RecoveryInterval     time.Duration `mapstructure:"recovery_interval"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	SubscriberBuffer     int           `mapstructure:"subscriber_buffer"`
}

// StorefrontConfig points at the remote order API
type StorefrontConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// TelemetryConfig drives the OTLP exporters and the GORM span plugin
type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"`
	SamplingRatio     float64       `mapstructure:"sampling_ratio"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          `mapstructure:"insecure"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	LogsEnabled       bool          `mapstructure:"logs_enabled"`
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	// DBLogFullSQL puts bound values into spans; refused in production
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

var defaults = map[string]any{
	"app.name": "storefront-backend",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "storefront",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.enabled":  false,
	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":       15 * time.Second,
	"http.write_timeout":      time.Duration(0),
	"http.idle_timeout":       60 * time.Second,
	"http.max_header_bytes":   1 << 20,
	"http.max_body_size":      int64(1 << 20),
	"http.cors_allow_origins": []string{},
	"http.trusted_proxies":    []string{},

	"import.page_size":              50,
	"import.max_page_size":          100,
	"import.inter_batch_delay":      500 * time.Millisecond,
	"import.retry_max_attempts":     3,
	"import.retry_initial_interval": 500 * time.Millisecond,
	"import.retry_max_interval":     5 * time.Second,
	"import.fetch_timeout":          30 * time.Second,
	"import.store_timeout":          10 * time.Second,
	"import.workers":                4,
	"import.queue_size":             256,
	"import.lock_ttl":               2 * time.Minute,
	"import.recovery_interval":      time.Minute,
	"import.stale_after":            5 * time.Minute,
	"import.subscriber_buffer":      16,

	"storefront.base_url":            "",
	"storefront.api_key":             "",
	"storefront.timeout":             30 * time.Second,
	"storefront.requests_per_second": 5.0,
	"storefront.burst":               1,

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "storefront-backend",
	"telemetry.insecure":                true,
	"telemetry.metrics_interval":        60 * time.Second,
	"telemetry.logs_enabled":            false,
	"telemetry.db_trace_enabled":        true,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
}

// Load reads config.toml from ".", "./backend" or "/app" when present, then
// applies STOREFRONT_ environment overrides on top of built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	db := c.Database
	switch {
	case db.MaxOpenConns <= 0:
		return errors.New("database.max_open_conns must be positive")
	case db.MaxIdleConns < 0:
		return errors.New("database.max_idle_conns cannot be negative")
	case db.MaxIdleConns > db.MaxOpenConns:
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			db.MaxIdleConns, db.MaxOpenConns)
	}

	if err := c.Import.validate(); err != nil {
		return err
	}

	if c.Storefront.RequestsPerSecond < 0 {
		return errors.New("storefront.requests_per_second cannot be negative")
	}
	if c.Storefront.Burst < 1 {
		return errors.New("storefront.burst must be at least 1")
	}
	if r := c.Telemetry.SamplingRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %g", r)
	}

	if c.App.Env == "production" {
		return c.validateProduction()
	}
	return nil
}

func (c ImportConfig) validate() error {
	switch {
	case c.PageSize < 1 || c.PageSize > c.MaxPageSize:
		return fmt.Errorf("import.page_size must be between 1 and import.max_page_size (%d), got %d",
			c.MaxPageSize, c.PageSize)
	case c.RetryMaxAttempts < 1:
		return errors.New("import.retry_max_attempts must be at least 1")
	case c.RetryMaxInterval < c.RetryInitialInterval:
		return errors.New("import.retry_max_interval cannot be shorter than import.retry_initial_interval")
	case c.InterBatchDelay < 0:
		return errors.New("import.inter_batch_delay cannot be negative")
	case c.Workers < 1:
		return errors.New("import.workers must be positive")
	case c.LockTTL <= c.FetchTimeout:
		// a lease must outlive the slowest page fetch it guards
		return fmt.Errorf("import.lock_ttl (%s) must exceed import.fetch_timeout (%s)", c.LockTTL, c.FetchTimeout)
	case c.StaleAfter <= c.LockTTL:
		return fmt.Errorf("import.stale_after (%s) must exceed import.lock_ttl (%s)", c.StaleAfter, c.LockTTL)
	}
	return nil
}

func (c *Config) validateProduction() error {
	switch {
	case c.Database.Password == "":
		return errors.New("database.password is required in production")
	case c.Database.SSLMode == "disable":
		return errors.New("database.sslmode cannot be 'disable' in production")
	case c.Storefront.BaseURL == "":
		return errors.New("storefront.base_url is required in production")
	case c.Telemetry.DBLogFullSQL:
		return errors.New("telemetry.db_log_full_sql must be false in production")
	}
	return nil
}

// DSN renders a postgres URL with user info and query values escaped
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr is the host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
