package importapp

import (
	"time"

	"github.com/storefront/backend/internal/domain/bulk"
	"github.com/storefront/backend/internal/infrastructure/config"
)

// RetryConfig bounds the retries of one remote page fetch
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// EngineConfig holds the tunables of the import engine
type EngineConfig struct {
	// DefaultPageSize applies when a start request leaves page_size unset
	DefaultPageSize int
	// MaxPageSize is the largest page a tenant may request
	MaxPageSize     int
	InterBatchDelay time.Duration
	FetchTimeout    time.Duration
	StoreTimeout    time.Duration
	Retry           RetryConfig
	LockTTL         time.Duration
	StaleAfter      time.Duration
}

// DefaultEngineConfig returns the engine defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultPageSize: bulk.DefaultPageSize,
		MaxPageSize:     bulk.MaxPageSize,
		InterBatchDelay: 500 * time.Millisecond,
		FetchTimeout:    30 * time.Second,
		StoreTimeout:    10 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		LockTTL:    2 * time.Minute,
		StaleAfter: 5 * time.Minute,
	}
}

// EngineConfigFrom maps the import section of the application config
func EngineConfigFrom(cfg config.ImportConfig) EngineConfig {
	return EngineConfig{
		DefaultPageSize: cfg.PageSize,
		MaxPageSize:     cfg.MaxPageSize,
		InterBatchDelay: cfg.InterBatchDelay,
		FetchTimeout:    cfg.FetchTimeout,
		StoreTimeout:    cfg.StoreTimeout,
		Retry: RetryConfig{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
		LockTTL:    cfg.LockTTL,
		StaleAfter: cfg.StaleAfter,
	}
}
