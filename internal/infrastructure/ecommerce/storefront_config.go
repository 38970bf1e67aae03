package ecommerce

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/storefront/backend/internal/infrastructure/config"
)

const (
	// DefaultStorefrontTimeout bounds a single HTTP round trip
	DefaultStorefrontTimeout = 30 * time.Second
	// DefaultRequestsPerSecond is the outbound request budget shared by all jobs
	DefaultRequestsPerSecond = 5
)

// Errors for storefront configuration
var (
	ErrStorefrontMissingBaseURL = errors.New("storefront: base URL is required")
	ErrStorefrontInvalidBaseURL = errors.New("storefront: base URL must be an absolute http(s) URL")
	ErrStorefrontMissingAPIKey  = errors.New("storefront: API key is required")
)

// StorefrontConfig holds connection settings of the storefront order API
type StorefrontConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewStorefrontConfig converts the application configuration
func NewStorefrontConfig(cfg config.StorefrontConfig) *StorefrontConfig {
	return &StorefrontConfig{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

// Validate checks required fields and fills defaults
func (c *StorefrontConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrStorefrontMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrStorefrontInvalidBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.APIKey == "" {
		return ErrStorefrontMissingAPIKey
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultStorefrontTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	return nil
}
