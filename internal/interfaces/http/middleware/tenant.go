package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// TenantIDKey is the gin context key holding the caller's tenant as a uuid.UUID.
const TenantIDKey = "tenant_id"

// ErrTenantMissing is returned by GetTenantUUID when no tenant was resolved.
var ErrTenantMissing = errors.New("tenant context missing")

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// SkipPaths are path prefixes served without a tenant (probes)
	SkipPaths []string
	Logger    *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/healthz", "/ready", "/api/v1/health"},
	}
}

// TenantMiddleware requires every request to name its tenant in the
// X-Tenant-ID header. Authentication happens upstream of this service.
func TenantMiddleware(log *zap.Logger) gin.HandlerFunc {
	cfg := DefaultTenantConfig()
	cfg.Logger = log
	return TenantMiddlewareWithConfig(cfg)
}

// TenantMiddlewareWithConfig returns tenant middleware with custom configuration
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if shouldSkipPath(c.Request.URL.Path, cfg.SkipPaths) {
			c.Next()
			return
		}

		raw := strings.TrimSpace(c.GetHeader(logger.TenantHeader))
		if raw == "" {
			abortTenant(c, dto.ErrCodeTenantRequired, "X-Tenant-ID header is required")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			log.Debug("Rejected malformed tenant header",
				zap.String("path", c.Request.URL.Path),
				zap.String("tenant_header", truncate(raw, MaxTenantIDLength)),
			)
			abortTenant(c, dto.ErrCodeTenantInvalid, "X-Tenant-ID must be a UUID")
			return
		}

		// The request logger already carries tenant_id from the header.
		c.Set(TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(
			logger.ContextWithTenantID(c.Request.Context(), tenantID.String()),
		)

		c.Next()
	}
}

// GetTenantUUID returns the tenant resolved by TenantMiddleware.
func GetTenantUUID(c *gin.Context) (uuid.UUID, error) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, ErrTenantMissing
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrTenantMissing
	}
	return id, nil
}

func abortTenant(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
		code, message, c.GetString(RequestIDKey),
	))
}

func shouldSkipPath(path string, skip []string) bool {
	for _, p := range skip {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
