package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/backend/internal/domain/integration"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize caps a storefront response body (10MB)
const maxResponseSize = 10 * 1024 * 1024

// StorefrontClient reads orders from the storefront REST API. All tenants
// share one outbound rate limiter.
type StorefrontClient struct {
	config     *StorefrontConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// StorefrontClientOption configures the client
type StorefrontClientOption func(*StorefrontClient)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) StorefrontClientOption {
	return func(s *StorefrontClient) {
		s.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) StorefrontClientOption {
	return func(s *StorefrontClient) {
		s.logger = logger
	}
}

// NewStorefrontClient validates cfg and builds a client
func NewStorefrontClient(cfg *StorefrontConfig, opts ...StorefrontClientOption) (*StorefrontClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &StorefrontClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Count returns the number of orders matching filter
func (c *StorefrontClient) Count(ctx context.Context, tenantID uuid.UUID, filter integration.OrderFilter) (int, error) {
	var body storefrontCount
	if err := c.get(ctx, tenantID, "/api/v1/orders/count", filterParams(filter), &body); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	if body.Count == nil || *body.Count < 0 {
		return 0, fmt.Errorf("count orders: %w: missing count", integration.ErrSourceInvalidResponse)
	}
	return *body.Count, nil
}

// FetchPage returns page (1-based) of the orders matching filter, oldest first
func (c *StorefrontClient) FetchPage(ctx context.Context, tenantID uuid.UUID, filter integration.OrderFilter, page, pageSize int) ([]integration.ExternalOrder, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("fetch page: invalid page %d size %d", page, pageSize)
	}
	params := filterParams(filter)
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("sort", "created_at")
	params.Set("order", "asc")

	var raw struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.get(ctx, tenantID, "/api/v1/orders", params, &raw); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	if raw.Data == nil {
		return nil, fmt.Errorf("fetch page %d: %w: missing data", page, integration.ErrSourceInvalidResponse)
	}

	orders := make([]integration.ExternalOrder, 0, len(raw.Data))
	for i, item := range raw.Data {
		var o storefrontOrder
		if err := json.Unmarshal(item, &o); err != nil {
			// a single unreadable record is kept so the reconciler counts it as failed
			c.logger.Warn("Undecodable storefront order",
				zap.Int("page", page),
				zap.Int("index", i),
				zap.Error(err),
			)
			orders = append(orders, integration.ExternalOrder{RawData: string(item)})
			continue
		}
		orders = append(orders, toExternalOrder(o, item))
	}

	if len(orders) > pageSize {
		return nil, fmt.Errorf("fetch page %d: %w: %d orders for page size %d",
			page, integration.ErrSourceInvalidResponse, len(orders), pageSize)
	}
	return orders, nil
}

func (c *StorefrontClient) get(ctx context.Context, tenantID uuid.UUID, path string, params url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: rate limiter: %v", integration.ErrSourceUnavailable, err)
	}

	reqURL := c.config.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("storefront: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID.String())

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", integration.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", integration.ErrSourceUnavailable, err)
	}

	c.logger.Debug("Storefront request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(result); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrSourceInvalidResponse, err)
	}
	return nil
}

// classifyStatus maps an HTTP status onto the order source errors.
// 429 and 5xx are retryable, 401/403 are not.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", integration.ErrSourceAuthFailed, status, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", integration.ErrSourceRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", integration.ErrSourceUnavailable, status, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", integration.ErrSourceRequestFailed, status, msg)
	}
}

func errorMessage(body []byte) string {
	var e storefrontError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func filterParams(f integration.OrderFilter) url.Values {
	params := url.Values{}
	if f.CreatedFrom != nil {
		params.Set("created_from", f.CreatedFrom.UTC().Format(time.RFC3339Nano))
	}
	if f.CreatedTo != nil {
		params.Set("created_to", f.CreatedTo.UTC().Format(time.RFC3339Nano))
	}
	for _, s := range f.Statuses {
		params.Add("status", string(s))
	}
	return params
}

func toExternalOrder(o storefrontOrder, raw []byte) integration.ExternalOrder {
	items := make([]integration.ExternalOrderItem, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, integration.ExternalOrderItem{
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return integration.ExternalOrder{
		ExternalID:  o.ID,
		OrderNumber: o.OrderNumber,
		Status:      integration.ParseExternalOrderStatus(o.Status),
		Currency:    o.Currency,
		Subtotal:    o.Subtotal,
		ShippingFee: o.ShippingFee,
		Discount:    o.Discount,
		Total:       o.Total,
		Customer: integration.ExternalCustomer{
			Name:        o.Customer.Name,
			Email:       o.Customer.Email,
			Phone:       o.Customer.Phone,
			Address:     o.Customer.Address,
			City:        o.Customer.City,
			Governorate: o.Customer.Governorate,
		},
		Items:     items,
		CreatedAt: o.CreatedAt,
		RawData:   string(raw),
	}
}

var _ integration.OrderSource = (*StorefrontClient)(nil)
