package trackstar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// breakerName is the logical dependency name all aggregator calls share
const breakerName = "trackstar"

// Guard wraps an outbound call with failure protection. The circuit breaker
// manager satisfies this; a nil guard passes calls through.
type Guard interface {
	Execute(ctx context.Context, name string, fn func(context.Context) error) error
}

// Client is the rate-limited outbound transport to the aggregator REST API.
// It never mutates canonical state; callers own persistence.
type Client struct {
	cfg    Config
	http   *http.Client
	guard  Guard
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates an outbound client
func NewClient(cfg Config, guard Guard, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		guard:    guard,
		logger:   logger.Named("trackstar"),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// limiter returns the per-credential rate limiter, creating it on first use.
// The budget is N requests per rolling second; exceeding it delays the
// caller, never rejects.
func (c *Client) limiter(credential string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[credential]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RateLimitPerSecond), c.cfg.RateLimitPerSecond)
		c.limiters[credential] = l
	}
	return l
}

// ---------------------------------------------------------------------------
// Connection establishment (API-key auth)
// ---------------------------------------------------------------------------

// CreateLinkToken requests a short-lived link token for the auth flow
func (c *Client) CreateLinkToken(ctx context.Context) (*LinkTokenResponse, error) {
	var out LinkTokenResponse
	if err := c.call(ctx, http.MethodPost, "/link/token", "", nil, nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeAuthCode trades an auth code for an access token and connection
// metadata
func (c *Client) ExchangeAuthCode(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	var out ExchangeResponse
	if err := c.call(ctx, http.MethodPost, "/link/exchange", "", nil, req, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Resource reads (access-token auth, paginated)
// ---------------------------------------------------------------------------

// ListOrders streams order pages to fn, following next_token up to the page cap
func (c *Client) ListOrders(ctx context.Context, accessToken string, filters ListFilters, fn func([]Order) error) error {
	return listResource(ctx, c, accessToken, "/wms/orders", filters, fn)
}

// ListProducts streams product pages to fn
func (c *Client) ListProducts(ctx context.Context, accessToken string, filters ListFilters, fn func([]Product) error) error {
	return listResource(ctx, c, accessToken, "/wms/products", filters, fn)
}

// ListInventory streams inventory pages to fn
func (c *Client) ListInventory(ctx context.Context, accessToken string, filters ListFilters, fn func([]InventoryItem) error) error {
	return listResource(ctx, c, accessToken, "/wms/inventory", filters, fn)
}

// ListShipments streams shipment pages to fn
func (c *Client) ListShipments(ctx context.Context, accessToken string, filters ListFilters, fn func([]Shipment) error) error {
	return listResource(ctx, c, accessToken, "/wms/shipments", filters, fn)
}

// CountOrders fetches a single small page of orders and returns the
// aggregator-reported total. The backfill probe uses this to detect an
// aggregator that is still populating.
func (c *Client) CountOrders(ctx context.Context, accessToken string) (int, error) {
	if accessToken == "" {
		return 0, ErrMissingCredential
	}
	q := ListFilters{Limit: 1}.query()
	var p page
	if err := c.call(ctx, http.MethodGet, "/wms/orders", accessToken, q, nil, &p, ""); err != nil {
		return 0, err
	}
	if p.TotalCount > 0 {
		return p.TotalCount, nil
	}
	var data []json.RawMessage
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			return 0, fmt.Errorf("trackstar: decode orders page: %w", err)
		}
	}
	return len(data), nil
}

// ---------------------------------------------------------------------------
// Outbound mutations (idempotency-key header supported)
// ---------------------------------------------------------------------------

// UpdateOrder pushes an order mutation back to the aggregator
func (c *Client) UpdateOrder(ctx context.Context, accessToken, orderID string, update OrderUpdate, idempotencyKey string) error {
	if accessToken == "" {
		return ErrMissingCredential
	}
	path := "/wms/orders/" + url.PathEscape(orderID)
	return c.call(ctx, http.MethodPut, path, accessToken, nil, update, nil, idempotencyKey)
}

// CancelOrder requests cancellation of an aggregator order
func (c *Client) CancelOrder(ctx context.Context, accessToken, orderID string, idempotencyKey string) error {
	if accessToken == "" {
		return ErrMissingCredential
	}
	path := "/wms/orders/" + url.PathEscape(orderID) + "/cancel"
	return c.call(ctx, http.MethodPost, path, accessToken, nil, nil, nil, idempotencyKey)
}

// AddOrderNote attaches a free-form note to an aggregator order
func (c *Client) AddOrderNote(ctx context.Context, accessToken, orderID, note string, idempotencyKey string) error {
	if accessToken == "" {
		return ErrMissingCredential
	}
	path := "/wms/orders/" + url.PathEscape(orderID) + "/notes"
	return c.call(ctx, http.MethodPost, path, accessToken, nil, OrderNote{Note: note}, nil, idempotencyKey)
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// call issues one authenticated request. With a credential it first acquires
// a rate-limit slot; the guard wraps the attempt (including the single 429
// retry) so breaker classification sees the final outcome.
func (c *Client) call(ctx context.Context, method, path, credential string, query url.Values, body, out any, idempotencyKey string) error {
	if credential != "" {
		if err := c.limiter(credential).Wait(ctx); err != nil {
			return fmt.Errorf("trackstar: rate limit wait: %w", err)
		}
	}

	exec := func(ctx context.Context) error {
		return c.doWithRetry(ctx, method, path, credential, query, body, out, idempotencyKey)
	}
	if c.guard != nil {
		return c.guard.Execute(ctx, breakerName, exec)
	}
	return exec(ctx)
}

// doWithRetry performs the request and, on a 429 bearing a retry-after
// duration, suspends for that duration and transparently retries once. All
// other errors surface unmodified.
func (c *Client) doWithRetry(ctx context.Context, method, path, credential string, query url.Values, body, out any, idempotencyKey string) error {
	err := c.do(ctx, method, path, credential, query, body, out, idempotencyKey)
	apiErr, ok := err.(*APIError)
	if !ok || !apiErr.IsRateLimited() || apiErr.RetryAfter <= 0 {
		return err
	}

	c.logger.Warn("Rate limited upstream, retrying once",
		zap.String("path", path),
		zap.Duration("retry_after", apiErr.RetryAfter),
	)

	timer := time.NewTimer(apiErr.RetryAfter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return c.do(ctx, method, path, credential, query, body, out, idempotencyKey)
}

// do performs a single HTTP round trip
func (c *Client) do(ctx context.Context, method, path, credential string, query url.Values, body, out any, idempotencyKey string) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("trackstar: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("trackstar: build request: %w", err)
	}
	req.Header.Set("x-trackstar-api-key", c.cfg.APIKey)
	if credential != "" {
		req.Header.Set("x-trackstar-access-token", credential)
	}
	if idempotencyKey != "" {
		req.Header.Set("idempotency-key", idempotencyKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trackstar: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("trackstar: decode response: %w", err)
		}
	}
	return nil
}

// decodeError builds an APIError from a non-2xx response
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Code = payload.Code
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return apiErr
}
