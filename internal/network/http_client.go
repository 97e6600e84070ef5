package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to a settlement gateway exposing JSON endpoints
// POST /transfers and GET /keys/{value}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) ExecuteTransfer(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("failed to encode settlement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return SettlementResult{}, fmt.Errorf("failed to build settlement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("settlement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return SettlementResult{}, fmt.Errorf("settlement gateway returned %d", resp.StatusCode)
	}

	var result SettlementResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SettlementResult{}, fmt.Errorf("failed to decode settlement response: %w", err)
	}

	c.logger.InfoContext(ctx, "Settlement gateway responded",
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.Int("status", resp.StatusCode),
		slog.Bool("success", result.Success))

	return result, nil
}

func (c *HTTPClient) Lookup(ctx context.Context, keyValue string) (LookupResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/keys/"+url.PathEscape(keyValue), nil)
	if err != nil {
		return LookupResult{}, fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return LookupResult{}, fmt.Errorf("key lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return LookupResult{Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return LookupResult{}, fmt.Errorf("key lookup returned %d", resp.StatusCode)
	}

	var result LookupResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return LookupResult{}, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	return result, nil
}
