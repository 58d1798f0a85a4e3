// Package provider is the upstream market-data API client. It speaks
// the paged /coins/markets endpoint through the middleware stack built
// in net/client, so pacing, circuit breaking, and error typing happen
// below this package; here is only request shaping and decoding.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	netclient "github.com/coinpulse/coinpulse/internal/net/client"
)

// Name tags this provider in errors, logs, and breaker state.
const Name = "coingecko"

const (
	apiKeyHeader = "x-cg-pro-api-key"
	// maxBodyBytes bounds a page body read; a 250-asset page is well
	// under 1 MB.
	maxBodyBytes = 8 << 20
)

// Client fetches market snapshot pages. One Client is shared by all
// fetch workers; concurrency safety comes from http.Client.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	quote    string
	pageSize int
	log      zerolog.Logger
}

// Config carries the request-shaping knobs.
type Config struct {
	BaseURL  string
	APIKey   string
	Quote    string
	PageSize int
}

// New builds a Client on top of httpClient, which is expected to carry
// the net/client middleware stack.
func New(httpClient *http.Client, cfg Config, log zerolog.Logger) *Client {
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		quote:    cfg.Quote,
		pageSize: cfg.PageSize,
		log:      log.With().Str("component", "provider").Str("provider", Name).Logger(),
	}
}

// PageSize returns the per-page asset count requested; a page shorter
// than this is the last one.
func (c *Client) PageSize() int { return c.pageSize }

// MarketsPage fetches one page (1-based) of the full market listing,
// ordered by market cap descending. Errors are typed
// *client.ProviderError: transport/429/5xx transient, other statuses and
// undecodable bodies permanent.
func (c *Client) MarketsPage(ctx context.Context, page int) ([]MarketAsset, error) {
	q := url.Values{}
	q.Set("vs_currency", c.quote)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(c.pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", "false")
	q.Set("price_change_percentage", "24h,7d,30d")

	body, err := c.get(ctx, "/coins/markets?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("markets page %d: %w", page, err)
	}

	var assets []MarketAsset
	if err := json.Unmarshal(body, &assets); err != nil {
		return nil, fmt.Errorf("markets page %d: %w", page, &netclient.ProviderError{
			Provider: Name,
			Type:     netclient.ErrDecode,
			Err:      err,
		})
	}
	return assets, nil
}

// Ping is a lightweight connectivity check against the provider's ping
// endpoint; the probe command uses it.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.get(ctx, "/ping"); err != nil {
		return fmt.Errorf("provider ping: %w", err)
	}
	return nil
}

// get performs one GET and returns the body. Non-2xx statuses never
// reach here; the client stack converts them to typed errors.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &netclient.ProviderError{Provider: Name, Type: netclient.ErrTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &netclient.ProviderError{Provider: Name, Type: netclient.ErrTransport, Err: err}
	}
	return body, nil
}
