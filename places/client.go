// Package places adapts the external points-of-interest HTTP service:
// one GET per WHATSAT, deadline-bounded, never propagating an error to
// its caller as anything but a typed failure.
package places

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// Client performs lookups against the configured places endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New builds a places Client. endpoint is the base URL of the upstream
// service; apiKey is sent on every request.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     cleanhttp.DefaultPooledClient(),
	}
}

// Lookup performs one HTTPS GET for points of interest near (lat, lon)
// within radiusKM, capped at maxResults. ctx carries the caller's
// deadline (derived from whatsat_timeout). Any failure (bad URL,
// connect error, non-2xx status, body read error, or deadline expiry)
// comes back as a non-nil error, never a panic.
func (c *Client) Lookup(ctx context.Context, lat, lon, radiusKM float64, maxResults int) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("places: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("location", fmt.Sprintf("%g,%g", lat, lon))
	q.Set("radius", fmt.Sprintf("%d", int(radiusKM*1000)))
	q.Set("maxResults", fmt.Sprintf("%d", maxResults))
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("places: building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("places: upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("places: reading response body: %w", err)
	}
	return body, nil
}
