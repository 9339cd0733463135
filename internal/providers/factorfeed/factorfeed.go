// Package factorfeed talks to the feature service that computes the raw
// factor scores and hosts the confidence model. Each factor comes back on
// the [-10,+10] scale, optionally with the underlying indicator reading
// the conflict rules inspect.
package factorfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gheezy/signalengine/internal/domain"
	"github.com/gheezy/signalengine/internal/domain/factors"
	"github.com/gheezy/signalengine/internal/net/ratelimit"
)

// Client is a rate-limited REST client for the feature service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
}

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateBurst      int
}

func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 4
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 8
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		limiter:    ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateBurst),
	}
}

type factorResponse struct {
	Value     float64  `json:"value"`
	Indicator *float64 `json:"indicator,omitempty"`
}

// Factor fetches one factor score for a symbol. The value is clamped to
// the factor scale here so a misbehaving feed cannot skew aggregation.
func (c *Client) Factor(ctx context.Context, name, symbol string) (domain.FactorScore, error) {
	endpoint := fmt.Sprintf("%s/v1/factors/%s/%s",
		c.baseURL, url.PathEscape(name), url.PathEscape(symbol))

	var resp factorResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return domain.FactorScore{}, fmt.Errorf("factor %s for %s: %w", name, symbol, err)
	}

	fs := domain.FactorScore{
		Name:  name,
		Value: domain.ClampValue(resp.Value),
	}
	if resp.Indicator != nil {
		fs.Indicator = *resp.Indicator
		fs.HasIndicator = true
	}
	return fs, nil
}

// Source adapts one named factor into the registry's Source shape.
func (c *Client) Source(name string) factors.Source {
	return factors.Func{
		SourceName: name,
		Fn: func(ctx context.Context, symbol string) (domain.FactorScore, error) {
			return c.Factor(ctx, name, symbol)
		},
	}
}

type predictRequest struct {
	Symbol   string             `json:"symbol"`
	Features map[string]float64 `json:"features"`
}

type predictResponse struct {
	Confidence float64 `json:"confidence"`
}

// Predict asks the hosted model for a confidence estimate in [0,1].
func (c *Client) Predict(ctx context.Context, symbol string, features map[string]float64) (float64, error) {
	if err := c.limiter.Wait(ctx, "factorfeed"); err != nil {
		return 0, fmt.Errorf("rate limit wait failed: %w", err)
	}

	payload, err := json.Marshal(predictRequest{Symbol: symbol, Features: features})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/predict", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode prediction: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return 0, fmt.Errorf("model confidence %.3f outside [0,1]", out.Confidence)
	}
	return out.Confidence, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx, "factorfeed"); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return json.Unmarshal(body, out)
}
