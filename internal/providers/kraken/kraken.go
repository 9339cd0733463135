// Package kraken adapts Kraken's public REST API to the provider
// interfaces: spot price from Ticker, window extremes from OHLC candles.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gheezy/signalengine/internal/net/ratelimit"
	"github.com/gheezy/signalengine/internal/providers"
)

const defaultBaseURL = "https://api.kraken.com"

// Client is a rate-limited Kraken REST client. Circuit breaking lives in
// the provider guard wrapping it, not here.
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
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 1.0 // Kraken free tier
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 2
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL: cfg.BaseURL,
		limiter: ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateBurst),
	}
}

// apiResponse is Kraken's envelope: errors as strings, payload raw.
type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type tickerInfo struct {
	Last []string `json:"c"` // [price, lot volume]
}

// Price returns the last trade price for the pair.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/0/public/Ticker?pair=%s", c.baseURL, url.QueryEscape(symbol))

	var tickers map[string]tickerInfo
	if err := c.getJSON(ctx, endpoint, &tickers); err != nil {
		return 0, fmt.Errorf("ticker request failed: %w", err)
	}

	for _, t := range tickers {
		if len(t.Last) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(t.Last[0], 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable last price %q: %w", t.Last[0], err)
		}
		if price <= 0 {
			return 0, fmt.Errorf("non-positive last price for %s", symbol)
		}
		return price, nil
	}
	return 0, fmt.Errorf("no ticker data for %s: %w", symbol, providers.ErrUnavailable)
}

// RangeExtremes folds OHLC candles over [from, to] into the min low and
// max high. Kraken returns candles as mixed-type arrays, so fields are
// dug out positionally: [time, open, high, low, close, vwap, volume, n].
func (c *Client) RangeExtremes(ctx context.Context, symbol string, from, to time.Time) (providers.PriceRange, error) {
	endpoint := fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=1&since=%d",
		c.baseURL, url.QueryEscape(symbol), from.Unix())

	var result map[string]json.RawMessage
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return providers.PriceRange{}, fmt.Errorf("ohlc request failed: %w", err)
	}

	var rng providers.PriceRange
	found := false
	for key, raw := range result {
		if key == "last" {
			continue
		}
		var candles [][]json.RawMessage
		if err := json.Unmarshal(raw, &candles); err != nil {
			return providers.PriceRange{}, fmt.Errorf("unparseable ohlc payload: %w", err)
		}
		for _, candle := range candles {
			if len(candle) < 5 {
				continue
			}
			ts, err := candleTime(candle[0])
			if err != nil {
				continue
			}
			if ts.Before(from) || ts.After(to) {
				continue
			}
			high, err1 := candleField(candle[2])
			low, err2 := candleField(candle[3])
			if err1 != nil || err2 != nil || high <= 0 || low <= 0 {
				continue
			}
			if !found || high > rng.Max {
				rng.Max = high
			}
			if !found || low < rng.Min {
				rng.Min = low
			}
			found = true
		}
	}

	if !found {
		return providers.PriceRange{}, fmt.Errorf("no candles for %s in window: %w", symbol, providers.ErrUnavailable)
	}
	return rng, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx, "kraken"); err != nil {
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

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if len(envelope.Error) > 0 {
		return fmt.Errorf("api error: %v", envelope.Error)
	}
	return json.Unmarshal(envelope.Result, out)
}

// candleTime parses the epoch-seconds field, which Kraken may emit as a
// number or a string.
func candleTime(raw json.RawMessage) (time.Time, error) {
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, err
		}
		secs = parsed
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

func candleField(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return 0, err
		}
		return f, nil
	}
	return strconv.ParseFloat(s, 64)
}
