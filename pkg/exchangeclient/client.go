// Package exchangeclient is a minimal REST client for a crypto perpetual
// futures exchange: historical kline fetch plus an optional TOTP-secured
// login step for exchanges that require 2FA on top of API-key auth.
package exchangeclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// Config configures the client. TOTPSecret is optional — only exchanges
// requiring 2FA on login need it, and GenerateLoginCode returns an error
// without it.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	TOTPSecret string
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	totpSecret string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		totpSecret: cfg.TOTPSecret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
		},
	}
}

// GenerateLoginCode returns the current TOTP code for exchanges whose login
// flow requires a time-based one-time password alongside the API key.
// Returns an error if no TOTP secret was configured.
func (c *Client) GenerateLoginCode() (string, error) {
	if c.totpSecret == "" {
		return "", fmt.Errorf("exchangeclient: no TOTP secret configured")
	}
	return totp.GenerateCode(c.totpSecret, time.Now())
}

// Kline is one raw OHLCV bar as returned by the exchange's kline endpoint.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// maxKlinesPerRequest mirrors the exchange's pagination limit.
const maxKlinesPerRequest = 1000

// FetchKlines pages through [startMS, endMS] fetching up to
// maxKlinesPerRequest bars per request, honoring rate limits with a fixed
// backoff rather than failing the whole range on one blip.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, startMS, endMS int64) ([]Kline, error) {
	var out []Kline
	since := startMS

	for since < endMS {
		batch, err := c.fetchKlineBatch(ctx, symbol, interval, since, endMS)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		since = batch[len(batch)-1].CloseTime + 1
	}

	return out, nil
}

func (c *Client) fetchKlineBatch(ctx context.Context, symbol, interval string, startMS, endMS int64) ([]Kline, error) {
	const maxAttempts = 3
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("startTime", strconv.FormatInt(startMS, 10))
		q.Set("endTime", strconv.FormatInt(endMS, 10))
		q.Set("limit", strconv.Itoa(maxKlinesPerRequest))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/klines?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		if c.apiKey != "" {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-time.After(3 * time.Second):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		raw, err := readAndClose(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("exchangeclient: rate limited")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("exchangeclient: klines request failed: status=%d body=%s", resp.StatusCode, raw)
		}

		return parseKlines(raw)
	}

	return nil, fmt.Errorf("exchangeclient: klines request failed after %d attempts: %w", maxAttempts, lastErr)
}

func readAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// parseKlines decodes Binance-Futures-style kline rows:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(raw []byte) ([]Kline, error) {
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("exchangeclient: parse klines: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		k := Kline{
			OpenTime:  int64AsFloat(row[0]),
			Open:      strToFloat(row[1]),
			High:      strToFloat(row[2]),
			Low:       strToFloat(row[3]),
			Close:     strToFloat(row[4]),
			Volume:    strToFloat(row[5]),
			CloseTime: int64AsFloat(row[6]),
		}
		out = append(out, k)
	}
	return out, nil
}

func int64AsFloat(v any) int64 {
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	return 0
}

func strToFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}
