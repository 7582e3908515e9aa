// Package live streams real-time candle closes from the exchange's kline
// WebSocket feed, auto-reconnecting with exponential backoff, and keeps a
// per-timeframe cumulative volume delta running across reconnects.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perpetual-enginev1/internal/model"
)

const (
	initialBackoff       = 1 * time.Second
	maxBackoff           = 60 * time.Second
	backoffMultiplier    = 2.0
	maxConsecutiveFails  = 10
)

var intervalByTimeframe = map[model.Timeframe]string{
	model.TF1m:  "1m",
	model.TF5m:  "5m",
	model.TF15m: "15m",
	model.TF1h:  "1h",
	model.TF4h:  "4h",
	model.TF1d:  "1d",
	model.TF1w:  "1w",
}

var timeframeByInterval = func() map[string]model.Timeframe {
	m := make(map[string]model.Timeframe, len(intervalByTimeframe))
	for tf, interval := range intervalByTimeframe {
		m[interval] = tf
	}
	return m
}()

// Provider streams candle closes over a combined kline WebSocket stream.
// Subscribe blocks until ctx is cancelled or Unsubscribe is called,
// reconnecting on every connection error until maxConsecutiveFails is hit.
type Provider struct {
	BaseWSURL string // e.g. "wss://fstream.binance.com/ws", override in tests

	mu              sync.Mutex
	conn            *websocket.Conn
	running         bool
	cvdAccumulator  map[model.Timeframe]float64

	// OnReconnect, if set, is invoked after every dropped connection —
	// a hook for the health-monitor's reconnect counter.
	OnReconnect func()
}

func New() *Provider {
	return &Provider{BaseWSURL: "wss://fstream.binance.com/ws"}
}

func (p *Provider) GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error) {
	return nil, fmt.Errorf("live: GetHistoricalCandles not supported, use the historical provider for warm-up")
}

func (p *Provider) Subscribe(ctx context.Context, symbol string, timeframes []model.Timeframe, callback func(model.Timeframe, model.Candle) error) error {
	p.mu.Lock()
	p.running = true
	p.cvdAccumulator = make(map[model.Timeframe]float64, len(timeframes))
	for _, tf := range timeframes {
		p.cvdAccumulator[tf] = 0
	}
	p.mu.Unlock()

	streamURL, err := buildStreamURL(p.BaseWSURL, symbol, timeframes)
	if err != nil {
		return err
	}

	slog.Info("subscribing to live kline stream", "url", streamURL, "symbol", symbol, "timeframes", timeframes)

	backoff := initialBackoff
	consecutiveFails := 0

	for p.isRunning() {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			consecutiveFails++
			slog.Warn("live feed connect failed, retrying", "attempt", consecutiveFails, "max", maxConsecutiveFails, "backoff", backoff, "err", err)
			if !p.waitBackoff(ctx, &backoff, &consecutiveFails) {
				break
			}
			continue
		}

		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		consecutiveFails = 0
		backoff = initialBackoff
		slog.Info("live feed connected", "url", streamURL)

		err = p.listen(ctx, conn, callback)

		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		_ = conn.Close()

		if p.OnReconnect != nil {
			p.OnReconnect()
		}

		if !p.isRunning() {
			break
		}
		if err != nil {
			consecutiveFails++
			slog.Warn("live feed disconnected, reconnecting", "attempt", consecutiveFails, "max", maxConsecutiveFails, "backoff", backoff, "err", err)
			if !p.waitBackoff(ctx, &backoff, &consecutiveFails) {
				break
			}
		}
	}

	slog.Info("live feed stopped")
	return nil
}

// waitBackoff sleeps for the current backoff, then doubles it (capped), and
// reports whether the caller should keep retrying.
func (p *Provider) waitBackoff(ctx context.Context, backoff *time.Duration, consecutiveFails *int) bool {
	if *consecutiveFails >= maxConsecutiveFails {
		slog.Error("live feed: max consecutive failures reached, giving up", "max", maxConsecutiveFails)
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return false
	}
	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
		return false
	}
	*backoff = time.Duration(float64(*backoff) * backoffMultiplier)
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return p.isRunning()
}

func (p *Provider) listen(ctx context.Context, conn *websocket.Conn, callback func(model.Timeframe, model.Candle) error) error {
	for {
		if !p.isRunning() {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tf, candle, closed, err := parseKlineMessage(raw)
		if err != nil {
			slog.Debug("live feed: skipping unparseable message", "err", err)
			continue
		}
		if !closed {
			continue
		}

		enriched := p.accumulateCVD(tf, candle)
		slog.Debug("candle closed", "tf", tf, "close", enriched.Close, "cvd", enriched.CVD)

		if err := callback(tf, enriched); err != nil {
			slog.Error("live feed callback error", "tf", tf, "err", err)
		}
	}
}

func (p *Provider) accumulateCVD(tf model.Timeframe, c model.Candle) model.Candle {
	p.mu.Lock()
	defer p.mu.Unlock()
	cumulative := p.cvdAccumulator[tf] + c.CVD
	p.cvdAccumulator[tf] = cumulative
	c.CVD = cumulative
	return c
}

func (p *Provider) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Unsubscribe stops the feed and clears CVD accumulator state — a
// subsequent Subscribe starts CVD tracking fresh, matching a brand-new
// session rather than resuming a stale one.
func (p *Provider) Unsubscribe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.cvdAccumulator = nil
	return nil
}

func buildStreamURL(base, symbol string, timeframes []model.Timeframe) (string, error) {
	streamSymbol := strings.ToLower(strings.ReplaceAll(strings.Split(symbol, ":")[0], "/", ""))

	streams := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		interval, ok := intervalByTimeframe[tf]
		if !ok {
			return "", fmt.Errorf("live: unsupported timeframe %q", tf)
		}
		streams = append(streams, fmt.Sprintf("%s@kline_%s", streamSymbol, interval))
	}

	u, err := url.Parse(base + "/" + strings.Join(streams, "/"))
	if err != nil {
		return "", fmt.Errorf("live: build stream url: %w", err)
	}
	return u.String(), nil
}

type klineEnvelope struct {
	Stream string    `json:"stream"`
	Data   klineData `json:"data"`
}

type klineData struct {
	EventType string `json:"e"`
	Kline     struct {
		Interval string `json:"i"`
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// parseKlineMessage decodes a combined-stream kline event into
// (timeframe, candle, isClosed). Non-kline messages return an error.
func parseKlineMessage(raw []byte) (model.Timeframe, model.Candle, bool, error) {
	var env klineEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", model.Candle{}, false, err
	}

	data := env.Data
	if data.EventType == "" {
		// Single-stream connections send the payload unwrapped.
		if err := json.Unmarshal(raw, &data); err != nil {
			return "", model.Candle{}, false, err
		}
	}
	if data.EventType != "kline" {
		return "", model.Candle{}, false, fmt.Errorf("not a kline event: %q", data.EventType)
	}

	tf, ok := timeframeByInterval[data.Kline.Interval]
	if !ok {
		return "", model.Candle{}, false, fmt.Errorf("unknown kline interval %q", data.Kline.Interval)
	}

	open := parseFloat(data.Kline.Open)
	high := parseFloat(data.Kline.High)
	low := parseFloat(data.Kline.Low)
	closePrice := parseFloat(data.Kline.Close)
	volume := parseFloat(data.Kline.Volume)

	diff := closePrice - open
	sign := 0.0
	switch {
	case diff > 0:
		sign = 1
	case diff < 0:
		sign = -1
	}

	candle := model.Candle{
		Timestamp: time.UnixMilli(data.Kline.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CVD:       volume * sign, // per-candle delta; accumulated by the caller
	}

	return tf, candle, data.Kline.Closed, nil
}

func parseFloat(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%g", &f)
	return f
}

var _ model.DataProvider = (*Provider)(nil)
