// Package historical is the exchange-agnostic historical candle provider:
// fetches from the exchange REST API, backed by a candle cache so repeated
// backtests over overlapping ranges don't re-fetch what's already known.
package historical

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/pkg/exchangeclient"
)

// intervalByTimeframe maps our Timeframe set to exchange kline interval
// strings. Every entry in model.Timeframes must have one.
var intervalByTimeframe = map[model.Timeframe]string{
	model.TF1m:  "1m",
	model.TF5m:  "5m",
	model.TF15m: "15m",
	model.TF1h:  "1h",
	model.TF4h:  "4h",
	model.TF1d:  "1d",
	model.TF1w:  "1w",
}

// Provider fetches historical candles, enriching them with approximate CVD.
// It implements model.DataProvider's historical half; Subscribe/Unsubscribe
// are not supported — a backtest has no live leg.
type Provider struct {
	client *exchangeclient.Client
	cache  model.CandleCache // optional, nil disables caching
}

func New(client *exchangeclient.Client, cache model.CandleCache) *Provider {
	return &Provider{client: client, cache: cache}
}

func (p *Provider) GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, error) {
	interval, ok := intervalByTimeframe[tf]
	if !ok {
		return nil, fmt.Errorf("historical: unsupported timeframe %q", tf)
	}

	if p.cache != nil {
		if cached, hit, err := p.cache.Get(ctx, symbol, tf, start, end); err == nil && hit {
			slog.Debug("historical candles served from cache", "symbol", symbol, "tf", tf, "count", len(cached))
			return cached, nil
		}
	}

	slog.Info("fetching historical candles from exchange", "symbol", symbol, "tf", tf, "start", start, "end", end)
	klines, err := p.client.FetchKlines(ctx, symbol, interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("historical: fetch %s %s: %w", symbol, tf, err)
	}

	candles := approximateCVD(toCandles(klines))

	if p.cache != nil {
		if err := p.cache.Put(ctx, symbol, tf, candles); err != nil {
			slog.Warn("failed to populate candle cache", "symbol", symbol, "tf", tf, "err", err)
		}
	}

	slog.Info("fetched historical candles", "symbol", symbol, "tf", tf, "count", len(candles))
	return candles, nil
}

func (p *Provider) Subscribe(ctx context.Context, symbol string, timeframes []model.Timeframe, callback func(model.Timeframe, model.Candle) error) error {
	return fmt.Errorf("historical: Subscribe not supported, use the live provider")
}

func (p *Provider) Unsubscribe() error { return nil }

func toCandles(klines []exchangeclient.Kline) []model.Candle {
	out := make([]model.Candle, len(klines))
	for i, k := range klines {
		out[i] = model.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
	}
	return out
}

// approximateCVD computes a running cumulative volume delta when the
// exchange doesn't provide true buy/sell-tagged volume: each candle's
// delta is its volume signed by the direction of its body.
func approximateCVD(candles []model.Candle) []model.Candle {
	cumulative := 0.0
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		diff := c.Close - c.Open
		sign := 0.0
		switch {
		case diff > 0:
			sign = 1
		case diff < 0:
			sign = -1
		}
		cumulative += c.Volume * sign
		c.CVD = cumulative
		out[i] = c
	}
	return out
}

var _ model.DataProvider = (*Provider)(nil)
