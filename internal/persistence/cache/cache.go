// Package cache is a Redis-backed columnar cache of historical candles,
// keyed by (symbol, timeframe, day bucket) so repeated backtests over
// overlapping date ranges skip re-fetching from the exchange.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"perpetual-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ttl is generous: historical candles for closed days never change, so a
// cached entry is valid indefinitely in practice. The TTL exists only to
// bound unbounded growth from symbols/timeframes nobody queries anymore.
const ttl = 30 * 24 * time.Hour

// breakerMaxFailures/breakerResetTimeout bound how many consecutive Redis
// failures this cache tolerates before it stops trying for a while — a
// saturated Redis shouldn't turn every backtest candle fetch into a slow
// timeout.
const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// Cache implements model.CandleCache over Redis, one key per calendar day
// bucket so a [start, end] query only has to touch the buckets it spans
// rather than reading or rewriting the whole series. Reads and writes run
// through a circuit breaker so a down Redis degrades to cache-miss
// behavior quickly instead of blocking on repeated timeouts.
type Cache struct {
	client  *goredis.Client
	breaker *circuitBreaker
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Open connects to Redis and pings it, failing fast on misconfiguration.
func Open(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("connected to candle cache", "addr", cfg.Addr, "db", cfg.DB)
	return &Cache{client: client, breaker: newCircuitBreaker(breakerMaxFailures, breakerResetTimeout)}, nil
}

// Get returns the candles covering [start, end] if every day bucket in that
// range is present in the cache. A partial hit is treated as a miss: the
// caller re-fetches the whole range and re-populates it via Put, which is
// simpler than stitching a fetch across the missing buckets only.
func (c *Cache) Get(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Candle, bool, error) {
	buckets := dayBuckets(start, end)
	if len(buckets) == 0 {
		return nil, false, nil
	}

	keys := make([]string, len(buckets))
	for i, day := range buckets {
		keys[i] = key(symbol, tf, day)
	}

	var raw []interface{}
	err := c.breaker.Execute(func() error {
		var execErr error
		raw, execErr = c.client.MGet(ctx, keys...).Result()
		return execErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache mget: %w", err)
	}

	var out []model.Candle
	for _, v := range raw {
		if v == nil {
			return nil, false, nil // partial miss
		}
		s, ok := v.(string)
		if !ok {
			return nil, false, nil
		}
		var day []model.Candle
		if err := json.Unmarshal([]byte(s), &day); err != nil {
			return nil, false, fmt.Errorf("cache unmarshal: %w", err)
		}
		out = append(out, day...)
	}

	out = filterRange(out, start, end)
	return out, true, nil
}

// Put writes candles into the cache, bucketed by calendar day.
func (c *Cache) Put(ctx context.Context, symbol string, tf model.Timeframe, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	byDay := map[time.Time][]model.Candle{}
	for _, cd := range candles {
		day := cd.Timestamp.UTC().Truncate(24 * time.Hour)
		byDay[day] = append(byDay[day], cd)
	}

	pipe := c.client.Pipeline()
	for day, dayCandles := range byDay {
		data, err := json.Marshal(dayCandles)
		if err != nil {
			return fmt.Errorf("cache marshal: %w", err)
		}
		pipe.Set(ctx, key(symbol, tf, day), data, ttl)
	}
	err := c.breaker.Execute(func() error {
		_, execErr := pipe.Exec(ctx)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("cache pipeline exec: %w", err)
	}
	return nil
}

// Latest returns the timestamp of the most recently cached candle for
// (symbol, tf), so a fetch can resume from where a prior one left off
// instead of always re-pulling the full default window.
func (c *Cache) Latest(ctx context.Context, symbol string, tf model.Timeframe) (time.Time, bool, error) {
	prefix := fmt.Sprintf("candles:%s:%s:", symbol, tf)

	var latestDay time.Time
	found := false
	var cursor uint64
	for {
		var keys []string
		var next uint64
		err := c.breaker.Execute(func() error {
			var execErr error
			keys, next, execErr = c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
			return execErr
		})
		if err != nil {
			return time.Time{}, false, fmt.Errorf("cache scan: %w", err)
		}
		for _, k := range keys {
			dayStr := strings.TrimPrefix(k, prefix)
			day, err := time.Parse("2006-01-02", dayStr)
			if err != nil {
				continue
			}
			if !found || day.After(latestDay) {
				latestDay, found = day, true
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if !found {
		return time.Time{}, false, nil
	}

	var raw string
	err := c.breaker.Execute(func() error {
		var execErr error
		raw, execErr = c.client.Get(ctx, key(symbol, tf, latestDay)).Result()
		return execErr
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cache get latest bucket: %w", err)
	}

	var bucket []model.Candle
	if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
		return time.Time{}, false, fmt.Errorf("cache unmarshal latest bucket: %w", err)
	}

	var latest time.Time
	for _, cd := range bucket {
		if cd.Timestamp.After(latest) {
			latest = cd.Timestamp
		}
	}
	if latest.IsZero() {
		return time.Time{}, false, nil
	}
	return latest, true, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func key(symbol string, tf model.Timeframe, day time.Time) string {
	return fmt.Sprintf("candles:%s:%s:%s", symbol, tf, day.Format("2006-01-02"))
}

func dayBuckets(start, end time.Time) []time.Time {
	var out []time.Time
	d := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC().Truncate(24 * time.Hour)
	for !d.After(last) {
		out = append(out, d)
		d = d.Add(24 * time.Hour)
	}
	return out
}

func filterRange(candles []model.Candle, start, end time.Time) []model.Candle {
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
			out = append(out, c)
		}
	}
	return out
}

var _ model.CandleCache = (*Cache)(nil)
