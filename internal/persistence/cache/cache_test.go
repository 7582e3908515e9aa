package cache

import (
	"testing"
	"time"

	"perpetual-enginev1/internal/model"
)

// These exercise the pure bucketing/key/filter helpers directly — the Cache
// type itself needs a live Redis connection, which the test environment
// doesn't carry, so its Get/Put methods have no test here; the historical
// provider's tests cover cache-miss/cache-hit fallthrough against an
// in-memory fake cache.

func TestKey_Format(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got := key("BTC/USDT:USDT", model.TF1m, day)
	want := "candles:BTC/USDT:USDT:1m:2024-03-01"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestDayBuckets_SingleDay(t *testing.T) {
	start := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	got := dayBuckets(start, end)
	if len(got) != 1 || !got[0].Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("dayBuckets = %v, want single bucket for 2024-03-01", got)
	}
}

func TestDayBuckets_SpansMultipleDays(t *testing.T) {
	start := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 3, 1, 0, 0, 0, time.UTC)
	got := dayBuckets(start, end)
	want := []time.Time{
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("dayBuckets returned %d buckets, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("bucket[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDayBuckets_Empty(t *testing.T) {
	start := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := dayBuckets(start, end); len(got) != 0 {
		t.Errorf("dayBuckets with end before start = %v, want empty", got)
	}
}

func candleAt(ts time.Time) model.Candle {
	return model.Candle{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
}

func TestFilterRange_ExcludesOutOfBounds(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		candleAt(start.Add(-time.Minute)),
		candleAt(start),
		candleAt(start.Add(time.Hour)),
		candleAt(end),
		candleAt(end.Add(time.Minute)),
	}
	got := filterRange(candles, start, end)
	if len(got) != 3 {
		t.Fatalf("filterRange returned %d candles, want 3 (inclusive of both bounds)", len(got))
	}
}

func TestFilterRange_Empty(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	if got := filterRange(nil, start, end); len(got) != 0 {
		t.Errorf("filterRange(nil) = %v, want empty", got)
	}
}
