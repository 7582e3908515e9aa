package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"perpetual-enginev1/internal/model"
)

func TestDiscordAlerter_OnTradeOpen_PostsEmbed(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordAlerter(srv.URL)
	d.OnTradeOpen(model.Position{ID: "p1", Side: model.SideLong, EntryPrice: 100, SizeUSD: 500, StopLoss: 95, TakeProfit: 110})

	embeds, ok := received["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected 1 embed in payload, got %v", received)
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "Position Opened: long" {
		t.Errorf("title = %v, want 'Position Opened: long'", embed["title"])
	}
}

func TestDiscordAlerter_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordAlerter(srv.URL)
	d.OnError("test error")

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected a retry after the first 429, got %d calls", calls)
	}
}

func TestDiscordAlerter_DropsAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordAlerter(srv.URL)
	d.SendAlert(model.AlertWarning, "still rate limited")

	if got := atomic.LoadInt32(&calls); got != maxRateLimitRetries+1 {
		t.Errorf("expected %d attempts (initial + retries), got %d", maxRateLimitRetries+1, got)
	}
}

func TestParseRetryAfter_HeaderPresent(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"2.5"}}}
	got := parseRetryAfter(resp)
	if got != 2500*time.Millisecond {
		t.Errorf("parseRetryAfter = %v, want 2.5s", got)
	}
}

func TestMoneyAndSignedMoney(t *testing.T) {
	if got := money(12.3); got != "$12.30" {
		t.Errorf("money(12.3) = %q, want $12.30", got)
	}
	if got := signedMoney(-5); got != "-$5.00" {
		t.Errorf("signedMoney(-5) = %q, want -$5.00", got)
	}
	if got := signedMoney(5); got != "+$5.00" {
		t.Errorf("signedMoney(5) = %q, want +$5.00", got)
	}
}
