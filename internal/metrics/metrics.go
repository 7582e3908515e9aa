package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exposed by a running engine.
type Metrics struct {
	CandlesProcessedTotal *prometheus.CounterVec // labels: timeframe
	TicksProcessedTotal   prometheus.Counter
	SignalsTotal          *prometheus.CounterVec // labels: direction
	TradesOpenedTotal     *prometheus.CounterVec // labels: side
	TradesClosedTotal     *prometheus.CounterVec // labels: exit_reason
	SLTPFiresTotal        *prometheus.CounterVec // labels: reason

	WSReconnectsTotal prometheus.Counter
	WSConsecutiveFails prometheus.Gauge

	CandleProcessDur prometheus.Histogram
	PersistCommitDur prometheus.Histogram

	Equity  prometheus.Gauge
	Balance prometheus.Gauge
	OpenPositions prometheus.Gauge
}

// NewMetrics builds and registers every instrument against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CandlesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpengine_candles_processed_total",
			Help: "Total closed candles processed, by timeframe",
		}, []string{"timeframe"}),
		TicksProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpengine_ticks_processed_total",
			Help: "Total price ticks processed by the forward-test loop",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpengine_signals_total",
			Help: "Total strategy signals emitted, by direction",
		}, []string{"direction"}),
		TradesOpenedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpengine_trades_opened_total",
			Help: "Total positions opened, by side",
		}, []string{"side"}),
		TradesClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpengine_trades_closed_total",
			Help: "Total trades closed, by exit reason",
		}, []string{"exit_reason"}),
		SLTPFiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpengine_sltp_fires_total",
			Help: "Total stop-loss/take-profit triggers, by reason",
		}, []string{"reason"}),
		WSReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpengine_ws_reconnects_total",
			Help: "Total live feed reconnection attempts",
		}),
		WSConsecutiveFails: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpengine_ws_consecutive_fails",
			Help: "Current consecutive live feed connection failures",
		}),
		CandleProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpengine_candle_process_duration_seconds",
			Help:    "Per-candle engine step latency (aggregation + SL/TP + strategy + execution)",
			Buckets: prometheus.DefBuckets,
		}),
		PersistCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpengine_persist_commit_duration_seconds",
			Help:    "SQLite persistence commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpengine_equity",
			Help: "Current portfolio equity (balance + unrealized PnL)",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpengine_balance",
			Help: "Current realized account balance",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpengine_open_positions",
			Help: "Current number of open positions",
		}),
	}

	prometheus.MustRegister(
		m.CandlesProcessedTotal,
		m.TicksProcessedTotal,
		m.SignalsTotal,
		m.TradesOpenedTotal,
		m.TradesClosedTotal,
		m.SLTPFiresTotal,
		m.WSReconnectsTotal,
		m.WSConsecutiveFails,
		m.CandleProcessDur,
		m.PersistCommitDur,
		m.Equity,
		m.Balance,
		m.OpenPositions,
	)

	return m
}

// HealthStatus is the engine's liveness/readiness snapshot, refreshed by
// the engine's health-monitor loop and served at /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastCandleTime time.Time `json:"last_candle_time"`
	PersistOK      bool      `json:"persist_ok"`
	StrategyName   string    `json:"strategy_name"`
	State          string    `json:"state"` // mirrors the engine's run-state machine

	StartedAt   time.Time `json:"started_at"`
	LastCheckAt time.Time `json:"last_check_at"`
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

func (h *HealthStatus) SetPersistOK(v bool) {
	h.mu.Lock()
	h.PersistOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStrategyName(name string) {
	h.mu.Lock()
	h.StrategyName = name
	h.mu.Unlock()
}

func (h *HealthStatus) SetState(state string) {
	h.mu.Lock()
	h.State = state
	h.mu.Unlock()
}

// LastCandle returns the last recorded candle timestamp under lock.
func (h *HealthStatus) LastCandle() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.LastCandleTime
}

// ServeHTTP handles the /healthz endpoint. A failing persistence layer
// reports "degraded" with 503 in any state; while the state is LOOP, a
// disconnected feed or a feed stale for over a minute (no candle observed)
// does too.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	httpCode := http.StatusOK

	stale := !h.LastCandleTime.IsZero() && time.Since(h.LastCandleTime) > time.Minute
	if !h.PersistOK || (h.State == "LOOP" && (!h.FeedConnected || stale)) {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	body := struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		FeedConnected  bool   `json:"feed_connected"`
		LastCandleTime string `json:"last_candle_time"`
		PersistOK      bool   `json:"persist_ok"`
		StrategyName   string `json:"strategy_name"`
		State          string `json:"state"`
	}{
		Status:         status,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:  h.FeedConnected,
		LastCandleTime: h.LastCandleTime.Format(time.RFC3339),
		PersistOK:      h.PersistOK,
		StrategyName:   h.StrategyName,
		State:          h.State,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /healthz for the
// forward-test process (a backtest run is short-lived and skips this).
type Server struct {
	health *HealthStatus
	mux    *http.ServeMux
	srv    *http.Server
}

func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		mux:    mux,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Handle registers an additional route on the same listener, e.g. the
// forward-test live status WebSocket endpoint. Must be called before
// Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
