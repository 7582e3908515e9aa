package model

import (
	"context"
	"time"
)

// ── Port interfaces ──
// These decouple the engine core from its external collaborators (exchange
// adapters, relational store, candle cache, alerter). Each concrete adapter
// satisfies one or more of these; the engine depends only on the interface.

// DataProvider is the contract for historical and live candle ingestion.
type DataProvider interface {
	// GetHistoricalCandles returns candles ordered by timestamp ascending,
	// inclusive of [start, end].
	GetHistoricalCandles(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]Candle, error)

	// Subscribe invokes callback once per closed candle until Unsubscribe
	// is called or ctx is cancelled.
	Subscribe(ctx context.Context, symbol string, timeframes []Timeframe, callback func(Timeframe, Candle) error) error

	// Unsubscribe tears the live connection down gracefully.
	Unsubscribe() error
}

// PositionStore persists open positions, keyed by id.
type PositionStore interface {
	SavePosition(ctx context.Context, p Position) error
	DeletePosition(ctx context.Context, id string) error
	GetOpenPositions(ctx context.Context) ([]Position, error)
}

// TradeStore persists closed trades, keyed by id.
type TradeStore interface {
	SaveTrade(ctx context.Context, t Trade) error
	GetTrades(ctx context.Context) ([]Trade, error)
}

// PortfolioStore persists the single-row portfolio balance state.
type PortfolioStore interface {
	SavePortfolio(ctx context.Context, initialBalance, balance float64) error
	GetPortfolio(ctx context.Context) (initialBalance, balance float64, ok bool, err error)
}

// StrategyStateStore round-trips a strategy's opaque JSON state blob, keyed
// by strategy name. Persistence must not know the blob's internal schema.
type StrategyStateStore interface {
	SaveStrategyState(ctx context.Context, strategyName string, state []byte) error
	GetStrategyState(ctx context.Context, strategyName string) ([]byte, bool, error)
}

// Store bundles every persistence port the engine needs plus teardown.
type Store interface {
	PositionStore
	TradeStore
	PortfolioStore
	StrategyStateStore
	ClearAll(ctx context.Context) error
	Close() error
}

// CandleCache is a columnar cache of raw candles per (symbol, timeframe),
// keyed for fast warm-up reads without re-fetching from the exchange.
type CandleCache interface {
	Get(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]Candle, bool, error)
	Put(ctx context.Context, symbol string, tf Timeframe, candles []Candle) error
	Close() error
}

// AlertLevel classifies an outbound alert's severity.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "info"
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alerter is the fail-safe notification contract: every method logs and
// never returns an error to the trading path.
type Alerter interface {
	OnStrategyStart(name string)
	OnTradeOpen(p Position)
	OnTradeClose(t Trade)
	OnError(message string)
	SendAlert(level AlertLevel, text string)
}
