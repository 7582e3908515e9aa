// Package strategy defines the contract user trading strategies implement
// and the init()-time registry that finds them at startup.
package strategy

import (
	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/portfolio"
)

// Strategy is a deterministic function of its inputs: given the same
// multi-timeframe snapshot and portfolio state it must emit the same
// signals every time (no hidden state reads).
type Strategy interface {
	// Name returns the strategy's unique name, used as its persistence key
	// and as the CLI --strategy argument.
	Name() string

	// Timeframes declares which timeframes this strategy needs. Must
	// include model.TF1m.
	Timeframes() []model.Timeframe

	// OnCandle is invoked once per closed 1-minute candle (after any
	// SL/TP phase has already run) and returns the signals to execute.
	OnCandle(mtf model.MultiTimeframeData, pf *portfolio.Portfolio) []model.Signal
}

// Initializer is implemented by strategies that want one callback with the
// warm-up snapshot before the main loop starts feeding OnCandle.
type Initializer interface {
	OnInit(mtf model.MultiTimeframeData)
}

// Stateful is implemented by strategies that round-trip internal state
// through persistence as an opaque JSON blob. The runtime never inspects
// the blob's schema — each strategy owns its own versioning.
type Stateful interface {
	GetState() map[string]any
	SetState(state map[string]any)
}
