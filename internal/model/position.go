package model

import (
	"time"

	"github.com/google/uuid"
)

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ExitReason is the closed set of reasons a position can be closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitSignal     ExitReason = "signal"
)

// Position is a mutable reference to open risk. It is created by an
// executor on signal acceptance and lives until closed by SL/TP, a close
// signal, or end-of-run force-close, at which point it becomes a Trade.
type Position struct {
	ID         string
	Side       Side
	EntryPrice float64
	EntryTime  time.Time
	Size       float64 // base-currency units
	SizeUSD    float64 // locked notional
	StopLoss   float64
	TakeProfit float64
}

// NewPositionID generates a fresh opaque position identifier, unique per run.
func NewPositionID() string {
	return uuid.NewString()
}

// UnrealizedPnL computes the position's unrealized profit/loss at price p.
func (p Position) UnrealizedPnL(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Size
}

// ToTrade closes the position into an immutable Trade at exitPrice/exitTime
// for the given reason.
func (p Position) ToTrade(exitPrice float64, exitTime time.Time, reason ExitReason) Trade {
	diff := exitPrice - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	pnl := diff * p.Size
	pnlPercent := 0.0
	if p.SizeUSD != 0 {
		pnlPercent = pnl / p.SizeUSD * 100
	}
	return Trade{
		ID:         p.ID,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		EntryTime:  p.EntryTime,
		Size:       p.Size,
		SizeUSD:    p.SizeUSD,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		ExitPrice:  exitPrice,
		ExitTime:   exitTime,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		ExitReason: reason,
	}
}

// Trade is an immutable, closed position.
type Trade struct {
	ID         string
	Side       Side
	EntryPrice float64
	EntryTime  time.Time
	Size       float64
	SizeUSD    float64
	StopLoss   float64
	TakeProfit float64
	ExitPrice  float64
	ExitTime   time.Time
	PnL        float64
	PnLPercent float64
	ExitReason ExitReason
}
