// Package execution simulates order fills for the two runtime modes:
// backtest (replayed-candle clock) and paper/forward-test (wall-clock).
//
// Both variants share the rule that the executor only computes — it never
// mutates the portfolio. The engine performs every portfolio update after
// receiving the executor's return value, so that mutate-persist-alert stays
// atomic under one owner. The one deliberate exception is the paper
// executor's tick-level CheckPriceUpdate, documented on PaperExecutor.
package execution

import (
	"fmt"
	"time"

	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/portfolio"
)

// Executor is the uniform contract both execution modes satisfy.
type Executor interface {
	// Execute validates and fills signal against currentPrice. Returns a
	// new Position with ResultOpened for an open signal, a Trade with
	// ResultClosed for a close signal, or ResultRejected if the signal was
	// rejected — rejection is logged by the executor, never returned as an
	// error.
	Execute(signal model.Signal, currentPrice float64, pf *portfolio.Portfolio) (position model.Position, trade model.Trade, kind ResultKind)

	// ClosePosition closes position at price for reason, keeping the
	// position's entry time and stamping the exit timestamp per the
	// variant's clock discipline.
	ClosePosition(position model.Position, price float64, reason model.ExitReason) model.Trade
}

// ResultKind discriminates Execute's three possible outcomes.
type ResultKind int

const (
	ResultRejected ResultKind = iota
	ResultOpened
	ResultClosed
)

// validateOpen applies the shared open-signal validation rules common to
// both executor variants. Returns the computed size/size_usd or an error
// describing the rejection.
func validateOpen(signal model.Signal, currentPrice float64, pf *portfolio.Portfolio) (size, sizeUSD float64, err error) {
	if signal.SizePercent <= 0 || signal.StopLoss <= 0 || signal.TakeProfit <= 0 {
		return 0, 0, fmt.Errorf("missing size_percent, stop_loss, or take_profit")
	}
	sizeUSD = pf.Equity() * signal.SizePercent
	if sizeUSD <= 0 {
		return 0, 0, fmt.Errorf("zero or negative size_usd")
	}
	if sizeUSD > pf.Balance {
		return 0, 0, fmt.Errorf("insufficient balance: need %.2f, have %.2f", sizeUSD, pf.Balance)
	}
	if currentPrice <= 0 {
		return 0, 0, fmt.Errorf("invalid price %.6f", currentPrice)
	}
	size = sizeUSD / currentPrice
	return size, sizeUSD, nil
}

// buildPosition constructs a fresh Position from a validated open signal.
func buildPosition(signal model.Signal, price float64, t time.Time, size, sizeUSD float64) model.Position {
	side := model.SideLong
	if signal.Direction == model.DirectionShort {
		side = model.SideShort
	}
	return model.Position{
		ID:         model.NewPositionID(),
		Side:       side,
		EntryPrice: price,
		EntryTime:  t,
		Size:       size,
		SizeUSD:    sizeUSD,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
	}
}

// resolveCloseTarget finds the position a close signal names, or the first
// open position if it names none.
func resolveCloseTarget(signal model.Signal, pf *portfolio.Portfolio) (model.Position, bool) {
	if signal.PositionID != "" {
		return pf.GetPosition(signal.PositionID)
	}
	return pf.FirstPosition()
}
