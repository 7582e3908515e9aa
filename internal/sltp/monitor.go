// Package sltp decides whether a candle's range hits a position's stop
// loss or take profit, drilling down into lower-timeframe constituents when
// a single candle hits both.
//
// The monitor is a pure function of (position, candle, optional drill-down
// data): it never mutates a position or portfolio. Mutation is the engine's
// responsibility, so persistence, alerting, and balance updates stay
// atomic under one owner.
package sltp

import (
	"log/slog"

	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/timeframe"
)

// AvailableCandles maps a timeframe to its sub-candles for the current
// parent candle's window, pre-filtered by the caller. The monitor trusts
// this data and does not filter by timestamp itself. The engine passes nil.
type AvailableCandles map[model.Timeframe][]model.Candle

// Check returns the exit reason triggered by candle c for position, or ok
// == false if neither stop loss nor take profit fired. When both fire on
// the same candle, Check drills down via available (tf is the timeframe of
// c) and conservatively returns ExitStopLoss if the ambiguity cannot be
// resolved.
func Check(position model.Position, c model.Candle, available AvailableCandles, tf model.Timeframe) (model.ExitReason, bool) {
	sl, tp := slHit(position, c), tpHit(position, c)

	switch {
	case sl && tp:
		if available != nil {
			return resolve(position, c, available, tf), true
		}
		return model.ExitStopLoss, true
	case sl:
		return model.ExitStopLoss, true
	case tp:
		return model.ExitTakeProfit, true
	default:
		return "", false
	}
}

// CheckTick is the tick-level variant used in forward mode: a single price
// can only hit one level, but a gap can cross both simultaneously, in which
// case the same conservative rule applies.
func CheckTick(position model.Position, price float64) (model.ExitReason, bool) {
	var sl, tp bool
	if position.Side == model.SideLong {
		sl = price <= position.StopLoss
		tp = price >= position.TakeProfit
	} else {
		sl = price >= position.StopLoss
		tp = price <= position.TakeProfit
	}
	switch {
	case sl && tp:
		return model.ExitStopLoss, true
	case sl:
		return model.ExitStopLoss, true
	case tp:
		return model.ExitTakeProfit, true
	default:
		return "", false
	}
}

// ExitPrice returns the exact level that fired — never the candle close —
// which is what makes the conservative tie-break policy safe.
func ExitPrice(position model.Position, reason model.ExitReason) float64 {
	if reason == model.ExitTakeProfit {
		return position.TakeProfit
	}
	return position.StopLoss
}

func resolve(position model.Position, c model.Candle, available AvailableCandles, tf model.Timeframe) model.ExitReason {
	if r, ok := resolveRecursive(position, c, available, tf); ok {
		return r
	}
	return model.ExitStopLoss
}

// resolveRecursive returns ok == false only to signal "neither hit on this
// sub-candle, keep iterating siblings"; resolve's caller is only reached
// when both fired on the parent, so the fallback always yields a result.
func resolveRecursive(position model.Position, c model.Candle, available AvailableCandles, tf model.Timeframe) (model.ExitReason, bool) {
	sl, tp := slHit(position, c), tpHit(position, c)

	switch {
	case sl && tp:
		lower, ok := timeframe.GetLowerTimeframe(tf)
		if !ok {
			slog.Debug("sl/tp both hit at 1m, assuming stop_loss", "position_id", position.ID)
			return model.ExitStopLoss, true
		}
		subCandles := available[lower]
		if len(subCandles) == 0 {
			slog.Debug("no drill-down candles available, assuming stop_loss",
				"position_id", position.ID, "timeframe", lower)
			return model.ExitStopLoss, true
		}
		for _, sub := range subCandles {
			if r, ok := resolveRecursive(position, sub, available, lower); ok {
				return r, true
			}
		}
		return model.ExitStopLoss, true
	case sl:
		return model.ExitStopLoss, true
	case tp:
		return model.ExitTakeProfit, true
	default:
		return "", false
	}
}

func slHit(position model.Position, c model.Candle) bool {
	if position.Side == model.SideLong {
		return c.Low <= position.StopLoss
	}
	return c.High >= position.StopLoss
}

func tpHit(position model.Position, c model.Candle) bool {
	if position.Side == model.SideLong {
		return c.High >= position.TakeProfit
	}
	return c.Low <= position.TakeProfit
}
