package engine

import (
	"math"

	"perpetual-enginev1/internal/model"
)

// Result is the summary a backtest run returns: the closed trades, the
// equity curve sampled once per candle, and the derived performance
// metrics computed from both.
type Result struct {
	Trades      []model.Trade
	EquityCurve []model.EquityPoint

	WinRate      float64
	ProfitFactor float64 // math.Inf(1) when there were wins and no losses
	TotalReturn  float64
	MaxDrawdown  float64
	SharpeRatio  float64
}

// annualizationFactor is √252 trading days, the standard annualization
// constant for a return series sampled once per trading day-equivalent
// step.
var annualizationFactor = math.Sqrt(252)

// Summarize derives every Result metric from a closed-trade list and an
// equity curve. initialBalance feeds TotalReturn directly rather than
// reading curve[0], since a run that force-closes before any candle
// produces an empty curve.
func Summarize(trades []model.Trade, curve []model.EquityPoint, initialBalance float64) Result {
	r := Result{Trades: trades, EquityCurve: curve}
	r.WinRate = winRate(trades)
	r.ProfitFactor = profitFactor(trades)
	r.TotalReturn = totalReturn(curve, initialBalance)
	r.MaxDrawdown = maxDrawdown(curve)
	r.SharpeRatio = sharpeRatio(curve)
	return r
}

// winRate excludes break-even trades (pnl == 0) from the numerator but
// keeps them in the denominator.
func winRate(trades []model.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

func profitFactor(trades []model.Trade) float64 {
	var grossWins, grossLosses float64
	for _, t := range trades {
		if t.PnL > 0 {
			grossWins += t.PnL
		} else if t.PnL < 0 {
			grossLosses += -t.PnL
		}
	}
	switch {
	case grossLosses == 0 && grossWins > 0:
		return math.Inf(1)
	case grossWins == 0:
		return 0
	default:
		return grossWins / grossLosses
	}
}

func totalReturn(curve []model.EquityPoint, initialBalance float64) float64 {
	if initialBalance == 0 || len(curve) == 0 {
		return 0
	}
	final := curve[len(curve)-1].Equity
	return (final - initialBalance) / initialBalance
}

// maxDrawdown is the largest peak-to-trough relative decline in the curve;
// 0 for a curve with at most one point or one that never declines.
func maxDrawdown(curve []model.EquityPoint) float64 {
	if len(curve) <= 1 {
		return 0
	}
	peak := curve[0].Equity
	worst := 0.0
	for _, pt := range curve[1:] {
		if pt.Equity > peak {
			peak = pt.Equity
			continue
		}
		if peak == 0 {
			continue
		}
		dd := (peak - pt.Equity) / peak
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

// sharpeRatio computes the population-std-dev Sharpe over point-to-point
// returns, annualized by √252. Returns 0 for fewer than 2 points (so fewer
// than 3 equity samples, since returns need consecutive pairs) or a
// zero-variance return series (a std-dev below 1e-12 counts as zero, so
// floating-point noise in a constant-return series does not blow up).
func sharpeRatio(curve []model.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev < 1e-12 {
		return 0
	}

	return (mean / stddev) * annualizationFactor
}
