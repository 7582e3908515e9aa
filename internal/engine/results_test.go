package engine

import (
	"math"
	"testing"
	"time"

	"perpetual-enginev1/internal/model"
)

func tradeWithPnL(pnl float64) model.Trade {
	return model.Trade{PnL: pnl}
}

func pt(minute int, equity float64) model.EquityPoint {
	return model.EquityPoint{Timestamp: time.Unix(int64(minute*60), 0), Equity: equity}
}

func TestWinRate_ExcludesBreakEvenFromNumerator(t *testing.T) {
	trades := []model.Trade{tradeWithPnL(10), tradeWithPnL(-5), tradeWithPnL(0)}
	got := winRate(trades)
	want := 1.0 / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("winRate = %v, want %v", got, want)
	}
}

func TestWinRate_NoTrades(t *testing.T) {
	if got := winRate(nil); got != 0 {
		t.Errorf("winRate(nil) = %v, want 0", got)
	}
}

func TestProfitFactor_Infinite(t *testing.T) {
	trades := []model.Trade{tradeWithPnL(10), tradeWithPnL(20)}
	got := profitFactor(trades)
	if !math.IsInf(got, 1) {
		t.Errorf("profitFactor = %v, want +Inf", got)
	}
}

func TestProfitFactor_ZeroWhenNoWins(t *testing.T) {
	trades := []model.Trade{tradeWithPnL(-10), tradeWithPnL(-5)}
	if got := profitFactor(trades); got != 0 {
		t.Errorf("profitFactor = %v, want 0", got)
	}
}

func TestProfitFactor_Ratio(t *testing.T) {
	trades := []model.Trade{tradeWithPnL(30), tradeWithPnL(-10)}
	got := profitFactor(trades)
	if math.Abs(got-3.0) > 1e-9 {
		t.Errorf("profitFactor = %v, want 3.0", got)
	}
}

func TestTotalReturn(t *testing.T) {
	curve := []model.EquityPoint{pt(0, 1000), pt(1, 1100)}
	got := totalReturn(curve, 1000)
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("totalReturn = %v, want 0.1", got)
	}
}

func TestTotalReturn_ZeroInitialBalance(t *testing.T) {
	curve := []model.EquityPoint{pt(0, 1000)}
	if got := totalReturn(curve, 0); got != 0 {
		t.Errorf("totalReturn = %v, want 0", got)
	}
}

func TestMaxDrawdown_MonotoneNonDecreasing(t *testing.T) {
	curve := []model.EquityPoint{pt(0, 1000), pt(1, 1100), pt(2, 1200)}
	if got := maxDrawdown(curve); got != 0 {
		t.Errorf("maxDrawdown = %v, want 0", got)
	}
}

func TestMaxDrawdown_SinglePoint(t *testing.T) {
	if got := maxDrawdown([]model.EquityPoint{pt(0, 1000)}); got != 0 {
		t.Errorf("maxDrawdown = %v, want 0", got)
	}
}

func TestMaxDrawdown_PeakToTrough(t *testing.T) {
	curve := []model.EquityPoint{pt(0, 1000), pt(1, 1200), pt(2, 900), pt(3, 1000)}
	got := maxDrawdown(curve)
	want := (1200.0 - 900.0) / 1200.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("maxDrawdown = %v, want %v", got, want)
	}
}

func TestSharpeRatio_FewerThanTwoPoints(t *testing.T) {
	if got := sharpeRatio([]model.EquityPoint{pt(0, 1000)}); got != 0 {
		t.Errorf("sharpeRatio = %v, want 0", got)
	}
}

func TestSharpeRatio_ZeroStdDev(t *testing.T) {
	curve := []model.EquityPoint{pt(0, 1000), pt(1, 1010), pt(2, 1020.1)}
	got := sharpeRatio(curve)
	// Equal step returns (~1% each) yield zero variance, hence zero Sharpe.
	if math.Abs(got) > 1e-6 {
		t.Errorf("sharpeRatio = %v, want ~0 for a constant-return series", got)
	}
}

func TestSharpeRatio_PositiveForUpwardDrift(t *testing.T) {
	curve := []model.EquityPoint{pt(0, 1000), pt(1, 1050), pt(2, 1020), pt(3, 1080)}
	got := sharpeRatio(curve)
	if got <= 0 {
		t.Errorf("sharpeRatio = %v, want > 0 for net-positive volatile returns", got)
	}
}

func TestSummarize_EmptyTradesAndCurve(t *testing.T) {
	r := Summarize(nil, nil, 1000)
	if r.WinRate != 0 || r.ProfitFactor != 0 || r.TotalReturn != 0 || r.MaxDrawdown != 0 || r.SharpeRatio != 0 {
		t.Errorf("expected all-zero result for empty input, got %+v", r)
	}
}
