package sltp

import (
	"testing"

	"perpetual-enginev1/internal/model"
)

func longPosition(sl, tp float64) model.Position {
	return model.Position{ID: "p1", Side: model.SideLong, EntryPrice: 100, StopLoss: sl, TakeProfit: tp}
}

func TestCheck_StopLossOnly(t *testing.T) {
	pos := longPosition(95, 110)
	c := model.Candle{High: 105, Low: 94}
	reason, ok := Check(pos, c, nil, model.TF1m)
	if !ok || reason != model.ExitStopLoss {
		t.Fatalf("got (%v, %v), want (stop_loss, true)", reason, ok)
	}
}

func TestCheck_TakeProfitOnly(t *testing.T) {
	pos := longPosition(95, 110)
	c := model.Candle{High: 111, Low: 99}
	reason, ok := Check(pos, c, nil, model.TF1m)
	if !ok || reason != model.ExitTakeProfit {
		t.Fatalf("got (%v, %v), want (take_profit, true)", reason, ok)
	}
}

func TestCheck_NeitherHit(t *testing.T) {
	pos := longPosition(95, 110)
	c := model.Candle{High: 105, Low: 99}
	if _, ok := Check(pos, c, nil, model.TF1m); ok {
		t.Fatal("expected no trigger")
	}
}

// Scenario E — both hit on the parent candle, no drill-down data: falls
// back to the conservative stop_loss resolution.
func TestCheck_BothHitNoDrillDown_FallsBackToStopLoss(t *testing.T) {
	pos := longPosition(95, 108)
	c := model.Candle{High: 109, Low: 94}
	reason, ok := Check(pos, c, nil, model.TF4h)
	if !ok || reason != model.ExitStopLoss {
		t.Fatalf("got (%v, %v), want (stop_loss, true)", reason, ok)
	}
}

// Scenario E — both hit on the 4h parent; the first 1h sub-candle only
// hits take_profit, so the drill-down resolves to take_profit instead of
// the conservative default.
func TestCheck_BothHit_DrillsDownToTakeProfit(t *testing.T) {
	pos := longPosition(95, 108)
	parent := model.Candle{Low: 94, High: 109}
	available := AvailableCandles{
		model.TF1h: {
			{Low: 96, High: 109}, // TP only
			{Low: 94, High: 100}, // SL only, never reached
		},
	}
	reason, ok := Check(pos, parent, available, model.TF4h)
	if !ok || reason != model.ExitTakeProfit {
		t.Fatalf("got (%v, %v), want (take_profit, true)", reason, ok)
	}
}

func TestCheck_BothHit_DrillDownExhaustedFallsBackToStopLoss(t *testing.T) {
	pos := longPosition(95, 108)
	parent := model.Candle{Low: 94, High: 109}
	available := AvailableCandles{
		model.TF1h: {
			{Low: 99, High: 101}, // hits neither
		},
	}
	reason, ok := Check(pos, parent, available, model.TF4h)
	if !ok || reason != model.ExitStopLoss {
		t.Fatalf("got (%v, %v), want (stop_loss, true)", reason, ok)
	}
}

func TestCheckTick_ShortPosition(t *testing.T) {
	pos := model.Position{Side: model.SideShort, EntryPrice: 100, StopLoss: 105, TakeProfit: 90}

	if reason, ok := CheckTick(pos, 106); !ok || reason != model.ExitStopLoss {
		t.Errorf("price above stop: got (%v, %v)", reason, ok)
	}
	if reason, ok := CheckTick(pos, 89); !ok || reason != model.ExitTakeProfit {
		t.Errorf("price below target: got (%v, %v)", reason, ok)
	}
	if _, ok := CheckTick(pos, 95); ok {
		t.Error("expected no trigger between levels")
	}
}

func TestExitPrice(t *testing.T) {
	pos := longPosition(95, 110)
	if got := ExitPrice(pos, model.ExitStopLoss); got != 95 {
		t.Errorf("ExitPrice(stop_loss) = %v, want 95", got)
	}
	if got := ExitPrice(pos, model.ExitTakeProfit); got != 110 {
		t.Errorf("ExitPrice(take_profit) = %v, want 110", got)
	}
}
