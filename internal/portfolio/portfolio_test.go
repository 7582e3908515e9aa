package portfolio

import (
	"testing"
	"time"

	"perpetual-enginev1/internal/model"
)

// Scenario F — Portfolio conservation.
func TestPortfolio_ConservationAcrossOpenAndClose(t *testing.T) {
	pf := New(1000)

	pos := model.Position{
		ID:         "p1",
		Side:       model.SideLong,
		EntryPrice: 100,
		EntryTime:  time.Now(),
		Size:       5,
		SizeUSD:    500,
		StopLoss:   90,
		TakeProfit: 110,
	}
	pf.OpenPosition(pos)
	if pf.Balance != 500 {
		t.Fatalf("balance after open = %v, want 500", pf.Balance)
	}

	pf.UpdatePrice(105)
	if got, want := pf.Equity(), 500.0+pos.UnrealizedPnL(105); got != want {
		t.Fatalf("equity at 105 = %v, want %v", got, want)
	}

	trade := pos.ToTrade(110, time.Now(), model.ExitTakeProfit)
	if err := pf.ClosePosition(pos.ID, trade); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	wantBalance := 1000.0 + trade.PnL
	if pf.Balance != wantBalance {
		t.Fatalf("final balance = %v, want %v (initial + pnl)", pf.Balance, wantBalance)
	}
	if len(pf.Trades) != 1 {
		t.Fatalf("expected exactly 1 trade, got %d", len(pf.Trades))
	}
	if pf.HasPosition() {
		t.Fatal("expected 0 open positions after close")
	}
}

func TestPortfolio_ClosePositionUnknownID(t *testing.T) {
	pf := New(1000)
	if err := pf.ClosePosition("missing", model.Trade{}); err == nil {
		t.Fatal("expected error closing an unknown position id")
	}
}

func TestPortfolio_FirstPositionResolvesUnnamedClose(t *testing.T) {
	pf := New(1000)
	if _, ok := pf.FirstPosition(); ok {
		t.Fatal("expected no position on a fresh portfolio")
	}
	pf.OpenPosition(model.Position{ID: "a", SizeUSD: 100})
	pf.OpenPosition(model.Position{ID: "b", SizeUSD: 100})
	first, ok := pf.FirstPosition()
	if !ok || first.ID != "a" {
		t.Fatalf("FirstPosition() = %v, %v, want a, true", first.ID, ok)
	}
}
