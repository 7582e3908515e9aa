package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"perpetual-enginev1/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PositionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pos := model.Position{
		ID:         "p1",
		Side:       model.SideLong,
		EntryPrice: 100.25,
		EntryTime:  time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Size:       5,
		SizeUSD:    502.5,
		StopLoss:   95,
		TakeProfit: 110,
	}
	if err := store.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	got, err := store.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(got))
	}
	if got[0] != pos {
		t.Errorf("round-tripped position = %+v, want %+v", got[0], pos)
	}

	if err := store.DeletePosition(ctx, pos.ID); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	got, err = store.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("GetOpenPositions after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 open positions after delete, got %d", len(got))
	}
}

func TestStore_SavePositionUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pos := model.Position{ID: "p1", Side: model.SideLong, EntryPrice: 100, StopLoss: 95, TakeProfit: 110}
	if err := store.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	pos.StopLoss = 90
	if err := store.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition (update): %v", err)
	}

	got, err := store.GetOpenPositions(ctx)
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	if len(got) != 1 || got[0].StopLoss != 90 {
		t.Fatalf("expected single updated position with stop_loss=90, got %+v", got)
	}
}

func TestStore_TradeRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	trade := model.Trade{
		ID:         "t1",
		Side:       model.SideShort,
		EntryPrice: 100,
		EntryTime:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Size:       2,
		SizeUSD:    200,
		StopLoss:   105,
		TakeProfit: 90,
		ExitPrice:  90,
		ExitTime:   time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
		PnL:        20,
		PnLPercent: 10,
		ExitReason: model.ExitTakeProfit,
	}
	if err := store.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	got, err := store.GetTrades(ctx)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(got) != 1 || got[0] != trade {
		t.Fatalf("round-tripped trade = %+v, want %+v", got, trade)
	}
}

func TestStore_PortfolioRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, _, ok, err := store.GetPortfolio(ctx); err != nil || ok {
		t.Fatalf("expected ok=false on empty store, got ok=%v err=%v", ok, err)
	}

	if err := store.SavePortfolio(ctx, 10000, 9500); err != nil {
		t.Fatalf("SavePortfolio: %v", err)
	}
	initial, balance, ok, err := store.GetPortfolio(ctx)
	if err != nil || !ok {
		t.Fatalf("GetPortfolio: ok=%v err=%v", ok, err)
	}
	if initial != 10000 || balance != 9500 {
		t.Errorf("got (%v, %v), want (10000, 9500)", initial, balance)
	}

	if err := store.SavePortfolio(ctx, 10000, 9000); err != nil {
		t.Fatalf("SavePortfolio (update): %v", err)
	}
	_, balance, _, err := store.GetPortfolio(ctx)
	if err != nil {
		t.Fatalf("GetPortfolio after update: %v", err)
	}
	if balance != 9000 {
		t.Errorf("balance after update = %v, want 9000", balance)
	}
}

func TestStore_StrategyStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetStrategyState(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected ok=false for unknown strategy, got ok=%v err=%v", ok, err)
	}

	blob := []byte(`{"count":42}`)
	if err := store.SaveStrategyState(ctx, "SMACrossover", blob); err != nil {
		t.Fatalf("SaveStrategyState: %v", err)
	}
	got, ok, err := store.GetStrategyState(ctx, "SMACrossover")
	if err != nil || !ok {
		t.Fatalf("GetStrategyState: ok=%v err=%v", ok, err)
	}
	if string(got) != string(blob) {
		t.Errorf("got %s, want %s", got, blob)
	}
}

func TestStore_ClearAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.SavePosition(ctx, model.Position{ID: "p1"})
	store.SaveTrade(ctx, model.Trade{ID: "t1"})
	store.SavePortfolio(ctx, 1000, 1000)
	store.SaveStrategyState(ctx, "s", []byte("{}"))

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if positions, _ := store.GetOpenPositions(ctx); len(positions) != 0 {
		t.Error("expected no open positions after ClearAll")
	}
	if trades, _ := store.GetTrades(ctx); len(trades) != 0 {
		t.Error("expected no trades after ClearAll")
	}
	if _, _, ok, _ := store.GetPortfolio(ctx); ok {
		t.Error("expected no portfolio row after ClearAll")
	}
}
