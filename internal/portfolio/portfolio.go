// Package portfolio tracks balance, open positions, closed trades, and
// equity for a single-symbol trading run.
//
// The engine is the sole mutator: no mutex guards Portfolio because the
// single-threaded per-candle step is the only writer (see the engine
// package's concurrency notes).
package portfolio

import (
	"fmt"

	"perpetual-enginev1/internal/model"
)

// Portfolio is the mutable, singular per-run ledger of cash, open risk, and
// closed trades.
type Portfolio struct {
	InitialBalance float64
	Balance        float64
	Positions      []model.Position
	Trades         []model.Trade
	currentPrice   float64
}

// New creates a Portfolio seeded with the given starting balance.
func New(initialBalance float64) *Portfolio {
	return &Portfolio{
		InitialBalance: initialBalance,
		Balance:        initialBalance,
		Positions:      make([]model.Position, 0),
		Trades:         make([]model.Trade, 0),
	}
}

// UpdatePrice records the last observed price used for equity computation.
func (p *Portfolio) UpdatePrice(price float64) {
	p.currentPrice = price
}

// CurrentPrice returns the last price passed to UpdatePrice.
func (p *Portfolio) CurrentPrice() float64 {
	return p.currentPrice
}

// OpenPosition appends pos to the open-positions list and locks its notional
// against free cash.
func (p *Portfolio) OpenPosition(pos model.Position) {
	p.Positions = append(p.Positions, pos)
	p.Balance -= pos.SizeUSD
}

// ClosePosition removes the open position matching id, appends trade to the
// closed-trades ledger, and releases its notional plus realized PnL back to
// free cash. Returns an error if id does not match any open position.
func (p *Portfolio) ClosePosition(id string, trade model.Trade) error {
	for i, pos := range p.Positions {
		if pos.ID == id {
			p.Positions = append(p.Positions[:i], p.Positions[i+1:]...)
			p.Trades = append(p.Trades, trade)
			p.Balance += trade.SizeUSD + trade.PnL
			return nil
		}
	}
	return fmt.Errorf("portfolio: no open position with id %q", id)
}

// Equity is free balance plus unrealized PnL of every open position at the
// current price.
func (p *Portfolio) Equity() float64 {
	equity := p.Balance
	for _, pos := range p.Positions {
		equity += pos.UnrealizedPnL(p.currentPrice)
	}
	return equity
}

// HasPosition reports whether any position is open.
func (p *Portfolio) HasPosition() bool {
	return len(p.Positions) > 0
}

// GetPosition returns the open position matching id, if any.
func (p *Portfolio) GetPosition(id string) (model.Position, bool) {
	for _, pos := range p.Positions {
		if pos.ID == id {
			return pos, true
		}
	}
	return model.Position{}, false
}

// FirstPosition returns the first open position, if any — used to resolve a
// close signal that names no position_id.
func (p *Portfolio) FirstPosition() (model.Position, bool) {
	if len(p.Positions) == 0 {
		return model.Position{}, false
	}
	return p.Positions[0], true
}
