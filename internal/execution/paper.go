package execution

import (
	"log/slog"
	"time"

	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/portfolio"
	"perpetual-enginev1/internal/sltp"
)

// ChangeEvent tags a position-change callback invocation.
type ChangeEvent string

const (
	EventOpened           ChangeEvent = "opened"
	EventClosedSignal     ChangeEvent = "closed_signal"
	EventClosedStopLoss   ChangeEvent = "closed_stop_loss"
	EventClosedTakeProfit ChangeEvent = "closed_take_profit"
)

// ChangeCallback is invoked with either a freshly opened Position or a
// closed Trade, tagged by ChangeEvent. Either argument may be zero-valued;
// callers should switch on event to know which is populated.
type ChangeCallback func(event ChangeEvent, position model.Position, trade model.Trade)

// PaperExecutor fills at the current market price and stamps entry/exit
// with real wall-clock time — forward-test's execution mode.
//
// Like BacktestExecutor, Execute/ClosePosition never mutate the portfolio.
// The exception is CheckPriceUpdate: it both detects a tick-level SL/TP
// trigger AND closes the position on the portfolio directly, because
// tight coupling here is what prevents a position from re-firing across
// rapid successive ticks before the engine observes the first trade.
type PaperExecutor struct {
	OnChange ChangeCallback
}

// NewPaperExecutor returns a PaperExecutor with an optional change
// callback (nil disables alerting hooks).
func NewPaperExecutor(onChange ChangeCallback) *PaperExecutor {
	return &PaperExecutor{OnChange: onChange}
}

func (e *PaperExecutor) Execute(signal model.Signal, currentPrice float64, pf *portfolio.Portfolio) (model.Position, model.Trade, ResultKind) {
	now := time.Now().UTC()

	switch signal.Direction {
	case model.DirectionLong, model.DirectionShort:
		size, sizeUSD, err := validateOpen(signal, currentPrice, pf)
		if err != nil {
			slog.Warn("paper executor rejected open signal", "reason", err)
			return model.Position{}, model.Trade{}, ResultRejected
		}
		pos := buildPosition(signal, currentPrice, now, size, sizeUSD)
		if e.OnChange != nil {
			e.OnChange(EventOpened, pos, model.Trade{})
		}
		return pos, model.Trade{}, ResultOpened

	case model.DirectionClose:
		pos, ok := resolveCloseTarget(signal, pf)
		if !ok {
			slog.Warn("paper executor: close signal matched no position", "position_id", signal.PositionID)
			return model.Position{}, model.Trade{}, ResultRejected
		}
		trade := pos.ToTrade(currentPrice, now, model.ExitSignal)
		if e.OnChange != nil {
			e.OnChange(EventClosedSignal, model.Position{}, trade)
		}
		return model.Position{}, trade, ResultClosed

	default:
		return model.Position{}, model.Trade{}, ResultRejected
	}
}

func (e *PaperExecutor) ClosePosition(position model.Position, price float64, reason model.ExitReason) model.Trade {
	now := time.Now().UTC()
	trade := position.ToTrade(price, now, reason)
	if e.OnChange != nil {
		e.OnChange(closeEvent(reason), model.Position{}, trade)
	}
	return trade
}

// CheckPriceUpdate is the tick-level SL/TP check used by the forward-test
// loop on every price update:
//  1. update the portfolio's cached price (for equity),
//  2. check each open position against the raw tick price,
//  3. close any triggered position on the portfolio directly,
//  4. fire the change callback for each resulting trade.
//
// Unlike the candle-based sltp.Check used in backtesting, a single price
// can only hit one level — a gap crossing both conservatively resolves to
// stop_loss (sltp.CheckTick).
func (e *PaperExecutor) CheckPriceUpdate(price float64, pf *portfolio.Portfolio) []model.Trade {
	pf.UpdatePrice(price)

	now := time.Now().UTC()
	var triggered []model.Trade

	for _, pos := range append([]model.Position(nil), pf.Positions...) {
		reason, ok := sltp.CheckTick(pos, price)
		if !ok {
			continue
		}
		exitPrice := pos.StopLoss
		if reason == model.ExitTakeProfit {
			exitPrice = pos.TakeProfit
		}
		trade := pos.ToTrade(exitPrice, now, reason)
		if err := pf.ClosePosition(pos.ID, trade); err != nil {
			slog.Debug("tick check: position already closed", "position_id", pos.ID, "err", err)
			continue
		}
		triggered = append(triggered, trade)
		if e.OnChange != nil {
			e.OnChange(closeEvent(reason), model.Position{}, trade)
		}
		slog.Info("paper position closed", "position_id", pos.ID, "reason", reason, "exit_price", exitPrice, "pnl", trade.PnL)
	}

	return triggered
}

func closeEvent(reason model.ExitReason) ChangeEvent {
	switch reason {
	case model.ExitStopLoss:
		return EventClosedStopLoss
	case model.ExitTakeProfit:
		return EventClosedTakeProfit
	default:
		return EventClosedSignal
	}
}
