package execution

import (
	"log/slog"
	"time"

	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/portfolio"
)

// unsetTime sentinel marks a BacktestExecutor that has not yet had
// CurrentTime set by the engine for the candle being processed.
var unsetTime = time.Time{}

// BacktestExecutor fills at the replayed candle's close price and stamps
// entry/exit with the engine-supplied candle timestamp rather than
// wall-clock time, so that reruns over the same history are deterministic.
type BacktestExecutor struct {
	// CurrentTime is set by the engine to the candle timestamp before each
	// execute/close cycle. It is the only mutable state the executor owns.
	CurrentTime time.Time
}

// NewBacktestExecutor returns a BacktestExecutor with no clock set yet.
func NewBacktestExecutor() *BacktestExecutor {
	return &BacktestExecutor{CurrentTime: unsetTime}
}

func (e *BacktestExecutor) Execute(signal model.Signal, currentPrice float64, pf *portfolio.Portfolio) (model.Position, model.Trade, ResultKind) {
	switch signal.Direction {
	case model.DirectionLong, model.DirectionShort:
		size, sizeUSD, err := validateOpen(signal, currentPrice, pf)
		if err != nil {
			slog.Warn("backtest executor rejected open signal", "reason", err)
			return model.Position{}, model.Trade{}, ResultRejected
		}
		pos := buildPosition(signal, currentPrice, e.CurrentTime, size, sizeUSD)
		return pos, model.Trade{}, ResultOpened

	case model.DirectionClose:
		pos, ok := resolveCloseTarget(signal, pf)
		if !ok {
			slog.Warn("backtest executor: close signal matched no position", "position_id", signal.PositionID)
			return model.Position{}, model.Trade{}, ResultRejected
		}
		trade := pos.ToTrade(currentPrice, e.CurrentTime, model.ExitSignal)
		return model.Position{}, trade, ResultClosed

	default:
		return model.Position{}, model.Trade{}, ResultRejected
	}
}

func (e *BacktestExecutor) ClosePosition(position model.Position, price float64, reason model.ExitReason) model.Trade {
	return position.ToTrade(price, e.CurrentTime, reason)
}
