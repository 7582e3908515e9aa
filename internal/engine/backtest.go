package engine

import (
	"context"
	"fmt"
	"time"

	"perpetual-enginev1/internal/execution"
	"perpetual-enginev1/internal/model"
)

// RunBacktest replays [start, end] of 1m candles through the warm-up then
// the per-candle step, force-closes any remaining position at the end, and
// returns the aggregated Result. Exceptions from the strategy propagate —
// deterministic reruns demand failure visibility in this mode.
func (e *Engine) RunBacktest(ctx context.Context, start, end time.Time) (Result, error) {
	ctx = e.beginRun(ctx)
	e.setState(StateInit)
	e.alerter.OnStrategyStart(e.cfg.Strategy.Name())

	candles, err := e.cfg.Provider.GetHistoricalCandles(ctx, e.cfg.Symbol, model.TF1m, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("engine: fetch historical candles: %w", err)
	}
	if len(candles) == 0 {
		return Result{}, nil
	}

	rest := e.warmUp(candles)
	if len(rest) == 0 {
		return Result{}, nil
	}

	executor := execution.NewBacktestExecutor()

	e.setState(StateLoop)
	for _, c := range rest {
		e.step(ctx, c, executor, true)
	}

	e.setState(StateEndOfData)
	last := rest[len(rest)-1]
	e.forceClose(ctx, last.Close, last.Timestamp, executor)

	e.setState(StatePersist)
	e.persistPortfolio(ctx)
	e.persistStrategyState(ctx)

	e.setState(StateDone)
	return Summarize(e.portfolio.Trades, e.equityCurve, e.portfolio.InitialBalance), nil
}
