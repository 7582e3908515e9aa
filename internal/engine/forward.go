package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"perpetual-enginev1/internal/execution"
	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/strategy"
)

const (
	// healthCheckInterval is how often the health monitor samples staleness.
	healthCheckInterval = 30 * time.Second

	// dataTimeout is how long the feed may go quiet before an alert fires.
	// Candles close every minute in steady state, so three missed closes is
	// a meaningful anomaly without being noisy on an ordinary reconnect.
	dataTimeout = 3 * time.Minute

	// snapshotEvery bounds how often the strategy state blob is re-marshaled
	// and written, independent of the portfolio/position writes that happen
	// inline on every change.
	snapshotEvery = 1
)

// RunForward restores prior state, warms up, then subscribes to the live
// feed and runs until RequestShutdown is called (by a signal handler at the
// CLI layer) or the subscription terminates on its own (e.g. the feed gave
// up after its reconnect budget). Per-candle errors are caught, alerted,
// and do not stop the loop — strategies must not be able to crash the
// forward-test process.
func (e *Engine) RunForward(ctx context.Context) error {
	ctx = e.beginRun(ctx)
	e.setState(StateInit)

	if err := e.restore(ctx); err != nil {
		e.alerter.OnError(fmt.Sprintf("restore failed: %v", err))
		if e.cfg.Store != nil {
			e.cfg.Store.Close()
		}
		return fmt.Errorf("engine: restore: %w", err)
	}

	e.alerter.OnStrategyStart(e.cfg.Strategy.Name())
	if e.cfg.Health != nil {
		e.cfg.Health.SetStrategyName(e.cfg.Strategy.Name())
		e.cfg.Health.SetPersistOK(true)
	}

	warmUpEnd := time.Now().UTC()
	warmUpStart := warmUpEnd.Add(-time.Duration(e.warmUpBars()) * time.Minute)
	history, err := e.cfg.Provider.GetHistoricalCandles(ctx, e.cfg.Symbol, model.TF1m, warmUpStart, warmUpEnd)
	if err != nil {
		e.alerter.OnError(fmt.Sprintf("warm-up fetch failed: %v", err))
		if e.cfg.Store != nil {
			e.cfg.Store.Close()
		}
		return fmt.Errorf("engine: warm-up fetch: %w", err)
	}
	e.warmUp(history)

	paperExecutor := execution.NewPaperExecutor(nil)

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	go e.healthMonitor(monitorCtx)

	e.setState(StateLoop)
	if e.cfg.Health != nil {
		e.cfg.Health.SetFeedConnected(true)
	}

	candlesSinceSnapshot := 0
	subscribeErr := e.cfg.Provider.Subscribe(ctx, e.cfg.Symbol, []model.Timeframe{model.TF1m}, func(tf model.Timeframe, c model.Candle) (err error) {
		if e.shutdownRequested() {
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in candle step: %v", r)
			}
		}()

		e.step(ctx, c, paperExecutor, false)
		e.processTickCloses(ctx, paperExecutor.CheckPriceUpdate(c.Close, e.portfolio))

		if e.cfg.Health != nil {
			e.cfg.Health.SetLastCandleTime(c.Timestamp)
		}

		candlesSinceSnapshot++
		if candlesSinceSnapshot >= snapshotEvery {
			e.persistPortfolio(ctx)
			e.persistStrategyState(ctx)
			candlesSinceSnapshot = 0
		}

		return nil
	})

	if subscribeErr != nil {
		e.alerter.OnError(fmt.Sprintf("live feed error: %v", subscribeErr))
		slog.Error("live feed terminated with error", "err", subscribeErr)
	}

	e.setState(StateShutdownRequested)
	_ = e.cfg.Provider.Unsubscribe()
	if e.cfg.Health != nil {
		e.cfg.Health.SetFeedConnected(false)
	}

	e.setState(StatePersist)
	e.persistPortfolio(ctx)
	e.persistStrategyState(ctx)
	if e.cfg.Store != nil {
		if err := e.cfg.Store.Close(); err != nil {
			slog.Error("close persistence failed", "err", err)
		}
	}
	e.alerter.SendAlert(model.AlertInfo, fmt.Sprintf("%s shut down cleanly", e.cfg.Strategy.Name()))

	e.setState(StateDone)
	return subscribeErr
}

// restore loads portfolio balance, open positions, and strategy state from
// persistence, replacing whatever is currently in memory. A cold start
// (no store, or a store with no prior rows) leaves the freshly constructed
// portfolio untouched.
func (e *Engine) restore(ctx context.Context) error {
	if e.cfg.Store == nil {
		return nil
	}

	if initialBalance, balance, ok, err := e.cfg.Store.GetPortfolio(ctx); err != nil {
		return fmt.Errorf("restore portfolio: %w", err)
	} else if ok {
		e.portfolio.InitialBalance = initialBalance
		e.portfolio.Balance = balance
	}

	positions, err := e.cfg.Store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore open positions: %w", err)
	}
	e.portfolio.Positions = positions

	trades, err := e.cfg.Store.GetTrades(ctx)
	if err != nil {
		return fmt.Errorf("restore trades: %w", err)
	}
	e.portfolio.Trades = trades

	blob, ok, err := e.cfg.Store.GetStrategyState(ctx, e.cfg.Strategy.Name())
	if err != nil {
		return fmt.Errorf("restore strategy state: %w", err)
	}
	if ok {
		if stateful, implements := e.cfg.Strategy.(strategy.Stateful); implements {
			state, err := unmarshalState(blob)
			if err != nil {
				return fmt.Errorf("unmarshal strategy state: %w", err)
			}
			stateful.SetState(state)
		}
	}

	slog.Info("restored forward-test state", "open_positions", len(positions), "trades", len(trades), "balance", e.portfolio.Balance)
	return nil
}

// healthMonitor periodically checks candle staleness against dataTimeout
// and alerts (never shuts down — reconnection is the provider's job).
func (e *Engine) healthMonitor(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	var lastCandleTime time.Time
	if e.cfg.Health != nil {
		lastCandleTime = time.Now().UTC()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.shutdownRequested() {
				return
			}
			if e.cfg.Health == nil {
				continue
			}
			observed := e.cfg.Health.LastCandle()
			if observed.IsZero() {
				observed = lastCandleTime
			}
			if time.Since(observed) > dataTimeout {
				e.alerter.OnError(fmt.Sprintf("no candle observed in over %s", dataTimeout))
			}
		}
	}
}
