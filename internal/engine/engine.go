// Package engine is the orchestrator: it owns the aggregator, portfolio,
// executor, persistence handle, and alerter for a single-symbol run, and
// drives them through the per-candle step shared by backtest and
// forward-test modes.
//
// The engine is the sole mutator of portfolio and aggregator state — no
// mutex guards either, because exactly one goroutine ever calls step in a
// given run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"perpetual-enginev1/internal/execution"
	"perpetual-enginev1/internal/livefeed"
	"perpetual-enginev1/internal/logger"
	"perpetual-enginev1/internal/metrics"
	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/portfolio"
	"perpetual-enginev1/internal/sltp"
	"perpetual-enginev1/internal/strategy"
	"perpetual-enginev1/internal/timeframe"
)

// RunState mirrors the engine's coarse lifecycle, surfaced to /healthz and
// logged at every transition.
type RunState string

const (
	StateInit               RunState = "INIT"
	StateWarmUp             RunState = "WARM_UP"
	StateLoop               RunState = "LOOP"
	StateEndOfData          RunState = "END_OF_DATA"
	StateForceClose         RunState = "FORCE_CLOSE"
	StateShutdownRequested  RunState = "SHUTDOWN_REQUESTED"
	StatePersist            RunState = "PERSIST"
	StateDone               RunState = "DONE"
)

// warmUpFloor is the minimum warm-up prefix regardless of declared
// timeframes, large enough for short-period indicators to settle.
const warmUpFloor = 100

// Config bundles the engine's collaborators. Store, Metrics, Health, and
// LiveFeed are optional (nil disables persistence, instrumentation, health
// reporting, or status broadcast respectively); Alerter defaults to a no-op
// if nil. Cache is not read by the engine itself.
type Config struct {
	Symbol         string
	InitialBalance float64
	Strategy       strategy.Strategy
	Provider       model.DataProvider
	Store          model.Store
	Cache          model.CandleCache
	Alerter        model.Alerter
	Metrics        *metrics.Metrics
	Health         *metrics.HealthStatus
	LiveFeed       *livefeed.Hub
}

// Engine runs one strategy against one symbol through either RunBacktest or
// RunForward, never both in the same instance.
type Engine struct {
	cfg        Config
	portfolio  *portfolio.Portfolio
	aggregator *timeframe.Aggregator
	alerter    model.Alerter

	state RunState

	// equity curve, only retained for backtest result aggregation.
	equityCurve []model.EquityPoint

	// runCtx carries the run's trace ID for log lines emitted from methods
	// (setState) that have no ctx parameter of their own. Set once at the
	// top of RunBacktest/RunForward; context.Background() until then.
	runCtx context.Context

	shutdown atomic.Bool
}

// New builds an Engine ready to run. It validates that the strategy
// declares 1m among its timeframes, per the interface contract.
func New(cfg Config) (*Engine, error) {
	declaresMinute := false
	for _, tf := range cfg.Strategy.Timeframes() {
		if tf == model.TF1m {
			declaresMinute = true
			break
		}
	}
	if !declaresMinute {
		return nil, fmt.Errorf("engine: strategy %q must declare timeframe 1m", cfg.Strategy.Name())
	}

	agg, err := timeframe.New(cfg.Strategy.Timeframes())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	alerter := cfg.Alerter
	if alerter == nil {
		alerter = noopAlerter{}
	}

	return &Engine{
		cfg:        cfg,
		portfolio:  portfolio.New(cfg.InitialBalance),
		aggregator: agg,
		alerter:    alerter,
		state:      StateInit,
		runCtx:     context.Background(),
	}, nil
}

// beginRun stamps a fresh trace ID for this run onto ctx and retains it on
// the engine for log lines that have no ctx parameter of their own. Called
// once at the top of RunBacktest/RunForward.
func (e *Engine) beginRun(ctx context.Context) context.Context {
	runID := logger.GenerateTraceID(e.cfg.Strategy.Name(), time.Now().UTC())
	ctx = logger.WithTraceID(ctx, runID)
	e.runCtx = ctx
	return ctx
}

// warmUpBars computes max(100, max over declared TFs of that TF's minute
// count) — the prefix of 1m candles fed to the aggregator before the
// strategy starts receiving callbacks.
func (e *Engine) warmUpBars() int {
	bars := warmUpFloor
	for _, tf := range e.cfg.Strategy.Timeframes() {
		if minutes := model.TimeframeMinutes[tf]; minutes > bars {
			bars = minutes
		}
	}
	return bars
}

func (e *Engine) setState(s RunState) {
	e.state = s
	if e.cfg.Health != nil {
		e.cfg.Health.SetState(string(s))
	}
	args := append([]any{"state", s, "strategy", e.cfg.Strategy.Name()}, logger.LogWithTrace(e.runCtx)...)
	slog.Info("engine state transition", args...)
}

// RequestShutdown flips the cooperative shutdown flag. It is safe to call
// from a signal handler goroutine; no in-progress candle step is ever
// force-cancelled, only the next one is skipped.
func (e *Engine) RequestShutdown() {
	e.shutdown.Store(true)
}

func (e *Engine) shutdownRequested() bool {
	return e.shutdown.Load()
}

// warmUp feeds the prefix candles through the aggregator only, then calls
// strategy.OnInit with the resulting snapshot if the strategy implements
// Initializer. Returns the remaining candles that should drive the main
// loop.
func (e *Engine) warmUp(candles []model.Candle) []model.Candle {
	e.setState(StateWarmUp)

	n := e.warmUpBars()
	if n > len(candles) {
		n = len(candles)
	}
	prefix, rest := candles[:n], candles[n:]

	var last model.MultiTimeframeData
	for _, c := range prefix {
		last = e.aggregator.Update(c)
	}

	if init, ok := e.cfg.Strategy.(strategy.Initializer); ok && len(prefix) > 0 {
		init.OnInit(last)
	}

	return rest
}

// step runs the shared per-candle processing contract: aggregate, clock the
// backtest executor, update price, SL/TP phase, strategy phase, execution
// phase, equity sample. executor is the concrete Executor for this run's
// mode (backtest or paper); recordEquity controls whether an EquityPoint is
// appended (backtest only — forward mode has no bounded curve to return).
func (e *Engine) step(ctx context.Context, c model.Candle, executor execution.Executor, recordEquity bool) {
	mtf := e.aggregator.Update(c)

	if bt, ok := executor.(*execution.BacktestExecutor); ok {
		bt.CurrentTime = c.Timestamp
	}

	e.portfolio.UpdatePrice(c.Close)

	e.runSLTPPhase(ctx, c, executor)

	signals := e.cfg.Strategy.OnCandle(mtf, e.portfolio)
	if e.cfg.Metrics != nil {
		for _, sig := range signals {
			e.cfg.Metrics.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
		}
	}

	e.runExecutionPhase(ctx, signals, c.Close, executor)

	if recordEquity {
		e.equityCurve = append(e.equityCurve, model.EquityPoint{Timestamp: c.Timestamp, Equity: e.portfolio.Equity()})
	}

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.CandlesProcessedTotal.WithLabelValues(string(model.TF1m)).Inc()
		e.cfg.Metrics.Equity.Set(e.portfolio.Equity())
		e.cfg.Metrics.Balance.Set(e.portfolio.Balance)
		e.cfg.Metrics.OpenPositions.Set(float64(len(e.portfolio.Positions)))
	}
	if e.cfg.LiveFeed != nil {
		e.cfg.LiveFeed.Publish("equity", equitySnapshot{
			Timestamp:     c.Timestamp,
			Equity:        e.portfolio.Equity(),
			Balance:       e.portfolio.Balance,
			OpenPositions: len(e.portfolio.Positions),
		})
	}
}

// equitySnapshot is the payload pushed to live-feed clients on every candle.
type equitySnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Balance       float64   `json:"balance"`
	OpenPositions int       `json:"open_positions"`
}

// runSLTPPhase checks every open position against the just-closed 1m candle
// before the strategy ever sees it. 1m is already the finest granularity
// this engine ingests, so no lower timeframe exists to drill into — the
// monitor's drill-down only matters for callers checking a coarser bar.
func (e *Engine) runSLTPPhase(ctx context.Context, c model.Candle, executor execution.Executor) {
	open := append([]model.Position(nil), e.portfolio.Positions...)
	for _, pos := range open {
		if _, stillOpen := e.portfolio.GetPosition(pos.ID); !stillOpen {
			continue // already closed earlier in this same phase
		}
		reason, hit := sltp.Check(pos, c, nil, model.TF1m)
		if !hit {
			continue
		}
		exitPrice := sltp.ExitPrice(pos, reason)
		trade := executor.ClosePosition(pos, exitPrice, reason)
		if err := e.portfolio.ClosePosition(pos.ID, trade); err != nil {
			slog.Debug("sl/tp phase: position already closed", "position_id", pos.ID, "err", err)
			continue
		}
		e.persistClose(ctx, trade)
		e.alerter.OnTradeClose(trade)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.SLTPFiresTotal.WithLabelValues(string(reason)).Inc()
			e.cfg.Metrics.TradesClosedTotal.WithLabelValues(string(reason)).Inc()
		}
		if e.cfg.LiveFeed != nil {
			e.cfg.LiveFeed.Publish("trade_closed", trade)
		}
		args := append([]any{"position_id", pos.ID, "reason", reason, "exit_price", exitPrice, "pnl", trade.PnL}, logger.LogWithTrace(ctx)...)
		slog.Info("sl/tp triggered", args...)
	}
}

// processTickCloses persists and alerts on trades the paper executor's
// tick-level CheckPriceUpdate already closed directly on the portfolio,
// mirroring the candle-path handling in runSLTPPhase so a tick-triggered
// close is no less visible than a candle-triggered one.
func (e *Engine) processTickCloses(ctx context.Context, trades []model.Trade) {
	for _, trade := range trades {
		e.persistClose(ctx, trade)
		e.alerter.OnTradeClose(trade)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.SLTPFiresTotal.WithLabelValues(string(trade.ExitReason)).Inc()
			e.cfg.Metrics.TradesClosedTotal.WithLabelValues(string(trade.ExitReason)).Inc()
		}
		if e.cfg.LiveFeed != nil {
			e.cfg.LiveFeed.Publish("trade_closed", trade)
		}
		args := append([]any{"trade_id", trade.ID, "reason", trade.ExitReason, "pnl", trade.PnL}, logger.LogWithTrace(ctx)...)
		slog.Info("tick-level sl/tp triggered", args...)
	}
}

func (e *Engine) runExecutionPhase(ctx context.Context, signals []model.Signal, price float64, executor execution.Executor) {
	for _, sig := range signals {
		pos, trade, kind := executor.Execute(sig, price, e.portfolio)
		switch kind {
		case execution.ResultOpened:
			e.portfolio.OpenPosition(pos)
			e.persistOpen(ctx, pos)
			e.alerter.OnTradeOpen(pos)
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.TradesOpenedTotal.WithLabelValues(string(pos.Side)).Inc()
			}
			if e.cfg.LiveFeed != nil {
				e.cfg.LiveFeed.Publish("trade_opened", pos)
			}
			args := append([]any{"position_id", pos.ID, "side", pos.Side, "entry_price", pos.EntryPrice, "size_usd", pos.SizeUSD}, logger.LogWithTrace(ctx)...)
			slog.Info("position opened", args...)

		case execution.ResultClosed:
			if err := e.portfolio.ClosePosition(trade.ID, trade); err != nil {
				slog.Debug("execution phase: close signal matched nothing open", "position_id", trade.ID, "err", err)
				continue
			}
			e.persistClose(ctx, trade)
			e.alerter.OnTradeClose(trade)
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.TradesClosedTotal.WithLabelValues(string(trade.ExitReason)).Inc()
			}
			if e.cfg.LiveFeed != nil {
				e.cfg.LiveFeed.Publish("trade_closed", trade)
			}
			args := append([]any{"position_id", trade.ID, "pnl", trade.PnL}, logger.LogWithTrace(ctx)...)
			slog.Info("position closed by signal", args...)

		case execution.ResultRejected:
			// already logged by the executor
		}
	}
}

func (e *Engine) persistOpen(ctx context.Context, pos model.Position) {
	if e.cfg.Store == nil {
		return
	}
	if err := e.cfg.Store.SavePosition(ctx, pos); err != nil {
		slog.Error("persist open position failed", "position_id", pos.ID, "err", err)
	}
	e.persistPortfolio(ctx)
}

func (e *Engine) persistClose(ctx context.Context, trade model.Trade) {
	if e.cfg.Store == nil {
		return
	}
	if err := e.cfg.Store.SaveTrade(ctx, trade); err != nil {
		slog.Error("persist trade failed", "trade_id", trade.ID, "err", err)
	}
	if err := e.cfg.Store.DeletePosition(ctx, trade.ID); err != nil {
		slog.Debug("persist delete position failed (may already be gone)", "trade_id", trade.ID, "err", err)
	}
	e.persistPortfolio(ctx)
}

func (e *Engine) persistPortfolio(ctx context.Context) {
	if e.cfg.Store == nil {
		return
	}
	if err := e.cfg.Store.SavePortfolio(ctx, e.portfolio.InitialBalance, e.portfolio.Balance); err != nil {
		slog.Error("persist portfolio failed", "err", err)
	}
}

// persistStrategyState round-trips the strategy's opaque state blob, a
// no-op if the strategy does not implement Stateful or no store is wired.
func (e *Engine) persistStrategyState(ctx context.Context) {
	if e.cfg.Store == nil {
		return
	}
	stateful, ok := e.cfg.Strategy.(strategy.Stateful)
	if !ok {
		return
	}
	blob, err := marshalState(stateful.GetState())
	if err != nil {
		slog.Error("marshal strategy state failed", "err", err)
		return
	}
	if err := e.cfg.Store.SaveStrategyState(ctx, e.cfg.Strategy.Name(), blob); err != nil {
		slog.Error("persist strategy state failed", "err", err)
	}
}

// forceClose closes every remaining open position at price with
// exit_reason = signal, per the end-of-backtest contract.
func (e *Engine) forceClose(ctx context.Context, price float64, t time.Time, executor execution.Executor) {
	e.setState(StateForceClose)
	open := append([]model.Position(nil), e.portfolio.Positions...)
	for _, pos := range open {
		trade := executor.ClosePosition(pos, price, model.ExitSignal)
		if err := e.portfolio.ClosePosition(pos.ID, trade); err != nil {
			continue
		}
		e.persistClose(ctx, trade)
		e.alerter.OnTradeClose(trade)
		if e.cfg.LiveFeed != nil {
			e.cfg.LiveFeed.Publish("trade_closed", trade)
		}
		args := append([]any{"position_id", pos.ID, "exit_price", price, "pnl", trade.PnL}, logger.LogWithTrace(ctx)...)
		slog.Info("position force-closed at end of run", args...)
	}
}

type noopAlerter struct{}

func (noopAlerter) OnStrategyStart(string)            {}
func (noopAlerter) OnTradeOpen(model.Position)         {}
func (noopAlerter) OnTradeClose(model.Trade)           {}
func (noopAlerter) OnError(string)                     {}
func (noopAlerter) SendAlert(model.AlertLevel, string) {}

var _ model.Alerter = noopAlerter{}
