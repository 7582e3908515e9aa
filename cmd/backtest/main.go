// cmd/backtest replays historical 1-minute candles through a registered
// strategy and prints the resulting trade/performance summary.
//
// Usage:
//
//	go run ./cmd/backtest --strategy SMACrossover --start 2024-01-01 --end 2024-06-01
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"perpetual-enginev1/internal/config"
	"perpetual-enginev1/internal/engine"
	"perpetual-enginev1/internal/logger"
	"perpetual-enginev1/internal/marketdata/historical"
	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/persistence/cache"
	"perpetual-enginev1/internal/persistence/sqlite"
	"perpetual-enginev1/internal/strategy"
	"perpetual-enginev1/pkg/exchangeclient"

	_ "perpetual-enginev1/internal/strategy/examples"
)

const dateLayout = "2006-01-02"

func main() {
	strategyName := flag.String("strategy", "", "Registered strategy name (required)")
	startStr := flag.String("start", "", "Backtest start date, YYYY-MM-DD (required)")
	endStr := flag.String("end", "", "Backtest end date, YYYY-MM-DD (required)")
	initialBalance := flag.Float64("initial-balance", 0, "Override INITIAL_BALANCE from config")
	flag.Parse()

	if *strategyName == "" {
		log.Fatal("[backtest] --strategy is required; available: ", strategy.Discover())
	}
	if *startStr == "" || *endStr == "" {
		log.Fatal("[backtest] --start and --end are required, format YYYY-MM-DD")
	}
	start, err := time.Parse(dateLayout, *startStr)
	if err != nil {
		log.Fatalf("[backtest] invalid --start: %v", err)
	}
	end, err := time.Parse(dateLayout, *endStr)
	if err != nil {
		log.Fatalf("[backtest] invalid --end: %v", err)
	}
	if !end.After(start) {
		log.Fatal("[backtest] --end must be strictly after --start")
	}

	cfg := config.Load()
	slog.SetDefault(logger.Init("backtest", logger.ParseLevel(cfg.LogLevel)))

	balance := cfg.InitialBalance
	if *initialBalance > 0 {
		balance = *initialBalance
	}

	strat, err := strategy.Load(*strategyName)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	client := exchangeclient.New(exchangeclient.Config{
		BaseURL:    exchangeBaseURL(cfg.Exchange),
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		TOTPSecret: cfg.TOTPSecret,
	})

	var candleCache model.CandleCache
	if c, err := cache.Open(cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}); err != nil {
		slog.Warn("candle cache unavailable, running without it", "err", err)
	} else {
		candleCache = c
		defer c.Close()
	}

	provider := historical.New(client, candleCache)

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("[backtest] persistence open failed: %v", err)
	}
	defer store.Close()

	eng, err := engine.New(engine.Config{
		Symbol:         cfg.Symbol,
		InitialBalance: balance,
		Strategy:       strat,
		Provider:       provider,
		Store:          store,
	})
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	result, err := eng.RunBacktest(context.Background(), start, end)
	if err != nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}

	printSummary(*strategyName, start, end, result)
}

func exchangeBaseURL(exchange string) string {
	switch exchange {
	case "binance":
		return "https://fapi.binance.com"
	default:
		return "https://fapi.binance.com"
	}
}

func printSummary(name string, start, end time.Time, r engine.Result) {
	fmt.Println()
	fmt.Println("=== Backtest Complete ===")
	fmt.Printf("strategy:      %s\n", name)
	fmt.Printf("period:        %s -> %s\n", start.Format(dateLayout), end.Format(dateLayout))
	fmt.Printf("trades:        %d\n", len(r.Trades))
	fmt.Printf("win rate:      %.2f%%\n", r.WinRate*100)
	fmt.Printf("profit factor: %.4f\n", r.ProfitFactor)
	fmt.Printf("total return:  %.2f%%\n", r.TotalReturn*100)
	fmt.Printf("max drawdown:  %.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("sharpe ratio:  %.4f\n", r.SharpeRatio)
}
