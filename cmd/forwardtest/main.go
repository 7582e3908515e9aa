// cmd/forwardtest runs a registered strategy live against the exchange's
// kline WebSocket feed until interrupted (SIGINT/SIGTERM) or the feed gives
// up its reconnect budget.
//
// Usage:
//
//	go run ./cmd/forwardtest --strategy SMACrossover
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"perpetual-enginev1/internal/config"
	"perpetual-enginev1/internal/engine"
	"perpetual-enginev1/internal/livefeed"
	"perpetual-enginev1/internal/logger"
	"perpetual-enginev1/internal/marketdata/live"
	"perpetual-enginev1/internal/metrics"
	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/notification"
	"perpetual-enginev1/internal/persistence/sqlite"
	"perpetual-enginev1/internal/strategy"

	_ "perpetual-enginev1/internal/strategy/examples"
)

func main() {
	strategyName := flag.String("strategy", "", "Registered strategy name (required)")
	initialBalance := flag.Float64("initial-balance", 0, "Override INITIAL_BALANCE from config (ignored on warm restart)")
	flag.Parse()

	if *strategyName == "" {
		log.Fatal("[forward-test] --strategy is required; available: ", strategy.Discover())
	}

	cfg := config.Load()
	slog.SetDefault(logger.Init("forward-test", logger.ParseLevel(cfg.LogLevel)))

	cfg.RequireExchangeCredentials()
	balance := cfg.InitialBalance
	if *initialBalance > 0 {
		balance = *initialBalance
	}

	strat, err := strategy.Load(*strategyName)
	if err != nil {
		log.Fatalf("[forward-test] %v", err)
	}

	provider := live.New()

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("[forward-test] persistence open failed: %v", err)
	}
	defer store.Close()

	var alerter = buildAlerter(cfg)

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	provider.OnReconnect = func() { m.WSReconnectsTotal.Inc() }

	feed := livefeed.NewHub()

	metricsServer := metrics.NewServer(cfg.MetricsAddr, health)
	metricsServer.Handle("/ws", http.HandlerFunc(feed.ServeWS))
	metricsServer.Start()
	defer metricsServer.Stop(context.Background())

	eng, err := engine.New(engine.Config{
		Symbol:         cfg.Symbol,
		InitialBalance: balance,
		Strategy:       strat,
		Provider:       provider,
		Store:          store,
		Alerter:        alerter,
		Metrics:        m,
		Health:         health,
		LiveFeed:       feed,
	})
	if err != nil {
		log.Fatalf("[forward-test] %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		eng.RequestShutdown()
	}()

	if err := eng.RunForward(context.Background()); err != nil {
		log.Fatalf("[forward-test] run ended with error: %v", err)
	}
}

// buildAlerter wires every configured notification channel into one
// Alerter. With none configured, the engine falls back to its own no-op.
func buildAlerter(cfg *config.Config) model.Alerter {
	var alerters []model.Alerter
	if cfg.DiscordWebhookURL != "" {
		alerters = append(alerters, notification.NewDiscordAlerter(cfg.DiscordWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		alerters = append(alerters, notification.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	switch len(alerters) {
	case 0:
		return nil
	case 1:
		return alerters[0]
	default:
		return notification.NewMultiAlerter(alerters...)
	}
}
