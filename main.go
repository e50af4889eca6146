package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alpaca-smart-trade/config"
	"alpaca-smart-trade/internal/alpaca"
	"alpaca-smart-trade/internal/api"
	"alpaca-smart-trade/internal/engine"
	"alpaca-smart-trade/internal/logging"
	"alpaca-smart-trade/internal/notification"
	"alpaca-smart-trade/internal/regime"
	"alpaca-smart-trade/internal/risk"
	"alpaca-smart-trade/internal/walkforward"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Bool("paper", cfg.AlpacaConfig.IsPaper()).
		Strs("symbols", cfg.AnalysisConfig.DefaultSymbols).
		Msg("starting alpaca-smart-trade")

	notifier := notification.NewManager(log)
	notifier.AddNotifier(notification.NewTelegramNotifier(
		cfg.NotificationConfig.Telegram.BotToken,
		cfg.NotificationConfig.Telegram.ChatID,
	))
	notifier.AddNotifier(notification.NewDiscordNotifier(
		cfg.NotificationConfig.Discord.WebhookURL,
	))

	broker := alpaca.NewClient(cfg.AlpacaConfig, log)

	classifier := regime.NewClassifier(cfg.AnalysisConfig.RegimePeriods, log)
	optimizer := walkforward.NewOptimizer(
		cfg.AnalysisConfig.WalkForwardTrainDays,
		cfg.AnalysisConfig.WalkForwardTestDays,
		log,
	)
	riskMgr := risk.NewManager(risk.Params{
		MaxPositionFraction: cfg.RiskConfig.MaxPositionFraction,
		MinAccountBalance:   cfg.RiskConfig.MinAccountBalance,
		EnablePDTProtection: cfg.RiskConfig.EnablePDTProtection,
	}, log)

	analyzer := engine.New(classifier, optimizer, riskMgr, broker, engine.Config{
		LookbackDays:  cfg.AnalysisConfig.LookbackDays,
		Workers:       cfg.AnalysisConfig.Workers,
		SymbolTimeout: cfg.AnalysisConfig.SymbolTimeout,
	}, log)

	server := api.NewServer(cfg, broker, analyzer, riskMgr, notifier, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	log.Info().Msg("stopped")
}
