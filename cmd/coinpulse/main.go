package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"coinpulse/config"
	"coinpulse/internal/app"
	"coinpulse/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// wire store, caches, channels and scheduler
	pipeline, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start coinpulse", zap.Error(err))
	}
	pipeline.Start(ctx)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
