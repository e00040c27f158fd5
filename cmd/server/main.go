package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/app"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	infra, err := app.NewInfrastructure(ctx, *cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}

	application, err := app.NewApp(ctx, infra, cfg)
	if err != nil {
		infra.Logger().Error("Failed to build application", zap.Error(err))
		_ = infra.Shutdown(context.Background())
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		infra.Logger().Fatal("Application failed", zap.Error(err))
	}
}
