package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shield-moderation/shield-go/internal/app"
	"github.com/shield-moderation/shield-go/internal/config"
	"github.com/shield-moderation/shield-go/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "guard start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("guard starting", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guard, err := app.NewGuard(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize guard", "error", err.Error())
		return err
	}

	if err := guard.Run(ctx); err != nil {
		return fmt.Errorf("guard run: %w", err)
	}

	return nil
}
