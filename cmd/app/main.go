package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"OtcPull/internal/di"
	"OtcPull/internal/domain/models"
	"OtcPull/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s transport=%s account=%s assets=%v", cfg.Environment, cfg.Transport, cfg.AccountMode, cfg.Assets)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run application (blocks until signal or operator stop)
	if err := app.Run(ctx); err != nil {
		switch {
		case errors.Is(err, models.ErrAuthenticationFailed):
			log.Printf("no broker session: %v", err)
		case errors.Is(err, models.ErrConfig), errors.Is(err, models.ErrUnknownAsset):
			log.Printf("invalid configuration: %v", err)
		default:
			log.Printf("app error: %v", err)
		}
		stop()
		os.Exit(1)
	}
}
