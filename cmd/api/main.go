package main

import (
	"btc-signal-desk/config"
	"btc-signal-desk/internal/api"
	"btc-signal-desk/internal/database"
	"context"
	log "github.com/sirupsen/logrus"
	"os"
	"os/signal"
	"syscall"
)

func init() {
	config.InitConfig()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg.Debug)

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	err = api.NewServer(store, nil).ListenAndServe(ctx, cfg.APIAddr)
	store.Close()
	if err != nil {
		log.Fatalf("Alerts API stopped: %v", err)
	}
	log.Info("Alerts API shut down")
}

func setupLogging(debug bool) {
	log.SetLevel(log.InfoLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting alerts API...")
}
