package main

import (
	"btc-signal-desk/config"
	"btc-signal-desk/internal/alert"
	"btc-signal-desk/internal/database"
	"btc-signal-desk/internal/notifier"
	"btc-signal-desk/internal/price"
	"btc-signal-desk/internal/telegram"
	"btc-signal-desk/lib/translation"
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

// run performs a single alert pass and returns the process exit code
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Errorf("❌ %v", err)
		return 1
	}
	setupLogging(cfg.Debug)

	if err := cfg.ValidateWorker(); err != nil {
		log.Errorf("❌ %v", err)
		return 1
	}
	if err := translation.Configure(cfg.LocalesDir, cfg.Lang); err != nil {
		log.Warnf("Alert emails stay in English: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Errorf("❌ Failed to open %s store: %v", cfg.Store.Driver, err)
		return 1
	}
	defer store.Close()

	prices, err := price.New(cfg.PriceSource, cfg.Worker.CallTimeout)
	if err != nil {
		log.Errorf("❌ %v", err)
		return 1
	}

	mailer := notifier.NewMailer(notifier.MailerConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		User:       cfg.SMTP.User,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		Timeout:    cfg.Worker.CallTimeout,
		RequireTLS: true,
	})

	reg := prometheus.NewRegistry()
	opts := alert.Options{
		Asset:       cfg.Worker.Asset,
		Concurrency: cfg.Worker.Concurrency,
		CallTimeout: cfg.Worker.CallTimeout,
		Metrics:     alert.NewMetrics(reg),
	}
	if cfg.Telegram.Enabled() {
		bot, err := telegram.NewBot(telegram.BotConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
			Debug:  cfg.Debug,
		})
		if err != nil {
			log.Warnf("Telegram reporting disabled: %v", err)
		} else {
			opts.Reporter = bot
		}
	}

	runner := alert.NewRunner(prices, store, mailer, opts)
	_, runErr := runner.RunOnce(ctx)

	if cfg.PushgatewayURL != "" {
		if err := push.New(cfg.PushgatewayURL, "alert_worker").Gatherer(reg).Push(); err != nil {
			log.Warnf("Failed to push metrics to %s: %v", cfg.PushgatewayURL, err)
		}
	}

	if runErr != nil {
		log.Errorf("❌ Alert run aborted: %v", runErr)
		return 1
	}
	return 0
}

func setupLogging(debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting alert worker...")
}
