package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/suspectuso/ton-assistant/internal/assistant"
	"github.com/suspectuso/ton-assistant/internal/billing"
	"github.com/suspectuso/ton-assistant/internal/config"
	"github.com/suspectuso/ton-assistant/internal/intent"
	"github.com/suspectuso/ton-assistant/internal/ledger"
	"github.com/suspectuso/ton-assistant/internal/openai"
	"github.com/suspectuso/ton-assistant/internal/telegram"
	"github.com/suspectuso/ton-assistant/internal/tonapi"
	"github.com/suspectuso/ton-assistant/internal/watcher"
	"github.com/suspectuso/ton-assistant/internal/webhook"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.ServiceWalletAddr == "" {
		log.Error("SERVICE_WALLET_ADDR is required")
		os.Exit(1)
	}
	if cfg.OpenAIKey == "" {
		log.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	// Load account state, an unreadable snapshot starts empty but keeps serving
	store, err := ledger.Load(cfg.StatePath)
	if err != nil {
		if !errors.Is(err, ledger.ErrCorruptState) {
			log.Error("load state", "error", err)
			os.Exit(1)
		}
		log.Warn("state snapshot unreadable, starting empty", "path", cfg.StatePath, "error", err)
	}
	log.Info("state loaded", "path", cfg.StatePath, "accounts", store.Stats().Accounts)

	// Initialize TonAPI client
	tonAPI := tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey)
	log.Info("tonapi client initialized", "base_url", cfg.TonAPIBaseURL)

	// Initialize AI client
	ai := openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel, cfg.MaxAnswerTokens, cfg.AITimeout)
	log.Info("ai client initialized", "model", cfg.OpenAIModel)

	// Initialize billing
	engine := billing.NewEngine(store, billing.Pricing{
		BaseFee:         cfg.BaseFeeNano,
		PerToken:        cfg.TokenPriceNano,
		MaxAnswerTokens: cfg.MaxAnswerTokens,
	}, log)

	// Initialize intent routing, the AI client doubles as classifier
	router := intent.NewRouter(ai, log)

	// Initialize orchestrator
	a := assistant.New(store, engine, router, ai, assistant.Config{
		ServiceWallet: cfg.ServiceWalletAddr,
		MaxInputChars: cfg.MaxInputChars,
		MinDeposit:    cfg.MinDepositNano,
		MaxDeposit:    cfg.MaxDepositNano,
		AITimeout:     cfg.AITimeout,
	}, log)

	// Initialize telegram bot
	bot, err := telegram.New(cfg.BotToken, a, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start deposit watcher
	w := watcher.New(store, tonAPI, bot, cfg.ServiceWalletAddr, cfg.DepositTTL, log)
	go w.Run(ctx, cfg.DepositPollInterval)

	// Start snapshot loop; it writes the final snapshot on shutdown
	snapshotDone := make(chan struct{})
	go func() {
		store.SnapshotLoop(ctx, cfg.StatePath, cfg.SnapshotInterval, log)
		close(snapshotDone)
	}()

	// Start webhook server
	webhookServer := webhook.NewServer(a, store, log)
	go func() {
		if err := webhookServer.Start(ctx, cfg.WebhookPort); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server", "error", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)

	// Wait for the snapshot loop's final write before exiting
	<-snapshotDone
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
