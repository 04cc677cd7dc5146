package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"annexbot/internal/adapter/repo"
	"annexbot/internal/delivery"
	"annexbot/internal/generation"
	"annexbot/internal/infra"
	"annexbot/internal/ops"
	"annexbot/internal/providers/kie"
	"annexbot/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := infra.NewLogger(cfg.AppEnv)

	store, err := repo.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := store.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	kieClient, err := kie.NewClient(kie.Options{
		APIKey:     cfg.KieAPIKey,
		BaseURL:    cfg.KieAPIBase,
		UploadBase: cfg.KieUploadBase,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build provider client")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to telegram")
	}

	sender := telegram.NewSender(api, logger)
	deliverer := delivery.NewDeliverer(delivery.Options{Sender: sender, Logger: logger})
	aggregator := generation.NewAggregator(store, logger,
		generation.WithFlushNotifier(telegram.AlbumNotifier(sender, logger)))
	poller := generation.NewPoller(kieClient, cfg.PollInterval, cfg.PollBudget, logger)
	reporter := telegram.NewReporter(sender, logger)

	engine := generation.NewEngine(generation.EngineConfig{
		Store:      store,
		Aggregator: aggregator,
		Tracker:    generation.NewMemoryTracker(),
		Gateway:    kieClient,
		Poller:     poller,
		Deliverer:  deliverer,
		Resolver:   sender,
		Reporter:   reporter,
		Workers:    cfg.WorkerCount,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)

	opsServer := infra.NewHTTPServer(cfg, ops.NewRouter(store, engine, logger))
	go func() {
		if err := opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server")
		}
	}()

	bot := telegram.NewBot(api, sender, store, aggregator, engine, cfg, logger)

	logger.Info().Str("username", cfg.BotUsername).Int("workers", cfg.WorkerCount).Msg("bot started")
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("update loop")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown ops server")
	}
	engine.Wait()
	deliverer.Wait()
	logger.Info().Msg("bot stopped")
}
