package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"photobooth/internal/adapter/repo"
	"photobooth/internal/config"
	"photobooth/internal/domain"
	"photobooth/internal/funding"
	"photobooth/internal/http/handlers"
	httpapi "photobooth/internal/http"
	"photobooth/internal/infra"
	"photobooth/internal/orchestrator"
	"photobooth/internal/rendernet"
	"photobooth/internal/storage"
	"photobooth/internal/styles"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Slot buffers survive restarts when a database is configured.
	var persist orchestrator.Persister
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()

		slotRepo := repo.NewSlotRepository(dbpool)
		if err := slotRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure schema")
		}
		persist = slotRepo
	} else {
		logger.Warn().Msg("DATABASE_URL not set, slot buffers are in-memory only")
	}

	store := orchestrator.NewSlotStore(logger, persist)
	if persist != nil {
		store.Restore(ctx, orchestrator.ViewRegular)
		store.Restore(ctx, orchestrator.ViewGallery)
	}

	assets, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare asset storage")
	}

	catalog, err := styles.Load(cfg.StylesPath, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.StylesPath).Msg("style catalog unavailable, labels fall back to Custom")
		catalog = styles.Empty(logger)
	} else if unwatch, err := catalog.Watch(); err != nil {
		logger.Warn().Err(err).Msg("style catalog watch unavailable")
	} else {
		defer unwatch()
	}

	client, err := rendernet.NewHTTPClient(rendernet.Options{
		BaseURL:      cfg.RenderBaseURL,
		APIKey:       cfg.RenderAPIKey,
		PollInterval: cfg.RenderPollInterval,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build rendering client")
	}

	fund := funding.NewMemoryProvider(domain.TokenCredits)
	events := handlers.NewBroker()

	booth := orchestrator.New(orchestrator.Config{
		JobTimeout:           cfg.JobTimeout,
		WatchdogTimeout:      cfg.WatchdogTimeout,
		OverallTimeout:       cfg.OverallTimeout,
		ProgressWindow:       cfg.ProgressWindow,
		LifecycleWindow:      cfg.LifecycleWindow,
		GracePeriod:          cfg.GracePeriod,
		EscalatedGracePeriod: cfg.EscalatedGracePeriod,
		RetryDelay:           cfg.RetryDelay,
		StuckThreshold:       cfg.StuckThreshold,
	}, orchestrator.Deps{
		Client:  client,
		Funding: fund,
		Store:   store,
		Labels:  catalog,
		Assets:  assets,
		Logger:  logger,
		Hooks: orchestrator.Hooks{
			OnOutOfCredits: func() {
				events.Publish(handlers.Notification{Event: "out_of_credits"})
			},
			OnBatchCancelledExternally: func(kind domain.ErrorKind) {
				events.Publish(handlers.Notification{
					Event: "batch_cancelled",
					Data:  map[string]any{"kind": string(kind)},
				})
			},
			OnAllSlotsTerminal: func() {
				events.Publish(handlers.Notification{Event: "all_slots_terminal"})
			},
			OnFirstCompletion: func() {
				events.Publish(handlers.Notification{Event: "first_completion"})
			},
			OnPaymentSwitched: func(token domain.FundingToken) {
				events.Publish(handlers.Notification{
					Event: "payment_switched",
					Data:  map[string]any{"token": string(token)},
				})
			},
		},
	})

	app := handlers.NewApp(logger, booth, fund, assets, events)
	router := httpapi.NewRouter(app, logger, cfg.AllowedOrigins, cfg.DefaultLocale)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("boothd listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
