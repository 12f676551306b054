package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/providers/freepik"
	"server/internal/realtime"
	"server/internal/service"
	"server/internal/shopify"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, disconnect, err := infra.NewMongoDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect mongodb")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := disconnect(disconnectCtx); err != nil {
			logger.Error().Err(err).Msg("mongodb disconnect failed")
		}
	}()

	creations := repo.NewCreationRepository(db)
	if err := creations.EnsureIndexes(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure indexes")
	}
	categories := repo.NewCategoryRepository(db)
	templates := repo.NewTemplateRepository(db)
	usageLogs := repo.NewUsageLogRepository(db)
	installations := repo.NewInstallationRepository(db)

	// Redis backs the cross-instance realtime fan-out. A single instance
	// still works without it; the bridge falls back to local delivery.
	rdb, err := infra.NewRedisClient(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, realtime events stay local")
		rdb = nil
	}

	s3, err := infra.NewMinioClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect object storage")
	}
	store, err := storage.NewObjectStore(s3, cfg.S3Bucket, cfg.S3PublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object store")
	}

	hub := realtime.NewHub(logger)
	bridge := realtime.NewBridge(hub, rdb, logger)
	go bridge.Run(ctx)

	provider := freepik.NewClient(freepik.Options{
		APIKey:        cfg.FreepikAPIKey,
		BaseURL:       cfg.FreepikBaseURL,
		Logger:        &logger,
		SubmitTimeout: cfg.ProviderSubmitTimeout,
		StatusTimeout: cfg.ProviderStatusTimeout,
	})

	lifecycle := service.NewLifecycle(creations, templates, usageLogs, provider, bridge, logger)

	app := &handlers.App{
		Config:        cfg,
		Logger:        logger,
		Creations:     creations,
		Categories:    categories,
		Templates:     templates,
		Installations: installations,
		Lifecycle:     lifecycle,
		Provider:      provider,
		Products:      shopify.NewProductClient(installations, cfg.ShopifyAPIVersion),
		Store:         store,
	}

	router := httpapi.NewRouter(app, hub)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	hub.Close()
	logger.Info().Msg("server stopped")
}
