package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/freepik"
	"server/internal/realtime"
	"server/internal/service"
)

const batchLimit = 200

// poller sweeps processing creations and reconciles them against the
// provider. It is the safety net for clients that disconnect before their
// task finishes.
type poller struct {
	creations *repo.CreationRepositoryMongo
	lifecycle *service.Lifecycle
	logger    infra.Logger
	interval  time.Duration
	workers   int
}

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
		logger.Fatal().Err(err).Msg("poller: failed to connect mongodb")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = disconnect(disconnectCtx)
	}()

	creations := repo.NewCreationRepository(db)

	// Status transitions found by the sweep go out over redis so the API
	// instances can push them to their connected clients.
	rdb, err := infra.NewRedisClient(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("poller: redis unavailable, events will not be published")
		rdb = nil
	}
	bridge := realtime.NewBridge(realtime.NewHub(logger), rdb, logger)

	provider := freepik.NewClient(freepik.Options{
		APIKey:        cfg.FreepikAPIKey,
		BaseURL:       cfg.FreepikBaseURL,
		Logger:        &logger,
		SubmitTimeout: cfg.ProviderSubmitTimeout,
		StatusTimeout: cfg.ProviderStatusTimeout,
	})

	p := &poller{
		creations: creations,
		lifecycle: service.NewLifecycle(creations, nil, nil, provider, bridge, logger),
		logger:    logger,
		interval:  cfg.PollInterval,
		workers:   cfg.PollConcurrency,
	}

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("poller: stopped with error")
	}
	logger.Info().Msg("poller: stopped")
}

func (p *poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Int("workers", p.workers).Msg("poller: started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *poller) sweep(ctx context.Context) {
	pending, err := p.creations.ListProcessing(ctx, batchLimit)
	if err != nil {
		p.logger.Error().Err(err).Msg("poller: list processing creations failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, creation := range pending {
		g.Go(func() error {
			p.refresh(gctx, creation)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *poller) refresh(ctx context.Context, creation domain.Creation) {
	id := creation.ID.Hex()
	updated, err := p.lifecycle.RefreshStatus(ctx, id)
	if err != nil {
		// transient provider trouble: the record stays processing and the
		// next sweep retries
		p.logger.Warn().Err(err).Str("creation_id", id).Str("task_id", creation.TaskID).Msg("poller: refresh failed")
		return
	}
	if updated.Status != creation.Status {
		p.logger.Info().
			Str("creation_id", id).
			Str("task_id", creation.TaskID).
			Str("from", string(creation.Status)).
			Str("to", string(updated.Status)).
			Msg("poller: creation transitioned")
	}
}
