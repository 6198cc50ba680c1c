package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poefixer/internal/config"
	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/pipeline"
	"github.com/alanyoungcy/poefixer/internal/platform/poe"
	"github.com/alanyoungcy/poefixer/internal/pricing"
	"github.com/alanyoungcy/poefixer/internal/server"
	"github.com/alanyoungcy/poefixer/internal/server/handler"
	"github.com/alanyoungcy/poefixer/internal/server/middleware"
)

// IngestMode follows the public stash stream until cancelled or until
// stash_api.max_pages pages have been stored.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")
	return ignoreCancel(a.newScraper(deps).Run(ctx))
}

// PriceMode runs the pricing driver once, or continuously when
// pricing.continuous is set.
func (a *App) PriceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting price mode",
		slog.Bool("continuous", a.cfg.Pricing.Continuous),
		slog.Int("limit", a.cfg.Pricing.Limit),
	)
	driver, err := a.newDriver(deps)
	if err != nil {
		return err
	}
	return ignoreCancel(driver.Run(ctx))
}

// ServeMode runs the HTTP API alone.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode", slog.Int("port", a.cfg.Server.Port))
	return a.newServer(deps).Run(ctx)
}

// ReplayMode re-ingests archived pages under s3.prefix/s3.replay_from and
// exits.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: replay mode requires the s3 page archive")
	}
	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("prefix", deps.Archiver.Prefix()),
		slog.String("from", a.cfg.S3.ReplayFrom),
	)
	replayer := pipeline.NewReplayer(a.newScraper(deps), deps.Archiver, a.logger)
	res, err := replayer.Run(ctx, a.cfg.S3.ReplayFrom)
	if err != nil {
		return ignoreCancel(err)
	}
	a.logger.InfoContext(ctx, "replay finished",
		slog.Int("pages", res.Pages),
		slog.Int("stashes", res.Stashes),
		slog.Int("items", res.Items),
		slog.Int("skipped", res.Skipped),
	)
	return nil
}

// FullMode runs ingestion and continuous pricing side by side with the API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	cfg := *a.cfg
	cfg.Pricing.Continuous = true
	driver, err := newDriver(&cfg, deps, a.logger)
	if err != nil {
		return err
	}
	orch := pipeline.NewOrchestrator(a.newScraper(deps), driver, a.logger)
	srv := a.newServer(deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return g.Wait()
}

func (a *App) newScraper(deps *Dependencies) *pipeline.StashScraper {
	api := a.cfg.StashAPI

	// A nil *redis.RateLimiter must not reach the client as a non-nil
	// interface.
	var shared domain.RateLimiter
	if api.SharedRateLimit && deps.RateLimiter != nil {
		shared = deps.RateLimiter
	}
	client := poe.NewClient(poe.ClientConfig{
		BaseURL:         api.BaseURL,
		StatsURL:        api.StatsURL,
		RequestInterval: api.RequestInterval.Duration,
		Retries:         api.Retries,
		RetryWait:       api.RetryWait.Duration,
		Timeout:         api.Timeout.Duration,
		UserAgent:       api.UserAgent,
	}, shared, a.logger)

	var archive pipeline.PageArchive
	if deps.Archiver != nil {
		archive = deps.Archiver
	}
	return pipeline.NewStashScraper(deps.Repo, client, archive, deps.Notifier, deps.Metrics, pipeline.ScraperConfig{
		StartChangeID: api.StartChangeID,
		MostRecent:    api.MostRecent,
		MaxPages:      api.MaxPages,
		StreamIdle:    api.StreamIdle.Duration,
	}, a.logger)
}

func (a *App) newDriver(deps *Dependencies) (*pricing.Driver, error) {
	return newDriver(a.cfg, deps, a.logger)
}

func newDriver(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*pricing.Driver, error) {
	p := cfg.Pricing
	start, err := p.Start()
	if err != nil {
		return nil, fmt.Errorf("app: pricing start time: %w", err)
	}
	estimator := pricing.NewEstimator(p.RelevanceWindow.Duration, p.WeightScale.Duration, nil)
	updater := pricing.NewSummaryUpdater(estimator, p.RecentWindow.Duration, deps.Rates, deps.Bus, nil, logger)
	return pricing.NewDriver(
		deps.Repo,
		updater,
		pricing.NewResolver(),
		deps.Locks,
		deps.Bus,
		deps.Notifier,
		deps.Metrics,
		pricing.Config{
			BatchSize:    p.BatchSize,
			Limit:        p.Limit,
			Continuous:   p.Continuous,
			StartTime:    start,
			IdleInterval: p.IdleInterval.Duration,
			LockTTL:      p.LockTTL.Duration,
		},
		logger,
	), nil
}

func (a *App) newServer(deps *Dependencies) *server.Server {
	s := a.cfg.Server
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Rates:  handler.NewRatesHandler(deps.Repo, deps.Rates, pricing.NewResolver(), a.logger),
		Sales:  handler.NewSalesHandler(deps.Repo.Sales(), a.logger),
		Events: handler.NewEventsHandler(deps.Bus, a.logger),
	}
	var limiter middleware.Allower
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}
	return server.NewServer(server.Config{
		Port:        s.Port,
		CORSOrigins: s.CORSOrigins,
		APIKey:      s.APIKey,
		RateLimit:   s.RateLimit,
		RateWindow:  s.RateWindow.Duration,
	}, handlers, limiter, deps.Metrics, a.logger)
}

// ignoreCancel treats a cancelled context as a clean stop.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
