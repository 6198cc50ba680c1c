package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-running stage.
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs stash ingestion and the pricing driver side by side.
// The driver picks up newly stored items on its next pass.
type Orchestrator struct {
	ingest Runner
	price  Runner
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Either stage may be nil.
func NewOrchestrator(ingest, price Runner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ingest: ingest,
		price:  price,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts both stages. If either returns a non-context error, the other
// is cancelled and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline orchestrator starting")

	g, ctx := errgroup.WithContext(ctx)
	start := func(name string, r Runner) {
		if r == nil {
			return
		}
		g.Go(func() error {
			err := r.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	start("ingest", o.ingest)
	start("price", o.price)

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
