package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/poefixer/internal/blob/s3"
	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/platform/poe"
)

// PageSource lists and opens archived pages.
type PageSource interface {
	Pages(ctx context.Context, sub string) ([]domain.BlobInfo, error)
	Open(ctx context.Context, key string) ([]byte, error)
}

// ReplayResult counts what a replay wrote.
type ReplayResult struct {
	Pages   int
	Stashes int
	Items   int
	Skipped int
}

// Replayer re-ingests archived pages in key order, which is fetch order.
type Replayer struct {
	scraper *StashScraper
	source  PageSource
	logger  *slog.Logger
}

// NewReplayer creates a Replayer that stores pages through scraper.
func NewReplayer(scraper *StashScraper, source PageSource, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		scraper: scraper,
		source:  source,
		logger:  logger.With(slog.String("component", "replayer")),
	}
}

// Run replays every page under sub (relative to the archive prefix; empty
// for all). Pages keep the time they were fetched at; a page whose key
// carries no time is stamped with the current time.
func (r *Replayer) Run(ctx context.Context, sub string) (ReplayResult, error) {
	var res ReplayResult
	pages, err := r.source.Pages(ctx, sub)
	if err != nil {
		return res, fmt.Errorf("pipeline: replay: %w", err)
	}
	r.logger.InfoContext(ctx, "replay starting", slog.Int("pages", len(pages)), slog.String("prefix", sub))

	for _, info := range pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		raw, err := r.source.Open(ctx, info.Path)
		if err != nil {
			return res, fmt.Errorf("pipeline: replay: %w", err)
		}
		page, err := poe.DecodePage(raw, r.logger)
		if err != nil {
			return res, fmt.Errorf("pipeline: replay %s: %w", info.Path, err)
		}
		at, ok := s3blob.FetchedAtFromPath(info.Path)
		if !ok {
			at = r.scraper.cfg.Now()
		}
		pr, err := r.scraper.IngestPage(ctx, page, at)
		if err != nil {
			return res, fmt.Errorf("pipeline: replay %s: %w", info.Path, err)
		}
		res.Pages++
		res.Stashes += pr.Stashes
		res.Items += pr.Items
		res.Skipped += pr.Skipped
		r.logger.DebugContext(ctx, "page replayed",
			slog.String("key", info.Path),
			slog.Time("fetched_at", at),
			slog.Int("items", pr.Items),
		)
	}

	r.logger.InfoContext(ctx, "replay complete",
		slog.Int("pages", res.Pages),
		slog.Int("stashes", res.Stashes),
		slog.Int("items", res.Items),
		slog.Duration("span", span(pages)),
	)
	return res, nil
}

// span is the fetch-time distance between the first and last page.
func span(pages []domain.BlobInfo) time.Duration {
	if len(pages) < 2 {
		return 0
	}
	first, ok1 := s3blob.FetchedAtFromPath(pages[0].Path)
	last, ok2 := s3blob.FetchedAtFromPath(pages[len(pages)-1].Path)
	if !ok1 || !ok2 {
		return 0
	}
	return last.Sub(first)
}
