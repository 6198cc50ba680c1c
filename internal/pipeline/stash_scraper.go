package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/metrics"
	"github.com/alanyoungcy/poefixer/internal/platform/poe"
)

// DefaultStreamIdle is the pause when the stream returns the change id it
// was asked for, i.e. the head of the stream has been reached.
const DefaultStreamIdle = 5 * time.Second

// PageFetcher reads pages of the public stash stream.
type PageFetcher interface {
	FetchPage(ctx context.Context, changeID string) (*poe.Page, error)
	LatestChangeID(ctx context.Context) (string, error)
}

// PageArchive keeps raw pages for later replay.
type PageArchive interface {
	Archive(ctx context.Context, changeID string, fetchedAt time.Time, raw []byte) (string, error)
}

// ScraperConfig tunes the stash scraper.
type ScraperConfig struct {
	// StartChangeID is used when no cursor has been stored yet.
	StartChangeID string
	// MostRecent starts at the head of the stream (from poe.ninja) when
	// there is neither a cursor nor a StartChangeID.
	MostRecent bool
	// MaxPages stops Run after that many pages; 0 runs until cancelled.
	MaxPages   int
	StreamIdle time.Duration
	Now        func() time.Time
}

// PageResult counts what one page wrote.
type PageResult struct {
	Stashes int
	Items   int
	Skipped int
}

// StashScraper follows the public stash stream and upserts stashes and
// their items, one transaction per page.
type StashScraper struct {
	repo     domain.Repository
	fetcher  PageFetcher
	archive  PageArchive
	notifier domain.Notifier
	metrics  *metrics.Metrics
	cfg      ScraperConfig
	logger   *slog.Logger
}

// NewStashScraper creates a StashScraper. archive, notifier and m are
// optional.
func NewStashScraper(
	repo domain.Repository,
	fetcher PageFetcher,
	archive PageArchive,
	notifier domain.Notifier,
	m *metrics.Metrics,
	cfg ScraperConfig,
	logger *slog.Logger,
) *StashScraper {
	if cfg.StreamIdle <= 0 {
		cfg.StreamIdle = DefaultStreamIdle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StashScraper{
		repo:     repo,
		fetcher:  fetcher,
		archive:  archive,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "stash_scraper")),
	}
}

// Run ingests pages until ctx is cancelled, MaxPages is reached or a page
// fails. A failure is reported through the notifier and returned.
func (s *StashScraper) Run(ctx context.Context) error {
	changeID, err := s.startID(ctx)
	if err != nil {
		s.notifyFailure(ctx, err)
		return err
	}
	s.logger.InfoContext(ctx, "stash ingestion starting", slog.String("change_id", changeID))

	for pages := 0; s.cfg.MaxPages == 0 || pages < s.cfg.MaxPages; pages++ {
		next, err := s.step(ctx, changeID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.notifyFailure(ctx, err)
			return err
		}
		if next == changeID {
			if err := sleepCtx(ctx, s.cfg.StreamIdle); err != nil {
				return err
			}
		}
		changeID = next
	}
	s.logger.InfoContext(ctx, "stash ingestion stopped at page limit", slog.Int("pages", s.cfg.MaxPages))
	return nil
}

// startID picks the stored cursor, then the configured id, then the head of
// the stream when asked for it. An empty id starts at the beginning.
func (s *StashScraper) startID(ctx context.Context) (string, error) {
	id, err := s.repo.Cursors().GetChangeID(ctx)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("pipeline: read ingest cursor: %w", err)
	}
	if s.cfg.StartChangeID != "" {
		return s.cfg.StartChangeID, nil
	}
	if s.cfg.MostRecent {
		id, err := s.fetcher.LatestChangeID(ctx)
		if err != nil {
			return "", fmt.Errorf("pipeline: find latest change id: %w", err)
		}
		return id, nil
	}
	return "", nil
}

// step fetches, archives and stores one page and returns the next change id.
func (s *StashScraper) step(ctx context.Context, changeID string) (string, error) {
	page, err := s.fetcher.FetchPage(ctx, changeID)
	if err != nil {
		return "", fmt.Errorf("pipeline: fetch page %q: %w", changeID, err)
	}
	fetchedAt := s.cfg.Now()

	if s.archive != nil {
		if key, err := s.archive.Archive(ctx, changeID, fetchedAt, page.Raw); err != nil {
			s.logger.WarnContext(ctx, "page archive failed",
				slog.String("change_id", changeID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.DebugContext(ctx, "page archived", slog.String("key", key))
		}
	}

	res, err := s.IngestPage(ctx, page, fetchedAt)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "stash page stored",
		slog.String("change_id", changeID),
		slog.String("next_change_id", page.NextChangeID),
		slog.Int("stashes", res.Stashes),
		slog.Int("items", res.Items),
		slog.Int("skipped", res.Skipped),
	)
	return page.NextChangeID, nil
}

// IngestPage stores a decoded page in one transaction: each stash is
// upserted, its items are marked inactive, the page's items are upserted as
// active and the cursor moves to the page's next change id.
func (s *StashScraper) IngestPage(ctx context.Context, page *poe.Page, at time.Time) (PageResult, error) {
	res := PageResult{Skipped: page.Skipped}
	for i := 0; i < page.Skipped; i++ {
		s.metrics.RecordSkipped("stash")
	}

	err := s.repo.InTx(ctx, func(tx domain.Repository) error {
		items := tx.Items()
		for _, apiStash := range page.Stashes {
			stash := apiStash.ToDomain()
			stash.CreatedAt, stash.UpdatedAt = at, at
			stashID, err := items.UpsertStash(ctx, stash)
			if err != nil {
				return err
			}
			if err := items.DeactivateStashItems(ctx, stashID); err != nil {
				return err
			}

			apiItems, errs := apiStash.DecodeItems()
			for _, verr := range errs {
				s.logger.WarnContext(ctx, "invalid item", slog.String("error", verr.Error()))
				s.metrics.RecordSkipped("item")
			}
			res.Skipped += len(errs)

			batch := make([]domain.Item, 0, len(apiItems))
			for _, apiItem := range apiItems {
				it := apiItem.ToDomain()
				it.StashID = stashID
				it.Active = true
				it.CreatedAt, it.UpdatedAt = at, at
				batch = append(batch, it)
			}
			if err := items.UpsertItems(ctx, batch); err != nil {
				return err
			}
			res.Stashes++
			res.Items += len(batch)
		}
		return tx.Cursors().SetChangeID(ctx, page.NextChangeID)
	})
	if err != nil {
		return PageResult{}, fmt.Errorf("pipeline: store page %q: %w", page.NextChangeID, err)
	}
	s.metrics.PageIngested(res.Items)
	return res, nil
}

func (s *StashScraper) notifyFailure(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}
	if nerr := s.notifier.Notify(ctx, domain.EventIngestFailed, "Stash ingestion failed", err.Error()); nerr != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", domain.EventIngestFailed),
			slog.String("error", nerr.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
