package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/metrics"
)

const (
	// DefaultBatchSize is the number of item rows read per page.
	DefaultBatchSize = 1000
	// DefaultIdleInterval is the pause between passes that made no progress.
	DefaultIdleInterval = time.Second

	passLockKey = "pricing"
)

// Config tunes the pricing driver.
type Config struct {
	BatchSize    int
	Limit        int // rows per pass; 0 means no limit
	Continuous   bool
	StartTime    time.Time // first pass watermark; zero resumes from the newest sale
	IdleInterval time.Duration
	LockTTL      time.Duration
	Now          func() time.Time
}

// PassResult summarises one pricing pass.
type PassResult struct {
	RunID      string
	Since      time.Time
	Rows       int
	Sales      int
	Priced     int
	Summaries  int
	LastSaleID int64
	// Spellings is the number of observed currency spellings the pass
	// could resolve notes against.
	Spellings int
	Duration  time.Duration
}

// Driver walks newly updated items, extracts sales from their notes, keeps
// currency summaries current and stores the chaos value of every sale it
// can convert.
type Driver struct {
	repo     domain.Repository
	updater  *SummaryUpdater
	resolver *Resolver
	locks    domain.LockManager
	bus      domain.EventBus
	notifier domain.Notifier
	metrics  *metrics.Metrics
	cfg      Config
	logger   *slog.Logger
}

// NewDriver creates a Driver. locks, bus, notifier and m are optional.
func NewDriver(
	repo domain.Repository,
	updater *SummaryUpdater,
	resolver *Resolver,
	locks domain.LockManager,
	bus domain.EventBus,
	notifier domain.Notifier,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{
		repo:     repo,
		updater:  updater,
		resolver: resolver,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pricing_driver")),
	}
}

// Run executes one pass, or in continuous mode keeps running passes until
// ctx is cancelled. A pass that stored no new sale is followed by an idle
// pause; a pass blocked by another driver's lock counts as idle.
func (d *Driver) Run(ctx context.Context) error {
	start := d.cfg.StartTime
	var prevSaleID int64
	for {
		res, err := d.RunPass(ctx, start)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			d.logger.InfoContext(ctx, "another driver holds the pricing lock")
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.alert(ctx, domain.EventPassFailed, "Pricing pass failed", err.Error())
			return err
		}
		if !d.cfg.Continuous {
			return nil
		}
		start = time.Time{}

		progressed := res.LastSaleID != 0 && res.LastSaleID != prevSaleID
		if res.LastSaleID != 0 {
			prevSaleID = res.LastSaleID
		}
		if progressed {
			continue
		}
		if err := sleepCtx(ctx, d.cfg.IdleInterval); err != nil {
			return err
		}
	}
}

// RunPass prices every eligible row updated at or after the watermark. A
// zero since resumes from the newest stored sale. Each page is processed in
// its own transaction.
func (d *Driver) RunPass(ctx context.Context, since time.Time) (PassResult, error) {
	began := time.Now()
	res := PassResult{RunID: uuid.NewString()}

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, passLockKey, d.cfg.LockTTL)
		if err != nil {
			return res, fmt.Errorf("pricing: acquire pass lock: %w", err)
		}
		defer unlock()
	}

	res, err := d.runPass(ctx, since, res)
	res.Duration = time.Since(began)
	if err != nil {
		d.metrics.PassFinished("error", res.Duration)
		return res, err
	}
	d.metrics.PassFinished("ok", res.Duration)

	d.logger.InfoContext(ctx, "pricing pass complete",
		slog.String("run_id", res.RunID),
		slog.Time("since", res.Since),
		slog.Int("rows", res.Rows),
		slog.Int("sales", res.Sales),
		slog.Int("priced", res.Priced),
		slog.Int("summaries", res.Summaries),
		slog.Int("spellings", res.Spellings),
		slog.Duration("duration", res.Duration),
	)
	d.publishPass(ctx, res)
	if res.Sales > 0 {
		d.alert(ctx, domain.EventPassComplete, "Pricing pass complete",
			fmt.Sprintf("%d rows, %d sales, %d priced, %d summaries", res.Rows, res.Sales, res.Priced, res.Summaries))
	}
	return res, nil
}

func (d *Driver) runPass(ctx context.Context, since time.Time, res PassResult) (PassResult, error) {
	if since.IsZero() {
		last, err := d.repo.Sales().LastProcessed(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return res, fmt.Errorf("pricing: last processed sale: %w", err)
		default:
			since = last.ItemUpdatedAt
		}
	}
	res.Since = since

	names, err := d.repo.Summaries().FromCurrencies(ctx)
	if err != nil {
		return res, fmt.Errorf("pricing: load currency names: %w", err)
	}
	lexicon := NewLexicon(names)
	parser := NewParser(lexicon, d.logger)
	res.Spellings = lexicon.Len()

	d.logger.DebugContext(ctx, "pricing pass started",
		slog.String("run_id", res.RunID),
		slog.Time("since", since),
		slog.Int("known_currencies", len(names)),
		slog.Int("spellings", res.Spellings),
	)

	var after *domain.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pageSize := d.cfg.BatchSize
		if d.cfg.Limit > 0 && d.cfg.Limit-res.Rows < pageSize {
			pageSize = d.cfg.Limit - res.Rows
		}

		var rows []domain.PricingRow
		err := d.repo.InTx(ctx, func(tx domain.Repository) error {
			var err error
			rows, err = tx.Items().ListPricingRows(ctx, domain.PageQuery{Since: since, After: after, Limit: pageSize})
			if err != nil {
				return fmt.Errorf("pricing: list rows: %w", err)
			}
			for _, row := range rows {
				if err := d.processRow(ctx, tx, parser, row, &res); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}

		if len(rows) > 0 {
			c := domain.CursorAfter(rows[len(rows)-1])
			after = &c
		}
		if len(rows) < pageSize {
			return res, nil
		}
		if d.cfg.Limit > 0 && res.Rows >= d.cfg.Limit {
			return res, nil
		}
	}
}

// processRow turns one item row into a sale. Rows without a priced note are
// ignored.
func (d *Driver) processRow(ctx context.Context, tx domain.Repository, parser *Parser, row domain.PricingRow, res *PassResult) error {
	res.Rows++
	d.metrics.RowProcessed()

	price, ok := rowPrice(parser, row)
	if !ok || price.Amount <= 0 {
		return nil
	}

	now := d.cfg.Now()
	sale, err := tx.Sales().Upsert(ctx, domain.Sale{
		ItemID:        row.ItemID,
		ItemAPIID:     row.ItemAPIID,
		Name:          row.DisplayName(),
		IsCurrency:    row.IsCurrency(),
		SaleCurrency:  price.Currency,
		SaleAmount:    price.Amount,
		ItemUpdatedAt: row.ItemUpdatedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("pricing: upsert sale for item %d: %w", row.ItemID, err)
	}
	res.Sales++
	res.LastSaleID = sale.ID

	if row.IsCurrency() {
		written, err := d.updater.Update(ctx, tx, domain.PairKey{
			From:   sale.Name,
			To:     price.Currency,
			League: row.League,
		}, row.ItemUpdatedAt)
		if err != nil {
			return err
		}
		if written {
			res.Summaries++
			d.metrics.SummaryUpdated()
		}
	}

	chaos, found, err := d.resolver.ToHub(ctx, tx.Summaries(), price.Amount, price.Currency, row.League)
	if err != nil {
		return err
	}
	d.metrics.SaleWritten(found)
	if !found {
		return nil
	}
	if err := tx.Sales().SetChaosAmount(ctx, sale.ID, &chaos); err != nil {
		return fmt.Errorf("pricing: set chaos amount for sale %d: %w", sale.ID, err)
	}
	res.Priced++
	return nil
}

// rowPrice prefers the item's own note over the stash note.
func rowPrice(parser *Parser, row domain.PricingRow) (Price, bool) {
	if HasMarker(row.Note) {
		if p, ok := parser.Parse(row.Note); ok {
			return p, true
		}
	}
	if HasMarker(row.StashNote) {
		return parser.Parse(row.StashNote)
	}
	return Price{}, false
}

func (d *Driver) publishPass(ctx context.Context, res PassResult) {
	if d.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":     "pass_complete",
		"run_id":    res.RunID,
		"since":     res.Since.Unix(),
		"rows":      res.Rows,
		"sales":     res.Sales,
		"priced":    res.Priced,
		"summaries": res.Summaries,
		"duration":  res.Duration.String(),
	})
	if err := d.bus.Publish(ctx, domain.ChannelPasses, evt); err != nil {
		d.logger.WarnContext(ctx, "publish pass event failed", slog.String("error", err.Error()))
	}
}

func (d *Driver) alert(ctx context.Context, event, title, message string) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, event, title, message); err != nil {
		d.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
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
