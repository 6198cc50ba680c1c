package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// DefaultRecentWindow is how long a well-sampled summary is trusted before
// it is recomputed.
const DefaultRecentWindow = 600 * time.Second

// staleMinCount is the sample count below which a summary is always
// recomputed.
const staleMinCount = 10

// SummaryUpdater recomputes currency summaries and fans the result out to
// the rate cache and event bus when those are configured.
type SummaryUpdater struct {
	estimator *Estimator
	recent    time.Duration
	rates     domain.RateCache
	bus       domain.EventBus
	now       func() time.Time
	logger    *slog.Logger
}

// NewSummaryUpdater creates a SummaryUpdater. recent of zero disables the
// staleness check. rates and bus may be nil.
func NewSummaryUpdater(
	estimator *Estimator,
	recent time.Duration,
	rates domain.RateCache,
	bus domain.EventBus,
	now func() time.Time,
	logger *slog.Logger,
) *SummaryUpdater {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryUpdater{
		estimator: estimator,
		recent:    recent,
		rates:     rates,
		bus:       bus,
		now:       now,
		logger:    logger,
	}
}

// Update recomputes the summary for key, weighting samples against saleTime,
// unless the stored one is fresh. It reports whether a row was written.
func (u *SummaryUpdater) Update(ctx context.Context, repo domain.Repository, key domain.PairKey, saleTime time.Time) (bool, error) {
	now := u.now()
	existing, err := repo.Summaries().Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		existing = domain.CurrencySummary{}
	case err != nil:
		return false, fmt.Errorf("pricing: get summary %s/%s: %w", key.From, key.To, err)
	}
	if existing.ID != 0 && u.fresh(existing, now) {
		return false, nil
	}

	est, ok, err := u.estimator.Estimate(ctx, repo.Sales(), key, saleTime)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	summary := domain.CurrencySummary{
		FromCurrency: key.From,
		ToCurrency:   key.To,
		League:       key.League,
		Count:        est.Count,
		Weight:       est.Weight,
		Mean:         est.Mean,
		StandardDev:  est.StandardDev,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing.ID != 0 {
		summary.ID = existing.ID
		summary.CreatedAt = existing.CreatedAt
	}
	if err := repo.Summaries().Upsert(ctx, summary); err != nil {
		return false, fmt.Errorf("pricing: upsert summary %s/%s: %w", key.From, key.To, err)
	}
	u.publish(ctx, summary)
	return true, nil
}

func (u *SummaryUpdater) fresh(s domain.CurrencySummary, now time.Time) bool {
	if u.recent <= 0 || s.Count < staleMinCount {
		return false
	}
	return now.Sub(s.UpdatedAt) < u.recent
}

func (u *SummaryUpdater) publish(ctx context.Context, s domain.CurrencySummary) {
	if u.rates != nil && s.ToCurrency == domain.HubCurrency {
		if err := u.rates.SetRate(ctx, s); err != nil {
			u.logger.WarnContext(ctx, "rate cache update failed",
				slog.String("from", s.FromCurrency),
				slog.String("league", s.League),
				slog.String("error", err.Error()),
			)
		}
	}
	if u.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":        "summary_updated",
		"from":         s.FromCurrency,
		"to":           s.ToCurrency,
		"league":       s.League,
		"count":        s.Count,
		"weight":       s.Weight,
		"mean":         s.Mean,
		"standard_dev": s.StandardDev,
		"updated_at":   s.UpdatedAt.Unix(),
	})
	if err := u.bus.Publish(ctx, domain.ChannelSummaries, evt); err != nil {
		u.logger.WarnContext(ctx, "publish summary event failed",
			slog.String("from", s.FromCurrency),
			slog.String("error", err.Error()),
		)
	}
}
