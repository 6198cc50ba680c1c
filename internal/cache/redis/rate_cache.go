package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// RateCache implements domain.RateCache. Each league is a hash at
// "poefixer:rates:{league}" mapping the sold currency to its JSON summary.
type RateCache struct {
	rdb *redis.Client
}

var _ domain.RateCache = (*RateCache)(nil)

// NewRateCache creates a RateCache backed by the given Client.
func NewRateCache(c *Client) *RateCache {
	return &RateCache{rdb: c.Underlying()}
}

func ratesKey(league string) string {
	return keyPrefix + "rates:" + league
}

type cachedRate struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	League      string  `json:"league"`
	Count       int     `json:"count"`
	Weight      float64 `json:"weight"`
	Mean        float64 `json:"mean"`
	StandardDev float64 `json:"standard_dev"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// SetRate stores the summary under its league and sold currency.
func (rc *RateCache) SetRate(ctx context.Context, s domain.CurrencySummary) error {
	data, err := json.Marshal(cachedRate{
		From: s.FromCurrency, To: s.ToCurrency, League: s.League,
		Count: s.Count, Weight: s.Weight, Mean: s.Mean, StandardDev: s.StandardDev,
		CreatedAt: s.CreatedAt.Unix(), UpdatedAt: s.UpdatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal rate %s: %w", s.FromCurrency, err)
	}
	if err := rc.rdb.HSet(ctx, ratesKey(s.League), s.FromCurrency, data).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s/%s: %w", s.League, s.FromCurrency, err)
	}
	return nil
}

// GetRates returns the cached summaries of a league, heaviest first. An
// unknown league yields domain.ErrNotFound.
func (rc *RateCache) GetRates(ctx context.Context, league string) ([]domain.CurrencySummary, error) {
	vals, err := rc.rdb.HGetAll(ctx, ratesKey(league)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get rates %s: %w", league, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]domain.CurrencySummary, 0, len(vals))
	for from, raw := range vals {
		var r cachedRate
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("redis: unmarshal rate %s/%s: %w", league, from, err)
		}
		out = append(out, domain.CurrencySummary{
			FromCurrency: r.From, ToCurrency: r.To, League: r.League,
			Count: r.Count, Weight: r.Weight, Mean: r.Mean, StandardDev: r.StandardDev,
			CreatedAt: fromUnix(r.CreatedAt), UpdatedAt: fromUnix(r.UpdatedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].FromCurrency < out[j].FromCurrency
	})
	return out, nil
}
