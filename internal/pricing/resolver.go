package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// Conversion is one way of turning a currency into the hub currency.
type Conversion struct {
	Rate  float64
	Path  []string // currencies visited, source first, hub last
	Score float64  // weight of the weakest summary on the path
}

// Resolver finds the best-supported conversion of a currency into the hub
// currency, allowing at most one intermediate currency.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Rate returns the conversion of one unit of currency into the hub.
//
// Summaries selling currency are visited heaviest first. A direct hub
// summary ends the search and wins unless a two-hop route already found is
// strictly better supported. A two-hop route scores the lighter of its two
// legs and replaces the current best only when it scores higher. When
// nothing sells currency toward the hub, the inverse of the hub-to-currency
// summary is used.
func (r *Resolver) Rate(ctx context.Context, summaries domain.SummaryStore, currency, league string) (Conversion, bool, error) {
	if currency == domain.HubCurrency {
		return Conversion{Rate: 1, Path: []string{domain.HubCurrency}, Score: math.Inf(1)}, true, nil
	}

	rows, err := summaries.ListFrom(ctx, currency, league)
	if err != nil {
		return Conversion{}, false, fmt.Errorf("pricing: list summaries from %s: %w", currency, err)
	}

	var best *Conversion
	for _, row := range rows {
		if row.ToCurrency == domain.HubCurrency {
			if best == nil || row.Weight >= best.Score {
				best = &Conversion{
					Rate:  row.Mean,
					Path:  []string{currency, domain.HubCurrency},
					Score: row.Weight,
				}
			}
			break
		}
		if best != nil && row.Weight <= best.Score {
			continue
		}
		hop, err := summaries.Get(ctx, domain.PairKey{From: row.ToCurrency, To: domain.HubCurrency, League: league})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return Conversion{}, false, fmt.Errorf("pricing: get summary %s/%s: %w", row.ToCurrency, domain.HubCurrency, err)
		}
		score := math.Min(row.Weight, hop.Weight)
		if best == nil || score > best.Score {
			best = &Conversion{
				Rate:  row.Mean * hop.Mean,
				Path:  []string{currency, row.ToCurrency, domain.HubCurrency},
				Score: score,
			}
		}
	}
	if best != nil {
		return *best, true, nil
	}

	inverse, err := summaries.Get(ctx, domain.PairKey{From: domain.HubCurrency, To: currency, League: league})
	if errors.Is(err, domain.ErrNotFound) {
		return Conversion{}, false, nil
	}
	if err != nil {
		return Conversion{}, false, fmt.Errorf("pricing: get summary %s/%s: %w", domain.HubCurrency, currency, err)
	}
	if inverse.Mean == 0 {
		return Conversion{}, false, nil
	}
	return Conversion{
		Rate:  1 / inverse.Mean,
		Path:  []string{currency, domain.HubCurrency},
		Score: inverse.Weight,
	}, true, nil
}

// ToHub converts amount of currency into the hub currency.
func (r *Resolver) ToHub(ctx context.Context, summaries domain.SummaryStore, amount float64, currency, league string) (float64, bool, error) {
	conv, ok, err := r.Rate(ctx, summaries, currency, league)
	if err != nil || !ok {
		return 0, false, err
	}
	return amount * conv.Rate, true, nil
}
