package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

const (
	// DefaultRelevanceWindow bounds how old a sale may be to count.
	DefaultRelevanceWindow = 15 * 24 * time.Hour
	// DefaultWeightScale is the age at which a sample's weight is 1.
	DefaultWeightScale = 12 * time.Hour

	recalibrateMinCount = 3
	outlierSigmas       = 2.0
)

// Estimate is the weighted statistic of a set of sale samples.
type Estimate struct {
	Count       int
	Weight      float64
	Mean        float64
	StandardDev float64
}

// WeightedEstimate computes count, total weight, weighted mean and weighted
// population standard deviation of samples. Each sample weighs
// scale / max(1s, saleTime - sample time), so samples at or after saleTime
// carry the full weight. When the spread is wide (more than
// three samples and a deviation above half the mean) the samples further
// than two deviations from the mean are dropped and everything is computed
// once more.
func WeightedEstimate(samples []domain.SaleSample, saleTime time.Time, scale time.Duration) (Estimate, bool) {
	if len(samples) == 0 {
		return Estimate{}, false
	}
	prices := make([]float64, len(samples))
	weights := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Amount
		weights[i] = sampleWeight(saleTime.Sub(s.ItemUpdatedAt), scale)
	}

	est := weighted(prices, weights)
	if est.Count > recalibrateMinCount && est.StandardDev > est.Mean/2 {
		lo := est.Mean - outlierSigmas*est.StandardDev
		hi := est.Mean + outlierSigmas*est.StandardDev
		keptP := prices[:0:0]
		keptW := weights[:0:0]
		for i, p := range prices {
			if p >= lo && p <= hi {
				keptP = append(keptP, p)
				keptW = append(keptW, weights[i])
			}
		}
		if len(keptP) > 0 {
			est = weighted(keptP, keptW)
		}
	}
	return est, true
}

func sampleWeight(age, scale time.Duration) float64 {
	secs := age.Seconds()
	if secs < 1 {
		secs = 1
	}
	return scale.Seconds() / secs
}

func weighted(prices, weights []float64) Estimate {
	var sumW, sumWP float64
	for i, p := range prices {
		sumW += weights[i]
		sumWP += weights[i] * p
	}
	mean := sumWP / sumW
	var sumSq float64
	for i, p := range prices {
		d := p - mean
		sumSq += weights[i] * d * d
	}
	return Estimate{
		Count:       len(prices),
		Weight:      sumW,
		Mean:        mean,
		StandardDev: math.Sqrt(sumSq / sumW),
	}
}

// Estimator reads the relevant sales of a currency pair and reduces them to
// an Estimate.
type Estimator struct {
	relevance time.Duration
	scale     time.Duration
	now       func() time.Time
}

// NewEstimator creates an Estimator. Zero durations fall back to the
// defaults; a nil clock uses time.Now.
func NewEstimator(relevance, scale time.Duration, now func() time.Time) *Estimator {
	if relevance <= 0 {
		relevance = DefaultRelevanceWindow
	}
	if scale <= 0 {
		scale = DefaultWeightScale
	}
	if now == nil {
		now = time.Now
	}
	return &Estimator{relevance: relevance, scale: scale, now: now}
}

// Estimate returns the statistics of selling key.From for key.To in
// key.League, weighted against saleTime. The relevance window is measured
// from the clock. ok is false when there are no relevant sales.
func (e *Estimator) Estimate(ctx context.Context, sales domain.SaleStore, key domain.PairKey, saleTime time.Time) (Estimate, bool, error) {
	now := e.now()
	samples, err := sales.ListSamples(ctx, domain.SampleQuery{
		Name:     key.From,
		Currency: key.To,
		League:   key.League,
		Since:    now.Add(-e.relevance),
	})
	if err != nil {
		return Estimate{}, false, fmt.Errorf("pricing: list samples for %s/%s: %w", key.From, key.To, err)
	}
	est, ok := WeightedEstimate(samples, saleTime, e.scale)
	return est, ok, nil
}
