package pricing

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

var now = time.Date(2018, 3, 10, 12, 0, 0, 0, time.UTC)

func sample(amount float64, age time.Duration) domain.SaleSample {
	return domain.SaleSample{Amount: amount, ItemUpdatedAt: now.Add(-age)}
}

func TestWeightedEstimateEmpty(t *testing.T) {
	_, ok := WeightedEstimate(nil, now, DefaultWeightScale)
	assert.False(t, ok)
}

func TestWeightedEstimateSingle(t *testing.T) {
	est, ok := WeightedEstimate([]domain.SaleSample{sample(42, 6*time.Hour)}, now, DefaultWeightScale)
	require.True(t, ok)
	assert.Equal(t, 1, est.Count)
	assert.InDelta(t, 2.0, est.Weight, 1e-9)
	assert.InDelta(t, 42.0, est.Mean, 1e-9)
	assert.Zero(t, est.StandardDev)
}

func TestWeightedEstimateFavoursRecentSales(t *testing.T) {
	est, ok := WeightedEstimate([]domain.SaleSample{
		sample(10, 12*time.Hour),
		sample(20, 6*time.Hour),
	}, now, DefaultWeightScale)
	require.True(t, ok)
	assert.Equal(t, 2, est.Count)
	assert.InDelta(t, 3.0, est.Weight, 1e-9)
	assert.InDelta(t, 50.0/3, est.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(200.0/9), est.StandardDev, 1e-9)
}

func TestWeightedEstimateClampsAge(t *testing.T) {
	est, ok := WeightedEstimate([]domain.SaleSample{sample(1, 0), sample(1, -time.Hour)}, now, DefaultWeightScale)
	require.True(t, ok)
	assert.InDelta(t, 2*43200.0, est.Weight, 1e-9)
}

func TestWeightedEstimateDropsOutliers(t *testing.T) {
	samples := []domain.SaleSample{
		sample(10, time.Hour),
		sample(10, time.Hour),
		sample(10, time.Hour),
		sample(10, time.Hour),
		sample(1000, 10*time.Hour),
	}
	est, ok := WeightedEstimate(samples, now, DefaultWeightScale)
	require.True(t, ok)
	assert.Equal(t, 4, est.Count)
	assert.InDelta(t, 48.0, est.Weight, 1e-9)
	assert.InDelta(t, 10.0, est.Mean, 1e-9)
	assert.Zero(t, est.StandardDev)
}

func TestWeightedEstimateKeepsSmallSets(t *testing.T) {
	est, ok := WeightedEstimate([]domain.SaleSample{
		sample(1, time.Hour),
		sample(1, time.Hour),
		sample(100, time.Hour),
	}, now, DefaultWeightScale)
	require.True(t, ok)
	assert.Equal(t, 3, est.Count)
	assert.InDelta(t, 34.0, est.Mean, 1e-9)
}

func TestEstimatorUsesRelevanceWindow(t *testing.T) {
	env := newTestEnv(t)
	env.currencySale("old", "Exalted Orb", "Chaos Orb", 200, now.Add(-16*24*time.Hour))
	env.currencySale("new", "Exalted Orb", "Chaos Orb", 80, now.Add(-12*time.Hour))

	e := NewEstimator(0, 0, func() time.Time { return now })
	est, ok, err := e.Estimate(context.Background(), env.repo.Sales(),
		domain.PairKey{From: "Exalted Orb", To: "Chaos Orb", League: testLeague}, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, est.Count)
	assert.InDelta(t, 80.0, est.Mean, 1e-9)

	_, ok, err = e.Estimate(context.Background(), env.repo.Sales(),
		domain.PairKey{From: "Exalted Orb", To: "Chaos Orb", League: "Hardcore"}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWeightedEstimateWeighsAgainstSaleTime(t *testing.T) {
	saleTime := now.Add(-5 * 24 * time.Hour)
	samples := []domain.SaleSample{
		{Amount: 100, ItemUpdatedAt: saleTime.Add(-12 * time.Hour)},
		{Amount: 200, ItemUpdatedAt: saleTime},
		{Amount: 300, ItemUpdatedAt: saleTime.Add(time.Hour)},
	}

	est, ok := WeightedEstimate(samples, saleTime, DefaultWeightScale)
	require.True(t, ok)
	assert.Equal(t, 3, est.Count)
	assert.InDelta(t, 1+2*43200.0, est.Weight, 1e-6)
	assert.InDelta(t, (100+200*43200.0+300*43200.0)/(1+2*43200.0), est.Mean, 1e-9)
}

func TestEstimatorIgnoresClockForWeights(t *testing.T) {
	env := newTestEnv(t)
	saleTime := now.Add(-5 * 24 * time.Hour)
	env.currencySale("a", "Exalted Orb", domain.HubCurrency, 100, saleTime.Add(-12*time.Hour))
	env.currencySale("b", "Exalted Orb", domain.HubCurrency, 200, saleTime)
	key := domain.PairKey{From: "Exalted Orb", To: domain.HubCurrency, League: testLeague}

	var means []float64
	for _, clock := range []time.Time{saleTime, now} {
		e := NewEstimator(0, 0, func() time.Time { return clock })
		est, ok, err := e.Estimate(context.Background(), env.repo.Sales(), key, saleTime)
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, 43201.0, est.Weight, 1e-6)
		means = append(means, est.Mean)
	}
	assert.InDelta(t, (100+200*43200.0)/43201, means[0], 1e-9)
	assert.Equal(t, means[0], means[1])
}
