package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

var exaChaos = domain.PairKey{From: "Exalted Orb", To: domain.HubCurrency, League: testLeague}

func newUpdater(recent time.Duration, rates domain.RateCache, bus domain.EventBus) *SummaryUpdater {
	clock := func() time.Time { return now }
	return NewSummaryUpdater(NewEstimator(0, 0, clock), recent, rates, bus, clock, discardLogger())
}

func TestUpdateWithoutSamplesWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	written, err := newUpdater(DefaultRecentWindow, nil, nil).Update(context.Background(), env.repo, exaChaos, now)
	require.NoError(t, err)
	assert.False(t, written)

	_, err = env.repo.Summaries().Get(context.Background(), exaChaos)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateWritesAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.currencySale("a", "Exalted Orb", domain.HubCurrency, 80, now.Add(-12*time.Hour))
	env.currencySale("b", "Exalted Orb", domain.HubCurrency, 90, now.Add(-12*time.Hour))

	rates := &fakeRates{}
	bus := &fakeBus{}
	written, err := newUpdater(DefaultRecentWindow, rates, bus).Update(context.Background(), env.repo, exaChaos, now)
	require.NoError(t, err)
	require.True(t, written)

	got, err := env.repo.Summaries().Get(context.Background(), exaChaos)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.InDelta(t, 85.0, got.Mean, 1e-9)
	assert.InDelta(t, 5.0, got.StandardDev, 1e-9)
	assert.InDelta(t, 2.0, got.Weight, 1e-9)
	assert.Equal(t, now, got.CreatedAt)
	assert.Equal(t, now, got.UpdatedAt)

	require.Len(t, rates.set, 1)
	assert.Equal(t, "Exalted Orb", rates.set[0].FromCurrency)
	assert.Equal(t, 1, bus.count(domain.ChannelSummaries))
}

func TestUpdateOnlyCachesHubRates(t *testing.T) {
	env := newTestEnv(t)
	env.currencySale("a", "Exalted Orb", "Orb of Fusing", 160, now.Add(-time.Hour))

	rates := &fakeRates{}
	key := domain.PairKey{From: "Exalted Orb", To: "Orb of Fusing", League: testLeague}
	written, err := newUpdater(DefaultRecentWindow, rates, nil).Update(context.Background(), env.repo, key, now)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Empty(t, rates.set)
}

func TestUpdateStaleness(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		age     time.Duration
		recent  time.Duration
		written bool
	}{
		{"fresh and well sampled", 10, time.Minute, DefaultRecentWindow, false},
		{"fresh but few samples", 9, time.Minute, DefaultRecentWindow, true},
		{"well sampled but old", 50, time.Hour, DefaultRecentWindow, true},
		{"cache disabled", 50, time.Minute, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.currencySale("a", "Exalted Orb", domain.HubCurrency, 80, now.Add(-time.Hour))
			created := now.Add(-48 * time.Hour)
			env.summary("Exalted Orb", domain.HubCurrency, tt.count, 1, 70, created)
			require.NoError(t, env.repo.Summaries().Upsert(context.Background(), domain.CurrencySummary{
				FromCurrency: "Exalted Orb", ToCurrency: domain.HubCurrency, League: testLeague,
				Count: tt.count, Weight: 1, Mean: 70, UpdatedAt: now.Add(-tt.age),
			}))

			written, err := newUpdater(tt.recent, nil, nil).Update(context.Background(), env.repo, exaChaos, now)
			require.NoError(t, err)
			assert.Equal(t, tt.written, written)

			got, err := env.repo.Summaries().Get(context.Background(), exaChaos)
			require.NoError(t, err)
			assert.Equal(t, created, got.CreatedAt)
			if tt.written {
				assert.InDelta(t, 80.0, got.Mean, 1e-9)
				assert.Equal(t, 1, got.Count)
			} else {
				assert.InDelta(t, 70.0, got.Mean, 1e-9)
			}
		})
	}
}
