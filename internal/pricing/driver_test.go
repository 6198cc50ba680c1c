package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

var base = now.Add(-2 * time.Hour)

// seedMarket stores a small market: two exalted orbs priced in chaos, a
// unique priced by its stash, a ring priced in exalted orbs, a few rows that
// must not produce sales and a ring priced in a currency with no rate.
func seedMarket(env *testEnv) {
	public := func(id, note string) domain.Stash {
		return domain.Stash{APIID: id, Note: note, Public: true, StashType: "PremiumStash"}
	}
	env.addItem(public("s1", ""),
		domain.Item{APIID: "exa1", TypeLine: "Exalted Orb", Category: domain.CategoryCurrency, Note: "~b/o 80 chaos"}, base)
	env.addItem(public("s2", ""),
		domain.Item{APIID: "exa2", TypeLine: "Exalted Orb", Category: domain.CategoryCurrency, Note: "~b/o 90 chaos"}, base.Add(time.Minute))
	env.addItem(public("s3", "~price 10 chaos"),
		domain.Item{APIID: "robe", Name: "Tabula Rasa", TypeLine: "Simple Robe", Category: "armour"}, base.Add(2*time.Minute))
	env.addItem(public("s3", "~price 10 chaos"),
		domain.Item{APIID: "ring", Name: "Dusk Loop", TypeLine: "Gold Ring", Category: "accessories", Note: "~price 2 exa"}, base.Add(3*time.Minute))
	env.addItem(public("s4", ""),
		domain.Item{APIID: "plain", TypeLine: "Gold Ring", Category: "accessories"}, base.Add(4*time.Minute))
	env.addItem(public("s4", ""),
		domain.Item{APIID: "free", TypeLine: "Gold Ring", Category: "accessories", Note: "~price 0 chaos"}, base.Add(5*time.Minute))
	env.addItem(domain.Stash{APIID: "private", Note: "~price 5 chaos"},
		domain.Item{APIID: "hidden", TypeLine: "Gold Ring", Category: "accessories"}, base.Add(5*time.Minute))
	env.addItem(public("s5", ""),
		domain.Item{APIID: "fused", TypeLine: "Coral Ring", Category: "accessories", Note: "~price 3 fuse"}, base.Add(6*time.Minute))
}

func newTestDriver(env *testEnv, cfg Config, locks domain.LockManager, bus domain.EventBus, n domain.Notifier) *Driver {
	clock := func() time.Time { return now }
	cfg.Now = clock
	updater := NewSummaryUpdater(NewEstimator(0, 0, clock), DefaultRecentWindow, nil, bus, clock, discardLogger())
	return NewDriver(env.repo, updater, NewResolver(), locks, bus, n, nil, cfg, discardLogger())
}

func (e *testEnv) saleCount() int {
	e.t.Helper()
	var n int
	require.NoError(e.t, e.db.SQL().QueryRow(`SELECT COUNT(*) FROM sale`).Scan(&n))
	return n
}

func (e *testEnv) sale(apiID string) domain.Sale {
	e.t.Helper()
	s, err := e.repo.Sales().GetByItemAPIID(context.Background(), apiID)
	require.NoError(e.t, err)
	return s
}

func TestRunPassPricesMarket(t *testing.T) {
	for _, batch := range []int{1000, 2, 1} {
		env := newTestEnv(t)
		seedMarket(env)

		res, err := newTestDriver(env, Config{BatchSize: batch}, nil, nil, nil).RunPass(context.Background(), time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 7, res.Rows, "batch %d", batch)
		assert.Equal(t, 5, res.Sales, "batch %d", batch)
		assert.Equal(t, 4, res.Priced, "batch %d", batch)
		assert.Equal(t, 2, res.Summaries, "batch %d", batch)
		assert.Equal(t, 5, env.saleCount())

		robe := env.sale("robe")
		assert.Equal(t, "Tabula Rasa Simple Robe", robe.Name)
		assert.False(t, robe.IsCurrency)
		assert.Equal(t, domain.HubCurrency, robe.SaleCurrency)
		require.NotNil(t, robe.SaleAmountChaos)
		assert.InDelta(t, 10.0, *robe.SaleAmountChaos, 1e-9)

		exa := env.sale("exa1")
		assert.Equal(t, "Exalted Orb", exa.Name)
		assert.True(t, exa.IsCurrency)
		require.NotNil(t, exa.SaleAmountChaos)
		assert.InDelta(t, 80.0, *exa.SaleAmountChaos, 1e-9)

		// The summary was last computed while pricing exa2.
		want, _ := WeightedEstimate([]domain.SaleSample{
			{Amount: 80, ItemUpdatedAt: base},
			{Amount: 90, ItemUpdatedAt: base.Add(time.Minute)},
		}, base.Add(time.Minute), DefaultWeightScale)
		ring := env.sale("ring")
		assert.Equal(t, "Exalted Orb", ring.SaleCurrency)
		assert.Equal(t, 2.0, ring.SaleAmount)
		require.NotNil(t, ring.SaleAmountChaos)
		assert.InDelta(t, 2*want.Mean, *ring.SaleAmountChaos, 1e-9)

		fused := env.sale("fused")
		assert.Equal(t, "Orb of Fusing", fused.SaleCurrency)
		assert.Nil(t, fused.SaleAmountChaos)
		assert.Equal(t, fused.ID, res.LastSaleID)

		for _, id := range []string{"plain", "free", "hidden"} {
			_, err := env.repo.Sales().GetByItemAPIID(context.Background(), id)
			assert.ErrorIs(t, err, domain.ErrNotFound, id)
		}
	}
}

func TestRunPassIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	d := newTestDriver(env, Config{}, nil, nil, nil)

	first, err := d.RunPass(context.Background(), time.Time{})
	require.NoError(t, err)
	ringBefore := env.sale("ring")

	second, err := d.RunPass(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, base.Add(6*time.Minute), second.Since)
	assert.Equal(t, 1, second.Rows)
	assert.Equal(t, first.LastSaleID, second.LastSaleID)
	assert.Zero(t, first.Spellings)
	assert.Positive(t, second.Spellings)
	assert.Equal(t, 5, env.saleCount())
	assert.Equal(t, ringBefore.SaleAmountChaos, env.sale("ring").SaleAmountChaos)
}

func TestRunPassHonoursStartTime(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	res, err := newTestDriver(env, Config{}, nil, nil, nil).RunPass(context.Background(), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 3, res.Sales)
	assert.Equal(t, 1, res.Priced)
	assert.Nil(t, env.sale("ring").SaleAmountChaos)
}

func TestRunPassLimit(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)

	res, err := newTestDriver(env, Config{BatchSize: 2, Limit: 3}, nil, nil, nil).RunPass(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 3, res.Sales)
}

func TestRunPassItemNoteWinsOverStashNote(t *testing.T) {
	env := newTestEnv(t)
	env.addItem(domain.Stash{APIID: "s", Public: true, Note: "~b/o 10 chaos"},
		domain.Item{APIID: "belt", TypeLine: "Leather Belt", Note: "~price 3 chaos"}, base)
	env.addItem(domain.Stash{APIID: "s", Public: true, Note: "~b/o 10 chaos"},
		domain.Item{APIID: "belt2", TypeLine: "Heavy Belt", Note: "~price 3 unobtainium"}, base)

	_, err := newTestDriver(env, Config{}, nil, nil, nil).RunPass(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, env.sale("belt").SaleAmount)
	assert.Equal(t, 10.0, env.sale("belt2").SaleAmount)
}

func TestRunPassLockAndEvents(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	locks := &fakeLocks{}
	bus := &fakeBus{}
	n := &fakeNotifier{}

	require.NoError(t, newTestDriver(env, Config{}, locks, bus, n).Run(context.Background()))
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
	assert.Equal(t, 1, bus.count(domain.ChannelPasses))
	assert.Equal(t, 2, bus.count(domain.ChannelSummaries))
	assert.Equal(t, []string{domain.EventPassComplete}, n.events)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	d := newTestDriver(env, Config{}, &fakeLocks{held: true}, nil, nil)

	_, err := d.RunPass(context.Background(), time.Time{})
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 0, env.saleCount())
}

func TestRunReportsFailure(t *testing.T) {
	env := newTestEnv(t)
	n := &fakeNotifier{}
	d := newTestDriver(env, Config{}, nil, nil, n)
	require.NoError(t, env.db.Close())

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{domain.EventPassFailed}, n.events)
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	seedMarket(env)
	d := newTestDriver(env, Config{Continuous: true, IdleInterval: 5 * time.Millisecond}, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, env.saleCount())
}

func TestRunPassResultDoesNotDependOnClock(t *testing.T) {
	var chaos []float64
	for _, at := range []time.Time{now, now.Add(5 * 24 * time.Hour)} {
		env := newTestEnv(t)
		seedMarket(env)
		clock := func() time.Time { return at }
		updater := NewSummaryUpdater(NewEstimator(0, 0, clock), DefaultRecentWindow, nil, nil, clock, discardLogger())
		d := NewDriver(env.repo, updater, NewResolver(), nil, nil, nil, nil, Config{Now: clock}, discardLogger())

		_, err := d.RunPass(context.Background(), time.Time{})
		require.NoError(t, err)
		ring := env.sale("ring")
		require.NotNil(t, ring.SaleAmountChaos)
		chaos = append(chaos, *ring.SaleAmountChaos)
	}
	assert.InDelta(t, chaos[0], chaos[1], 1e-9)
}
