package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/store/sqlite"
)

const testLeague = "Standard"

type testEnv struct {
	t    *testing.T
	db   *sqlite.DB
	repo *sqlite.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.MemoryPath, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &testEnv{t: t, db: db, repo: sqlite.NewRepository(db)}
}

// addItem stores item inside stash, filling timestamps from updated.
func (e *testEnv) addItem(stash domain.Stash, item domain.Item, updated time.Time) int64 {
	e.t.Helper()
	ctx := context.Background()
	stash.CreatedAt, stash.UpdatedAt = updated, updated
	stashID, err := e.repo.Items().UpsertStash(ctx, stash)
	require.NoError(e.t, err)

	item.StashID = stashID
	item.Active = true
	if item.League == "" {
		item.League = testLeague
	}
	item.CreatedAt, item.UpdatedAt = updated, updated
	id, err := e.repo.Items().UpsertItem(ctx, item)
	require.NoError(e.t, err)
	return id
}

// currencySale stores a currency item and a sale of it.
func (e *testEnv) currencySale(apiID, name, currency string, amount float64, at time.Time) {
	e.t.Helper()
	id := e.addItem(domain.Stash{APIID: "stash-" + apiID, Public: true},
		domain.Item{APIID: apiID, TypeLine: name, Category: domain.CategoryCurrency}, at)
	_, err := e.repo.Sales().Upsert(context.Background(), domain.Sale{
		ItemID: id, ItemAPIID: apiID, Name: name, IsCurrency: true,
		SaleCurrency: currency, SaleAmount: amount, ItemUpdatedAt: at, CreatedAt: at, UpdatedAt: at,
	})
	require.NoError(e.t, err)
}

func (e *testEnv) summary(from, to string, count int, weight, mean float64, at time.Time) {
	e.t.Helper()
	require.NoError(e.t, e.repo.Summaries().Upsert(context.Background(), domain.CurrencySummary{
		FromCurrency: from, ToCurrency: to, League: testLeague,
		Count: count, Weight: weight, Mean: mean, CreatedAt: at, UpdatedAt: at,
	}))
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type fakeRates struct {
	set []domain.CurrencySummary
}

func (r *fakeRates) SetRate(_ context.Context, s domain.CurrencySummary) error {
	r.set = append(r.set, s)
	return nil
}

func (r *fakeRates) GetRates(context.Context, string) ([]domain.CurrencySummary, error) {
	return r.set, nil
}

type fakeLocks struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}
