package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poefixer/internal/cache/redis"
	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/metrics"
	"github.com/alanyoungcy/poefixer/internal/pricing"
	"github.com/alanyoungcy/poefixer/internal/server/handler"
	"github.com/alanyoungcy/poefixer/internal/store/sqlite"
)

const league = "Standard"

var seeded = time.Date(2018, 3, 10, 12, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	repo  *sqlite.Repository
	cache *redis.RateCache
	bus   *redis.EventBus
	srv   *Server
}

func newFixture(t *testing.T, cfg Config, withCache bool) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.MemoryPath, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewRepository(db)

	f := &fixture{repo: repo}
	var cache domain.RateCache
	var bus domain.EventBus
	var limiter *redis.RateLimiter
	if withCache {
		mr := miniredis.RunT(t)
		c, err := redis.Wrap(ctx, goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		f.cache = redis.NewRateCache(c)
		cache = f.cache
		limiter = redis.NewRateLimiter(c)
		f.bus = redis.NewEventBus(c)
		bus = f.bus
	}

	checks := map[string]handler.Check{"db": db.Ping}
	handlers := Handlers{
		Health: handler.NewHealthHandler(checks, quiet()),
		Rates:  handler.NewRatesHandler(repo, cache, pricing.NewResolver(), quiet()),
		Sales:  handler.NewSalesHandler(repo.Sales(), quiet()),
		Events: handler.NewEventsHandler(bus, quiet()),
	}
	if limiter != nil {
		f.srv = NewServer(cfg, handlers, limiter, metrics.New(), quiet())
	} else {
		f.srv = NewServer(cfg, handlers, nil, metrics.New(), quiet())
	}
	return f
}

func (f *fixture) summary(t *testing.T, from, to string, mean, weight float64) {
	t.Helper()
	require.NoError(t, f.repo.Summaries().Upsert(context.Background(), domain.CurrencySummary{
		FromCurrency: from, ToCurrency: to, League: league,
		Count: 5, Weight: weight, Mean: mean, CreatedAt: seeded, UpdatedAt: seeded,
	}))
}

func (f *fixture) get(t *testing.T, target string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, false)
	rec, body := f.get(t, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthReportsFailedCheck(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, quiet())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRatesFromStore(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.summary(t, "Exalted Orb", domain.HubCurrency, 80, 10)
	f.summary(t, "Orb of Fusing", domain.HubCurrency, 0.5, 20)
	f.summary(t, "Chaos Orb", "Exalted Orb", 0.0125, 10)

	rec, body := f.get(t, "/api/rates/Standard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "store", body["source"])
	rates := body["rates"].([]any)
	require.Len(t, rates, 2)
	assert.Equal(t, "Orb of Fusing", rates[0].(map[string]any)["currency"])

	rec, _ = f.get(t, "/api/rates/Hardcore", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRatesPreferCache(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.summary(t, "Exalted Orb", domain.HubCurrency, 80, 10)
	require.NoError(t, f.cache.SetRate(context.Background(), domain.CurrencySummary{
		FromCurrency: "Exalted Orb", ToCurrency: domain.HubCurrency, League: league,
		Count: 6, Weight: 11, Mean: 82, UpdatedAt: seeded,
	}))

	rec, body := f.get(t, "/api/rates/Standard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", body["source"])
	assert.EqualValues(t, 82, body["rates"].([]any)[0].(map[string]any)["mean"])
}

func TestConvert(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.summary(t, "Exalted Orb", domain.HubCurrency, 80, 10)

	rec, body := f.get(t, "/api/convert?league=Standard&currency=exa&amount=2.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Exalted Orb", body["currency"])
	assert.EqualValues(t, 80, body["rate"])
	assert.EqualValues(t, 200, body["value"])
	assert.Equal(t, []any{"Exalted Orb", domain.HubCurrency}, body["path"])
	assert.EqualValues(t, 10, body["score"])

	rec, body = f.get(t, "/api/convert?league=Standard&currency=c", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["value"])
	assert.NotContains(t, body, "score")

	rec, _ = f.get(t, "/api/convert?league=Standard&currency=mirror", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.get(t, "/api/convert?league=Standard&currency=exa&amount=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.get(t, "/api/convert?currency=exa", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSale(t *testing.T) {
	f := newFixture(t, Config{}, false)
	ctx := context.Background()
	stashID, err := f.repo.Items().UpsertStash(ctx, domain.Stash{APIID: "s1", Public: true, CreatedAt: seeded, UpdatedAt: seeded})
	require.NoError(t, err)
	itemID, err := f.repo.Items().UpsertItem(ctx, domain.Item{
		APIID: "item-1", StashID: stashID, TypeLine: "Vaal Gauntlets", League: league,
		Active: true, CreatedAt: seeded, UpdatedAt: seeded,
	})
	require.NoError(t, err)
	sale, err := f.repo.Sales().Upsert(ctx, domain.Sale{
		ItemID: itemID, ItemAPIID: "item-1", Name: "Vaal Gauntlets",
		SaleCurrency: "Exalted Orb", SaleAmount: 2, ItemUpdatedAt: seeded, CreatedAt: seeded, UpdatedAt: seeded,
	})
	require.NoError(t, err)
	chaos := 160.0
	require.NoError(t, f.repo.Sales().SetChaosAmount(ctx, sale.ID, &chaos))

	rec, body := f.get(t, "/api/sales/item-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Exalted Orb", body["sale_currency"])
	assert.EqualValues(t, 160, body["sale_amount_chaos"])

	rec, _ = f.get(t, "/api/sales/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthLeavesHealthAndMetricsOpen(t *testing.T) {
	f := newFixture(t, Config{APIKey: "k"}, false)

	rec, _ := f.get(t, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec, _ = f.get(t, "/api/rates/Standard", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = f.get(t, "/api/rates/Standard", map[string]string{"Authorization": "Bearer k"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = f.get(t, "/api/rates/Standard", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://poe.example"}}, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/rates/Standard", nil)
	req.Header.Set("Origin", "https://poe.example")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://poe.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://other.example")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute}, true)
	for i := 0; i < 2; i++ {
		rec, _ := f.get(t, "/api/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := f.get(t, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestEventsStreamsSummaries(t *testing.T) {
	f := newFixture(t, Config{}, true)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?channel=summaries", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.NoError(t, f.bus.Publish(ctx, domain.ChannelPasses, []byte(`{"event":"pass_complete"}`)))
	require.NoError(t, f.bus.Publish(ctx, domain.ChannelSummaries, []byte(`{"event":"summary_updated"}`)))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"event\":\"summary_updated\"}\n", line)
}

func TestEventsWithoutBus(t *testing.T) {
	f := newFixture(t, Config{}, false)
	rec, body := f.get(t, "/api/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestEventsRejectsUnknownChannel(t *testing.T) {
	f := newFixture(t, Config{}, true)
	rec, _ := f.get(t, "/api/events?channel=orders", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
