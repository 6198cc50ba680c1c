package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/poefixer/internal/domain"
	"github.com/alanyoungcy/poefixer/internal/pricing"
)

// RatesHandler serves hub exchange rates and conversions.
type RatesHandler struct {
	repo     domain.Repository
	cache    domain.RateCache
	resolver *pricing.Resolver
	lexicon  *pricing.Lexicon
	logger   *slog.Logger
}

// NewRatesHandler creates a RatesHandler. cache is optional.
func NewRatesHandler(repo domain.Repository, cache domain.RateCache, resolver *pricing.Resolver, logger *slog.Logger) *RatesHandler {
	return &RatesHandler{
		repo:     repo,
		cache:    cache,
		resolver: resolver,
		lexicon:  pricing.NewLexicon(nil),
		logger:   logger.With(slog.String("handler", "rates")),
	}
}

type rateView struct {
	Currency    string  `json:"currency"`
	Mean        float64 `json:"mean"`
	StandardDev float64 `json:"standard_dev"`
	Count       int     `json:"count"`
	Weight      float64 `json:"weight"`
	UpdatedAt   int64   `json:"updated_at"`
}

// ListRates returns every summary into the hub currency for a league,
// heaviest first.
// GET /api/rates/{league}
func (h *RatesHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	league := r.PathValue("league")
	ctx := r.Context()

	source := "cache"
	var rows []domain.CurrencySummary
	if h.cache != nil {
		cached, err := h.cache.GetRates(ctx, league)
		switch {
		case err == nil:
			rows = cached
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.WarnContext(ctx, "rate cache read failed", slog.String("error", err.Error()))
		}
	}
	if len(rows) == 0 {
		source = "store"
		stored, err := h.repo.Summaries().ListTo(ctx, domain.HubCurrency, league)
		if err != nil {
			internalError(w, r, h.logger, err)
			return
		}
		rows = stored
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no rates for league "+league)
		return
	}

	views := make([]rateView, 0, len(rows))
	for _, s := range rows {
		views = append(views, rateView{
			Currency:    s.FromCurrency,
			Mean:        s.Mean,
			StandardDev: s.StandardDev,
			Count:       s.Count,
			Weight:      s.Weight,
			UpdatedAt:   unixOrZero(s.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"league": league,
		"hub":    domain.HubCurrency,
		"source": source,
		"rates":  views,
	})
}

// Convert values an amount of a currency in the hub currency. The currency
// may be given by name or by a known abbreviation.
// GET /api/convert?league=&currency=&amount=
func (h *RatesHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	league, currency := q.Get("league"), q.Get("currency")
	if league == "" || currency == "" {
		writeError(w, http.StatusBadRequest, "league and currency are required")
		return
	}
	if name, ok := h.lexicon.Lookup(currency); ok {
		currency = name
	}

	amount := 1.0
	if v := q.Get("amount"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
			writeError(w, http.StatusBadRequest, "amount must be a positive number")
			return
		}
		amount = n
	}

	conv, ok, err := h.resolver.Rate(r.Context(), h.repo.Summaries(), currency, league)
	if err != nil {
		internalError(w, r, h.logger, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no conversion for "+currency)
		return
	}

	body := map[string]any{
		"league":   league,
		"currency": currency,
		"amount":   amount,
		"hub":      domain.HubCurrency,
		"rate":     conv.Rate,
		"value":    conv.Rate * amount,
		"path":     conv.Path,
	}
	if !math.IsInf(conv.Score, 0) {
		body["score"] = conv.Score
	}
	writeJSON(w, http.StatusOK, body)
}
