package domain

import "time"

// HubCurrency is the currency every conversion is expressed in.
const HubCurrency = "Chaos Orb"

// CurrencySummary is the decaying exchange-rate estimate for selling one
// From for Mean units of To in a league.
type CurrencySummary struct {
	ID           int64
	FromCurrency string
	ToCurrency   string
	League       string
	Count        int
	Weight       float64
	Mean         float64
	StandardDev  float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PairKey identifies a summary row.
type PairKey struct {
	From   string
	To     string
	League string
}

// Key returns the unique key of the summary.
func (s CurrencySummary) Key() PairKey {
	return PairKey{From: s.FromCurrency, To: s.ToCurrency, League: s.League}
}
