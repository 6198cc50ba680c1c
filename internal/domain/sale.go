package domain

import "time"

// Sale is the priced view of one item. There is at most one sale per item.
type Sale struct {
	ID              int64
	ItemID          int64
	ItemAPIID       string
	Name            string
	IsCurrency      bool
	SaleCurrency    string
	SaleAmount      float64
	SaleAmountChaos *float64 // nil until a conversion path exists
	ItemUpdatedAt   time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SaleSample is one observed price used by the statistics engine.
type SaleSample struct {
	Amount        float64
	ItemUpdatedAt time.Time
}

// SampleQuery selects the sales that feed a currency estimate.
type SampleQuery struct {
	Name     string
	Currency string
	League   string
	Since    time.Time // exclusive lower bound on item_updated_at
}
