package domain

import "context"

// SaleStore persists sales.
type SaleStore interface {
	// Upsert inserts or replaces the sale for s.ItemID and returns the stored
	// row. The chaos amount is reset; callers set it with SetChaosAmount once
	// a conversion is known.
	Upsert(ctx context.Context, s Sale) (Sale, error)
	SetChaosAmount(ctx context.Context, id int64, amount *float64) error
	GetByItemAPIID(ctx context.Context, apiID string) (Sale, error)
	// LastProcessed returns the sale with the newest item_updated_at.
	LastProcessed(ctx context.Context) (Sale, error)
	ListSamples(ctx context.Context, q SampleQuery) ([]SaleSample, error)
}

// SummaryStore persists currency summaries.
type SummaryStore interface {
	Get(ctx context.Context, key PairKey) (CurrencySummary, error)
	// Upsert writes count, weight, mean and standard deviation for the key.
	// CreatedAt is only used when the row is new.
	Upsert(ctx context.Context, s CurrencySummary) error
	// ListFrom returns every summary selling from in league, heaviest first.
	ListFrom(ctx context.Context, from, league string) ([]CurrencySummary, error)
	// ListTo returns every summary buying to in league, heaviest first.
	ListTo(ctx context.Context, to, league string) ([]CurrencySummary, error)
	// FromCurrencies returns the distinct from_currency names.
	FromCurrencies(ctx context.Context) ([]string, error)
}

// ItemStore reads pricing rows and writes ingested stash snapshots.
type ItemStore interface {
	ListPricingRows(ctx context.Context, q PageQuery) ([]PricingRow, error)
	UpsertStash(ctx context.Context, s Stash) (int64, error)
	DeactivateStashItems(ctx context.Context, stashID int64) error
	UpsertItem(ctx context.Context, it Item) (int64, error)
	// UpsertItems upserts a page of items in one round trip where the
	// backend supports it.
	UpsertItems(ctx context.Context, items []Item) error
}

// CursorStore persists the stash API change id so ingestion can resume.
type CursorStore interface {
	GetChangeID(ctx context.Context) (string, error)
	SetChangeID(ctx context.Context, changeID string) error
}

// Repository groups the stores of one database. InTx runs fn against a
// repository bound to a single transaction, committing when fn returns nil.
// Calling InTx on a transaction-bound repository reuses the transaction.
type Repository interface {
	Sales() SaleStore
	Summaries() SummaryStore
	Items() ItemStore
	Cursors() CursorStore
	InTx(ctx context.Context, fn func(tx Repository) error) error
}
