package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// SaleStore implements domain.SaleStore using PostgreSQL.
type SaleStore struct {
	q Querier
}

var _ domain.SaleStore = (*SaleStore)(nil)

// NewSaleStore creates a new SaleStore.
func NewSaleStore(q Querier) *SaleStore {
	return &SaleStore{q: q}
}

const saleColumns = `id, item_id, item_api_id, name, is_currency, sale_currency, sale_amount,
	sale_amount_chaos, item_updated_at, created_at, updated_at`

// Upsert inserts or replaces the sale of an item. The chaos amount is
// cleared until the caller resolves it again.
func (s *SaleStore) Upsert(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO sale (item_id, item_api_id, name, is_currency, sale_currency, sale_amount,
			sale_amount_chaos, item_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $9)
		ON CONFLICT (item_id) DO UPDATE SET
			item_api_id       = EXCLUDED.item_api_id,
			name              = EXCLUDED.name,
			is_currency       = EXCLUDED.is_currency,
			sale_currency     = EXCLUDED.sale_currency,
			sale_amount       = EXCLUDED.sale_amount,
			sale_amount_chaos = NULL,
			item_updated_at   = EXCLUDED.item_updated_at,
			updated_at        = EXCLUDED.updated_at
		RETURNING `+saleColumns,
		sale.ItemID, sale.ItemAPIID, sale.Name, sale.IsCurrency, sale.SaleCurrency, sale.SaleAmount,
		toUnix(sale.ItemUpdatedAt), toUnix(sale.CreatedAt), toUnix(sale.UpdatedAt),
	)
	out, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("postgres: upsert sale for item %d: %w", sale.ItemID, err)
	}
	return out, nil
}

// SetChaosAmount stores the chaos value of a sale; nil clears it.
func (s *SaleStore) SetChaosAmount(ctx context.Context, id int64, amount *float64) error {
	tag, err := s.q.Exec(ctx, `UPDATE sale SET sale_amount_chaos = $1 WHERE id = $2`, amount, id)
	if err != nil {
		return fmt.Errorf("postgres: set chaos amount for sale %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: sale %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByItemAPIID returns the sale of an item by its external id.
func (s *SaleStore) GetByItemAPIID(ctx context.Context, apiID string) (domain.Sale, error) {
	out, err := scanSale(s.q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sale WHERE item_api_id = $1`, apiID))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("postgres: get sale for item %q: %w", apiID, err)
	}
	return out, nil
}

// LastProcessed returns the sale with the newest item_updated_at.
func (s *SaleStore) LastProcessed(ctx context.Context) (domain.Sale, error) {
	out, err := scanSale(s.q.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sale ORDER BY item_updated_at DESC, id DESC LIMIT 1`))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("postgres: last processed sale: %w", err)
	}
	return out, nil
}

// ListSamples returns the sales of one currency pair in a league newer than
// q.Since.
func (s *SaleStore) ListSamples(ctx context.Context, q domain.SampleQuery) ([]domain.SaleSample, error) {
	rows, err := s.q.Query(ctx, `
		SELECT s.sale_amount, s.item_updated_at
		FROM sale s
		JOIN item i ON i.id = s.item_id
		WHERE s.name = $1 AND s.sale_currency = $2 AND i.league = $3 AND s.item_updated_at > $4
		ORDER BY s.item_updated_at, s.id`,
		q.Name, q.Currency, q.League, toUnix(q.Since),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples for %s/%s: %w", q.Name, q.Currency, err)
	}
	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SaleSample, error) {
		var (
			smp domain.SaleSample
			ts  int64
		)
		err := row.Scan(&smp.Amount, &ts)
		smp.ItemUpdatedAt = fromUnix(ts)
		return smp, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan samples: %w", err)
	}
	return samples, nil
}

func scanSale(row pgx.Row) (domain.Sale, error) {
	var (
		s                              domain.Sale
		itemUpdated, created, updated int64
	)
	err := row.Scan(&s.ID, &s.ItemID, &s.ItemAPIID, &s.Name, &s.IsCurrency, &s.SaleCurrency, &s.SaleAmount,
		&s.SaleAmountChaos, &itemUpdated, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sale{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}
	s.ItemUpdatedAt = fromUnix(itemUpdated)
	s.CreatedAt = fromUnix(created)
	s.UpdatedAt = fromUnix(updated)
	return s, nil
}
