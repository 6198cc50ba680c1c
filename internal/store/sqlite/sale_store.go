package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// SaleStore implements domain.SaleStore.
type SaleStore struct {
	q DBTX
}

var _ domain.SaleStore = (*SaleStore)(nil)

// NewSaleStore creates a SaleStore.
func NewSaleStore(q DBTX) *SaleStore {
	return &SaleStore{q: q}
}

const saleColumns = `id, item_id, item_api_id, name, is_currency, sale_currency, sale_amount,
	sale_amount_chaos, item_updated_at, created_at, updated_at`

// Upsert inserts or replaces the sale of s.ItemID, clearing its chaos value.
func (s *SaleStore) Upsert(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO sale (item_id, item_api_id, name, is_currency, sale_currency, sale_amount,
			sale_amount_chaos, item_updated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			item_api_id       = excluded.item_api_id,
			name              = excluded.name,
			is_currency       = excluded.is_currency,
			sale_currency     = excluded.sale_currency,
			sale_amount       = excluded.sale_amount,
			sale_amount_chaos = NULL,
			item_updated_at   = excluded.item_updated_at,
			updated_at        = excluded.updated_at
		RETURNING `+saleColumns,
		sale.ItemID, sale.ItemAPIID, sale.Name, boolInt(sale.IsCurrency), sale.SaleCurrency, sale.SaleAmount,
		toUnix(sale.ItemUpdatedAt), toUnix(sale.CreatedAt), toUnix(sale.UpdatedAt),
	)
	out, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sqlite: upsert sale for item %d: %w", sale.ItemID, err)
	}
	return out, nil
}

// SetChaosAmount stores the chaos value of a sale; nil clears it.
func (s *SaleStore) SetChaosAmount(ctx context.Context, id int64, amount *float64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE sale SET sale_amount_chaos = ? WHERE id = ?`, amount, id)
	if err != nil {
		return fmt.Errorf("sqlite: set chaos amount for sale %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: sale %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByItemAPIID returns the sale of an item by its external id.
func (s *SaleStore) GetByItemAPIID(ctx context.Context, apiID string) (domain.Sale, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sale WHERE item_api_id = ?`, apiID)
	out, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sqlite: get sale for item %q: %w", apiID, err)
	}
	return out, nil
}

// LastProcessed returns the sale with the newest item_updated_at.
func (s *SaleStore) LastProcessed(ctx context.Context) (domain.Sale, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sale ORDER BY item_updated_at DESC, id DESC LIMIT 1`)
	out, err := scanSale(row)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sqlite: last processed sale: %w", err)
	}
	return out, nil
}

// ListSamples returns the amounts and item times of the sales of one
// currency pair in a league, newer than q.Since.
func (s *SaleStore) ListSamples(ctx context.Context, q domain.SampleQuery) ([]domain.SaleSample, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT s.sale_amount, s.item_updated_at
		FROM sale s
		JOIN item i ON i.id = s.item_id
		WHERE s.name = ? AND s.sale_currency = ? AND i.league = ? AND s.item_updated_at > ?
		ORDER BY s.item_updated_at, s.id`,
		q.Name, q.Currency, q.League, toUnix(q.Since),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list samples for %s/%s: %w", q.Name, q.Currency, err)
	}
	defer rows.Close()

	var out []domain.SaleSample
	for rows.Next() {
		var (
			smp domain.SaleSample
			ts  int64
		)
		if err := rows.Scan(&smp.Amount, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan sample: %w", err)
		}
		smp.ItemUpdatedAt = fromUnix(ts)
		out = append(out, smp)
	}
	return out, rows.Err()
}

func scanSale(row *sql.Row) (domain.Sale, error) {
	var (
		s                           domain.Sale
		chaos                       sql.NullFloat64
		itemUpdated, created, updat int64
	)
	err := row.Scan(&s.ID, &s.ItemID, &s.ItemAPIID, &s.Name, &s.IsCurrency, &s.SaleCurrency, &s.SaleAmount,
		&chaos, &itemUpdated, &created, &updat)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sale{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}
	if chaos.Valid {
		v := chaos.Float64
		s.SaleAmountChaos = &v
	}
	s.ItemUpdatedAt = fromUnix(itemUpdated)
	s.CreatedAt = fromUnix(created)
	s.UpdatedAt = fromUnix(updat)
	return s, nil
}
