package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// SummaryStore implements domain.SummaryStore.
type SummaryStore struct {
	q DBTX
}

var _ domain.SummaryStore = (*SummaryStore)(nil)

// NewSummaryStore creates a SummaryStore.
func NewSummaryStore(q DBTX) *SummaryStore {
	return &SummaryStore{q: q}
}

const summaryColumns = `id, from_currency, to_currency, league, count, weight, mean, standard_dev,
	created_at, updated_at`

// Get returns the summary for key.
func (s *SummaryStore) Get(ctx context.Context, key domain.PairKey) (domain.CurrencySummary, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM currency_summary
		WHERE from_currency = ? AND to_currency = ? AND league = ?`,
		key.From, key.To, key.League)
	var out domain.CurrencySummary
	err := scanSummary(row.Scan, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CurrencySummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CurrencySummary{}, fmt.Errorf("sqlite: get summary %s/%s: %w", key.From, key.To, err)
	}
	return out, nil
}

// Upsert inserts the summary or overwrites its statistics.
func (s *SummaryStore) Upsert(ctx context.Context, sum domain.CurrencySummary) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO currency_summary (from_currency, to_currency, league, count, weight, mean,
			standard_dev, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency, league) DO UPDATE SET
			count        = excluded.count,
			weight       = excluded.weight,
			mean         = excluded.mean,
			standard_dev = excluded.standard_dev,
			updated_at   = excluded.updated_at`,
		sum.FromCurrency, sum.ToCurrency, sum.League, sum.Count, sum.Weight, sum.Mean,
		sum.StandardDev, toUnix(sum.CreatedAt), toUnix(sum.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert summary %s/%s: %w", sum.FromCurrency, sum.ToCurrency, err)
	}
	return nil
}

// ListFrom returns the summaries selling from in league, heaviest first.
func (s *SummaryStore) ListFrom(ctx context.Context, from, league string) ([]domain.CurrencySummary, error) {
	return s.list(ctx, `from_currency = ? AND league = ?`, from, league)
}

// ListTo returns the summaries buying to in league, heaviest first.
func (s *SummaryStore) ListTo(ctx context.Context, to, league string) ([]domain.CurrencySummary, error) {
	return s.list(ctx, `to_currency = ? AND league = ?`, to, league)
}

func (s *SummaryStore) list(ctx context.Context, where string, args ...any) ([]domain.CurrencySummary, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+summaryColumns+` FROM currency_summary
		WHERE `+where+` ORDER BY weight DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.CurrencySummary
	for rows.Next() {
		var sum domain.CurrencySummary
		if err := scanSummary(rows.Scan, &sum); err != nil {
			return nil, fmt.Errorf("sqlite: scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// FromCurrencies returns the distinct currencies that have been sold.
func (s *SummaryStore) FromCurrencies(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT from_currency FROM currency_summary ORDER BY from_currency`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list currency names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan currency name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func scanSummary(scan func(dest ...any) error, s *domain.CurrencySummary) error {
	var created, updated int64
	if err := scan(&s.ID, &s.FromCurrency, &s.ToCurrency, &s.League, &s.Count, &s.Weight, &s.Mean,
		&s.StandardDev, &created, &updated); err != nil {
		return err
	}
	s.CreatedAt = fromUnix(created)
	s.UpdatedAt = fromUnix(updated)
	return nil
}
