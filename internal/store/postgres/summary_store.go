package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// SummaryStore implements domain.SummaryStore using PostgreSQL.
type SummaryStore struct {
	q Querier
}

var _ domain.SummaryStore = (*SummaryStore)(nil)

// NewSummaryStore creates a new SummaryStore.
func NewSummaryStore(q Querier) *SummaryStore {
	return &SummaryStore{q: q}
}

const summaryColumns = `id, from_currency, to_currency, league, count, weight, mean, standard_dev,
	created_at, updated_at`

func (s *SummaryStore) Get(ctx context.Context, key domain.PairKey) (domain.CurrencySummary, error) {
	out, err := scanSummary(s.q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM currency_summary
		WHERE from_currency = $1 AND to_currency = $2 AND league = $3`,
		key.From, key.To, key.League))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CurrencySummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CurrencySummary{}, fmt.Errorf("postgres: get summary %s/%s: %w", key.From, key.To, err)
	}
	return out, nil
}

func (s *SummaryStore) Upsert(ctx context.Context, sum domain.CurrencySummary) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO currency_summary (from_currency, to_currency, league, count, weight, mean,
			standard_dev, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (from_currency, to_currency, league) DO UPDATE SET
			count        = EXCLUDED.count,
			weight       = EXCLUDED.weight,
			mean         = EXCLUDED.mean,
			standard_dev = EXCLUDED.standard_dev,
			updated_at   = EXCLUDED.updated_at`,
		sum.FromCurrency, sum.ToCurrency, sum.League, sum.Count, sum.Weight, sum.Mean,
		sum.StandardDev, toUnix(sum.CreatedAt), toUnix(sum.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert summary %s/%s: %w", sum.FromCurrency, sum.ToCurrency, err)
	}
	return nil
}

func (s *SummaryStore) ListFrom(ctx context.Context, from, league string) ([]domain.CurrencySummary, error) {
	return s.list(ctx, `from_currency = $1 AND league = $2`, from, league)
}

func (s *SummaryStore) ListTo(ctx context.Context, to, league string) ([]domain.CurrencySummary, error) {
	return s.list(ctx, `to_currency = $1 AND league = $2`, to, league)
}

func (s *SummaryStore) list(ctx context.Context, where string, args ...any) ([]domain.CurrencySummary, error) {
	rows, err := s.q.Query(ctx, `SELECT `+summaryColumns+` FROM currency_summary
		WHERE `+where+` ORDER BY weight DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list summaries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CurrencySummary, error) {
		return scanSummary(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan summaries: %w", err)
	}
	return out, nil
}

func (s *SummaryStore) FromCurrencies(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT from_currency FROM currency_summary ORDER BY from_currency`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list currency names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan currency names: %w", err)
	}
	return names, nil
}

func scanSummary(row pgx.Row) (domain.CurrencySummary, error) {
	var (
		s                domain.CurrencySummary
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.FromCurrency, &s.ToCurrency, &s.League, &s.Count, &s.Weight, &s.Mean,
		&s.StandardDev, &created, &updated); err != nil {
		return domain.CurrencySummary{}, err
	}
	s.CreatedAt = fromUnix(created)
	s.UpdatedAt = fromUnix(updated)
	return s, nil
}
