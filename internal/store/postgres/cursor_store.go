package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	q Querier
}

var _ domain.CursorStore = (*CursorStore)(nil)

// NewCursorStore creates a new CursorStore.
func NewCursorStore(q Querier) *CursorStore {
	return &CursorStore{q: q}
}

func (s *CursorStore) GetChangeID(ctx context.Context) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, `SELECT change_id FROM ingest_cursor WHERE id = 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get change id: %w", err)
	}
	return id, nil
}

func (s *CursorStore) SetChangeID(ctx context.Context, changeID string) error {
	if _, err := s.q.Exec(ctx, `
		INSERT INTO ingest_cursor (id, change_id) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET change_id = EXCLUDED.change_id`, changeID); err != nil {
		return fmt.Errorf("postgres: set change id: %w", err)
	}
	return nil
}
