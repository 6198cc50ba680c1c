package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// CursorStore implements domain.CursorStore.
type CursorStore struct {
	q DBTX
}

var _ domain.CursorStore = (*CursorStore)(nil)

// NewCursorStore creates a CursorStore.
func NewCursorStore(q DBTX) *CursorStore {
	return &CursorStore{q: q}
}

// GetChangeID returns the stored change id, or domain.ErrNotFound.
func (s *CursorStore) GetChangeID(ctx context.Context) (string, error) {
	var id string
	err := s.q.QueryRowContext(ctx, `SELECT change_id FROM ingest_cursor WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get change id: %w", err)
	}
	return id, nil
}

// SetChangeID stores the change id to resume ingestion from.
func (s *CursorStore) SetChangeID(ctx context.Context, changeID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ingest_cursor (id, change_id) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET change_id = excluded.change_id`, changeID)
	if err != nil {
		return fmt.Errorf("sqlite: set change id: %w", err)
	}
	return nil
}
