package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository groups the SQLite stores. A repository returned to an InTx
// callback is bound to that transaction.
type Repository struct {
	db *sql.DB
	q  DBTX
	tx *sql.Tx
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository creates a Repository on db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.sql, q: db.sql}
}

func (r *Repository) Sales() domain.SaleStore        { return NewSaleStore(r.q) }
func (r *Repository) Summaries() domain.SummaryStore { return NewSummaryStore(r.q) }
func (r *Repository) Items() domain.ItemStore        { return NewItemStore(r.q) }
func (r *Repository) Cursors() domain.CursorStore    { return NewCursorStore(r.q) }

// InTx runs fn in a transaction, committing when it returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(&Repository{db: r.db, q: tx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
