package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// ItemStore implements domain.ItemStore.
type ItemStore struct {
	q DBTX
}

var _ domain.ItemStore = (*ItemStore)(nil)

// NewItemStore creates an ItemStore.
func NewItemStore(q DBTX) *ItemStore {
	return &ItemStore{q: q}
}

// ListPricingRows returns active items of public stashes updated at or after
// q.Since, strictly after q.After, in (updated_at, created_at, id) order.
func (s *ItemStore) ListPricingRows(ctx context.Context, q domain.PageQuery) ([]domain.PricingRow, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT i.id, i.api_id, i.name, i.type_line, i.note, i.league, i.category,
			st.stash, st.public, i.created_at, i.updated_at
		FROM item i
		JOIN stash st ON st.id = i.stash_id
		WHERE st.public = 1 AND i.active = 1 AND i.updated_at >= ?`)
	args := []any{toUnix(q.Since)}
	if q.After != nil {
		b.WriteString(` AND (i.updated_at, i.created_at, i.id) > (?, ?, ?)`)
		args = append(args, toUnix(q.After.UpdatedAt), toUnix(q.After.CreatedAt), q.After.ID)
	}
	b.WriteString(` ORDER BY i.updated_at, i.created_at, i.id LIMIT ?`)
	args = append(args, q.Limit)

	rows, err := s.q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pricing rows: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PricingRow, 0, q.Limit)
	for rows.Next() {
		var (
			r                domain.PricingRow
			created, updated int64
		)
		if err := rows.Scan(&r.ItemID, &r.ItemAPIID, &r.Name, &r.TypeLine, &r.Note, &r.League, &r.Category,
			&r.StashNote, &r.StashPublic, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan pricing row: %w", err)
		}
		r.ItemCreatedAt = fromUnix(created)
		r.ItemUpdatedAt = fromUnix(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertStash inserts or updates a stash by external id and returns its id.
func (s *ItemStore) UpsertStash(ctx context.Context, st domain.Stash) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO stash (api_id, account_name, last_character_name, stash, stash_type, public,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (api_id) DO UPDATE SET
			account_name        = excluded.account_name,
			last_character_name = excluded.last_character_name,
			stash               = excluded.stash,
			stash_type          = excluded.stash_type,
			public              = excluded.public,
			updated_at          = excluded.updated_at
		RETURNING id`,
		st.APIID, st.AccountName, st.LastCharacterName, st.Note, st.StashType, boolInt(st.Public),
		toUnix(st.CreatedAt), toUnix(st.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert stash %q: %w", st.APIID, err)
	}
	return id, nil
}

// DeactivateStashItems marks every item of a stash inactive.
func (s *ItemStore) DeactivateStashItems(ctx context.Context, stashID int64) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE item SET active = 0 WHERE stash_id = ?`, stashID); err != nil {
		return fmt.Errorf("sqlite: deactivate items of stash %d: %w", stashID, err)
	}
	return nil
}

// UpsertItem inserts or updates an item by external id and returns its id.
func (s *ItemStore) UpsertItem(ctx context.Context, it domain.Item) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO item (api_id, stash_id, name, type_line, note, league, category, frame_type, ilvl,
			icon, h, w, x, y, identified, verified, corrupted, stack_size, sockets, mods, properties,
			active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (api_id) DO UPDATE SET
			stash_id   = excluded.stash_id,
			name       = excluded.name,
			type_line  = excluded.type_line,
			note       = excluded.note,
			league     = excluded.league,
			category   = excluded.category,
			frame_type = excluded.frame_type,
			ilvl       = excluded.ilvl,
			icon       = excluded.icon,
			h          = excluded.h,
			w          = excluded.w,
			x          = excluded.x,
			y          = excluded.y,
			identified = excluded.identified,
			verified   = excluded.verified,
			corrupted  = excluded.corrupted,
			stack_size = excluded.stack_size,
			sockets    = excluded.sockets,
			mods       = excluded.mods,
			properties = excluded.properties,
			active     = excluded.active,
			updated_at = excluded.updated_at
		RETURNING id`,
		it.APIID, it.StashID, it.Name, it.TypeLine, it.Note, it.League, it.Category, it.FrameType, it.Ilvl,
		it.Icon, it.H, it.W, it.X, it.Y, boolInt(it.Identified), boolInt(it.Verified), boolInt(it.Corrupted),
		nullInt(it.StackSize), nullJSON(it.Sockets), nullJSON(it.Mods), nullJSON(it.Properties),
		boolInt(it.Active), toUnix(it.CreatedAt), toUnix(it.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert item %q: %w", it.APIID, err)
	}
	return id, nil
}

// UpsertItems upserts items one statement at a time.
func (s *ItemStore) UpsertItems(ctx context.Context, items []domain.Item) error {
	for _, it := range items {
		if _, err := s.UpsertItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
