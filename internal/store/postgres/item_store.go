package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	q Querier
}

var _ domain.ItemStore = (*ItemStore)(nil)

// NewItemStore creates a new ItemStore.
func NewItemStore(q Querier) *ItemStore {
	return &ItemStore{q: q}
}

// ListPricingRows returns active items of public stashes updated at or after
// q.Since and strictly after q.After, in (updated_at, created_at, id) order.
func (s *ItemStore) ListPricingRows(ctx context.Context, q domain.PageQuery) ([]domain.PricingRow, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT i.id, i.api_id, i.name, i.type_line, i.note, i.league, i.category,
			st.stash, st.public, i.created_at, i.updated_at
		FROM item i
		JOIN stash st ON st.id = i.stash_id
		WHERE st.public AND i.active AND i.updated_at >= $1`)
	args := []any{toUnix(q.Since)}
	if q.After != nil {
		b.WriteString(` AND (i.updated_at, i.created_at, i.id) > ($2, $3, $4)`)
		args = append(args, toUnix(q.After.UpdatedAt), toUnix(q.After.CreatedAt), q.After.ID)
	}
	fmt.Fprintf(&b, ` ORDER BY i.updated_at, i.created_at, i.id LIMIT $%d`, len(args)+1)
	args = append(args, q.Limit)

	rows, err := s.q.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pricing rows: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PricingRow, error) {
		var (
			r                domain.PricingRow
			created, updated int64
		)
		err := row.Scan(&r.ItemID, &r.ItemAPIID, &r.Name, &r.TypeLine, &r.Note, &r.League, &r.Category,
			&r.StashNote, &r.StashPublic, &created, &updated)
		r.ItemCreatedAt = fromUnix(created)
		r.ItemUpdatedAt = fromUnix(updated)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pricing rows: %w", err)
	}
	return out, nil
}

// UpsertStash inserts or updates a stash by external id and returns its id.
func (s *ItemStore) UpsertStash(ctx context.Context, st domain.Stash) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO stash (api_id, account_name, last_character_name, stash, stash_type, public,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (api_id) DO UPDATE SET
			account_name        = EXCLUDED.account_name,
			last_character_name = EXCLUDED.last_character_name,
			stash               = EXCLUDED.stash,
			stash_type          = EXCLUDED.stash_type,
			public              = EXCLUDED.public,
			updated_at          = EXCLUDED.updated_at
		RETURNING id`,
		st.APIID, st.AccountName, st.LastCharacterName, st.Note, st.StashType, st.Public,
		toUnix(st.CreatedAt), toUnix(st.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert stash %q: %w", st.APIID, err)
	}
	return id, nil
}

// DeactivateStashItems marks every item of a stash inactive.
func (s *ItemStore) DeactivateStashItems(ctx context.Context, stashID int64) error {
	if _, err := s.q.Exec(ctx, `UPDATE item SET active = FALSE WHERE stash_id = $1`, stashID); err != nil {
		return fmt.Errorf("postgres: deactivate items of stash %d: %w", stashID, err)
	}
	return nil
}

const upsertItemSQL = `
	INSERT INTO item (api_id, stash_id, name, type_line, note, league, category, frame_type, ilvl,
		icon, h, w, x, y, identified, verified, corrupted, stack_size, sockets, mods, properties,
		active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24)
	ON CONFLICT (api_id) DO UPDATE SET
		stash_id   = EXCLUDED.stash_id,
		name       = EXCLUDED.name,
		type_line  = EXCLUDED.type_line,
		note       = EXCLUDED.note,
		league     = EXCLUDED.league,
		category   = EXCLUDED.category,
		frame_type = EXCLUDED.frame_type,
		ilvl       = EXCLUDED.ilvl,
		icon       = EXCLUDED.icon,
		h          = EXCLUDED.h,
		w          = EXCLUDED.w,
		x          = EXCLUDED.x,
		y          = EXCLUDED.y,
		identified = EXCLUDED.identified,
		verified   = EXCLUDED.verified,
		corrupted  = EXCLUDED.corrupted,
		stack_size = EXCLUDED.stack_size,
		sockets    = EXCLUDED.sockets,
		mods       = EXCLUDED.mods,
		properties = EXCLUDED.properties,
		active     = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at
	RETURNING id`

func itemArgs(it domain.Item) []any {
	return []any{
		it.APIID, it.StashID, it.Name, it.TypeLine, it.Note, it.League, it.Category, it.FrameType, it.Ilvl,
		it.Icon, it.H, it.W, it.X, it.Y, it.Identified, it.Verified, it.Corrupted, it.StackSize,
		jsonArg(it.Sockets), jsonArg(it.Mods), jsonArg(it.Properties),
		it.Active, toUnix(it.CreatedAt), toUnix(it.UpdatedAt),
	}
}

// UpsertItem inserts or updates an item by external id and returns its id.
func (s *ItemStore) UpsertItem(ctx context.Context, it domain.Item) (int64, error) {
	var id int64
	if err := s.q.QueryRow(ctx, upsertItemSQL, itemArgs(it)...).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: upsert item %q: %w", it.APIID, err)
	}
	return id, nil
}

// UpsertItems upserts a page of items in a single batch.
func (s *ItemStore) UpsertItems(ctx context.Context, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(upsertItemSQL, itemArgs(it)...)
	}

	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	for i := range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert item batch entry %d (%q): %w", i, items[i].APIID, err)
		}
	}
	return nil
}

// jsonArg passes raw JSON through as text, or NULL when empty.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
