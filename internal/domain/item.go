package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// CategoryCurrency is the category tag carried by stackable currency items.
const CategoryCurrency = "currency"

// Stash is a public or private stash tab snapshot.
type Stash struct {
	ID                int64
	APIID             string
	AccountName       string
	LastCharacterName string
	Note              string // stash title; "~price 1 chaos" prices every item inside
	StashType         string
	Public            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Item is a tradeable item snapshot. Only the pricing-relevant columns are
// typed; sockets, mods and properties are stored as opaque JSON.
type Item struct {
	ID         int64
	APIID      string
	StashID    int64
	Name       string
	TypeLine   string
	Note       string
	League     string
	Category   string
	FrameType  int
	Ilvl       int
	Icon       string
	H, W, X, Y int
	Identified bool
	Verified   bool
	Corrupted  bool
	StackSize  *int
	Sockets    json.RawMessage
	Mods       json.RawMessage
	Properties json.RawMessage
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsCurrency reports whether the item is a stackable currency item.
func (i Item) IsCurrency() bool {
	return i.Category == CategoryCurrency
}

// PricingRow is one item joined with its stash, as read by the pricing
// driver.
type PricingRow struct {
	ItemID        int64
	ItemAPIID     string
	Name          string
	TypeLine      string
	Note          string
	League        string
	Category      string
	StashNote     string
	StashPublic   bool
	ItemCreatedAt time.Time
	ItemUpdatedAt time.Time
}

// DisplayName is the name sales are grouped by: the type line for currency,
// otherwise name and type line joined.
func (r PricingRow) DisplayName() string {
	if r.IsCurrency() {
		return r.TypeLine
	}
	return strings.TrimSpace(r.Name + " " + r.TypeLine)
}

// IsCurrency reports whether the row's item is a currency item.
func (r PricingRow) IsCurrency() bool {
	return r.Category == CategoryCurrency
}

// Cursor is a keyset position in (updated_at, created_at, id) order.
type Cursor struct {
	UpdatedAt time.Time
	CreatedAt time.Time
	ID        int64
}

// CursorAfter returns the cursor positioned on row.
func CursorAfter(row PricingRow) Cursor {
	return Cursor{UpdatedAt: row.ItemUpdatedAt, CreatedAt: row.ItemCreatedAt, ID: row.ItemID}
}

// PageQuery selects one page of pricing rows. Since is the inclusive start
// watermark of the pass (zero means the beginning of item data); After, when
// set, excludes everything at or before the previous page's last row.
type PageQuery struct {
	Since time.Time
	After *Cursor
	Limit int
}
