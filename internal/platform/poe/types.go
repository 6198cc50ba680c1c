package poe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// markupRe matches the localisation markup the API prefixes some names
// with, e.g. "<<set:MS>><<set:M>><<set:S>>Doom Knuckle".
var markupRe = regexp.MustCompile(`^<<.*>>`)

// cleanMarkup strips leading "<<...>>" markup.
func cleanMarkup(s string) string {
	return markupRe.ReplaceAllString(s, "")
}

// Page is one response of the public stash tab stream.
type Page struct {
	NextChangeID string
	Stashes      []APIStash
	// Skipped counts stashes dropped as malformed or invalid.
	Skipped int
	// Raw is the undecoded response body, kept for archiving.
	Raw []byte
}

// pageEnvelope decodes stashes lazily so one malformed stash does not sink
// the whole page.
type pageEnvelope struct {
	NextChangeID *string           `json:"next_change_id"`
	Stashes      []json.RawMessage `json:"stashes"`
}

// APIStash is a stash tab as delivered by the API.
type APIStash struct {
	ID                *string           `json:"id"`
	AccountName       string            `json:"accountName"`
	LastCharacterName string            `json:"lastCharacterName"`
	Stash             string            `json:"stash"`
	StashType         *string           `json:"stashType"`
	Public            *bool             `json:"public"`
	Items             []json.RawMessage `json:"items"`
}

// Validate checks the fields every stored stash needs.
func (s APIStash) Validate() error {
	switch {
	case s.ID == nil:
		return fmt.Errorf("%w: stash: id is a required field", domain.ErrInvalidRecord)
	case s.StashType == nil:
		return fmt.Errorf("%w: stash %s: stashType is a required field", domain.ErrInvalidRecord, *s.ID)
	case s.Public == nil:
		return fmt.Errorf("%w: stash %s: public is a required field", domain.ErrInvalidRecord, *s.ID)
	}
	return nil
}

// ToDomain converts a validated stash. Timestamps are left for the caller.
func (s APIStash) ToDomain() domain.Stash {
	return domain.Stash{
		APIID:             deref(s.ID),
		AccountName:       s.AccountName,
		LastCharacterName: s.LastCharacterName,
		Note:              s.Stash,
		StashType:         deref(s.StashType),
		Public:            s.Public != nil && *s.Public,
	}
}

// DecodeItems decodes and validates the stash's items. Items that fail are
// returned as errors alongside the good ones.
func (s APIStash) DecodeItems() ([]APIItem, []error) {
	items := make([]APIItem, 0, len(s.Items))
	var errs []error
	for i, raw := range s.Items {
		var it APIItem
		if err := json.Unmarshal(raw, &it); err != nil {
			errs = append(errs, fmt.Errorf("%w: stash %s item %d: %v", domain.ErrInvalidRecord, deref(s.ID), i, err))
			continue
		}
		if err := it.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, it)
	}
	return items, errs
}

// APIItem is an item as delivered by the API. Pointer fields are required
// and checked by Validate.
type APIItem struct {
	ID         *string         `json:"id"`
	Name       *string         `json:"name"`
	TypeLine   *string         `json:"typeLine"`
	Note       string          `json:"note"`
	League     *string         `json:"league"`
	Category   json.RawMessage `json:"category"`
	FrameType  *int            `json:"frameType"`
	Ilvl       *int            `json:"ilvl"`
	Icon       *string         `json:"icon"`
	H          *int            `json:"h"`
	W          *int            `json:"w"`
	X          *int            `json:"x"`
	Y          *int            `json:"y"`
	Identified *bool           `json:"identified"`
	Verified   *bool           `json:"verified"`
	Corrupted  bool            `json:"corrupted"`
	StackSize  *int            `json:"stackSize"`
	Sockets    json.RawMessage `json:"sockets"`
	Properties json.RawMessage `json:"properties"`

	ImplicitMods []string `json:"implicitMods"`
	ExplicitMods []string `json:"explicitMods"`
	CraftedMods  []string `json:"craftedMods"`
	EnchantMods  []string `json:"enchantMods"`
	UtilityMods  []string `json:"utilityMods"`
}

// Validate checks the fields every stored item needs.
func (it APIItem) Validate() error {
	required := []struct {
		name    string
		present bool
	}{
		{"category", len(it.Category) > 0 && string(it.Category) != "null"},
		{"id", it.ID != nil},
		{"h", it.H != nil},
		{"w", it.W != nil},
		{"x", it.X != nil},
		{"y", it.Y != nil},
		{"frameType", it.FrameType != nil},
		{"icon", it.Icon != nil},
		{"identified", it.Identified != nil},
		{"ilvl", it.Ilvl != nil},
		{"league", it.League != nil},
		{"name", it.Name != nil},
		{"typeLine", it.TypeLine != nil},
		{"verified", it.Verified != nil},
	}
	for _, f := range required {
		if !f.present {
			return fmt.Errorf("%w: item %s: %s is a required field", domain.ErrInvalidRecord, deref(it.ID), f.name)
		}
	}
	return nil
}

// CategoryName reduces the category to one name. The API has sent both a
// bare string and an object keyed by category ({"currency": []}).
func (it APIItem) CategoryName() string {
	var s string
	if err := json.Unmarshal(it.Category, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(it.Category, &obj); err != nil || len(obj) == 0 {
		return ""
	}
	if _, ok := obj[domain.CategoryCurrency]; ok {
		return domain.CategoryCurrency
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

// ToDomain converts a validated item. Stash id, active flag and timestamps
// are left for the caller.
func (it APIItem) ToDomain() domain.Item {
	return domain.Item{
		APIID:      deref(it.ID),
		Name:       cleanMarkup(deref(it.Name)),
		TypeLine:   cleanMarkup(deref(it.TypeLine)),
		Note:       it.Note,
		League:     deref(it.League),
		Category:   it.CategoryName(),
		FrameType:  derefInt(it.FrameType),
		Ilvl:       derefInt(it.Ilvl),
		Icon:       deref(it.Icon),
		H:          derefInt(it.H),
		W:          derefInt(it.W),
		X:          derefInt(it.X),
		Y:          derefInt(it.Y),
		Identified: it.Identified != nil && *it.Identified,
		Verified:   it.Verified != nil && *it.Verified,
		Corrupted:  it.Corrupted,
		StackSize:  it.StackSize,
		Sockets:    nullable(it.Sockets),
		Mods:       it.mods(),
		Properties: nullable(it.Properties),
	}
}

func (it APIItem) mods() json.RawMessage {
	m := map[string][]string{}
	add := func(kind string, mods []string) {
		if len(mods) > 0 {
			m[kind] = mods
		}
	}
	add("implicit", it.ImplicitMods)
	add("explicit", it.ExplicitMods)
	add("crafted", it.CraftedMods)
	add("enchant", it.EnchantMods)
	add("utility", it.UtilityMods)
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
