// Package rewards maps finishing ranks to grants and owns the leveling curve.
package rewards

import (
	"fmt"

	"github.com/okian/spiritrace/internal/domain/seeded"
)

// Tier is the fixed reward line for one rank.
type Tier struct {
	XP         int64
	Currency   int64
	DropChance float64
}

// Grant is what a participant receives for one match.
type Grant struct {
	Rank     int    `json:"rank"`
	XP       int64  `json:"xp"`
	Currency int64  `json:"currency"`
	ItemID   string `json:"item_id,omitempty"`
}

// HasItem reports whether the drop roll produced an item.
func (g Grant) HasItem() bool { return g.ItemID != "" }

var defaultTiers = map[int]Tier{
	1: {XP: 100, Currency: 150, DropChance: 0.05},
	2: {XP: 70, Currency: 100, DropChance: 0.03},
	3: {XP: 50, Currency: 70, DropChance: 0.01},
}

var defaultCatalog = []string{
	"capsule_common",
	"capsule_rare",
	"capsule_epic",
	"capsule_legendary",
}

// Table resolves grants. It is immutable after construction and safe for
// concurrent use.
type Table struct {
	tiers   map[int]Tier
	catalog []string
}

// Option configures a Table.
type Option func(*Table)

// WithTiers replaces the rank table.
func WithTiers(tiers map[int]Tier) Option {
	return func(t *Table) {
		if len(tiers) > 0 {
			t.tiers = make(map[int]Tier, len(tiers))
			for k, v := range tiers {
				t.tiers[k] = v
			}
		}
	}
}

// WithCatalog replaces the droppable item catalog. An empty catalog disables drops.
func WithCatalog(items []string) Option {
	return func(t *Table) {
		t.catalog = append([]string(nil), items...)
	}
}

// NewTable builds a Table with the standard tiers and capsule catalog.
func NewTable(opts ...Option) *Table {
	t := &Table{tiers: defaultTiers, catalog: defaultCatalog}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tier returns the reward line for rank.
func (t *Table) Tier(rank int) (Tier, error) {
	tier, ok := t.tiers[rank]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %d", ErrInvalidRank, rank)
	}
	return tier, nil
}

// ForRank resolves the grant for a participant. The drop roll uses its own
// stream seeded with seed + participantID, so it never consumes simulation draws
// and can be replayed for audits.
func (t *Table) ForRank(rank int, seed, participantID int64) (Grant, error) {
	tier, err := t.Tier(rank)
	if err != nil {
		return Grant{}, err
	}
	g := Grant{Rank: rank, XP: tier.XP, Currency: tier.Currency}
	rng := seeded.New(seed+participantID, seeded.DropSalt)
	if rng.Float64() <= tier.DropChance && len(t.catalog) > 0 {
		g.ItemID = t.catalog[rng.Index(len(t.catalog))]
	}
	return g, nil
}
