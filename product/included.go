package product

import (
	"fmt"
	"slices"
	"time"
)

// Policy returns the item's expiry policy. An unset policy never expires.
func (i IncludedItem) Policy() ExpiryPolicy {
	if i.Expires == "" {
		return ExpiresNever
	}
	return i.Expires
}

// Validate checks the quantity, repeat interval and expiry policy.
func (i IncludedItem) Validate() error {
	if i.Quantity < 0 {
		return fmt.Errorf("negative quantity %d", i.Quantity)
	}
	if i.Repeat != nil {
		if err := i.Repeat.Validate(); err != nil {
			return fmt.Errorf("repeat: %w", err)
		}
	}
	switch i.Policy() {
	case ExpiresNever, ExpiresWhenRepeated, ExpiresWhenPurchaseExpires:
		return nil
	}
	return fmt.Errorf("unknown expiry policy %q", i.Expires)
}

// AddN advances t by n intervals, measured from t so calendar units do not
// drift across cycles.
func (i Interval) AddN(t time.Time, n int) time.Time {
	return Interval{Count: i.Count * n, Unit: i.Unit}.AddTo(t)
}

// ItemGrant is one cycle of an included item handed to an owner. Cycle 0 is
// granted when ownership starts; later cycles come from the item's repeat.
type ItemGrant struct {
	ItemID    string
	Quantity  int64
	Cycle     int
	At        time.Time
	ExpiresAt *time.Time
}

// ActiveAt reports whether the grant counts toward the balance at now.
func (g ItemGrant) ActiveAt(now time.Time) bool {
	if now.Before(g.At) {
		return false
	}
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// ItemGrants expands the product's included items for an owner of quantity
// units holding the product from start until end (nil while open). Only
// cycles granted at or before until are returned, ordered by (At, ItemID).
//
// Repeats stop at end. A when-repeated grant expires at the next cycle, and
// the last cycle before end is kept. A when-purchase-expires grant expires at
// end.
func (p *Product) ItemGrants(quantity int64, start time.Time, end *time.Time, until time.Time) []ItemGrant {
	if p == nil || start.After(until) || (end != nil && !start.Before(*end)) {
		return nil
	}

	itemIDs := make([]string, 0, len(p.IncludedItems))
	for id := range p.IncludedItems {
		itemIDs = append(itemIDs, id)
	}
	slices.Sort(itemIDs)

	var out []ItemGrant
	for _, id := range itemIDs {
		item := p.IncludedItems[id]
		qty := item.Quantity * quantity
		if qty == 0 {
			continue
		}
		for cycle := 0; ; cycle++ {
			at := start
			if item.Repeat != nil {
				at = item.Repeat.AddN(start, cycle)
			}
			if cycle > 0 && (!at.After(out[len(out)-1].At) || at.After(until) || (end != nil && !at.Before(*end))) {
				break
			}
			g := ItemGrant{ItemID: id, Quantity: qty, Cycle: cycle, At: at}
			switch item.Policy() {
			case ExpiresWhenRepeated:
				if item.Repeat != nil {
					if next := item.Repeat.AddN(start, cycle+1); end == nil || next.Before(*end) {
						g.ExpiresAt = &next
					}
				}
			case ExpiresWhenPurchaseExpires:
				if end != nil {
					e := *end
					g.ExpiresAt = &e
				}
			}
			out = append(out, g)
			if item.Repeat == nil {
				break
			}
		}
	}

	slices.SortStableFunc(out, func(a, b ItemGrant) int { return a.At.Compare(b.At) })
	return out
}
