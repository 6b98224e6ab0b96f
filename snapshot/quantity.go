package snapshot

import (
	"time"

	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
)

// ItemQuantity sums the deltas of itemID's changes active at now. The sum
// drops when an expiring grant passes its expiry, with no new change recorded.
func ItemQuantity(changes []*item.QuantityChange, itemID string, now time.Time) int64 {
	var total int64
	for _, c := range changes {
		if c.ItemID == itemID && c.ActiveAt(now) {
			total += c.Delta
		}
	}
	return total
}

// IncludedQuantity sums itemID's included grants active at now.
//
// Every purchase contributes the grants of its frozen product over its
// ownership window, so quantities that outlive the purchase still count.
// An include-by-default product owned at now contributes from the start of
// its current stretch: the later of the snapshot instant and the last end
// of a purchase that displaced it.
func IncludedQuantity(in Input, itemID string, now time.Time) (int64, error) {
	var total int64
	add := func(p *product.Product, quantity int64, w purchase.Window) {
		for _, g := range p.ItemGrants(quantity, w.Start, w.End, now) {
			if g.ItemID == itemID && g.ActiveAt(now) {
				total += g.Quantity
			}
		}
	}

	var held []holding
	for _, s := range in.Subscriptions {
		w := s.Window()
		if w.Start.After(now) {
			continue
		}
		p, err := resolve(in.Versions, s.ProductVersionID, s.ID.String())
		if err != nil {
			return 0, err
		}
		add(p, s.Quantity, w)
		held = append(held, holding{productID: s.ProductID, product: p, window: w})
	}
	for _, o := range in.OneTimePurchases {
		w := o.Window()
		if w.Start.After(now) {
			continue
		}
		p, err := resolve(in.Versions, o.ProductVersionID, o.ID.String())
		if err != nil {
			return 0, err
		}
		add(p, o.Quantity, w)
		held = append(held, holding{productID: o.ProductID, product: p, window: w})
	}

	owned, err := OwnedProducts(in, now)
	if err != nil {
		return 0, err
	}
	for _, o := range owned {
		if o.Type != OwnedIncludeByDefault {
			continue
		}
		start := o.CreatedAt
		for _, h := range held {
			if !h.displaces(o) || h.window.End == nil || h.window.End.After(now) {
				continue
			}
			if h.window.End.After(start) {
				start = *h.window.End
			}
		}
		add(o.Product, o.Quantity, purchase.Window{Start: start})
	}
	return total, nil
}

// holding is a purchase's product and ownership window.
type holding struct {
	productID *string
	product   *product.Product
	window    purchase.Window
}

// displaces reports whether owning h excludes the default product d, by
// sharing its product line or, outside a line, its product id.
func (h holding) displaces(d OwnedProduct) bool {
	if line := d.LineID(); line != "" {
		return h.product.ProductLineID == line
	}
	return h.productID != nil && d.ProductID != nil && *h.productID == *d.ProductID
}
