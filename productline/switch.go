package productline

import (
	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/product"
)

// SwitchOption is a product a subscriber may switch to, with only its
// recurring prices.
type SwitchOption struct {
	ProductID string                   `json:"product_id"`
	Product   *product.Product         `json:"product"`
	Prices    map[string]product.Price `json:"prices"`
}

// SwitchOptions lists the products a subscriber of activeProductID may
// switch to: the other products of its line for the same customer type that
// have a recurring price and are not add-ons. Server-only products are
// hidden from clients. Options are sorted by product id.
func SwitchOptions(c *catalog.Catalog, customerType product.CustomerType, activeProductID string, client bool) []SwitchOption {
	active, ok := c.Product(activeProductID)
	if !ok || active.ProductLineID == "" {
		return nil
	}

	var out []SwitchOption
	for _, pid := range c.LineProducts(active.ProductLineID) {
		if pid == activeProductID {
			continue
		}
		p, _ := c.Product(pid)
		if client && p.ServerOnly {
			continue
		}
		if p.CustomerType != customerType || p.IsAddOn() || p.IncludeByDefault {
			continue
		}
		prices := p.RecurringPrices()
		if client {
			for id, price := range prices {
				if price.ServerOnly {
					delete(prices, id)
				}
			}
		}
		if len(prices) == 0 {
			continue
		}
		out = append(out, SwitchOption{ProductID: pid, Product: p, Prices: prices})
	}
	return out
}

// ValidateSwitch checks that a customerType subscriber to fromID may switch
// to toID. fromID may be an include-by-default product.
func ValidateSwitch(c *catalog.Catalog, customerType product.CustomerType, fromID, toID string) error {
	from, ok := c.Product(fromID)
	if !ok {
		return violation(CodeInvalidSwitch, "unknown product %q", fromID)
	}
	to, ok := c.Product(toID)
	if !ok {
		return violation(CodeInvalidSwitch, "unknown product %q", toID)
	}
	if from.CustomerType != customerType || to.CustomerType != customerType {
		return violation(CodeInvalidSwitch, "product customer type does not match %q", customerType)
	}
	if from.ProductLineID == "" || from.ProductLineID != to.ProductLineID {
		return violation(CodeInvalidSwitch, "products %q and %q are not in the same product line", fromID, toID)
	}
	if fromID == toID {
		return violation(CodeInvalidSwitch, "product %q is already active", toID)
	}
	if to.IsAddOn() {
		return violation(CodeInvalidSwitch, "add-on product %q cannot be selected for switching", toID)
	}
	if to.IncludeByDefault {
		return violation(CodeInvalidSwitch, "include-by-default product %q cannot be selected for switching", toID)
	}
	if !from.IncludeByDefault && !from.HasIntervalPrice() {
		return violation(CodeInvalidSwitch, "product %q is not a subscription and cannot be switched", fromID)
	}
	if !to.HasIntervalPrice() {
		return violation(CodeInvalidSwitch, "product %q has no recurring price", toID)
	}
	return nil
}
