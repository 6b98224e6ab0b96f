// Package productline enforces product-line exclusivity and computes
// subscription switch options.
package productline

import (
	"fmt"

	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/snapshot"
)

// Violation codes.
const (
	CodeInvalidQuantity       = "invalid_quantity"
	CodeProductNotStackable   = "product_not_stackable"
	CodeProductAlreadyOwned   = "product_already_owned"
	CodeOneTimePurchaseInLine = "one_time_purchase_in_line"
	CodeInvalidSwitch         = "invalid_switch"
)

// Violation is a grant or switch the line rules forbid.
type Violation struct {
	Code    string
	Message string
}

func (v *Violation) Error() string { return v.Message }

func violation(code, format string, args ...any) *Violation {
	return &Violation{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Action is what a grant resolves to.
type Action string

const (
	// ActionGrant creates the purchase alongside what the customer owns.
	ActionGrant Action = "grant"
	// ActionSwitch ends the subscriptions in Replace, then creates the purchase.
	ActionSwitch Action = "switch"
)

// Decision is the outcome of Resolve.
type Decision struct {
	Action  Action
	Replace []snapshot.OwnedProduct
}

// Resolve decides how granting quantity of a product interacts with what the
// customer owns. productID is nil for inline products.
//
// Stackable products bypass line exclusivity. A non-stackable product in a
// line conflicts with the other owned products of that line, except
// include-by-default products and the products it is an add-on to. Any
// conflicting one-time purchase is a violation; conflicting subscriptions
// turn the grant into a switch.
func Resolve(owned []snapshot.OwnedProduct, productID *string, p *product.Product, quantity int64) (*Decision, error) {
	if quantity < 1 {
		return nil, violation(CodeInvalidQuantity, "quantity must be at least 1, got %d", quantity)
	}
	if p.Stackable {
		return &Decision{Action: ActionGrant}, nil
	}
	if quantity != 1 {
		return nil, violation(CodeProductNotStackable, "product is not stackable; quantity must be 1, got %d", quantity)
	}

	if productID != nil {
		for _, o := range owned {
			if o.Type != snapshot.OwnedIncludeByDefault && o.ProductID != nil && *o.ProductID == *productID {
				return nil, violation(CodeProductAlreadyOwned, "customer already owns product %q", *productID)
			}
		}
	}

	if p.ProductLineID == "" {
		return &Decision{Action: ActionGrant}, nil
	}

	var replace []snapshot.OwnedProduct
	for _, o := range owned {
		if !conflicts(o, p) {
			continue
		}
		if o.Type == snapshot.OwnedOneTime {
			return nil, violation(CodeOneTimePurchaseInLine,
				"customer already has a one-time purchase in product line %q", p.ProductLineID)
		}
		replace = append(replace, o)
	}
	if len(replace) == 0 {
		return &Decision{Action: ActionGrant}, nil
	}
	return &Decision{Action: ActionSwitch, Replace: replace}, nil
}

func conflicts(o snapshot.OwnedProduct, p *product.Product) bool {
	if o.Type == snapshot.OwnedIncludeByDefault || o.ProductID == nil {
		return false
	}
	if o.LineID() != p.ProductLineID {
		return false
	}
	return !p.IsAddOnFor(*o.ProductID)
}
