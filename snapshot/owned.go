// Package snapshot evaluates a customer's entitlements at an instant.
//
// Evaluation is a pure function of loaded ledger rows: the same rows and the
// same instant always give the same answer. Product terms come from the
// version each purchase references, never from the live catalog.
package snapshot

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
)

// OwnedType is how a product came to be owned.
type OwnedType string

const (
	OwnedSubscription     OwnedType = "subscription"
	OwnedOneTime          OwnedType = "one_time"
	OwnedIncludeByDefault OwnedType = "include-by-default"
)

// SubscriptionState is the subscription detail of an owned product.
type SubscriptionState struct {
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	IsCancelable      bool      `json:"is_cancelable"`
}

// OwnedProduct is one product a customer owns at an instant. ID is the
// purchase id, or the product id for include-by-default products.
type OwnedProduct struct {
	ID               string             `json:"id"`
	Type             OwnedType          `json:"type"`
	Quantity         int64              `json:"quantity"`
	ProductID        *string            `json:"product_id"`
	ProductVersionID string             `json:"product_version_id"`
	PriceID          string             `json:"price_id,omitempty"`
	Product          *product.Product   `json:"product"`
	CreatedAt        time.Time          `json:"created_at"`
	SourceID         string             `json:"source_id"`
	Subscription     *SubscriptionState `json:"subscription,omitempty"`
}

// LineID returns the product line of the owned product, if any.
func (o *OwnedProduct) LineID() string {
	if o.Product == nil {
		return ""
	}
	return o.Product.ProductLineID
}

// Input is the ledger state of one customer.
type Input struct {
	CustomerType     product.CustomerType
	Subscriptions    []*purchase.Subscription
	OneTimePurchases []*purchase.OneTimePurchase
	Versions         map[string]*product.Version
	// Defaults is the latest defaults snapshot created at or before the
	// evaluation instant. Nil means no include-by-default products.
	Defaults *product.DefaultsSnapshot
}

// OwnedProducts returns the products owned at now, ordered by
// (created_at, source_id). A purchase whose version is missing yields a
// *product.MissingVersionError.
func OwnedProducts(in Input, now time.Time) ([]OwnedProduct, error) {
	var owned []OwnedProduct

	for _, s := range in.Subscriptions {
		if !s.ActiveAt(now) {
			continue
		}
		p, err := resolve(in.Versions, s.ProductVersionID, s.ID.String())
		if err != nil {
			return nil, err
		}
		owned = append(owned, OwnedProduct{
			ID:               s.ID.String(),
			Type:             OwnedSubscription,
			Quantity:         s.Quantity,
			ProductID:        s.ProductID,
			ProductVersionID: s.ProductVersionID,
			PriceID:          s.PriceID,
			Product:          p,
			CreatedAt:        s.CreatedAt,
			SourceID:         s.ID.String(),
			Subscription: &SubscriptionState{
				CurrentPeriodEnd:  s.CurrentPeriodEnd,
				CancelAtPeriodEnd: s.CancelAtPeriodEnd,
				IsCancelable:      s.IsCancelable,
			},
		})
	}

	for _, o := range in.OneTimePurchases {
		if !o.ActiveAt(now) {
			continue
		}
		p, err := resolve(in.Versions, o.ProductVersionID, o.ID.String())
		if err != nil {
			return nil, err
		}
		owned = append(owned, OwnedProduct{
			ID:               o.ID.String(),
			Type:             OwnedOneTime,
			Quantity:         o.Quantity,
			ProductID:        o.ProductID,
			ProductVersionID: o.ProductVersionID,
			PriceID:          o.PriceID,
			Product:          p,
			CreatedAt:        o.CreatedAt,
			SourceID:         o.ID.String(),
		})
	}

	defaults, err := includedByDefault(in, owned)
	if err != nil {
		return nil, err
	}
	owned = append(owned, defaults...)

	slices.SortFunc(owned, func(a, b OwnedProduct) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.SourceID, b.SourceID))
	})
	return owned, nil
}

// includedByDefault returns the snapshot's products for the customer type.
// A default is skipped when its line already holds an owned product, or,
// outside a line, when its product id is already owned.
func includedByDefault(in Input, purchased []OwnedProduct) ([]OwnedProduct, error) {
	if in.Defaults == nil {
		return nil, nil
	}

	ownedLines := make(map[string]bool)
	ownedIDs := make(map[string]bool)
	for _, o := range purchased {
		if line := o.LineID(); line != "" {
			ownedLines[line] = true
		}
		if o.ProductID != nil {
			ownedIDs[*o.ProductID] = true
		}
	}

	ids := make([]string, 0, len(in.Defaults.Products))
	for pid := range in.Defaults.Products {
		ids = append(ids, pid)
	}
	slices.Sort(ids)

	var out []OwnedProduct
	for _, pid := range ids {
		raw := in.Defaults.Products[pid]
		p, err := product.FromValue(raw)
		if err != nil {
			return nil, fmt.Errorf("snapshot: defaults snapshot %s product %q: %w", in.Defaults.ID, pid, err)
		}
		if p.CustomerType != in.CustomerType {
			continue
		}
		if p.ProductLineID != "" {
			if ownedLines[p.ProductLineID] {
				continue
			}
		} else if ownedIDs[pid] {
			continue
		}

		productID := pid
		out = append(out, OwnedProduct{
			ID:               pid,
			Type:             OwnedIncludeByDefault,
			Quantity:         1,
			ProductID:        &productID,
			ProductVersionID: product.ComputeVersionID(&productID, raw),
			Product:          p,
			CreatedAt:        in.Defaults.CreatedAt,
			SourceID:         in.Defaults.ID + ":" + pid,
		})
	}
	return out, nil
}

func resolve(versions map[string]*product.Version, versionID, ref string) (*product.Product, error) {
	v, ok := versions[versionID]
	if !ok || v == nil {
		return nil, &product.MissingVersionError{VersionID: versionID, Reference: ref}
	}
	p, err := v.Product()
	if err != nil {
		return nil, fmt.Errorf("snapshot: version %s: %w", versionID, err)
	}
	return p, nil
}

// DefaultsFrom builds the product map of a defaults snapshot from the
// include-by-default products of a catalog.
func DefaultsFrom(products map[string]*product.Product) (map[string]canonical.Value, error) {
	out := make(map[string]canonical.Value, len(products))
	for pid, p := range products {
		if p == nil || !p.IncludeByDefault {
			continue
		}
		v, err := product.ToValue(p)
		if err != nil {
			return nil, fmt.Errorf("snapshot: default product %q: %w", pid, err)
		}
		out[pid] = v
	}
	return out, nil
}
