package entitle

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
)

// ──────────────────────────────────────────────────
// Owned products
// ──────────────────────────────────────────────────

// GetOwnedProducts returns the products a customer owns at now, ordered by
// (created_at, source_id). Product terms come from the versions purchases
// reference. A referenced version that does not exist fails the whole query
// with a *DataIntegrityError.
func (e *Engine) GetOwnedProducts(ctx context.Context, tenancyID string, customerType product.CustomerType, customerID string, now time.Time) ([]snapshot.OwnedProduct, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	if err := checkCustomer(customerType, customerID); err != nil {
		return nil, err
	}
	now, err := e.instant(now)
	if err != nil {
		return nil, err
	}

	owned, err := e.ownedAt(ctx, tenancyID, customerType, customerID, now)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitOwnedProductsEvaluated(ctx, plugin.OwnedQuery{
		TenancyID:    tenancyID,
		CustomerType: customerType,
		CustomerID:   customerID,
		Now:          now,
	}, owned)
	return owned, nil
}

// ownedAt evaluates owned products without input checks or events.
func (e *Engine) ownedAt(ctx context.Context, tenancyID string, customerType product.CustomerType, customerID string, now time.Time) ([]snapshot.OwnedProduct, error) {
	in, err := e.inputAt(ctx, tenancyID, customerType, customerID, now)
	if err != nil {
		return nil, err
	}

	owned, err := snapshot.OwnedProducts(*in, now)
	if err != nil {
		return nil, e.integrity(ctx, tenancyID, err)
	}
	return owned, nil
}

// inputAt loads a customer's purchases with the defaults snapshot in effect
// at now.
func (e *Engine) inputAt(ctx context.Context, tenancyID string, customerType product.CustomerType, customerID string, now time.Time) (*snapshot.Input, error) {
	in, err := e.loadPurchases(ctx, tenancyID, customerType, customerID)
	if err != nil {
		return nil, err
	}
	in.Defaults, err = e.defaultsAt(ctx, tenancyID, now)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// loadPurchases reads a customer's purchases and the versions they reference.
func (e *Engine) loadPurchases(ctx context.Context, tenancyID string, customerType product.CustomerType, customerID string) (*snapshot.Input, error) {
	opts := purchase.ListOpts{CustomerType: customerType, CustomerID: customerID}
	subs, err := e.store.ListSubscriptions(ctx, tenancyID, opts)
	if err != nil {
		return nil, err
	}
	otps, err := e.store.ListOneTimePurchases(ctx, tenancyID, opts)
	if err != nil {
		return nil, err
	}
	versions, err := e.versionsOf(ctx, tenancyID, subs, otps)
	if err != nil {
		return nil, err
	}
	return &snapshot.Input{
		CustomerType:     customerType,
		Subscriptions:    subs,
		OneTimePurchases: otps,
		Versions:         versions,
	}, nil
}

// versionsOf loads every version the purchases reference. Missing versions
// are absent from the map.
func (e *Engine) versionsOf(ctx context.Context, tenancyID string, subs []*purchase.Subscription, otps []*purchase.OneTimePurchase) (map[string]*product.Version, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(versionID string) {
		if !seen[versionID] {
			seen[versionID] = true
			ids = append(ids, versionID)
		}
	}
	for _, s := range subs {
		add(s.ProductVersionID)
	}
	for _, o := range otps {
		add(o.ProductVersionID)
	}
	if len(ids) == 0 {
		return map[string]*product.Version{}, nil
	}
	return e.store.GetVersions(ctx, tenancyID, ids)
}

// defaultsAt returns the defaults snapshot in effect at now, or nil.
func (e *Engine) defaultsAt(ctx context.Context, tenancyID string, now time.Time) (*product.DefaultsSnapshot, error) {
	s, err := e.store.LatestDefaultsSnapshot(ctx, tenancyID, now)
	if errors.Is(err, ErrDefaultsSnapshotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ──────────────────────────────────────────────────
// Item quantities
// ──────────────────────────────────────────────────

// GetItemQuantity sums the item quantity changes of a customer active at
// now. The result can drop as now passes an expiry.
func (e *Engine) GetItemQuantity(ctx context.Context, tenancyID, itemID, customerID string, customerType product.CustomerType, now time.Time) (int64, error) {
	changes, now, err := e.loadChanges(ctx, tenancyID, itemID, customerID, customerType, now)
	if err != nil {
		return 0, err
	}
	return snapshot.ItemQuantity(changes, itemID, now), nil
}

// GetEffectiveItemQuantity is GetItemQuantity plus the included item grants
// active at now. Grants follow each included item's repeat interval and
// expiry policy over the ownership window of every purchase the customer
// made, and over the current stretch of each include-by-default product.
func (e *Engine) GetEffectiveItemQuantity(ctx context.Context, tenancyID, itemID, customerID string, customerType product.CustomerType, now time.Time) (int64, error) {
	changes, now, err := e.loadChanges(ctx, tenancyID, itemID, customerID, customerType, now)
	if err != nil {
		return 0, err
	}
	in, err := e.inputAt(ctx, tenancyID, customerType, customerID, now)
	if err != nil {
		return 0, err
	}
	included, err := snapshot.IncludedQuantity(*in, itemID, now)
	if err != nil {
		return 0, e.integrity(ctx, tenancyID, err)
	}
	return snapshot.ItemQuantity(changes, itemID, now) + included, nil
}

func (e *Engine) loadChanges(ctx context.Context, tenancyID, itemID, customerID string, customerType product.CustomerType, now time.Time) ([]*item.QuantityChange, time.Time, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, time.Time{}, err
	}
	if err := checkCustomer(customerType, customerID); err != nil {
		return nil, time.Time{}, err
	}
	if itemID == "" {
		return nil, time.Time{}, invalid("item_id", "must not be empty")
	}
	now, err := e.instant(now)
	if err != nil {
		return nil, time.Time{}, err
	}
	changes, err := e.store.ListItemQuantityChanges(ctx, tenancyID, item.ListOpts{
		CustomerType: customerType,
		CustomerID:   customerID,
		ItemID:       itemID,
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return changes, now, nil
}
