package entitle

import (
	"context"
	"time"

	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/snapshot"
)

// EnsureDefaultProductsSnapshot records the catalog's include-by-default
// products when they differ from the snapshot in effect at now. It reports
// whether a snapshot was inserted. Owned-products queries before now keep
// seeing the earlier snapshot.
func (e *Engine) EnsureDefaultProductsSnapshot(ctx context.Context, tenancyID string, now time.Time) (bool, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return false, err
	}
	now, err := e.writeInstant(now)
	if err != nil {
		return false, err
	}

	c, err := e.catalog(ctx, tenancyID)
	if err != nil {
		return false, err
	}
	products, err := snapshot.DefaultsFrom(c.IncludeByDefault())
	if err != nil {
		return false, err
	}
	next := &product.DefaultsSnapshot{
		ID:        id.NewDefaultsSnapshotID().String(),
		TenancyID: tenancyID,
		Products:  products,
		CreatedAt: now,
	}

	latest, err := e.defaultsAt(ctx, tenancyID, now)
	if err != nil {
		return false, err
	}
	switch {
	case latest == nil && len(products) == 0:
		return false, nil
	case latest != nil && canonical.Equal(latest.Value(), next.Value()):
		return false, nil
	}

	if err := e.store.CreateDefaultsSnapshot(ctx, next); err != nil {
		return false, err
	}

	e.plugins.EmitDefaultsSnapshotCreated(ctx, next)
	e.logger.Info("defaults snapshot created",
		"tenancy_id", tenancyID,
		"snapshot_id", next.ID,
		"products", len(products),
	)
	return true, nil
}
