package entitle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/product"
)

// Canonicalize renders any JSON-compatible Go value in canonical form:
// object keys sorted at every level, no insignificant whitespace.
func Canonicalize(v any) (string, error) {
	val, err := canonical.FromAny(v)
	if err != nil {
		return "", fmt.Errorf("entitle: canonicalize: %w", err)
	}
	return canonical.Canonicalize(val), nil
}

// ComputeProductVersionID returns the content address of a product
// definition. productID is nil for inline products.
func ComputeProductVersionID(productID *string, productJSON any) (string, error) {
	val, err := canonical.FromAny(productJSON)
	if err != nil {
		return "", fmt.Errorf("entitle: product version id: %w", err)
	}
	return product.ComputeVersionID(productID, val), nil
}

// UpsertProductVersion stores the product definition under its content
// address and returns the version id. Repeated calls with the same input
// return the same id and leave a single row.
func (e *Engine) UpsertProductVersion(ctx context.Context, tenancyID string, productID *string, productJSON canonical.Value) (string, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return "", err
	}
	if productID != nil && *productID == "" {
		return "", invalid("product_id", "must be nil or non-empty")
	}
	if err := productJSON.Validate(); err != nil {
		return "", invalid("product_json", "%v", err)
	}

	v := &product.Version{
		TenancyID:   tenancyID,
		VersionID:   product.ComputeVersionID(productID, productJSON),
		ProductID:   productID,
		ProductJSON: productJSON,
		CreatedAt:   e.clock().UTC().Truncate(time.Millisecond),
	}
	inserted, err := e.store.InsertVersion(ctx, v)
	if err != nil {
		return "", fmt.Errorf("entitle: upsert product version: %w", err)
	}
	if inserted {
		e.logger.Debug("product version created",
			"tenancy_id", tenancyID,
			"version_id", v.VersionID,
		)
		e.plugins.EmitProductVersionCreated(ctx, v)
	}
	return v.VersionID, nil
}

// GetProductVersion returns a stored version. Versions are only looked up by
// ids that purchases reference, so a missing row is a *DataIntegrityError.
func (e *Engine) GetProductVersion(ctx context.Context, tenancyID, versionID string) (*product.Version, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	v, err := e.store.GetVersion(ctx, tenancyID, versionID)
	if errors.Is(err, ErrProductVersionNotFound) {
		return nil, e.integrity(ctx, tenancyID, &product.MissingVersionError{VersionID: versionID})
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// freeze stores p as a version and returns the version id.
func (e *Engine) freeze(ctx context.Context, tenancyID string, productID *string, p *product.Product) (string, error) {
	val, err := product.ToValue(p)
	if err != nil {
		return "", err
	}
	return e.UpsertProductVersion(ctx, tenancyID, productID, val)
}
