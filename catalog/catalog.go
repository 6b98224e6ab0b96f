// Package catalog exposes the tenant configuration the engine reads:
// products and product lines. The catalog is live and mutable; entitlement
// terms never come from it once a purchase exists.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/xraph/entitle/product"
)

// ErrUnknownTenancy is returned by providers that hold no catalog for a tenancy.
var ErrUnknownTenancy = errors.New("catalog: unknown tenancy")

// ProductLine groups products for exclusivity and subscription switching.
type ProductLine struct {
	DisplayName  string               `json:"display_name,omitempty" yaml:"display_name"`
	CustomerType product.CustomerType `json:"customer_type,omitempty" yaml:"customer_type"`
}

// Catalog is one tenancy's product configuration.
type Catalog struct {
	Products     map[string]*product.Product `json:"products"`
	ProductLines map[string]ProductLine      `json:"product_lines,omitempty"`
}

// Product looks up a product by id.
func (c *Catalog) Product(productID string) (*product.Product, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.Products[productID]
	return p, ok && p != nil
}

// IncludeByDefault returns the include-by-default products keyed by id.
func (c *Catalog) IncludeByDefault() map[string]*product.Product {
	out := make(map[string]*product.Product)
	if c == nil {
		return out
	}
	for id, p := range c.Products {
		if p != nil && p.IncludeByDefault {
			out[id] = p
		}
	}
	return out
}

// LineProducts returns the ids of the products in a line, sorted.
func (c *Catalog) LineProducts(lineID string) []string {
	var ids []string
	if c == nil || lineID == "" {
		return ids
	}
	for id, p := range c.Products {
		if p != nil && p.ProductLineID == lineID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Validate checks every product and that product lines referenced by
// products exist when lines are declared.
func (c *Catalog) Validate() error {
	for id, p := range c.Products {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("catalog: product %q: %w", id, err)
		}
		if p.ProductLineID != "" && len(c.ProductLines) > 0 {
			if _, ok := c.ProductLines[p.ProductLineID]; !ok {
				return fmt.Errorf("catalog: product %q references unknown line %q", id, p.ProductLineID)
			}
		}
	}
	return nil
}

// Provider returns the current catalog of a tenancy.
type Provider interface {
	Catalog(ctx context.Context, tenancyID string) (*Catalog, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, tenancyID string) (*Catalog, error)

// Catalog calls f.
func (f ProviderFunc) Catalog(ctx context.Context, tenancyID string) (*Catalog, error) {
	return f(ctx, tenancyID)
}

// Static serves fixed catalogs keyed by tenancy id.
type Static map[string]*Catalog

// Catalog returns the catalog for tenancyID or ErrUnknownTenancy.
func (s Static) Catalog(_ context.Context, tenancyID string) (*Catalog, error) {
	c, ok := s[tenancyID]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenancy, tenancyID)
	}
	return c, nil
}
