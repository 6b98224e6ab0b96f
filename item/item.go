// Package item models item quantity changes. Changes are immutable; an
// expiring change stops counting once its expiry passes.
package item

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/types"
)

// QuantityChange adds Delta (possibly negative) to a customer's balance of
// ItemID from CreatedAt until ExpiresAt, if set.
type QuantityChange struct {
	ID           id.ItemQuantityChangeID `json:"id"`
	TenancyID    string                  `json:"tenancy_id"`
	CustomerType product.CustomerType    `json:"customer_type"`
	CustomerID   string                  `json:"customer_id"`
	ItemID       string                  `json:"item_id"`
	Delta        int64                   `json:"delta"`
	CreatedAt    time.Time               `json:"created_at"`
	ExpiresAt    *time.Time              `json:"expires_at,omitempty"`
	Description  string                  `json:"description,omitempty"`
}

// ActiveAt reports whether the change counts towards the balance at now.
func (c *QuantityChange) ActiveAt(now time.Time) bool {
	if c.CreatedAt.After(now) {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

// Store persists item quantity changes. Listings are ordered by
// (created_at desc, id desc).
type Store interface {
	CreateItemQuantityChange(ctx context.Context, c *QuantityChange) error
	GetItemQuantityChange(ctx context.Context, tenancyID string, changeID id.ItemQuantityChangeID) (*QuantityChange, error)
	ListItemQuantityChanges(ctx context.Context, tenancyID string, opts ListOpts) ([]*QuantityChange, error)
}

// ListOpts filters change listings. Empty fields match everything. Limit 0
// means no limit.
type ListOpts struct {
	CustomerType product.CustomerType
	CustomerID   string
	ItemID       string
	After        *types.Keyset
	Limit        int
}
