package entitle

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
)

// ItemQuantityRequest records a change to a customer's item quantity.
// A zero Now means the engine clock.
type ItemQuantityRequest struct {
	TenancyID    string
	CustomerType product.CustomerType
	CustomerID   string
	ItemID       string
	Delta        int64
	ExpiresAt    *time.Time
	Description  string
	// AllowNegative permits a change that takes the balance below zero.
	AllowNegative bool
	Now           time.Time
}

// UpdateItemQuantity appends an item quantity change and returns it with
// the resulting effective balance. The balance includes the quantities of
// items bundled with owned products.
func (e *Engine) UpdateItemQuantity(ctx context.Context, req ItemQuantityRequest) (*item.QuantityChange, int64, error) {
	if req.Delta == 0 {
		return nil, 0, invalid("delta", "must not be zero")
	}
	now, err := e.writeInstant(req.Now)
	if err != nil {
		return nil, 0, err
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		at := req.ExpiresAt.UTC().Truncate(time.Millisecond)
		if !at.After(now) {
			return nil, 0, invalid("expires_at", "must be after the change instant")
		}
		expiresAt = &at
	}

	balance, err := e.GetEffectiveItemQuantity(ctx, req.TenancyID, req.ItemID, req.CustomerID, req.CustomerType, now)
	if err != nil {
		return nil, 0, err
	}
	balance += req.Delta
	if balance < 0 && !req.AllowNegative {
		return nil, 0, e.refuse(ctx, req.TenancyID, violated(CodeNegativeItemQuantity,
			"item %q quantity would drop to %d", req.ItemID, balance))
	}

	c := &item.QuantityChange{
		ID:           id.NewItemQuantityChangeID(),
		TenancyID:    req.TenancyID,
		CustomerType: req.CustomerType,
		CustomerID:   req.CustomerID,
		ItemID:       req.ItemID,
		Delta:        req.Delta,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		Description:  req.Description,
	}
	if err := e.store.CreateItemQuantityChange(ctx, c); err != nil {
		return nil, 0, err
	}

	e.plugins.EmitItemQuantityChanged(ctx, c, balance)
	e.logger.Debug("item quantity changed",
		"tenancy_id", req.TenancyID,
		"customer_id", req.CustomerID,
		"item_id", req.ItemID,
		"delta", req.Delta,
		"balance", balance,
	)
	return c, balance, nil
}
