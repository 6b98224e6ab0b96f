package store

import (
	"context"

	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
)

// Store is the unified storage interface for all ledger rows. Method names
// are distinct across the embedded interfaces.
type Store interface {
	product.Store
	purchase.Store
	item.Store
	invoice.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
