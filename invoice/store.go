package invoice

import (
	"context"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/types"
)

// Store persists subscription invoices. Listings are ordered by
// (created_at desc, id desc).
type Store interface {
	CreateSubscriptionInvoice(ctx context.Context, inv *SubscriptionInvoice) error
	GetSubscriptionInvoice(ctx context.Context, tenancyID string, invID id.InvoiceID) (*SubscriptionInvoice, error)
	ListSubscriptionInvoices(ctx context.Context, tenancyID string, opts ListOpts) ([]*SubscriptionInvoice, error)
}

// ListOpts filters invoice listings. Empty fields match everything.
type ListOpts struct {
	CustomerType   product.CustomerType
	CustomerID     string
	SubscriptionID id.SubscriptionID
	RenewalsOnly   bool
	After          *types.Keyset
	Limit          int
}
