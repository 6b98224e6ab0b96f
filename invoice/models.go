package invoice

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/types"
)

type Status string

const (
	StatusOpen          Status = "open"
	StatusPaid          Status = "paid"
	StatusVoid          Status = "void"
	StatusUncollectible Status = "uncollectible"
)

// SubscriptionInvoice is a provider invoice for a subscription period. It is
// kept for display; entitlements never depend on it.
type SubscriptionInvoice struct {
	types.Entity
	ID                id.InvoiceID         `json:"id"`
	TenancyID         string               `json:"tenancy_id"`
	SubscriptionID    id.SubscriptionID    `json:"subscription_id"`
	CustomerType      product.CustomerType `json:"customer_type"`
	CustomerID        string               `json:"customer_id"`
	ProviderInvoiceID string               `json:"provider_invoice_id,omitempty"`
	IsCreationInvoice bool                 `json:"is_creation_invoice"`
	Status            Status               `json:"status"`
	AmountTotal       types.Money          `json:"amount_total"`
	PeriodStart       time.Time            `json:"period_start"`
	PeriodEnd         time.Time            `json:"period_end"`
	TestMode          bool                 `json:"test_mode"`
}

// IsRenewal reports whether the invoice bills a period after the first.
func (inv *SubscriptionInvoice) IsRenewal() bool { return !inv.IsCreationInvoice }
