package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/types"
)

// ==================== Product version models ====================

type versionModel struct {
	grove.BaseModel `grove:"table:entitle_product_versions"`

	TenancyID   string          `grove:"tenancy_id,pk"`
	VersionID   string          `grove:"version_id,pk"`
	ProductID   *string         `grove:"product_id"`
	ProductJSON json.RawMessage `grove:"product_json,type:jsonb"`
	CreatedAt   time.Time       `grove:"created_at"`
}

func toVersionModel(v *product.Version) (*versionModel, error) {
	doc, err := v.ProductJSON.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode product json: %w", err)
	}
	return &versionModel{
		TenancyID:   v.TenancyID,
		VersionID:   v.VersionID,
		ProductID:   v.ProductID,
		ProductJSON: doc,
		CreatedAt:   v.CreatedAt,
	}, nil
}

func fromVersionModel(m *versionModel) (*product.Version, error) {
	doc, err := canonical.FromJSON(m.ProductJSON)
	if err != nil {
		return nil, fmt.Errorf("decode product json of version %q: %w", m.VersionID, err)
	}
	return &product.Version{
		TenancyID:   m.TenancyID,
		VersionID:   m.VersionID,
		ProductID:   m.ProductID,
		ProductJSON: doc,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

// ==================== Defaults snapshot models ====================

type defaultsSnapshotModel struct {
	grove.BaseModel `grove:"table:entitle_defaults_snapshots"`

	ID        string          `grove:"id,pk"`
	TenancyID string          `grove:"tenancy_id"`
	Products  json.RawMessage `grove:"products,type:jsonb"`
	CreatedAt time.Time       `grove:"created_at"`
}

func toDefaultsSnapshotModel(s *product.DefaultsSnapshot) (*defaultsSnapshotModel, error) {
	products, err := json.Marshal(s.Products)
	if err != nil {
		return nil, fmt.Errorf("encode defaults snapshot: %w", err)
	}
	return &defaultsSnapshotModel{
		ID:        s.ID,
		TenancyID: s.TenancyID,
		Products:  products,
		CreatedAt: s.CreatedAt,
	}, nil
}

func fromDefaultsSnapshotModel(m *defaultsSnapshotModel) (*product.DefaultsSnapshot, error) {
	products := make(map[string]canonical.Value)
	if len(m.Products) > 0 {
		if err := json.Unmarshal(m.Products, &products); err != nil {
			return nil, fmt.Errorf("decode defaults snapshot %q: %w", m.ID, err)
		}
	}
	return &product.DefaultsSnapshot{
		ID:        m.ID,
		TenancyID: m.TenancyID,
		Products:  products,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

// ==================== Purchase models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                 string     `grove:"id,pk"`
	TenancyID          string     `grove:"tenancy_id"`
	CustomerType       string     `grove:"customer_type"`
	CustomerID         string     `grove:"customer_id"`
	ProductID          *string    `grove:"product_id"`
	ProductVersionID   string     `grove:"product_version_id"`
	PriceID            string     `grove:"price_id"`
	Quantity           int64      `grove:"quantity"`
	Status             string     `grove:"status"`
	CurrentPeriodStart time.Time  `grove:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"`
	CancelAtPeriodEnd  bool       `grove:"cancel_at_period_end"`
	IsCancelable       bool       `grove:"is_cancelable"`
	EndedAt            *time.Time `grove:"ended_at"`
	RefundedAt         *time.Time `grove:"refunded_at"`
	TestMode           bool       `grove:"test_mode"`
	CreationSource     string     `grove:"creation_source"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *purchase.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		TenancyID:          s.TenancyID,
		CustomerType:       string(s.CustomerType),
		CustomerID:         s.CustomerID,
		ProductID:          s.ProductID,
		ProductVersionID:   s.ProductVersionID,
		PriceID:            s.PriceID,
		Quantity:           s.Quantity,
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		IsCancelable:       s.IsCancelable,
		EndedAt:            s.EndedAt,
		RefundedAt:         s.RefundedAt,
		TestMode:           s.TestMode,
		CreationSource:     string(s.CreationSource),
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*purchase.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &purchase.Subscription{
		Purchase: purchase.Purchase{
			Entity:           types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
			TenancyID:        m.TenancyID,
			CustomerType:     product.CustomerType(m.CustomerType),
			CustomerID:       m.CustomerID,
			ProductID:        m.ProductID,
			ProductVersionID: m.ProductVersionID,
			PriceID:          m.PriceID,
			Quantity:         m.Quantity,
			RefundedAt:       utcPtr(m.RefundedAt),
			TestMode:         m.TestMode,
			CreationSource:   purchase.CreationSource(m.CreationSource),
		},
		ID:                 subID,
		Status:             purchase.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   m.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		IsCancelable:       m.IsCancelable,
		EndedAt:            utcPtr(m.EndedAt),
	}, nil
}

type oneTimePurchaseModel struct {
	grove.BaseModel `grove:"table:entitle_one_time_purchases"`

	ID               string     `grove:"id,pk"`
	TenancyID        string     `grove:"tenancy_id"`
	CustomerType     string     `grove:"customer_type"`
	CustomerID       string     `grove:"customer_id"`
	ProductID        *string    `grove:"product_id"`
	ProductVersionID string     `grove:"product_version_id"`
	PriceID          string     `grove:"price_id"`
	Quantity         int64      `grove:"quantity"`
	RefundedAt       *time.Time `grove:"refunded_at"`
	TestMode         bool       `grove:"test_mode"`
	CreationSource   string     `grove:"creation_source"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
}

func toOneTimePurchaseModel(o *purchase.OneTimePurchase) *oneTimePurchaseModel {
	return &oneTimePurchaseModel{
		ID:               o.ID.String(),
		TenancyID:        o.TenancyID,
		CustomerType:     string(o.CustomerType),
		CustomerID:       o.CustomerID,
		ProductID:        o.ProductID,
		ProductVersionID: o.ProductVersionID,
		PriceID:          o.PriceID,
		Quantity:         o.Quantity,
		RefundedAt:       o.RefundedAt,
		TestMode:         o.TestMode,
		CreationSource:   string(o.CreationSource),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func fromOneTimePurchaseModel(m *oneTimePurchaseModel) (*purchase.OneTimePurchase, error) {
	otpID, err := id.ParseOneTimePurchaseID(m.ID)
	if err != nil {
		return nil, err
	}
	return &purchase.OneTimePurchase{
		Purchase: purchase.Purchase{
			Entity:           types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
			TenancyID:        m.TenancyID,
			CustomerType:     product.CustomerType(m.CustomerType),
			CustomerID:       m.CustomerID,
			ProductID:        m.ProductID,
			ProductVersionID: m.ProductVersionID,
			PriceID:          m.PriceID,
			Quantity:         m.Quantity,
			RefundedAt:       utcPtr(m.RefundedAt),
			TestMode:         m.TestMode,
			CreationSource:   purchase.CreationSource(m.CreationSource),
		},
		ID: otpID,
	}, nil
}

// ==================== Item quantity change models ====================

type quantityChangeModel struct {
	grove.BaseModel `grove:"table:entitle_item_quantity_changes"`

	ID           string     `grove:"id,pk"`
	TenancyID    string     `grove:"tenancy_id"`
	CustomerType string     `grove:"customer_type"`
	CustomerID   string     `grove:"customer_id"`
	ItemID       string     `grove:"item_id"`
	Delta        int64      `grove:"delta"`
	ExpiresAt    *time.Time `grove:"expires_at"`
	Description  string     `grove:"description"`
	CreatedAt    time.Time  `grove:"created_at"`
}

func toQuantityChangeModel(c *item.QuantityChange) *quantityChangeModel {
	return &quantityChangeModel{
		ID:           c.ID.String(),
		TenancyID:    c.TenancyID,
		CustomerType: string(c.CustomerType),
		CustomerID:   c.CustomerID,
		ItemID:       c.ItemID,
		Delta:        c.Delta,
		ExpiresAt:    c.ExpiresAt,
		Description:  c.Description,
		CreatedAt:    c.CreatedAt,
	}
}

func fromQuantityChangeModel(m *quantityChangeModel) (*item.QuantityChange, error) {
	changeID, err := id.ParseItemQuantityChangeID(m.ID)
	if err != nil {
		return nil, err
	}
	return &item.QuantityChange{
		ID:           changeID,
		TenancyID:    m.TenancyID,
		CustomerType: product.CustomerType(m.CustomerType),
		CustomerID:   m.CustomerID,
		ItemID:       m.ItemID,
		Delta:        m.Delta,
		CreatedAt:    m.CreatedAt.UTC(),
		ExpiresAt:    utcPtr(m.ExpiresAt),
		Description:  m.Description,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:entitle_subscription_invoices"`

	ID                string    `grove:"id,pk"`
	TenancyID         string    `grove:"tenancy_id"`
	SubscriptionID    string    `grove:"subscription_id"`
	CustomerType      string    `grove:"customer_type"`
	CustomerID        string    `grove:"customer_id"`
	ProviderInvoiceID string    `grove:"provider_invoice_id"`
	IsCreationInvoice bool      `grove:"is_creation_invoice"`
	Status            string    `grove:"status"`
	AmountTotal       int64     `grove:"amount_total"`
	Currency          string    `grove:"currency"`
	PeriodStart       time.Time `grove:"period_start"`
	PeriodEnd         time.Time `grove:"period_end"`
	TestMode          bool      `grove:"test_mode"`
	CreatedAt         time.Time `grove:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.SubscriptionInvoice) *invoiceModel {
	return &invoiceModel{
		ID:                inv.ID.String(),
		TenancyID:         inv.TenancyID,
		SubscriptionID:    inv.SubscriptionID.String(),
		CustomerType:      string(inv.CustomerType),
		CustomerID:        inv.CustomerID,
		ProviderInvoiceID: inv.ProviderInvoiceID,
		IsCreationInvoice: inv.IsCreationInvoice,
		Status:            string(inv.Status),
		AmountTotal:       inv.AmountTotal.Amount,
		Currency:          inv.AmountTotal.Currency,
		PeriodStart:       inv.PeriodStart,
		PeriodEnd:         inv.PeriodEnd,
		TestMode:          inv.TestMode,
		CreatedAt:         inv.CreatedAt,
		UpdatedAt:         inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.SubscriptionInvoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &invoice.SubscriptionInvoice{
		Entity:            types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                invID,
		TenancyID:         m.TenancyID,
		SubscriptionID:    subID,
		CustomerType:      product.CustomerType(m.CustomerType),
		CustomerID:        m.CustomerID,
		ProviderInvoiceID: m.ProviderInvoiceID,
		IsCreationInvoice: m.IsCreationInvoice,
		Status:            invoice.Status(m.Status),
		AmountTotal:       types.Money{Amount: m.AmountTotal, Currency: m.Currency},
		PeriodStart:       m.PeriodStart.UTC(),
		PeriodEnd:         m.PeriodEnd.UTC(),
		TestMode:          m.TestMode,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
