// Package fixture loads ledger fixtures into a memory store. It is the mock
// side of the engine's storage: the same store.Store the database adapters
// implement, seeded from a YAML or JSONC document.
//
// A fixture names one tenancy, its catalog and the rows of its ledger.
// Purchases reference catalog products by id; the loader freezes each
// referenced product into a product version the way a grant would. A
// purchase may instead pin product_version_id to reference a version the
// fixture does not create, which is how integrity failures are reproduced.
package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/types"
)

// Document is the fixture file layout.
type Document struct {
	Tenancy             string            `json:"tenancy"`
	Catalog             catalog.Catalog   `json:"catalog"`
	DefaultsSnapshots   []DefaultsRow     `json:"defaults_snapshots,omitempty"`
	Subscriptions       []SubscriptionRow `json:"subscriptions,omitempty"`
	OneTimePurchases    []PurchaseRow     `json:"one_time_purchases,omitempty"`
	ItemQuantityChanges []ChangeRow       `json:"item_quantity_changes,omitempty"`
	Invoices            []InvoiceRow      `json:"invoices,omitempty"`
}

// DefaultsRow records the catalog's include-by-default set at CreatedAt.
type DefaultsRow struct {
	CreatedAt time.Time `json:"created_at"`
}

// PurchaseRow is the shared purchase shape.
type PurchaseRow struct {
	ID               string           `json:"id,omitempty"`
	CustomerType     string           `json:"customer_type"`
	CustomerID       string           `json:"customer_id"`
	ProductID        string           `json:"product_id,omitempty"`
	Product          *product.Product `json:"product,omitempty"`
	ProductVersionID string           `json:"product_version_id,omitempty"`
	PriceID          string           `json:"price_id,omitempty"`
	Quantity         int64            `json:"quantity,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	RefundedAt       *time.Time       `json:"refunded_at,omitempty"`
	TestMode         bool             `json:"test_mode,omitempty"`
}

// SubscriptionRow adds the subscription period. Key names the row for
// invoices in the same fixture.
type SubscriptionRow struct {
	PurchaseRow
	Key                string     `json:"key,omitempty"`
	Status             string     `json:"status,omitempty"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end,omitempty"`
	NotCancelable      bool       `json:"not_cancelable,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
}

// ChangeRow is an item quantity change.
type ChangeRow struct {
	ID           string     `json:"id,omitempty"`
	CustomerType string     `json:"customer_type"`
	CustomerID   string     `json:"customer_id"`
	ItemID       string     `json:"item_id"`
	Delta        int64      `json:"delta"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Description  string     `json:"description,omitempty"`
}

// InvoiceRow is a subscription invoice. Subscription is the key of a
// subscription row.
type InvoiceRow struct {
	ID                string      `json:"id,omitempty"`
	Subscription      string      `json:"subscription"`
	IsCreationInvoice bool        `json:"is_creation_invoice,omitempty"`
	Status            string      `json:"status,omitempty"`
	AmountTotal       types.Money `json:"amount_total"`
	CreatedAt         time.Time   `json:"created_at"`
	PeriodStart       time.Time   `json:"period_start"`
	PeriodEnd         time.Time   `json:"period_end"`
}

// Fixture is a loaded fixture.
type Fixture struct {
	Tenancy string
	Store   *memory.Store
	Catalog *catalog.Catalog
}

// Provider serves the fixture's catalog.
func (f *Fixture) Provider() catalog.Static {
	return catalog.Static{f.Tenancy: f.Catalog}
}

// LoadFile reads a fixture from path. Files ending in .yaml or .yml are YAML;
// anything else is JSON with comments and trailing commas allowed.
func LoadFile(ctx context.Context, path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(ctx, data)
	default:
		return LoadJSONC(ctx, data)
	}
}

// LoadYAML parses a YAML fixture.
func LoadYAML(ctx context.Context, data []byte) (*Fixture, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("fixture: parse yaml: %w", err)
	}
	// Product documents carry custom JSON decoding; route YAML through it.
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("fixture: convert yaml: %w", err)
	}
	return load(ctx, doc)
}

// LoadJSONC parses a JSON fixture that may contain comments.
func LoadJSONC(ctx context.Context, data []byte) (*Fixture, error) {
	return load(ctx, jsonc.ToJSON(data))
}

func load(ctx context.Context, data []byte) (*Fixture, error) {
	var d Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("fixture: decode: %w", err)
	}
	return Seed(ctx, &d)
}

// Seed writes a parsed document into a fresh memory store.
func Seed(ctx context.Context, d *Document) (*Fixture, error) {
	if d.Tenancy == "" {
		return nil, fmt.Errorf("fixture: tenancy is required")
	}
	if err := d.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}

	s := &seeder{ctx: ctx, doc: d, store: memory.New(), subs: make(map[string]*purchase.Subscription)}
	steps := []func() error{s.defaults, s.subscriptions, s.oneTimePurchases, s.changes, s.invoices}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return &Fixture{Tenancy: d.Tenancy, Store: s.store, Catalog: &d.Catalog}, nil
}

type seeder struct {
	ctx   context.Context
	doc   *Document
	store *memory.Store
	subs  map[string]*purchase.Subscription
}

func (s *seeder) defaults() error {
	products, err := snapshot.DefaultsFrom(s.doc.Catalog.IncludeByDefault())
	if err != nil {
		return fmt.Errorf("fixture: defaults: %w", err)
	}
	for _, row := range s.doc.DefaultsSnapshots {
		snap := &product.DefaultsSnapshot{
			ID:        id.NewDefaultsSnapshotID().String(),
			TenancyID: s.doc.Tenancy,
			Products:  products,
			CreatedAt: row.CreatedAt.UTC(),
		}
		if err := s.store.CreateDefaultsSnapshot(s.ctx, snap); err != nil {
			return fmt.Errorf("fixture: defaults: %w", err)
		}
	}
	return nil
}

// purchase builds the shared purchase shape and freezes its product.
func (s *seeder) purchase(row *PurchaseRow, ref string) (purchase.Purchase, error) {
	customerType, err := product.ParseCustomerType(row.CustomerType)
	if err != nil {
		return purchase.Purchase{}, fmt.Errorf("fixture: %s: %w", ref, err)
	}
	quantity := row.Quantity
	if quantity == 0 {
		quantity = 1
	}

	p := purchase.Purchase{
		Entity:           types.NewEntityAt(row.CreatedAt),
		TenancyID:        s.doc.Tenancy,
		CustomerType:     customerType,
		CustomerID:       row.CustomerID,
		ProductVersionID: row.ProductVersionID,
		PriceID:          row.PriceID,
		Quantity:         quantity,
		RefundedAt:       utc(row.RefundedAt),
		TestMode:         row.TestMode,
		CreationSource:   purchase.SourcePurchasePage,
	}
	if row.TestMode {
		p.CreationSource = purchase.SourceTestMode
	}
	if row.ProductID != "" {
		pid := row.ProductID
		p.ProductID = &pid
	}
	if p.ProductVersionID != "" {
		return p, nil
	}

	def := row.Product
	if def == nil {
		var ok bool
		if def, ok = s.doc.Catalog.Product(row.ProductID); !ok {
			return purchase.Purchase{}, fmt.Errorf("fixture: %s: unknown product %q", ref, row.ProductID)
		}
	}
	versionID, err := s.freeze(p.ProductID, def, p.CreatedAt)
	if err != nil {
		return purchase.Purchase{}, fmt.Errorf("fixture: %s: %w", ref, err)
	}
	p.ProductVersionID = versionID
	return p, nil
}

func (s *seeder) freeze(productID *string, def *product.Product, at time.Time) (string, error) {
	doc, err := product.ToValue(def)
	if err != nil {
		return "", err
	}
	versionID := product.ComputeVersionID(productID, doc)
	_, err = s.store.InsertVersion(s.ctx, &product.Version{
		TenancyID:   s.doc.Tenancy,
		VersionID:   versionID,
		ProductID:   productID,
		ProductJSON: doc,
		CreatedAt:   at,
	})
	return versionID, err
}

func (s *seeder) subscriptions() error {
	for i := range s.doc.Subscriptions {
		row := &s.doc.Subscriptions[i]
		ref := fmt.Sprintf("subscriptions[%d]", i)
		base, err := s.purchase(&row.PurchaseRow, ref)
		if err != nil {
			return err
		}
		subID, err := rowID(row.ID, id.PrefixSubscription)
		if err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
		status := purchase.StatusActive
		if row.Status != "" {
			status = purchase.Status(row.Status)
		}
		start := base.CreatedAt
		if row.CurrentPeriodStart != nil {
			start = row.CurrentPeriodStart.UTC()
		}
		sub := &purchase.Subscription{
			Purchase:           base,
			ID:                 subID,
			Status:             status,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   row.CurrentPeriodEnd.UTC(),
			CancelAtPeriodEnd:  row.CancelAtPeriodEnd,
			IsCancelable:       !row.NotCancelable,
			EndedAt:            utc(row.EndedAt),
		}
		if err := s.store.CreateSubscription(s.ctx, sub); err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
		if row.Key != "" {
			s.subs[row.Key] = sub
		}
	}
	return nil
}

func (s *seeder) oneTimePurchases() error {
	for i := range s.doc.OneTimePurchases {
		row := &s.doc.OneTimePurchases[i]
		ref := fmt.Sprintf("one_time_purchases[%d]", i)
		base, err := s.purchase(row, ref)
		if err != nil {
			return err
		}
		otpID, err := rowID(row.ID, id.PrefixOneTimePurchase)
		if err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
		if err := s.store.CreateOneTimePurchase(s.ctx, &purchase.OneTimePurchase{Purchase: base, ID: otpID}); err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
	}
	return nil
}

func (s *seeder) changes() error {
	for i, row := range s.doc.ItemQuantityChanges {
		ref := fmt.Sprintf("item_quantity_changes[%d]", i)
		customerType, err := product.ParseCustomerType(row.CustomerType)
		if err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
		changeID, err := rowID(row.ID, id.PrefixItemQuantityChange)
		if err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
		c := &item.QuantityChange{
			ID:           changeID,
			TenancyID:    s.doc.Tenancy,
			CustomerType: customerType,
			CustomerID:   row.CustomerID,
			ItemID:       row.ItemID,
			Delta:        row.Delta,
			CreatedAt:    row.CreatedAt.UTC(),
			ExpiresAt:    utc(row.ExpiresAt),
			Description:  row.Description,
		}
		if err := s.store.CreateItemQuantityChange(s.ctx, c); err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
	}
	return nil
}

func (s *seeder) invoices() error {
	for i, row := range s.doc.Invoices {
		ref := fmt.Sprintf("invoices[%d]", i)
		sub, ok := s.subs[row.Subscription]
		if !ok {
			return fmt.Errorf("fixture: %s: unknown subscription %q", ref, row.Subscription)
		}
		invID, err := rowID(row.ID, id.PrefixInvoice)
		if err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
		status := invoice.StatusPaid
		if row.Status != "" {
			status = invoice.Status(row.Status)
		}
		inv := &invoice.SubscriptionInvoice{
			Entity:            types.NewEntityAt(row.CreatedAt),
			ID:                invID,
			TenancyID:         s.doc.Tenancy,
			SubscriptionID:    sub.ID,
			CustomerType:      sub.CustomerType,
			CustomerID:        sub.CustomerID,
			IsCreationInvoice: row.IsCreationInvoice,
			Status:            status,
			AmountTotal:       row.AmountTotal,
			PeriodStart:       row.PeriodStart.UTC(),
			PeriodEnd:         row.PeriodEnd.UTC(),
			TestMode:          sub.TestMode,
		}
		if err := s.store.CreateSubscriptionInvoice(s.ctx, inv); err != nil {
			return fmt.Errorf("fixture: %s: %w", ref, err)
		}
	}
	return nil
}

// rowID parses a fixture id, generating one when empty.
func rowID(raw string, prefix id.Prefix) (id.ID, error) {
	if raw == "" {
		return id.New(prefix), nil
	}
	return id.ParseWithPrefix(raw, prefix)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
