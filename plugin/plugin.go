// Package plugin provides an extensible plugin system for Entitle.
// Plugins hook into grant, refund, renewal and evaluation events to extend
// the engine with auditing, metrics or provider sync.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. e is the *entitle.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, e any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Product hooks
// ──────────────────────────────────────────────────

// OnProductVersionCreated is called when an upsert inserts a new version row.
// It is not called for upserts that found an existing row.
type OnProductVersionCreated interface {
	Plugin
	OnProductVersionCreated(ctx context.Context, v *product.Version) error
}

// OnDefaultsSnapshotCreated is called when a new defaults snapshot is recorded.
type OnDefaultsSnapshotCreated interface {
	Plugin
	OnDefaultsSnapshotCreated(ctx context.Context, s *product.DefaultsSnapshot) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnProductGranted is called after a grant creates a subscription or a
// one-time purchase. purchaseID is the id of the created row.
type OnProductGranted interface {
	Plugin
	OnProductGranted(ctx context.Context, p *purchase.Purchase, purchaseID string) error
}

// OnSubscriptionSwitched is called for every subscription a grant replaced.
type OnSubscriptionSwitched interface {
	Plugin
	OnSubscriptionSwitched(ctx context.Context, from *purchase.Subscription, to *purchase.Purchase) error
}

// OnSubscriptionCanceled is called when a subscription is set to cancel at
// its period end.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *purchase.Subscription) error
}

// OnSubscriptionRenewed is called when a subscription rolls into a new period.
type OnSubscriptionRenewed interface {
	Plugin
	OnSubscriptionRenewed(ctx context.Context, sub *purchase.Subscription, inv *invoice.SubscriptionInvoice) error
}

// OnPurchaseRefunded is called when a subscription or one-time purchase is
// refunded.
type OnPurchaseRefunded interface {
	Plugin
	OnPurchaseRefunded(ctx context.Context, p *purchase.Purchase, purchaseID string) error
}

// ──────────────────────────────────────────────────
// Item hooks
// ──────────────────────────────────────────────────

// OnItemQuantityChanged is called after a change is recorded. balance is the
// item quantity right after the change.
type OnItemQuantityChanged interface {
	Plugin
	OnItemQuantityChanged(ctx context.Context, c *item.QuantityChange, balance int64) error
}

// ──────────────────────────────────────────────────
// Evaluation hooks
// ──────────────────────────────────────────────────

// OnOwnedProductsEvaluated is called after an owned-products query.
type OnOwnedProductsEvaluated interface {
	Plugin
	OnOwnedProductsEvaluated(ctx context.Context, q OwnedQuery, owned []snapshot.OwnedProduct) error
}

// OnDomainRuleViolated is called when the engine refuses a write.
type OnDomainRuleViolated interface {
	Plugin
	OnDomainRuleViolated(ctx context.Context, tenancyID, code, message string) error
}

// OnIntegrityViolation is called when ledger state references a missing
// product version.
type OnIntegrityViolation interface {
	Plugin
	OnIntegrityViolation(ctx context.Context, tenancyID string, err error) error
}

// OwnedQuery identifies an owned-products evaluation.
type OwnedQuery struct {
	TenancyID    string
	CustomerType product.CustomerType
	CustomerID   string
	Now          time.Time
}
