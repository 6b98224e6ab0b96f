// Package audithook bridges Entitle ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                    = (*Extension)(nil)
	_ plugin.OnProductVersionCreated   = (*Extension)(nil)
	_ plugin.OnDefaultsSnapshotCreated = (*Extension)(nil)
	_ plugin.OnProductGranted          = (*Extension)(nil)
	_ plugin.OnSubscriptionSwitched    = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled    = (*Extension)(nil)
	_ plugin.OnSubscriptionRenewed     = (*Extension)(nil)
	_ plugin.OnPurchaseRefunded        = (*Extension)(nil)
	_ plugin.OnItemQuantityChanged     = (*Extension)(nil)
	_ plugin.OnDomainRuleViolated      = (*Extension)(nil)
	_ plugin.OnIntegrityViolation      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	TenancyID  string         `json:"tenancy_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges engine events to an audit trail backend.
type Extension struct {
	recorder Recorder
	filter   filter
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Product hooks
// ──────────────────────────────────────────────────

// OnProductVersionCreated implements plugin.OnProductVersionCreated.
func (e *Extension) OnProductVersionCreated(ctx context.Context, v *product.Version) error {
	productID := ""
	if v.ProductID != nil {
		productID = *v.ProductID
	}
	return e.record(ctx, ActionProductVersionCreated, SeverityInfo, OutcomeSuccess,
		ResourceProductVersion, v.VersionID, v.TenancyID, CategoryCatalog, nil,
		"product_id", productID,
	)
}

// OnDefaultsSnapshotCreated implements plugin.OnDefaultsSnapshotCreated.
func (e *Extension) OnDefaultsSnapshotCreated(ctx context.Context, s *product.DefaultsSnapshot) error {
	return e.record(ctx, ActionDefaultsSnapshotCreated, SeverityInfo, OutcomeSuccess,
		ResourceDefaultsSnapshot, s.ID, s.TenancyID, CategoryCatalog, nil,
		"products", len(s.Products),
	)
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnProductGranted implements plugin.OnProductGranted.
func (e *Extension) OnProductGranted(ctx context.Context, p *purchase.Purchase, purchaseID string) error {
	return e.record(ctx, ActionProductGranted, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, purchaseID, p.TenancyID, CategoryPurchase, nil,
		purchaseMeta(p)...,
	)
}

// OnSubscriptionSwitched implements plugin.OnSubscriptionSwitched.
func (e *Extension) OnSubscriptionSwitched(ctx context.Context, from *purchase.Subscription, to *purchase.Purchase) error {
	kv := purchaseMeta(to)
	kv = append(kv, "from_product_id", deref(from.ProductID))
	return e.record(ctx, ActionSubscriptionSwitched, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, from.ID.String(), from.TenancyID, CategorySubscription, nil,
		kv...,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *purchase.Subscription) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), sub.TenancyID, CategorySubscription, nil,
		"customer_id", sub.CustomerID,
		"period_end", sub.CurrentPeriodEnd,
	)
}

// OnSubscriptionRenewed implements plugin.OnSubscriptionRenewed.
func (e *Extension) OnSubscriptionRenewed(ctx context.Context, sub *purchase.Subscription, inv *invoice.SubscriptionInvoice) error {
	return e.record(ctx, ActionSubscriptionRenewed, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), sub.TenancyID, CategorySubscription, nil,
		"customer_id", sub.CustomerID,
		"invoice_id", inv.ID.String(),
		"amount", inv.AmountTotal.String(),
		"period_end", sub.CurrentPeriodEnd,
	)
}

// OnPurchaseRefunded implements plugin.OnPurchaseRefunded.
func (e *Extension) OnPurchaseRefunded(ctx context.Context, p *purchase.Purchase, purchaseID string) error {
	return e.record(ctx, ActionPurchaseRefunded, SeverityWarning, OutcomeSuccess,
		ResourcePurchase, purchaseID, p.TenancyID, CategoryPurchase, nil,
		purchaseMeta(p)...,
	)
}

// ──────────────────────────────────────────────────
// Item hooks
// ──────────────────────────────────────────────────

// OnItemQuantityChanged implements plugin.OnItemQuantityChanged.
func (e *Extension) OnItemQuantityChanged(ctx context.Context, c *item.QuantityChange, balance int64) error {
	return e.record(ctx, ActionItemQuantityChanged, SeverityInfo, OutcomeSuccess,
		ResourceItem, c.ItemID, c.TenancyID, CategoryUsage, nil,
		"change_id", c.ID.String(),
		"customer_id", c.CustomerID,
		"delta", c.Delta,
		"balance", balance,
	)
}

// ──────────────────────────────────────────────────
// Rule hooks
// ──────────────────────────────────────────────────

// OnDomainRuleViolated implements plugin.OnDomainRuleViolated.
func (e *Extension) OnDomainRuleViolated(ctx context.Context, tenancyID, code, message string) error {
	return e.record(ctx, ActionDomainRuleViolated, SeverityWarning, OutcomeFailure,
		ResourceTenancy, tenancyID, tenancyID, CategoryPurchase, nil,
		"code", code,
		"message", message,
	)
}

// OnIntegrityViolation implements plugin.OnIntegrityViolation.
func (e *Extension) OnIntegrityViolation(ctx context.Context, tenancyID string, err error) error {
	return e.record(ctx, ActionIntegrityViolation, SeverityCritical, OutcomeFailure,
		ResourceTenancy, tenancyID, tenancyID, CategoryIntegrity, err,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the filter admits it.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, tenancyID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.filter.admits(action, category, tenancyID) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		TenancyID:  tenancyID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func purchaseMeta(p *purchase.Purchase) []any {
	return []any{
		"customer_type", string(p.CustomerType),
		"customer_id", p.CustomerID,
		"product_id", deref(p.ProductID),
		"price_id", p.PriceID,
		"quantity", p.Quantity,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
