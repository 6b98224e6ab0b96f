// Package observability provides a metrics extension for Entitle that
// records ledger event counts through a MetricFactory.
package observability

import (
	"context"
	"strings"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                    = (*MetricsExtension)(nil)
	_ plugin.OnInit                    = (*MetricsExtension)(nil)
	_ plugin.OnProductVersionCreated   = (*MetricsExtension)(nil)
	_ plugin.OnDefaultsSnapshotCreated = (*MetricsExtension)(nil)
	_ plugin.OnProductGranted          = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionSwitched    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionRenewed     = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseRefunded        = (*MetricsExtension)(nil)
	_ plugin.OnItemQuantityChanged     = (*MetricsExtension)(nil)
	_ plugin.OnOwnedProductsEvaluated  = (*MetricsExtension)(nil)
	_ plugin.OnDomainRuleViolated      = (*MetricsExtension)(nil)
	_ plugin.OnIntegrityViolation      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger metrics.
// Register it as an Entitle plugin to track grants, refunds and balances.
type MetricsExtension struct {
	factory MetricFactory

	// Catalog metrics
	VersionsCreated         Counter
	DefaultsSnapshotCreated Counter

	// Purchase metrics
	SubscriptionsGranted  Counter
	OneTimeGranted        Counter
	SubscriptionsSwitched Counter
	SubscriptionsCanceled Counter
	SubscriptionsRenewed  Counter
	PurchasesRefunded     Counter
	RenewalAmount         Histogram

	// Item metrics
	ItemChanges  Counter
	ItemCredited Counter
	ItemDebited  Counter

	// Evaluation metrics
	OwnedEvaluations Counter
	OwnedCount       Histogram

	// Error metrics
	DomainRuleViolations Counter
	IntegrityViolations  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		VersionsCreated:         factory.Counter("entitle.product_version.created"),
		DefaultsSnapshotCreated: factory.Counter("entitle.defaults_snapshot.created"),

		SubscriptionsGranted:  factory.Counter("entitle.subscription.granted"),
		OneTimeGranted:        factory.Counter("entitle.one_time_purchase.granted"),
		SubscriptionsSwitched: factory.Counter("entitle.subscription.switched"),
		SubscriptionsCanceled: factory.Counter("entitle.subscription.canceled"),
		SubscriptionsRenewed:  factory.Counter("entitle.subscription.renewed"),
		PurchasesRefunded:     factory.Counter("entitle.purchase.refunded"),
		RenewalAmount:         factory.Histogram("entitle.renewal.amount_minor"),

		ItemChanges:  factory.Counter("entitle.item.changes"),
		ItemCredited: factory.Counter("entitle.item.credited"),
		ItemDebited:  factory.Counter("entitle.item.debited"),

		OwnedEvaluations: factory.Counter("entitle.owned.evaluations"),
		OwnedCount:       factory.Histogram("entitle.owned.count"),

		DomainRuleViolations: factory.Counter("entitle.domain_rule.violations"),
		IntegrityViolations:  factory.Counter("entitle.integrity.violations"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnProductVersionCreated implements plugin.OnProductVersionCreated.
func (m *MetricsExtension) OnProductVersionCreated(_ context.Context, _ *product.Version) error {
	m.VersionsCreated.Inc()
	return nil
}

// OnDefaultsSnapshotCreated implements plugin.OnDefaultsSnapshotCreated.
func (m *MetricsExtension) OnDefaultsSnapshotCreated(_ context.Context, _ *product.DefaultsSnapshot) error {
	m.DefaultsSnapshotCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnProductGranted implements plugin.OnProductGranted.
func (m *MetricsExtension) OnProductGranted(_ context.Context, _ *purchase.Purchase, purchaseID string) error {
	if strings.HasPrefix(purchaseID, string(id.PrefixSubscription)+"_") {
		m.SubscriptionsGranted.Inc()
	} else {
		m.OneTimeGranted.Inc()
	}
	return nil
}

// OnSubscriptionSwitched implements plugin.OnSubscriptionSwitched.
func (m *MetricsExtension) OnSubscriptionSwitched(_ context.Context, _ *purchase.Subscription, _ *purchase.Purchase) error {
	m.SubscriptionsSwitched.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *purchase.Subscription) error {
	m.SubscriptionsCanceled.Inc()
	return nil
}

// OnSubscriptionRenewed implements plugin.OnSubscriptionRenewed.
func (m *MetricsExtension) OnSubscriptionRenewed(_ context.Context, _ *purchase.Subscription, inv *invoice.SubscriptionInvoice) error {
	m.SubscriptionsRenewed.Inc()
	m.RenewalAmount.Observe(float64(inv.AmountTotal.Amount))
	return nil
}

// OnPurchaseRefunded implements plugin.OnPurchaseRefunded.
func (m *MetricsExtension) OnPurchaseRefunded(_ context.Context, _ *purchase.Purchase, _ string) error {
	m.PurchasesRefunded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Item hooks
// ──────────────────────────────────────────────────

// OnItemQuantityChanged implements plugin.OnItemQuantityChanged.
func (m *MetricsExtension) OnItemQuantityChanged(_ context.Context, c *item.QuantityChange, _ int64) error {
	m.ItemChanges.Inc()
	if c.Delta > 0 {
		m.ItemCredited.Add(float64(c.Delta))
	} else {
		m.ItemDebited.Add(float64(-c.Delta))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Evaluation hooks
// ──────────────────────────────────────────────────

// OnOwnedProductsEvaluated implements plugin.OnOwnedProductsEvaluated.
func (m *MetricsExtension) OnOwnedProductsEvaluated(_ context.Context, _ plugin.OwnedQuery, owned []snapshot.OwnedProduct) error {
	m.OwnedEvaluations.Inc()
	m.OwnedCount.Observe(float64(len(owned)))
	return nil
}

// OnDomainRuleViolated implements plugin.OnDomainRuleViolated.
func (m *MetricsExtension) OnDomainRuleViolated(_ context.Context, _, _, _ string) error {
	m.DomainRuleViolations.Inc()
	return nil
}

// OnIntegrityViolation implements plugin.OnIntegrityViolation.
func (m *MetricsExtension) OnIntegrityViolation(_ context.Context, _ string, _ error) error {
	m.IntegrityViolations.Inc()
	return nil
}
