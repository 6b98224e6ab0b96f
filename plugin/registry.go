package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
)

// DefaultTimeout bounds every hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                    []OnInit
	onShutdown                []OnShutdown
	onProductVersionCreated   []OnProductVersionCreated
	onDefaultsSnapshotCreated []OnDefaultsSnapshotCreated
	onProductGranted          []OnProductGranted
	onSubscriptionSwitched    []OnSubscriptionSwitched
	onSubscriptionCanceled    []OnSubscriptionCanceled
	onSubscriptionRenewed     []OnSubscriptionRenewed
	onPurchaseRefunded        []OnPurchaseRefunded
	onItemQuantityChanged     []OnItemQuantityChanged
	onOwnedProductsEvaluated  []OnOwnedProductsEvaluated
	onDomainRuleViolated      []OnDomainRuleViolated
	onIntegrityViolation      []OnIntegrityViolation
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnProductVersionCreated); ok {
		r.onProductVersionCreated = append(r.onProductVersionCreated, v)
	}
	if v, ok := p.(OnDefaultsSnapshotCreated); ok {
		r.onDefaultsSnapshotCreated = append(r.onDefaultsSnapshotCreated, v)
	}
	if v, ok := p.(OnProductGranted); ok {
		r.onProductGranted = append(r.onProductGranted, v)
	}
	if v, ok := p.(OnSubscriptionSwitched); ok {
		r.onSubscriptionSwitched = append(r.onSubscriptionSwitched, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionRenewed); ok {
		r.onSubscriptionRenewed = append(r.onSubscriptionRenewed, v)
	}
	if v, ok := p.(OnPurchaseRefunded); ok {
		r.onPurchaseRefunded = append(r.onPurchaseRefunded, v)
	}
	if v, ok := p.(OnItemQuantityChanged); ok {
		r.onItemQuantityChanged = append(r.onItemQuantityChanged, v)
	}
	if v, ok := p.(OnOwnedProductsEvaluated); ok {
		r.onOwnedProductsEvaluated = append(r.onOwnedProductsEvaluated, v)
	}
	if v, ok := p.(OnDomainRuleViolated); ok {
		r.onDomainRuleViolated = append(r.onDomainRuleViolated, v)
	}
	if v, ok := p.(OnIntegrityViolation); ok {
		r.onIntegrityViolation = append(r.onIntegrityViolation, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// hookTypes lists every hook interface for registration logging.
var hookTypes = []reflect.Type{
	reflect.TypeFor[OnInit](),
	reflect.TypeFor[OnShutdown](),
	reflect.TypeFor[OnProductVersionCreated](),
	reflect.TypeFor[OnDefaultsSnapshotCreated](),
	reflect.TypeFor[OnProductGranted](),
	reflect.TypeFor[OnSubscriptionSwitched](),
	reflect.TypeFor[OnSubscriptionCanceled](),
	reflect.TypeFor[OnSubscriptionRenewed](),
	reflect.TypeFor[OnPurchaseRefunded](),
	reflect.TypeFor[OnItemQuantityChanged](),
	reflect.TypeFor[OnOwnedProductsEvaluated](),
	reflect.TypeFor[OnDomainRuleViolated](),
	reflect.TypeFor[OnIntegrityViolation](),
}

// getImplementedInterfaces returns the names of the hooks p implements.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	pt := reflect.TypeOf(p)
	for _, t := range hookTypes {
		if pt.Implements(t) {
			interfaces = append(interfaces, t.Name())
		}
	}
	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// emit calls fn for every hook in the list snapshot taken under the read
// lock. Failures are logged and never returned.
func emit[H Plugin](ctx context.Context, r *Registry, list *[]H, hook string, fn func(H) error) {
	r.mu.RLock()
	hooks := make([]H, len(*list))
	copy(hooks, *list)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error { return fn(h) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", h.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit notifies all plugins that implement OnInit.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, &r.onInit, "OnInit", func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown notifies all plugins that implement OnShutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, &r.onShutdown, "OnShutdown", func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitProductVersionCreated notifies all plugins that implement OnProductVersionCreated.
func (r *Registry) EmitProductVersionCreated(ctx context.Context, v *product.Version) {
	emit(ctx, r, &r.onProductVersionCreated, "OnProductVersionCreated", func(p OnProductVersionCreated) error {
		return p.OnProductVersionCreated(ctx, v)
	})
}

// EmitDefaultsSnapshotCreated notifies all plugins that implement OnDefaultsSnapshotCreated.
func (r *Registry) EmitDefaultsSnapshotCreated(ctx context.Context, s *product.DefaultsSnapshot) {
	emit(ctx, r, &r.onDefaultsSnapshotCreated, "OnDefaultsSnapshotCreated", func(p OnDefaultsSnapshotCreated) error {
		return p.OnDefaultsSnapshotCreated(ctx, s)
	})
}

// EmitProductGranted notifies all plugins that implement OnProductGranted.
func (r *Registry) EmitProductGranted(ctx context.Context, pur *purchase.Purchase, purchaseID string) {
	emit(ctx, r, &r.onProductGranted, "OnProductGranted", func(p OnProductGranted) error {
		return p.OnProductGranted(ctx, pur, purchaseID)
	})
}

// EmitSubscriptionSwitched notifies all plugins that implement OnSubscriptionSwitched.
func (r *Registry) EmitSubscriptionSwitched(ctx context.Context, from *purchase.Subscription, to *purchase.Purchase) {
	emit(ctx, r, &r.onSubscriptionSwitched, "OnSubscriptionSwitched", func(p OnSubscriptionSwitched) error {
		return p.OnSubscriptionSwitched(ctx, from, to)
	})
}

// EmitSubscriptionCanceled notifies all plugins that implement OnSubscriptionCanceled.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *purchase.Subscription) {
	emit(ctx, r, &r.onSubscriptionCanceled, "OnSubscriptionCanceled", func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, sub)
	})
}

// EmitSubscriptionRenewed notifies all plugins that implement OnSubscriptionRenewed.
func (r *Registry) EmitSubscriptionRenewed(ctx context.Context, sub *purchase.Subscription, inv *invoice.SubscriptionInvoice) {
	emit(ctx, r, &r.onSubscriptionRenewed, "OnSubscriptionRenewed", func(p OnSubscriptionRenewed) error {
		return p.OnSubscriptionRenewed(ctx, sub, inv)
	})
}

// EmitPurchaseRefunded notifies all plugins that implement OnPurchaseRefunded.
func (r *Registry) EmitPurchaseRefunded(ctx context.Context, pur *purchase.Purchase, purchaseID string) {
	emit(ctx, r, &r.onPurchaseRefunded, "OnPurchaseRefunded", func(p OnPurchaseRefunded) error {
		return p.OnPurchaseRefunded(ctx, pur, purchaseID)
	})
}

// EmitItemQuantityChanged notifies all plugins that implement OnItemQuantityChanged.
func (r *Registry) EmitItemQuantityChanged(ctx context.Context, c *item.QuantityChange, balance int64) {
	emit(ctx, r, &r.onItemQuantityChanged, "OnItemQuantityChanged", func(p OnItemQuantityChanged) error {
		return p.OnItemQuantityChanged(ctx, c, balance)
	})
}

// EmitOwnedProductsEvaluated notifies all plugins that implement OnOwnedProductsEvaluated.
func (r *Registry) EmitOwnedProductsEvaluated(ctx context.Context, q OwnedQuery, owned []snapshot.OwnedProduct) {
	emit(ctx, r, &r.onOwnedProductsEvaluated, "OnOwnedProductsEvaluated", func(p OnOwnedProductsEvaluated) error {
		return p.OnOwnedProductsEvaluated(ctx, q, owned)
	})
}

// EmitDomainRuleViolated notifies all plugins that implement OnDomainRuleViolated.
func (r *Registry) EmitDomainRuleViolated(ctx context.Context, tenancyID, code, message string) {
	emit(ctx, r, &r.onDomainRuleViolated, "OnDomainRuleViolated", func(p OnDomainRuleViolated) error {
		return p.OnDomainRuleViolated(ctx, tenancyID, code, message)
	})
}

// EmitIntegrityViolation notifies all plugins that implement OnIntegrityViolation.
func (r *Registry) EmitIntegrityViolation(ctx context.Context, tenancyID string, err error) {
	emit(ctx, r, &r.onIntegrityViolation, "OnIntegrityViolation", func(p OnIntegrityViolation) error {
		return p.OnIntegrityViolation(ctx, tenancyID, err)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block a ledger read or write.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
