package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
)

// Store keeps every row in memory. Rows are copied on the way in and out so
// callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	// Product version storage, keyed by tenancy then version id
	versions map[string]map[string]*product.Version

	// Defaults snapshots per tenancy, in insertion order
	defaults map[string][]*product.DefaultsSnapshot

	// Purchase storage, keyed by tenancy/id
	subscriptions    map[string]*purchase.Subscription
	oneTimePurchases map[string]*purchase.OneTimePurchase

	// Item quantity changes, keyed by tenancy/id
	changes map[string]*item.QuantityChange

	// Invoice storage, keyed by tenancy/id
	invoices map[string]*invoice.SubscriptionInvoice

	closed bool
}

func New() *Store {
	return &Store{
		versions:         make(map[string]map[string]*product.Version),
		defaults:         make(map[string][]*product.DefaultsSnapshot),
		subscriptions:    make(map[string]*purchase.Subscription),
		oneTimePurchases: make(map[string]*purchase.OneTimePurchase),
		changes:          make(map[string]*item.QuantityChange),
		invoices:         make(map[string]*invoice.SubscriptionInvoice),
	}
}

func rowKey(tenancyID string, rowID id.ID) string {
	return tenancyID + "/" + rowID.String()
}

// Product version Store implementation

func (s *Store) InsertVersion(_ context.Context, v *product.Version) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.versions[v.TenancyID]
	if !ok {
		byID = make(map[string]*product.Version)
		s.versions[v.TenancyID] = byID
	}
	if _, exists := byID[v.VersionID]; exists {
		return false, nil
	}
	cp := *v
	byID[v.VersionID] = &cp
	return true, nil
}

func (s *Store) GetVersion(_ context.Context, tenancyID, versionID string) (*product.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.versions[tenancyID][versionID]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, entitle.ErrProductVersionNotFound
}

func (s *Store) GetVersions(_ context.Context, tenancyID string, versionIDs []string) (map[string]*product.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*product.Version, len(versionIDs))
	for _, vid := range versionIDs {
		if v, ok := s.versions[tenancyID][vid]; ok {
			cp := *v
			out[vid] = &cp
		}
	}
	return out, nil
}

func (s *Store) CreateDefaultsSnapshot(_ context.Context, snap *product.DefaultsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.defaults[snap.TenancyID] {
		if existing.ID == snap.ID {
			return entitle.ErrAlreadyExists
		}
	}
	cp := *snap
	s.defaults[snap.TenancyID] = append(s.defaults[snap.TenancyID], &cp)
	return nil
}

func (s *Store) LatestDefaultsSnapshot(_ context.Context, tenancyID string, at time.Time) (*product.DefaultsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *product.DefaultsSnapshot
	for _, snap := range s.defaults[tenancyID] {
		if snap.CreatedAt.After(at) {
			continue
		}
		if latest == nil || !snap.CreatedAt.Before(latest.CreatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, entitle.ErrDefaultsSnapshotNotFound
	}
	cp := *latest
	return &cp, nil
}

// Purchase Store implementation

func (s *Store) CreateSubscription(_ context.Context, sub *purchase.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(sub.TenancyID, sub.ID)
	if _, exists := s.subscriptions[key]; exists {
		return entitle.ErrAlreadyExists
	}
	cp := *sub
	s.subscriptions[key] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, tenancyID string, subID id.SubscriptionID) (*purchase.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[rowKey(tenancyID, subID)]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(_ context.Context, sub *purchase.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(sub.TenancyID, sub.ID)
	if _, exists := s.subscriptions[key]; !exists {
		return entitle.ErrSubscriptionNotFound
	}
	cp := *sub
	s.subscriptions[key] = &cp
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, tenancyID string, opts purchase.ListOpts) ([]*purchase.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*purchase.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.TenancyID != tenancyID || !matchCustomer(opts.CustomerType, opts.CustomerID, sub.CustomerType, sub.CustomerID) {
			continue
		}
		at, ok := sub.ListedAt(opts.Order)
		if !ok || (opts.After != nil && !opts.After.Before(at, sub.ID.String())) {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}
	return page(result, func(x *purchase.Subscription) (time.Time, string) {
		at, _ := x.ListedAt(opts.Order)
		return at, x.ID.String()
	}, opts.Limit), nil
}

func (s *Store) CreateOneTimePurchase(_ context.Context, o *purchase.OneTimePurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(o.TenancyID, o.ID)
	if _, exists := s.oneTimePurchases[key]; exists {
		return entitle.ErrAlreadyExists
	}
	cp := *o
	s.oneTimePurchases[key] = &cp
	return nil
}

func (s *Store) GetOneTimePurchase(_ context.Context, tenancyID string, otpID id.OneTimePurchaseID) (*purchase.OneTimePurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.oneTimePurchases[rowKey(tenancyID, otpID)]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, entitle.ErrPurchaseNotFound
}

func (s *Store) UpdateOneTimePurchase(_ context.Context, o *purchase.OneTimePurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(o.TenancyID, o.ID)
	if _, exists := s.oneTimePurchases[key]; !exists {
		return entitle.ErrPurchaseNotFound
	}
	cp := *o
	s.oneTimePurchases[key] = &cp
	return nil
}

func (s *Store) ListOneTimePurchases(_ context.Context, tenancyID string, opts purchase.ListOpts) ([]*purchase.OneTimePurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*purchase.OneTimePurchase, 0)
	for _, o := range s.oneTimePurchases {
		if o.TenancyID != tenancyID || !matchCustomer(opts.CustomerType, opts.CustomerID, o.CustomerType, o.CustomerID) {
			continue
		}
		at, ok := o.ListedAt(opts.Order)
		if !ok || (opts.After != nil && !opts.After.Before(at, o.ID.String())) {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	return page(result, func(x *purchase.OneTimePurchase) (time.Time, string) {
		at, _ := x.ListedAt(opts.Order)
		return at, x.ID.String()
	}, opts.Limit), nil
}

// Item Store implementation

func (s *Store) CreateItemQuantityChange(_ context.Context, c *item.QuantityChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(c.TenancyID, c.ID)
	if _, exists := s.changes[key]; exists {
		return entitle.ErrAlreadyExists
	}
	cp := *c
	s.changes[key] = &cp
	return nil
}

func (s *Store) GetItemQuantityChange(_ context.Context, tenancyID string, changeID id.ItemQuantityChangeID) (*item.QuantityChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.changes[rowKey(tenancyID, changeID)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, entitle.ErrItemQuantityChangeNotFound
}

func (s *Store) ListItemQuantityChanges(_ context.Context, tenancyID string, opts item.ListOpts) ([]*item.QuantityChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*item.QuantityChange, 0)
	for _, c := range s.changes {
		if c.TenancyID != tenancyID || !matchCustomer(opts.CustomerType, opts.CustomerID, c.CustomerType, c.CustomerID) {
			continue
		}
		if opts.ItemID != "" && c.ItemID != opts.ItemID {
			continue
		}
		if opts.After != nil && !opts.After.Before(c.CreatedAt, c.ID.String()) {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	return page(result, func(x *item.QuantityChange) (time.Time, string) { return x.CreatedAt, x.ID.String() }, opts.Limit), nil
}

// Invoice Store implementation

func (s *Store) CreateSubscriptionInvoice(_ context.Context, inv *invoice.SubscriptionInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(inv.TenancyID, inv.ID)
	if _, exists := s.invoices[key]; exists {
		return entitle.ErrAlreadyExists
	}
	cp := *inv
	s.invoices[key] = &cp
	return nil
}

func (s *Store) GetSubscriptionInvoice(_ context.Context, tenancyID string, invID id.InvoiceID) (*invoice.SubscriptionInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[rowKey(tenancyID, invID)]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, entitle.ErrInvoiceNotFound
}

func (s *Store) ListSubscriptionInvoices(_ context.Context, tenancyID string, opts invoice.ListOpts) ([]*invoice.SubscriptionInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.SubscriptionInvoice, 0)
	for _, inv := range s.invoices {
		if inv.TenancyID != tenancyID || !matchCustomer(opts.CustomerType, opts.CustomerID, inv.CustomerType, inv.CustomerID) {
			continue
		}
		if !opts.SubscriptionID.IsNil() && inv.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.RenewalsOnly && inv.IsCreationInvoice {
			continue
		}
		if opts.After != nil && !opts.After.Before(inv.CreatedAt, inv.ID.String()) {
			continue
		}
		cp := *inv
		result = append(result, &cp)
	}
	return page(result, func(x *invoice.SubscriptionInvoice) (time.Time, string) { return x.CreatedAt, x.ID.String() }, opts.Limit), nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return entitle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions

func matchCustomer(wantType product.CustomerType, wantID string, gotType product.CustomerType, gotID string) bool {
	if wantType != "" && wantType != gotType {
		return false
	}
	return wantID == "" || wantID == gotID
}

// page sorts rows by (instant desc, id desc) and applies limit.
func page[T any](rows []T, key func(T) (time.Time, string), limit int) []T {
	slices.SortFunc(rows, func(a, b T) int {
		at, aid := key(a)
		bt, bid := key(b)
		return cmp.Or(bt.Compare(at), strings.Compare(bid, aid))
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
