package purchase

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/types"
)

// Store persists purchases. Listings are ordered by (instant desc, id desc)
// on the instant ListOpts.Order selects.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, tenancyID string, subID id.SubscriptionID) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	ListSubscriptions(ctx context.Context, tenancyID string, opts ListOpts) ([]*Subscription, error)

	CreateOneTimePurchase(ctx context.Context, o *OneTimePurchase) error
	GetOneTimePurchase(ctx context.Context, tenancyID string, otpID id.OneTimePurchaseID) (*OneTimePurchase, error)
	UpdateOneTimePurchase(ctx context.Context, o *OneTimePurchase) error
	ListOneTimePurchases(ctx context.Context, tenancyID string, opts ListOpts) ([]*OneTimePurchase, error)
}

// ListOpts filters purchase listings. Empty customer fields match every
// customer. Order picks the instant rows are keyed by; After restricts the
// listing to rows following a keyset on that instant. Limit 0 means no limit.
type ListOpts struct {
	CustomerType product.CustomerType
	CustomerID   string
	Order        Order
	After        *types.Keyset
	Limit        int
}

// Order is the instant a purchase listing is keyed and sorted by. Listings
// keyed by an optional instant skip rows where it is unset.
type Order string

const (
	OrderCreated  Order = ""
	OrderEnded    Order = "ended_at"
	OrderRefunded Order = "refunded_at"
)

// Column is the stored column of the instant.
func (o Order) Column() string {
	switch o {
	case OrderEnded, OrderRefunded:
		return string(o)
	}
	return "created_at"
}

// ListedAt returns the instant s is keyed by under o, and false when s has
// no such instant.
func (s *Subscription) ListedAt(o Order) (time.Time, bool) {
	switch o {
	case OrderEnded:
		return deref(s.EndedAt)
	case OrderRefunded:
		return deref(s.RefundedAt)
	}
	return s.CreatedAt, true
}

// ListedAt returns the instant p is keyed by under o. One-time purchases
// never end.
func (p *OneTimePurchase) ListedAt(o Order) (time.Time, bool) {
	switch o {
	case OrderEnded:
		return time.Time{}, false
	case OrderRefunded:
		return deref(p.RefundedAt)
	}
	return p.CreatedAt, true
}

func deref(t *time.Time) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}
