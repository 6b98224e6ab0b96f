// Package purchase models subscriptions and one-time purchases. Rows are
// created by grants, updated by cancellation, renewal and refund, and never
// deleted.
package purchase

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/types"
)

// CreationSource records which flow created a purchase.
type CreationSource string

const (
	SourcePurchasePage CreationSource = "purchase_page"
	SourceTestMode     CreationSource = "test_mode"
	SourceAPIGrant     CreationSource = "api_grant"
)

// Purchase is the shape shared by subscriptions and one-time purchases.
// ProductVersionID references the frozen product terms.
type Purchase struct {
	types.Entity
	TenancyID        string               `json:"tenancy_id"`
	CustomerType     product.CustomerType `json:"customer_type"`
	CustomerID       string               `json:"customer_id"`
	ProductID        *string              `json:"product_id,omitempty"`
	ProductVersionID string               `json:"product_version_id"`
	PriceID          string               `json:"price_id,omitempty"`
	Quantity         int64                `json:"quantity"`
	RefundedAt       *time.Time           `json:"refunded_at,omitempty"`
	TestMode         bool                 `json:"test_mode"`
	CreationSource   CreationSource       `json:"creation_source"`
}

// RefundedAsOf reports whether the purchase is refunded as of now. A refund
// takes effect at its own instant.
func (p *Purchase) RefundedAsOf(now time.Time) bool {
	return p.RefundedAt != nil && !p.RefundedAt.After(now)
}

// Status is a subscription's provider status.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusCanceled Status = "canceled"
	StatusEnded    Status = "ended"
)

// Subscription is a recurring purchase.
type Subscription struct {
	Purchase
	ID                 id.SubscriptionID `json:"id"`
	Status             Status            `json:"status"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	IsCancelable       bool              `json:"is_cancelable"`
	EndedAt            *time.Time        `json:"ended_at,omitempty"`
}

// StartedAt is the instant the subscription first granted its product.
// Renewals advance CurrentPeriodStart, so the creation instant is the lower
// bound of ownership for every period the subscription has covered.
func (s *Subscription) StartedAt() time.Time {
	if s.CreatedAt.IsZero() || s.CurrentPeriodStart.Before(s.CreatedAt) {
		return s.CurrentPeriodStart
	}
	return s.CreatedAt
}

// Window is the span over which the subscription grants its product: from
// StartedAt until the earliest of period end, end and refund.
func (s *Subscription) Window() Window {
	end := s.CurrentPeriodEnd
	w := Window{Start: s.StartedAt(), End: &end}
	w.clip(s.EndedAt)
	w.clip(s.RefundedAt)
	return w
}

// ActiveAt reports whether the subscription grants its product at now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s.Window().Contains(now)
}

// Ended reports whether the subscription has ended as of now.
func (s *Subscription) Ended(now time.Time) bool {
	return s.EndedAt != nil && !s.EndedAt.After(now)
}

// OneTimePurchase is a purchase without a billing interval.
type OneTimePurchase struct {
	Purchase
	ID id.OneTimePurchaseID `json:"id"`
}

// Window is the span over which the purchase grants its product.
func (o *OneTimePurchase) Window() Window {
	w := Window{Start: o.CreatedAt}
	w.clip(o.RefundedAt)
	return w
}

// ActiveAt reports whether the purchase grants its product at now.
func (o *OneTimePurchase) ActiveAt(now time.Time) bool {
	return o.Window().Contains(now)
}

// Window is a half-open ownership interval [Start, End). A nil End is open.
type Window struct {
	Start time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || t.Before(*w.End)
}

func (w *Window) clip(at *time.Time) {
	if at == nil {
		return
	}
	if w.End == nil || at.Before(*w.End) {
		end := *at
		w.End = &end
	}
}
