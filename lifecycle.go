package entitle

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/types"
)

// ──────────────────────────────────────────────────
// Subscription lifecycle
// ──────────────────────────────────────────────────

// CancelSubscription sets a subscription to cancel at the end of its current
// period. The customer keeps the product until then. Canceling a
// subscription that is already set to cancel is a no-op.
func (e *Engine) CancelSubscription(ctx context.Context, tenancyID string, subscriptionID id.SubscriptionID, now time.Time) (*purchase.Subscription, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	now, err := e.writeInstant(now)
	if err != nil {
		return nil, err
	}

	sub, err := e.store.GetSubscription(ctx, tenancyID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsCancelable {
		return nil, e.refuse(ctx, tenancyID,
			violated(CodeSubscriptionNotCancelable, "subscription %s is not cancelable", sub.ID))
	}
	if sub.Ended(now) || sub.RefundedAsOf(now) || !now.Before(sub.CurrentPeriodEnd) {
		return nil, e.refuse(ctx, tenancyID,
			violated(CodeSubscriptionNotCancelable, "subscription %s has already ended", sub.ID))
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	sub.CancelAtPeriodEnd = true
	sub.Touch(now)
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	e.plugins.EmitSubscriptionCanceled(ctx, sub)
	e.logger.Info("subscription canceled",
		"tenancy_id", tenancyID,
		"subscription_id", sub.ID.String(),
		"period_end", sub.CurrentPeriodEnd,
	)
	return sub, nil
}

// RenewSubscription rolls a subscription whose period has ended into the
// next period and records the renewal invoice. A subscription set to cancel
// at period end is ended at its period end instead, with no invoice.
func (e *Engine) RenewSubscription(ctx context.Context, tenancyID string, subscriptionID id.SubscriptionID, now time.Time) (*purchase.Subscription, *invoice.SubscriptionInvoice, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, nil, err
	}
	now, err := e.writeInstant(now)
	if err != nil {
		return nil, nil, err
	}

	sub, err := e.store.GetSubscription(ctx, tenancyID, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if sub.EndedAt != nil || sub.RefundedAsOf(now) {
		return nil, nil, e.refuse(ctx, tenancyID,
			violated(CodeSubscriptionEnded, "subscription %s has ended", sub.ID))
	}
	if now.Before(sub.CurrentPeriodEnd) {
		return nil, nil, e.refuse(ctx, tenancyID,
			violated(CodeRenewalNotDue, "subscription %s renews at %s", sub.ID, sub.CurrentPeriodEnd.Format(time.RFC3339)))
	}

	if sub.CancelAtPeriodEnd {
		ended := sub.CurrentPeriodEnd
		sub.Status = purchase.StatusEnded
		sub.EndedAt = &ended
		sub.Touch(now)
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, nil, err
		}
		e.logger.Info("subscription ended",
			"tenancy_id", tenancyID,
			"subscription_id", sub.ID.String(),
		)
		return sub, nil, nil
	}

	v, err := e.GetProductVersion(ctx, tenancyID, sub.ProductVersionID)
	if err != nil {
		return nil, nil, err
	}
	p, err := v.Product()
	if err != nil {
		return nil, nil, err
	}
	price, ok := p.Price(sub.PriceID)
	if !ok || !price.IsRecurring() {
		return nil, nil, invalid("price_id", "subscription %s has no recurring price", sub.ID)
	}
	charges, err := price.Charges(sub.Quantity)
	if err != nil {
		return nil, nil, err
	}

	start := sub.CurrentPeriodEnd
	end := price.Interval.AddTo(start)
	sub.Status = purchase.StatusActive
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end
	sub.Touch(now)

	inv := &invoice.SubscriptionInvoice{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewInvoiceID(),
		TenancyID:      tenancyID,
		SubscriptionID: sub.ID,
		CustomerType:   sub.CustomerType,
		CustomerID:     sub.CustomerID,
		Status:         invoice.StatusPaid,
		PeriodStart:    start,
		PeriodEnd:      end,
		TestMode:       sub.TestMode,
	}
	if len(charges) > 0 {
		inv.AmountTotal = charges[0]
	}

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, nil, err
	}
	if err := e.store.CreateSubscriptionInvoice(ctx, inv); err != nil {
		return nil, nil, err
	}

	e.plugins.EmitSubscriptionRenewed(ctx, sub, inv)
	e.logger.Info("subscription renewed",
		"tenancy_id", tenancyID,
		"subscription_id", sub.ID.String(),
		"period_end", end,
	)
	return sub, inv, nil
}

// ──────────────────────────────────────────────────
// Refunds
// ──────────────────────────────────────────────────

// RefundPurchase refunds a subscription or one-time purchase at now. The
// product stops being owned from now on.
func (e *Engine) RefundPurchase(ctx context.Context, tenancyID, purchaseID string, now time.Time) (*purchase.Purchase, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	now, err := e.writeInstant(now)
	if err != nil {
		return nil, err
	}
	pid, err := id.Parse(purchaseID)
	if err != nil {
		return nil, invalid("purchase_id", "%v", err)
	}

	var pur *purchase.Purchase
	switch pid.Prefix() {
	case id.PrefixSubscription:
		sub, err := e.store.GetSubscription(ctx, tenancyID, pid)
		if err != nil {
			return nil, err
		}
		if sub.RefundedAt != nil {
			return nil, e.refuse(ctx, tenancyID, violated(CodeAlreadyRefunded, "subscription %s is already refunded", pid))
		}
		refund(&sub.Purchase, now)
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		pur = &sub.Purchase
	case id.PrefixOneTimePurchase:
		otp, err := e.store.GetOneTimePurchase(ctx, tenancyID, pid)
		if err != nil {
			return nil, err
		}
		if otp.RefundedAt != nil {
			return nil, e.refuse(ctx, tenancyID, violated(CodeAlreadyRefunded, "purchase %s is already refunded", pid))
		}
		refund(&otp.Purchase, now)
		if err := e.store.UpdateOneTimePurchase(ctx, otp); err != nil {
			return nil, err
		}
		pur = &otp.Purchase
	default:
		return nil, invalid("purchase_id", "%q is not a subscription or one-time purchase id", purchaseID)
	}

	e.plugins.EmitPurchaseRefunded(ctx, pur, purchaseID)
	e.logger.Info("purchase refunded",
		"tenancy_id", tenancyID,
		"purchase_id", purchaseID,
	)
	return pur, nil
}

func refund(p *purchase.Purchase, now time.Time) {
	at := now
	p.RefundedAt = &at
	p.Touch(now)
}
