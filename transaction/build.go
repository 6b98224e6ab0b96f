package transaction

import (
	"fmt"
	"time"

	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/types"
)

// Versions resolves version ids to rows.
type Versions map[string]*product.Version

func (vs Versions) lookup(versionID, ref string) (*product.Version, error) {
	v, ok := vs[versionID]
	if !ok || v == nil {
		return nil, &product.MissingVersionError{VersionID: versionID, Reference: ref}
	}
	return v, nil
}

// FromSubscription projects a subscription into a subscription-start
// transaction.
func FromSubscription(s *purchase.Subscription, versions Versions) (Transaction, error) {
	v, err := versions.lookup(s.ProductVersionID, s.ID.String())
	if err != nil {
		return Transaction{}, err
	}
	entries, err := purchaseEntries(&s.Purchase, v)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: subscription %s: %w", s.ID, err)
	}
	entries[0] = withPurchaseRef(entries[0], s.ID.String(), "", s.StartedAt())

	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	return Transaction{
		ID:           s.ID.String(),
		Type:         TypeSubscriptionStart,
		Source:       SourceSubscription,
		EffectiveAt:  s.CreatedAt,
		CustomerType: s.CustomerType,
		CustomerID:   s.CustomerID,
		TestMode:     s.TestMode,
		PeriodStart:  &start,
		PeriodEnd:    &end,
		Entries:      entries,
	}, nil
}

// FromOneTimePurchase projects a one-time purchase into a purchase
// transaction.
func FromOneTimePurchase(o *purchase.OneTimePurchase, versions Versions) (Transaction, error) {
	v, err := versions.lookup(o.ProductVersionID, o.ID.String())
	if err != nil {
		return Transaction{}, err
	}
	entries, err := purchaseEntries(&o.Purchase, v)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: one-time purchase %s: %w", o.ID, err)
	}
	entries[0] = withPurchaseRef(entries[0], "", o.ID.String(), o.CreatedAt)

	return Transaction{
		ID:           o.ID.String(),
		Type:         TypePurchase,
		Source:       SourceOneTimePurchase,
		EffectiveAt:  o.CreatedAt,
		CustomerType: o.CustomerType,
		CustomerID:   o.CustomerID,
		TestMode:     o.TestMode,
		Entries:      entries,
	}, nil
}

// FromItemQuantityChange projects a manual quantity change.
func FromItemQuantityChange(c *item.QuantityChange) Transaction {
	return Transaction{
		ID:           c.ID.String(),
		Type:         TypeManualItemQuantityChange,
		Source:       SourceItemQuantityChange,
		EffectiveAt:  c.CreatedAt,
		CustomerType: c.CustomerType,
		CustomerID:   c.CustomerID,
		Entries: []Entry{ItemQuantityChange{
			ItemID:    c.ItemID,
			Quantity:  c.Delta,
			ExpiresAt: c.ExpiresAt,
		}},
	}
}

// FromInvoice projects a renewal invoice. Creation invoices are covered by
// the subscription-start transaction and yield ok=false.
func FromInvoice(inv *invoice.SubscriptionInvoice) (tx Transaction, ok bool) {
	if !inv.IsRenewal() {
		return Transaction{}, false
	}
	start, end := inv.PeriodStart, inv.PeriodEnd
	tx = Transaction{
		ID:           inv.ID.String(),
		Type:         TypeSubscriptionRenewal,
		Source:       SourceInvoice,
		EffectiveAt:  inv.CreatedAt,
		CustomerType: inv.CustomerType,
		CustomerID:   inv.CustomerID,
		TestMode:     inv.TestMode,
		PeriodStart:  &start,
		PeriodEnd:    &end,
		Entries:      []Entry{},
	}
	if !inv.TestMode && !inv.AmountTotal.IsZero() {
		tx.Entries = append(tx.Entries, MoneyTransfer{Charged: []types.Money{inv.AmountTotal}})
	}
	return tx, true
}

// FromSubscriptionEnd projects the end of a subscription. Subscriptions
// that have not ended yield ok=false.
func FromSubscriptionEnd(s *purchase.Subscription) (tx Transaction, ok bool) {
	if s.EndedAt == nil {
		return Transaction{}, false
	}
	return Transaction{
		ID:           EndID(s.ID.String()),
		Type:         TypeSubscriptionEnd,
		Source:       SourceSubscriptionEnd,
		EffectiveAt:  *s.EndedAt,
		CustomerType: s.CustomerType,
		CustomerID:   s.CustomerID,
		TestMode:     s.TestMode,
		Entries: []Entry{
			SubscriptionStop{SubscriptionID: s.ID.String()},
			ProductRevocation{AdjustedTransactionID: s.ID.String(), Quantity: s.Quantity},
		},
	}, true
}

// FromSubscriptionRefund projects a subscription refund. Subscriptions that
// were not refunded yield ok=false.
func FromSubscriptionRefund(s *purchase.Subscription, versions Versions) (tx Transaction, ok bool, err error) {
	if s.RefundedAt == nil {
		return Transaction{}, false, nil
	}
	tx, err = refundOf(&s.Purchase, s.ID.String(), SourceSubscriptionRefund, versions)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("transaction: subscription %s refund: %w", s.ID, err)
	}
	tx.Entries = append(tx.Entries, SubscriptionStop{SubscriptionID: s.ID.String()})
	return tx, true, nil
}

// FromOneTimePurchaseRefund projects a one-time purchase refund. Purchases
// that were not refunded yield ok=false.
func FromOneTimePurchaseRefund(o *purchase.OneTimePurchase, versions Versions) (tx Transaction, ok bool, err error) {
	if o.RefundedAt == nil {
		return Transaction{}, false, nil
	}
	tx, err = refundOf(&o.Purchase, o.ID.String(), SourcePurchaseRefund, versions)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("transaction: one-time purchase %s refund: %w", o.ID, err)
	}
	return tx, true, nil
}

// refundOf returns the money charged by the purchase and revokes its grant.
func refundOf(p *purchase.Purchase, purchaseID string, source Source, versions Versions) (Transaction, error) {
	v, err := versions.lookup(p.ProductVersionID, purchaseID)
	if err != nil {
		return Transaction{}, err
	}
	charged, err := charges(p, v)
	if err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:           RefundID(purchaseID),
		Type:         TypePurchaseRefund,
		Source:       source,
		EffectiveAt:  *p.RefundedAt,
		CustomerType: p.CustomerType,
		CustomerID:   p.CustomerID,
		TestMode:     p.TestMode,
	}
	if len(charged) > 0 {
		returned := make([]types.Money, 0, len(charged))
		for _, m := range charged {
			returned = append(returned, m.Negate())
		}
		tx.Entries = append(tx.Entries, MoneyTransfer{Charged: returned})
	}
	tx.Entries = append(tx.Entries, ProductRevocation{AdjustedTransactionID: purchaseID, Quantity: p.Quantity})
	return tx, nil
}

// EndID is the transaction id of a subscription's end.
func EndID(subscriptionID string) string { return subscriptionID + ":end" }

// RefundID is the transaction id of a purchase's refund.
func RefundID(purchaseID string) string { return purchaseID + ":refund" }

func purchaseEntries(p *purchase.Purchase, v *product.Version) ([]Entry, error) {
	entries := []Entry{ProductGrant{
		ProductID:        p.ProductID,
		ProductVersionID: p.ProductVersionID,
		Product:          v.ProductJSON,
		PriceID:          p.PriceID,
		Quantity:         p.Quantity,
	}}
	charged, err := charges(p, v)
	if err != nil {
		return nil, err
	}
	if len(charged) > 0 {
		entries = append(entries, MoneyTransfer{Charged: charged})
	}
	return entries, nil
}

// charges returns what the purchase was charged, nothing in test mode.
func charges(p *purchase.Purchase, v *product.Version) ([]types.Money, error) {
	if p.TestMode || p.PriceID == "" {
		return nil, nil
	}
	prod, err := v.Product()
	if err != nil {
		return nil, err
	}
	price, ok := prod.Price(p.PriceID)
	if !ok {
		return nil, nil
	}
	return price.Charges(p.Quantity)
}

func withPurchaseRef(e Entry, subscriptionID, oneTimePurchaseID string, anchor time.Time) Entry {
	g, ok := e.(ProductGrant)
	if !ok {
		return e
	}
	g.SubscriptionID = subscriptionID
	g.OneTimePurchaseID = oneTimePurchaseID
	g.CycleAnchor = &anchor
	return g
}

// Build projects every row, returning transactions newest first. Ended
// and refunded purchases add their closing transactions.
func Build(
	subs []*purchase.Subscription,
	otps []*purchase.OneTimePurchase,
	changes []*item.QuantityChange,
	invoices []*invoice.SubscriptionInvoice,
	versions Versions,
) ([]Transaction, error) {
	txs := make([]Transaction, 0, len(subs)+len(otps)+len(changes)+len(invoices))
	for _, s := range subs {
		tx, err := FromSubscription(s, versions)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		if end, ok := FromSubscriptionEnd(s); ok {
			txs = append(txs, end)
		}
		refund, ok, err := FromSubscriptionRefund(s, versions)
		if err != nil {
			return nil, err
		}
		if ok {
			txs = append(txs, refund)
		}
	}
	for _, o := range otps {
		tx, err := FromOneTimePurchase(o, versions)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		refund, ok, err := FromOneTimePurchaseRefund(o, versions)
		if err != nil {
			return nil, err
		}
		if ok {
			txs = append(txs, refund)
		}
	}
	for _, c := range changes {
		txs = append(txs, FromItemQuantityChange(c))
	}
	for _, inv := range invoices {
		if tx, ok := FromInvoice(inv); ok {
			txs = append(txs, tx)
		}
	}
	SortDescending(txs)
	return txs, nil
}
