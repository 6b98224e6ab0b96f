// Package transaction projects purchases, their ends and refunds, item
// quantity changes and invoices into one ordered stream of ledger
// transactions.
//
// Transactions are synthesized on read and never persisted. Each carries the
// row's creation instant and one entry per distinct effect.
package transaction

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/entitle/product"
)

// Type is the kind of event a transaction represents.
type Type string

const (
	TypePurchase                 Type = "purchase"
	TypeSubscriptionStart        Type = "subscription-start"
	TypeSubscriptionRenewal      Type = "subscription-renewal"
	TypeManualItemQuantityChange Type = "manual-item-quantity-change"
	TypeItemQuantityExpire       Type = "item-quantity-expire"
	TypeSubscriptionEnd          Type = "subscription-end"
	TypePurchaseRefund           Type = "purchase-refund"
	TypeItemGrant                Type = "item-grant"
	TypeItemGrantRenewal         Type = "item-grant-renewal"
)

// Source names the table a transaction was read from.
type Source string

const (
	SourceSubscription       Source = "sub"
	SourceOneTimePurchase    Source = "otp"
	SourceItemQuantityChange Source = "iqc"
	SourceInvoice            Source = "sinv"
	SourceSubscriptionEnd    Source = "sub-end"
	SourceSubscriptionRefund Source = "sub-refund"
	SourcePurchaseRefund     Source = "otp-refund"
)

// Transaction is a projection of one ledger row.
type Transaction struct {
	ID           string               `json:"id"`
	Type         Type                 `json:"type"`
	Source       Source               `json:"source"`
	EffectiveAt  time.Time            `json:"effective_at"`
	CustomerType product.CustomerType `json:"customer_type"`
	CustomerID   string               `json:"customer_id"`
	TestMode     bool                 `json:"test_mode"`
	PeriodStart  *time.Time           `json:"period_start,omitempty"`
	PeriodEnd    *time.Time           `json:"period_end,omitempty"`
	Entries      []Entry              `json:"entries"`
}

// EffectiveAtMillis returns EffectiveAt as Unix milliseconds.
func (t *Transaction) EffectiveAtMillis() int64 { return t.EffectiveAt.UnixMilli() }

type transactionJSON struct {
	ID                string               `json:"id"`
	Type              Type                 `json:"type"`
	Source            Source               `json:"source"`
	EffectiveAt       time.Time            `json:"effective_at"`
	EffectiveAtMillis int64                `json:"effective_at_millis"`
	CustomerType      product.CustomerType `json:"customer_type"`
	CustomerID        string               `json:"customer_id"`
	TestMode          bool                 `json:"test_mode"`
	PeriodStart       *time.Time           `json:"period_start,omitempty"`
	PeriodEnd         *time.Time           `json:"period_end,omitempty"`
	Entries           []json.RawMessage    `json:"entries"`
}

// MarshalJSON tags every entry with its type.
func (t Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		ID:                t.ID,
		Type:              t.Type,
		Source:            t.Source,
		EffectiveAt:       t.EffectiveAt,
		EffectiveAtMillis: t.EffectiveAt.UnixMilli(),
		CustomerType:      t.CustomerType,
		CustomerID:        t.CustomerID,
		TestMode:          t.TestMode,
		PeriodStart:       t.PeriodStart,
		PeriodEnd:         t.PeriodEnd,
		Entries:           make([]json.RawMessage, 0, len(t.Entries)),
	}
	for i, e := range t.Entries {
		raw, err := marshalEntry(e)
		if err != nil {
			return nil, fmt.Errorf("transaction: encode entry %d: %w", i, err)
		}
		out.Entries = append(out.Entries, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes entries by their type tag.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Transaction{
		ID:           raw.ID,
		Type:         raw.Type,
		Source:       raw.Source,
		EffectiveAt:  raw.EffectiveAt,
		CustomerType: raw.CustomerType,
		CustomerID:   raw.CustomerID,
		TestMode:     raw.TestMode,
		PeriodStart:  raw.PeriodStart,
		PeriodEnd:    raw.PeriodEnd,
		Entries:      make([]Entry, 0, len(raw.Entries)),
	}
	for _, e := range raw.Entries {
		entry, err := DecodeEntry(e)
		if err != nil {
			return err
		}
		t.Entries = append(t.Entries, entry)
	}
	return nil
}

func compare(a, b *Transaction) int {
	if c := a.EffectiveAt.Compare(b.EffectiveAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortAscending orders txs by (effective instant, id).
func SortAscending(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int { return compare(&a, &b) })
}

// SortDescending orders txs newest first, ties broken by descending id.
func SortDescending(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int { return compare(&b, &a) })
}
