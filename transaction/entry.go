package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/types"
)

// EntryType discriminates ledger entries.
type EntryType string

const (
	EntryProductGrant       EntryType = "product-grant"
	EntryItemQuantityChange EntryType = "item-quantity-change"
	EntryItemQuantityExpire EntryType = "item-quantity-expire"
	EntryMoneyTransfer      EntryType = "money-transfer"
	EntryProductRevocation  EntryType = "product-revocation"
	EntrySubscriptionStop   EntryType = "active-subscription-stop"
)

// Entry is one effect of a transaction. The set of implementations is closed.
type Entry interface {
	Type() EntryType
	isEntry()
}

// ProductGrant grants a product version. Included items are resolved from
// the version when entitlements are evaluated and are not repeated here.
// Repeating items cycle from CycleAnchor.
type ProductGrant struct {
	ProductID         *string         `json:"product_id"`
	ProductVersionID  string          `json:"product_version_id"`
	Product           canonical.Value `json:"product"`
	PriceID           string          `json:"price_id,omitempty"`
	Quantity          int64           `json:"quantity"`
	SubscriptionID    string          `json:"subscription_id,omitempty"`
	OneTimePurchaseID string          `json:"one_time_purchase_id,omitempty"`
	CycleAnchor       *time.Time      `json:"cycle_anchor,omitempty"`
}

// ProductRevocation withdraws the product granted by an earlier entry.
type ProductRevocation struct {
	AdjustedTransactionID string `json:"adjusted_transaction_id"`
	AdjustedEntryIndex    int    `json:"adjusted_entry_index"`
	Quantity              int64  `json:"quantity"`
}

// SubscriptionStop marks a subscription as no longer active.
type SubscriptionStop struct {
	SubscriptionID string `json:"subscription_id"`
}

// ItemQuantityChange moves an item balance by Quantity.
type ItemQuantityChange struct {
	ItemID    string     `json:"item_id"`
	Quantity  int64      `json:"quantity"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ItemQuantityExpire removes Quantity of an earlier change from the balance.
// It points at the change it adjusts.
type ItemQuantityExpire struct {
	ItemID                string `json:"item_id"`
	Quantity              int64  `json:"quantity"`
	AdjustedTransactionID string `json:"adjusted_transaction_id"`
	AdjustedEntryIndex    int    `json:"adjusted_entry_index"`
}

// MoneyTransfer records amounts charged, one per currency.
type MoneyTransfer struct {
	Charged []types.Money `json:"charged"`
}

func (ProductGrant) Type() EntryType       { return EntryProductGrant }
func (ItemQuantityChange) Type() EntryType { return EntryItemQuantityChange }
func (ItemQuantityExpire) Type() EntryType { return EntryItemQuantityExpire }
func (MoneyTransfer) Type() EntryType      { return EntryMoneyTransfer }
func (ProductRevocation) Type() EntryType  { return EntryProductRevocation }
func (SubscriptionStop) Type() EntryType   { return EntrySubscriptionStop }

func (ProductGrant) isEntry()       {}
func (ItemQuantityChange) isEntry() {}
func (ItemQuantityExpire) isEntry() {}
func (MoneyTransfer) isEntry()      {}
func (ProductRevocation) isEntry()  {}
func (SubscriptionStop) isEntry()   {}

// marshalEntry writes the entry's fields with a "type" discriminator.
func marshalEntry(e Entry) (json.RawMessage, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(e.Type())
	fields["type"] = tag
	return json.Marshal(fields)
}

// DecodeEntry decodes an entry written with its "type" discriminator.
func DecodeEntry(data []byte) (Entry, error) {
	var head struct {
		Type EntryType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("transaction: decode entry: %w", err)
	}

	var e Entry
	var err error
	switch head.Type {
	case EntryProductGrant:
		var v ProductGrant
		err = json.Unmarshal(data, &v)
		e = v
	case EntryItemQuantityChange:
		var v ItemQuantityChange
		err = json.Unmarshal(data, &v)
		e = v
	case EntryItemQuantityExpire:
		var v ItemQuantityExpire
		err = json.Unmarshal(data, &v)
		e = v
	case EntryMoneyTransfer:
		var v MoneyTransfer
		err = json.Unmarshal(data, &v)
		e = v
	case EntryProductRevocation:
		var v ProductRevocation
		err = json.Unmarshal(data, &v)
		e = v
	case EntrySubscriptionStop:
		var v SubscriptionStop
		err = json.Unmarshal(data, &v)
		e = v
	default:
		return nil, fmt.Errorf("transaction: unknown entry type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction: decode %s entry: %w", head.Type, err)
	}
	return e, nil
}
