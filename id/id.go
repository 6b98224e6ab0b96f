// Package id defines TypeID-based identifiers for ledger rows.
//
// Every persisted row (subscription, one-time purchase, item quantity
// change, invoice, defaults snapshot) carries an ID whose prefix names the
// row kind. Suffixes are UUIDv7, so string order follows creation order for
// rows generated by the same process. Product versions are content-addressed
// and do not use this package.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the row kind encoded in a TypeID.
type Prefix string

// Row kind prefixes.
const (
	PrefixSubscription       Prefix = "sub"  // Subscription purchase
	PrefixOneTimePurchase    Prefix = "otp"  // One-time purchase
	PrefixItemQuantityChange Prefix = "iqc"  // Item quantity change
	PrefixInvoice            Prefix = "sinv" // Subscription invoice
	PrefixDefaultsSnapshot   Prefix = "dps"  // Default products snapshot
)

// ID wraps a TypeID in the format "prefix_suffix".
//
//nolint:recvcheck // value receivers for reads, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix.
// It panics on an invalid prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "sub_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Row kind aliases
// ──────────────────────────────────────────────────

// SubscriptionID identifies a subscription (prefix "sub").
type SubscriptionID = ID

// OneTimePurchaseID identifies a one-time purchase (prefix "otp").
type OneTimePurchaseID = ID

// ItemQuantityChangeID identifies an item quantity change (prefix "iqc").
type ItemQuantityChangeID = ID

// InvoiceID identifies a subscription invoice (prefix "sinv").
type InvoiceID = ID

// DefaultsSnapshotID identifies a default products snapshot (prefix "dps").
type DefaultsSnapshotID = ID

// NewSubscriptionID generates a subscription ID.
func NewSubscriptionID() ID { return New(PrefixSubscription) }

// NewOneTimePurchaseID generates a one-time purchase ID.
func NewOneTimePurchaseID() ID { return New(PrefixOneTimePurchase) }

// NewItemQuantityChangeID generates an item quantity change ID.
func NewItemQuantityChangeID() ID { return New(PrefixItemQuantityChange) }

// NewInvoiceID generates a subscription invoice ID.
func NewInvoiceID() ID { return New(PrefixInvoice) }

// NewDefaultsSnapshotID generates a default products snapshot ID.
func NewDefaultsSnapshotID() ID { return New(PrefixDefaultsSnapshot) }

// ParseSubscriptionID parses s and checks the "sub" prefix.
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

// ParseOneTimePurchaseID parses s and checks the "otp" prefix.
func ParseOneTimePurchaseID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixOneTimePurchase)
}

// ParseItemQuantityChangeID parses s and checks the "iqc" prefix.
func ParseItemQuantityChangeID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixItemQuantityChange)
}

// ParseInvoiceID parses s and checks the "sinv" prefix.
func ParseInvoiceID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInvoice) }

// ParseDefaultsSnapshotID parses s and checks the "dps" prefix.
func ParseDefaultsSnapshotID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixDefaultsSnapshot)
}

// ──────────────────────────────────────────────────
// Methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// Compare orders IDs by their string form. Nil sorts first.
func Compare(a, b ID) int {
	return strings.Compare(a.String(), b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
