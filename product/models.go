// Package product models tenant product definitions and their immutable,
// content-addressed versions.
package product

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/entitle/types"
)

// CustomerType is the kind of principal that owns entitlements.
type CustomerType string

const (
	CustomerUser   CustomerType = "user"
	CustomerTeam   CustomerType = "team"
	CustomerCustom CustomerType = "custom"
)

// Valid reports whether c is a known customer type.
func (c CustomerType) Valid() bool {
	switch c {
	case CustomerUser, CustomerTeam, CustomerCustom:
		return true
	}
	return false
}

// ParseCustomerType parses a customer type, case-insensitively.
func ParseCustomerType(s string) (CustomerType, error) {
	c := CustomerType(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("product: unknown customer type %q", s)
	}
	return c, nil
}

// IntervalUnit is the unit of a billing or repeat interval.
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
	UnitWeek   IntervalUnit = "week"
	UnitMonth  IntervalUnit = "month"
	UnitYear   IntervalUnit = "year"
)

// Interval is a (count, unit) duration. Its JSON form is [count, "unit"].
type Interval struct {
	Count int
	Unit  IntervalUnit
}

// Every returns an interval of count units.
func Every(count int, unit IntervalUnit) *Interval {
	return &Interval{Count: count, Unit: unit}
}

// Validate checks the count and unit.
func (i Interval) Validate() error {
	if i.Count < 1 {
		return fmt.Errorf("product: interval count must be positive, got %d", i.Count)
	}
	switch i.Unit {
	case UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear:
		return nil
	}
	return fmt.Errorf("product: unknown interval unit %q", i.Unit)
}

// AddTo advances t by the interval. Months and years use calendar arithmetic.
func (i Interval) AddTo(t time.Time) time.Time {
	switch i.Unit {
	case UnitMinute:
		return t.Add(time.Duration(i.Count) * time.Minute)
	case UnitHour:
		return t.Add(time.Duration(i.Count) * time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, i.Count)
	case UnitWeek:
		return t.AddDate(0, 0, 7*i.Count)
	case UnitMonth:
		return t.AddDate(0, i.Count, 0)
	case UnitYear:
		return t.AddDate(i.Count, 0, 0)
	}
	return t
}

func (i Interval) String() string {
	return fmt.Sprintf("%d %s", i.Count, i.Unit)
}

// MarshalJSON encodes the interval as [count, "unit"].
func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{i.Count, i.Unit})
}

// UnmarshalJSON decodes [count, "unit"].
func (i *Interval) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("product: interval: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("product: interval must have two elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &i.Count); err != nil {
		return fmt.Errorf("product: interval count: %w", err)
	}
	if err := json.Unmarshal(raw[1], &i.Unit); err != nil {
		return fmt.Errorf("product: interval unit: %w", err)
	}
	return i.Validate()
}

// Price is one purchasable price of a product. Amounts are decimal strings
// in major units keyed by ISO currency code.
type Price struct {
	Amounts    map[string]string `json:"amounts"`
	Interval   *Interval         `json:"interval,omitempty"`
	FreeTrial  *Interval         `json:"free_trial,omitempty"`
	ServerOnly bool              `json:"server_only"`
}

// IsRecurring reports whether the price bills on an interval.
func (p Price) IsRecurring() bool { return p.Interval != nil }

// Amount returns the price in currency as Money.
func (p Price) Amount(currency string) (types.Money, error) {
	for c, amount := range p.Amounts {
		if strings.EqualFold(c, currency) {
			return types.ParseMajor(c, amount)
		}
	}
	return types.Money{}, fmt.Errorf("product: price has no %s amount", strings.ToUpper(currency))
}

// Charges returns every amount of the price scaled by quantity, sorted by
// currency.
func (p Price) Charges(quantity int64) ([]types.Money, error) {
	out := make([]types.Money, 0, len(p.Amounts))
	for c, amount := range p.Amounts {
		m, err := types.ParseMajor(c, amount)
		if err != nil {
			return nil, err
		}
		out = append(out, m.Multiply(quantity))
	}
	slices.SortFunc(out, func(a, b types.Money) int { return strings.Compare(a.Currency, b.Currency) })
	return out, nil
}

// ExpiryPolicy says when quantities granted through an included item lapse.
type ExpiryPolicy string

const (
	ExpiresNever               ExpiryPolicy = "never"
	ExpiresWhenRepeated        ExpiryPolicy = "when-repeated"
	ExpiresWhenPurchaseExpires ExpiryPolicy = "when-purchase-expires"
)

// IncludedItem is an item quantity bundled with a product.
type IncludedItem struct {
	Quantity int64        `json:"quantity"`
	Repeat   *Interval    `json:"repeat,omitempty"`
	Expires  ExpiryPolicy `json:"expires,omitempty"`
}

// IncludeByDefault is the JSON marker for products every matching customer
// owns without a purchase.
const IncludeByDefault = "include-by-default"

// Product is a tenant product definition.
type Product struct {
	DisplayName   string                  `json:"display_name,omitempty"`
	CustomerType  CustomerType            `json:"customer_type"`
	ServerOnly    bool                    `json:"server_only"`
	Stackable     bool                    `json:"stackable"`
	ProductLineID string                  `json:"product_line_id,omitempty"`
	IsAddOnTo     []string                `json:"is_add_on_to,omitempty"`
	FreeTrial     *Interval               `json:"free_trial,omitempty"`
	IncludedItems map[string]IncludedItem `json:"included_items,omitempty"`

	// IncludeByDefault replaces Prices with the "include-by-default" marker.
	IncludeByDefault bool             `json:"-"`
	Prices           map[string]Price `json:"-"`
}

var errNilProduct = errors.New("product: nil product")

// IsAddOn reports whether the product extends other products.
func (p *Product) IsAddOn() bool { return len(p.IsAddOnTo) > 0 }

// IsAddOnFor reports whether the product is an add-on to productID.
func (p *Product) IsAddOnFor(productID string) bool {
	return slices.Contains(p.IsAddOnTo, productID)
}

// Price returns the price with the given id.
func (p *Product) Price(priceID string) (Price, bool) {
	if p.IncludeByDefault {
		return Price{}, false
	}
	price, ok := p.Prices[priceID]
	return price, ok
}

// HasIntervalPrice reports whether any price is recurring.
func (p *Product) HasIntervalPrice() bool {
	for _, price := range p.Prices {
		if price.IsRecurring() {
			return true
		}
	}
	return false
}

// RecurringPrices returns only the interval prices.
func (p *Product) RecurringPrices() map[string]Price {
	out := make(map[string]Price)
	for id, price := range p.Prices {
		if price.IsRecurring() {
			out[id] = price
		}
	}
	return out
}

// Validate checks the definition for internal consistency.
func (p *Product) Validate() error {
	if p == nil {
		return errNilProduct
	}
	if !p.CustomerType.Valid() {
		return fmt.Errorf("product: unknown customer type %q", p.CustomerType)
	}
	if p.IncludeByDefault && len(p.Prices) > 0 {
		return errors.New("product: include-by-default product cannot declare prices")
	}
	for id, price := range p.Prices {
		if len(price.Amounts) == 0 {
			return fmt.Errorf("product: price %q has no amounts", id)
		}
		for c, amount := range price.Amounts {
			if _, err := types.ParseMajor(c, amount); err != nil {
				return fmt.Errorf("product: price %q: %w", id, err)
			}
		}
		if price.Interval != nil {
			if err := price.Interval.Validate(); err != nil {
				return fmt.Errorf("product: price %q: %w", id, err)
			}
		}
	}
	for id, item := range p.IncludedItems {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("product: included item %q: %w", id, err)
		}
	}
	return nil
}

type productJSON struct {
	DisplayName   string                  `json:"display_name,omitempty"`
	CustomerType  CustomerType            `json:"customer_type"`
	ServerOnly    bool                    `json:"server_only"`
	Stackable     bool                    `json:"stackable"`
	ProductLineID string                  `json:"product_line_id,omitempty"`
	IsAddOnTo     []string                `json:"is_add_on_to,omitempty"`
	FreeTrial     *Interval               `json:"free_trial,omitempty"`
	IncludedItems map[string]IncludedItem `json:"included_items,omitempty"`
	Prices        json.RawMessage         `json:"prices"`
}

// MarshalJSON writes prices as either a map or the include-by-default marker.
// IsAddOnTo is a set and is written sorted.
func (p Product) MarshalJSON() ([]byte, error) {
	var prices []byte
	var err error
	if p.IncludeByDefault {
		prices, err = json.Marshal(IncludeByDefault)
	} else {
		m := p.Prices
		if m == nil {
			m = map[string]Price{}
		}
		prices, err = json.Marshal(m)
	}
	if err != nil {
		return nil, err
	}

	var addOnTo []string
	if len(p.IsAddOnTo) > 0 {
		addOnTo = slices.Clone(p.IsAddOnTo)
		slices.Sort(addOnTo)
		addOnTo = slices.Compact(addOnTo)
	}

	return json.Marshal(productJSON{
		DisplayName:   p.DisplayName,
		CustomerType:  p.CustomerType,
		ServerOnly:    p.ServerOnly,
		Stackable:     p.Stackable,
		ProductLineID: p.ProductLineID,
		IsAddOnTo:     addOnTo,
		FreeTrial:     p.FreeTrial,
		IncludedItems: p.IncludedItems,
		Prices:        prices,
	})
}

// UnmarshalJSON accepts prices as a map or the include-by-default marker.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Product{
		DisplayName:   raw.DisplayName,
		CustomerType:  raw.CustomerType,
		ServerOnly:    raw.ServerOnly,
		Stackable:     raw.Stackable,
		ProductLineID: raw.ProductLineID,
		IsAddOnTo:     raw.IsAddOnTo,
		FreeTrial:     raw.FreeTrial,
		IncludedItems: raw.IncludedItems,
	}

	if len(raw.Prices) == 0 || string(raw.Prices) == "null" {
		return nil
	}
	var marker string
	if err := json.Unmarshal(raw.Prices, &marker); err == nil {
		if marker != IncludeByDefault {
			return fmt.Errorf("product: unknown prices marker %q", marker)
		}
		p.IncludeByDefault = true
		return nil
	}
	return json.Unmarshal(raw.Prices, &p.Prices)
}
