package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in the smallest unit of its currency.
// Arithmetic is integer-only.
type Money struct {
	Amount   int64  `json:"amount"`   // cents, pence, yen...
	Currency string `json:"currency"` // ISO 4217, upper case: "USD", "EUR"
}

// USD creates a Money value in US cents.
func USD(cents int64) Money { return Money{Amount: cents, Currency: "USD"} }

// EUR creates a Money value in euro cents.
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "EUR"} }

// Zero returns a zero amount in currency.
func Zero(currency string) Money { return Money{Currency: strings.ToUpper(currency)} }

// ParseMajor parses a decimal amount in major units ("10", "10.5", "10.50")
// as it appears in product price definitions.
func ParseMajor(currency, amount string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	amount = strings.TrimSpace(amount)
	if currency == "" {
		return Money{}, fmt.Errorf("money: empty currency")
	}
	if amount == "" {
		return Money{}, fmt.Errorf("money: empty amount for %s", currency)
	}

	negative := strings.HasPrefix(amount, "-")
	amount = strings.TrimPrefix(amount, "-")

	whole, frac, hasFrac := strings.Cut(amount, ".")
	decimals := currencyDecimals(currency)
	if hasFrac && len(frac) > decimals {
		return Money{}, fmt.Errorf("money: %q has more than %d decimals for %s", amount, decimals, currency)
	}
	if whole == "" || (hasFrac && frac == "") {
		return Money{}, fmt.Errorf("money: malformed amount %q", amount)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	units, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("money: malformed amount %q: %w", amount, err)
	}
	if negative {
		units = -units
	}
	return Money{Amount: units, Currency: currency}, nil
}

// Add adds two amounts. It panics on a currency mismatch.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Multiply scales m by qty.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// Negate flips the sign of m.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// FormatMajor renders the amount in major units without a symbol:
// "49.00" for USD(4900), "100" for 100 JPY.
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}
	if decimals == 0 {
		return sign + strconv.FormatInt(abs, 10)
	}

	divisor := int64(1)
	for i := 0; i < decimals; i++ {
		divisor *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, abs/divisor, decimals, abs%divisor)
}

// String renders the amount with its currency symbol, e.g. "$49.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON adds a display string next to the raw amount.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON ignores the display string written by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = strings.ToUpper(raw.Currency)
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if !strings.EqualFold(m.Currency, other.Currency) {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToUpper(currency) {
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	case "JPY":
		return "¥"
	case "CAD":
		return "C$"
	case "AUD":
		return "A$"
	default:
		return strings.ToUpper(currency) + " "
	}
}

// currencyDecimals returns the minor-unit exponent of a currency.
func currencyDecimals(currency string) int {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "VND", "CLP", "PYG", "IDR":
		return 0
	default:
		return 2
	}
}
