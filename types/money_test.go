package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseMajor(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		amount   string
		want     Money
		wantErr  bool
	}{
		{"whole dollars", "USD", "1000", USD(100000), false},
		{"cents", "usd", "10.50", USD(1050), false},
		{"one decimal", "USD", "10.5", USD(1050), false},
		{"negative", "EUR", "-3.25", EUR(-325), false},
		{"zero decimal currency", "JPY", "100", Money{Amount: 100, Currency: "JPY"}, false},
		{"too many decimals", "USD", "1.005", Money{}, true},
		{"decimals on yen", "JPY", "1.5", Money{}, true},
		{"garbage", "USD", "ten", Money{}, true},
		{"trailing dot", "USD", "10.", Money{}, true},
		{"empty", "USD", "", Money{}, true},
		{"no currency", "", "1", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMajor(tt.currency, tt.amount)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := USD(1000)
	if got := a.Add(USD(250)); got.Amount != 1250 {
		t.Errorf("Add: got %d", got.Amount)
	}
	if got := a.Multiply(3); got.Amount != 3000 {
		t.Errorf("Multiply: got %d", got.Amount)
	}
	if got := a.Negate(); got.Amount != -1000 {
		t.Errorf("Negate: got %d", got.Amount)
	}
	if !Zero("usd").IsZero() {
		t.Error("Zero should be zero")
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	USD(100).Add(EUR(100))
}

func TestMoneyFormat(t *testing.T) {
	tests := []struct {
		m    Money
		want string
	}{
		{USD(4900), "$49.00"},
		{USD(5), "$0.05"},
		{USD(-1050), "$-10.50"},
		{Money{Amount: 100, Currency: "JPY"}, "¥100"},
		{Money{Amount: 1234, Currency: "CHF"}, "CHF 12.34"},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.want {
			t.Errorf("String(%+v) = %q, want %q", tt.m, got, tt.want)
		}
	}
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["display"] != "$49.00" {
		t.Errorf("display = %v", decoded["display"])
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != USD(4900) {
		t.Errorf("round trip = %+v", back)
	}
}

func TestKeysetBefore(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	k := Keyset{CreatedAt: t0, ID: "b"}

	if !k.Before(t0.Add(-time.Millisecond), "z") {
		t.Error("older row should follow the keyset")
	}
	if k.Before(t0.Add(time.Millisecond), "a") {
		t.Error("newer row should not follow the keyset")
	}
	if !k.Before(t0, "a") {
		t.Error("same instant, smaller id should follow the keyset")
	}
	if k.Before(t0, "b") {
		t.Error("the keyset row itself must be excluded")
	}
}
