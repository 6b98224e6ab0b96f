package product_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/product"
)

func strPtr(s string) *string { return &s }

func mustValue(t *testing.T, s string) canonical.Value {
	t.Helper()
	v, err := canonical.FromJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func TestComputeVersionID_KeyOrderIndependent(t *testing.T) {
	a := mustValue(t, `{"customer_type":"user","prices":{"m":{"amounts":{"USD":"10"}}},"stackable":false}`)
	b := mustValue(t, `{"stackable":false,"prices":{"m":{"amounts":{"USD":"10"}}},"customer_type":"user"}`)

	assert.Equal(t, product.ComputeVersionID(strPtr("pro"), a), product.ComputeVersionID(strPtr("pro"), b))
}

func TestComputeVersionID_DistinctContentDistinctIDs(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 200; i++ {
		doc := fmt.Sprintf(`{"customer_type":"user","display_name":"p%d","n":%d}`, i, i)
		vid := product.ComputeVersionID(strPtr("pro"), mustValue(t, doc))
		if prev, ok := seen[vid]; ok {
			t.Fatalf("collision between %s and %s", prev, doc)
		}
		seen[vid] = doc
	}
}

func TestComputeVersionID_ProductIDParticipates(t *testing.T) {
	doc := mustValue(t, `{"customer_type":"team"}`)

	assert.NotEqual(t,
		product.ComputeVersionID(strPtr("a"), doc),
		product.ComputeVersionID(strPtr("b"), doc))
	assert.Equal(t,
		product.ComputeVersionID(nil, doc),
		product.ComputeVersionID(nil, mustValue(t, `{"customer_type":"team"}`)),
		"inline products with identical JSON share a version")
	assert.NotEqual(t,
		product.ComputeVersionID(nil, doc),
		product.ComputeVersionID(strPtr(""), doc),
		"null and empty product ids differ")
}

func TestComputeVersionID_Format(t *testing.T) {
	vid := product.ComputeVersionID(nil, canonical.Map())
	assert.Len(t, vid, 64)
	assert.Regexp(t, `^[0-9a-f]{64}$`, vid)
}

func TestProductJSON_IncludeByDefault(t *testing.T) {
	var p product.Product
	require.NoError(t, json.Unmarshal([]byte(`{
		"customer_type": "user",
		"prices": "include-by-default",
		"included_items": {"seats": {"quantity": 1}}
	}`), &p))

	assert.True(t, p.IncludeByDefault)
	assert.Nil(t, p.Prices)
	assert.Equal(t, int64(1), p.IncludedItems["seats"].Quantity)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"prices":"include-by-default"`)
}

func TestProductJSON_PricesAndIntervals(t *testing.T) {
	var p product.Product
	require.NoError(t, json.Unmarshal([]byte(`{
		"customer_type": "team",
		"product_line_id": "plans",
		"prices": {
			"monthly": {"amounts": {"USD": "10"}, "interval": [1, "month"]},
			"once":    {"amounts": {"USD": "99.50"}}
		}
	}`), &p))

	assert.False(t, p.IncludeByDefault)
	assert.True(t, p.HasIntervalPrice())
	assert.Len(t, p.RecurringPrices(), 1)

	monthly, ok := p.Price("monthly")
	require.True(t, ok)
	require.NotNil(t, monthly.Interval)
	assert.Equal(t, product.Interval{Count: 1, Unit: product.UnitMonth}, *monthly.Interval)

	amount, err := monthly.Amount("usd")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount.Amount)

	charges, err := p.Prices["once"].Charges(2)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(19900), charges[0].Amount)
}

func TestProductJSON_RejectsUnknownMarker(t *testing.T) {
	var p product.Product
	err := json.Unmarshal([]byte(`{"customer_type":"user","prices":"free"}`), &p)
	assert.Error(t, err)
}

func TestInterval_RejectsBadShapes(t *testing.T) {
	for _, raw := range []string{`[1]`, `[0,"month"]`, `[1,"fortnight"]`, `"month"`} {
		var i product.Interval
		assert.Error(t, json.Unmarshal([]byte(raw), &i), raw)
	}
}

func TestInterval_AddTo(t *testing.T) {
	t0 := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, t0.Add(90*time.Minute), product.Interval{Count: 90, Unit: product.UnitMinute}.AddTo(t0))
	assert.Equal(t, t0.AddDate(0, 0, 14), product.Interval{Count: 2, Unit: product.UnitWeek}.AddTo(t0))
	assert.Equal(t, t0.AddDate(0, 1, 0), product.Interval{Count: 1, Unit: product.UnitMonth}.AddTo(t0))
	assert.Equal(t, t0.AddDate(1, 0, 0), product.Interval{Count: 1, Unit: product.UnitYear}.AddTo(t0))
}

func TestToValueFromValue(t *testing.T) {
	p := &product.Product{
		DisplayName:   "Pro",
		CustomerType:  product.CustomerUser,
		ProductLineID: "plans",
		IsAddOnTo:     []string{"z", "a", "a"},
		Prices: map[string]product.Price{
			"monthly": {Amounts: map[string]string{"USD": "10"}, Interval: product.Every(1, product.UnitMonth)},
		},
	}

	v, err := product.ToValue(p)
	require.NoError(t, err)

	addOn, ok := v.Get("is_add_on_to")
	require.True(t, ok)
	assert.Equal(t, `["a","z"]`, canonical.Canonicalize(addOn), "add-on set is normalized")

	back, err := product.FromValue(v)
	require.NoError(t, err)
	assert.Equal(t, "Pro", back.DisplayName)
	assert.Equal(t, []string{"a", "z"}, back.IsAddOnTo)
	assert.True(t, back.IsAddOnFor("z"))
	assert.Equal(t, product.UnitMonth, back.Prices["monthly"].Interval.Unit)
}

func TestValidate(t *testing.T) {
	good := &product.Product{CustomerType: product.CustomerUser, Prices: map[string]product.Price{
		"m": {Amounts: map[string]string{"USD": "10"}},
	}}
	assert.NoError(t, good.Validate())

	assert.Error(t, (&product.Product{CustomerType: "robot"}).Validate())
	assert.Error(t, (&product.Product{CustomerType: product.CustomerUser, Prices: map[string]product.Price{
		"m": {Amounts: map[string]string{"USD": "ten"}},
	}}).Validate())
	assert.Error(t, (&product.Product{CustomerType: product.CustomerUser, IncludeByDefault: true, Prices: map[string]product.Price{
		"m": {Amounts: map[string]string{"USD": "1"}},
	}}).Validate())
}

func TestParseCustomerType(t *testing.T) {
	c, err := product.ParseCustomerType("Team")
	require.NoError(t, err)
	assert.Equal(t, product.CustomerTeam, c)

	_, err = product.ParseCustomerType("org")
	assert.Error(t, err)
}
