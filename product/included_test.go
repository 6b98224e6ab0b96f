package product_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/product"
)

func month(m time.Month, day int) time.Time {
	return time.Date(2025, m, day, 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

type grantView struct {
	At        time.Time
	ExpiresAt *time.Time
}

func views(grants []product.ItemGrant) []grantView {
	out := make([]grantView, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantView{At: g.At, ExpiresAt: g.ExpiresAt})
	}
	return out
}

func TestItemGrants_Policies(t *testing.T) {
	monthly := product.Every(1, product.UnitMonth)

	tests := []struct {
		name  string
		item  product.IncludedItem
		end   *time.Time
		until time.Time
		want  []grantView
	}{
		{
			name:  "one-off never expires",
			item:  product.IncludedItem{Quantity: 10},
			until: month(time.June, 1),
			want:  []grantView{{At: month(time.January, 1)}},
		},
		{
			name:  "one-off outlives the purchase",
			item:  product.IncludedItem{Quantity: 10, Expires: product.ExpiresNever},
			end:   timePtr(month(time.February, 1)),
			until: month(time.June, 1),
			want:  []grantView{{At: month(time.January, 1)}},
		},
		{
			name:  "repeat accumulates",
			item:  product.IncludedItem{Quantity: 10, Repeat: monthly},
			until: month(time.March, 15),
			want: []grantView{
				{At: month(time.January, 1)},
				{At: month(time.February, 1)},
				{At: month(time.March, 1)},
			},
		},
		{
			name:  "when-repeated replaces the previous cycle",
			item:  product.IncludedItem{Quantity: 10, Repeat: monthly, Expires: product.ExpiresWhenRepeated},
			until: month(time.March, 15),
			want: []grantView{
				{At: month(time.January, 1), ExpiresAt: timePtr(month(time.February, 1))},
				{At: month(time.February, 1), ExpiresAt: timePtr(month(time.March, 1))},
				{At: month(time.March, 1), ExpiresAt: timePtr(month(time.April, 1))},
			},
		},
		{
			name:  "when-repeated keeps the last cycle after the end",
			item:  product.IncludedItem{Quantity: 10, Repeat: monthly, Expires: product.ExpiresWhenRepeated},
			end:   timePtr(month(time.March, 1)),
			until: month(time.June, 1),
			want: []grantView{
				{At: month(time.January, 1), ExpiresAt: timePtr(month(time.February, 1))},
				{At: month(time.February, 1)},
			},
		},
		{
			name:  "when-repeated without repeat never expires",
			item:  product.IncludedItem{Quantity: 10, Expires: product.ExpiresWhenRepeated},
			end:   timePtr(month(time.March, 1)),
			until: month(time.June, 1),
			want:  []grantView{{At: month(time.January, 1)}},
		},
		{
			name:  "when-purchase-expires lapses at the end",
			item:  product.IncludedItem{Quantity: 10, Repeat: monthly, Expires: product.ExpiresWhenPurchaseExpires},
			end:   timePtr(month(time.March, 1)),
			until: month(time.June, 1),
			want: []grantView{
				{At: month(time.January, 1), ExpiresAt: timePtr(month(time.March, 1))},
				{At: month(time.February, 1), ExpiresAt: timePtr(month(time.March, 1))},
			},
		},
		{
			name:  "when-purchase-expires while open",
			item:  product.IncludedItem{Quantity: 10, Expires: product.ExpiresWhenPurchaseExpires},
			until: month(time.June, 1),
			want:  []grantView{{At: month(time.January, 1)}},
		},
		{
			name:  "zero quantity",
			item:  product.IncludedItem{Repeat: monthly},
			until: month(time.June, 1),
			want:  []grantView{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &product.Product{IncludedItems: map[string]product.IncludedItem{"credits": tt.item}}
			grants := p.ItemGrants(1, month(time.January, 1), tt.end, tt.until)
			assert.Equal(t, tt.want, views(grants))
			for i, g := range grants {
				assert.Equal(t, i, g.Cycle)
				assert.Equal(t, "credits", g.ItemID)
			}
		})
	}
}

func TestItemGrants_ScalesAndOrders(t *testing.T) {
	p := &product.Product{IncludedItems: map[string]product.IncludedItem{
		"seats":   {Quantity: 5},
		"credits": {Quantity: 100, Repeat: product.Every(2, product.UnitWeek), Expires: product.ExpiresWhenRepeated},
	}}

	grants := p.ItemGrants(3, month(time.January, 1), nil, month(time.January, 20))
	require.Len(t, grants, 3)

	assert.Equal(t, "credits", grants[0].ItemID)
	assert.Equal(t, int64(300), grants[0].Quantity)
	assert.Equal(t, "seats", grants[1].ItemID)
	assert.Equal(t, int64(15), grants[1].Quantity)
	assert.Equal(t, month(time.January, 15), grants[2].At)

	at := month(time.January, 16)
	var active int64
	for _, g := range grants {
		if g.ActiveAt(at) {
			active += g.Quantity
		}
	}
	assert.Equal(t, int64(315), active)
}

func TestItemGrants_EmptyWindow(t *testing.T) {
	p := &product.Product{IncludedItems: map[string]product.IncludedItem{"seats": {Quantity: 1}}}

	assert.Empty(t, p.ItemGrants(1, month(time.March, 1), nil, month(time.February, 1)))
	assert.Empty(t, p.ItemGrants(1, month(time.March, 1), timePtr(month(time.March, 1)), month(time.June, 1)))
}

func TestIncludedItem_Validate(t *testing.T) {
	assert.NoError(t, product.IncludedItem{Quantity: 1}.Validate())
	assert.Equal(t, product.ExpiresNever, product.IncludedItem{}.Policy())

	assert.Error(t, product.IncludedItem{Quantity: -1}.Validate())
	assert.Error(t, product.IncludedItem{Quantity: 1, Expires: "tomorrow"}.Validate())
	assert.Error(t, product.IncludedItem{Quantity: 1, Repeat: &product.Interval{Count: 0, Unit: product.UnitDay}}.Validate())

	p := &product.Product{CustomerType: product.CustomerUser, IncludedItems: map[string]product.IncludedItem{
		"credits": {Quantity: 1, Expires: "sometimes"},
	}}
	assert.Error(t, p.Validate())
}
