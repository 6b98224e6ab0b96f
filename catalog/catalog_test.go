package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/product"
)

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Products: map[string]*product.Product{
			"free": {CustomerType: product.CustomerUser, ProductLineID: "plans", IncludeByDefault: true},
			"pro": {CustomerType: product.CustomerUser, ProductLineID: "plans", Prices: map[string]product.Price{
				"monthly": {Amounts: map[string]string{"USD": "10"}, Interval: product.Every(1, product.UnitMonth)},
			}},
			"team": {CustomerType: product.CustomerUser, ProductLineID: "plans", Prices: map[string]product.Price{
				"monthly": {Amounts: map[string]string{"USD": "30"}, Interval: product.Every(1, product.UnitMonth)},
			}},
			"credits": {CustomerType: product.CustomerUser, Stackable: true, Prices: map[string]product.Price{
				"once": {Amounts: map[string]string{"USD": "5"}},
			}},
		},
		ProductLines: map[string]catalog.ProductLine{"plans": {DisplayName: "Plans"}},
	}
}

func TestCatalogLookups(t *testing.T) {
	c := testCatalog()

	p, ok := c.Product("pro")
	require.True(t, ok)
	assert.Equal(t, "plans", p.ProductLineID)

	_, ok = c.Product("missing")
	assert.False(t, ok)

	defaults := c.IncludeByDefault()
	assert.Len(t, defaults, 1)
	assert.Contains(t, defaults, "free")

	assert.Equal(t, []string{"free", "pro", "team"}, c.LineProducts("plans"))
	assert.Empty(t, c.LineProducts(""))
}

func TestCatalogValidate(t *testing.T) {
	c := testCatalog()
	require.NoError(t, c.Validate())

	c.Products["orphan"] = &product.Product{CustomerType: product.CustomerUser, ProductLineID: "nope"}
	assert.Error(t, c.Validate())
}

func TestStaticProvider(t *testing.T) {
	s := catalog.Static{"t1": testCatalog()}

	c, err := s.Catalog(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, c.Products, 4)

	_, err = s.Catalog(context.Background(), "t2")
	assert.ErrorIs(t, err, catalog.ErrUnknownTenancy)
}

func TestNilCatalogIsEmpty(t *testing.T) {
	var c *catalog.Catalog
	_, ok := c.Product("x")
	assert.False(t, ok)
	assert.Empty(t, c.IncludeByDefault())
}
