package observability_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/observability"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/store/memory"
)

func TestMetricsExtension_CountsEngineEvents(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	e := entitle.New(memory.New(),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithPlugin(metrics),
		entitle.WithCatalog(catalog.Static{"acme": {
			Products: map[string]*product.Product{
				"plan": {
					CustomerType: product.CustomerUser,
					Prices: map[string]product.Price{
						"monthly": {Amounts: map[string]string{"USD": "9.00"}, Interval: product.Every(1, product.UnitMonth)},
					},
				},
				"pack": {
					CustomerType: product.CustomerUser,
					Stackable:    true,
					Prices:       map[string]product.Price{"once": {Amounts: map[string]string{"USD": "5"}}},
				},
			},
		}}),
	)
	require.NoError(t, e.Start(ctx))
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, pid := range []string{"plan", "pack", "pack"} {
		_, err := e.GrantProduct(ctx, entitle.GrantRequest{
			TenancyID: "acme", CustomerType: entitle.CustomerUser, CustomerID: "alice", ProductID: pid, Now: now,
		})
		require.NoError(t, err)
	}
	for _, delta := range []int64{10, -4} {
		_, _, err := e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
			TenancyID: "acme", CustomerType: entitle.CustomerUser, CustomerID: "alice",
			ItemID: "credits", Delta: delta, Now: now,
		})
		require.NoError(t, err)
	}
	_, _, err := e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
		TenancyID: "acme", CustomerType: entitle.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: -100, Now: now,
	})
	require.Error(t, err)

	assert.InDelta(t, 2, value(metrics.VersionsCreated), 0)
	assert.InDelta(t, 1, value(metrics.SubscriptionsGranted), 0)
	assert.InDelta(t, 2, value(metrics.OneTimeGranted), 0)
	assert.InDelta(t, 2, value(metrics.ItemChanges), 0)
	assert.InDelta(t, 10, value(metrics.ItemCredited), 0)
	assert.InDelta(t, 4, value(metrics.ItemDebited), 0)
	assert.InDelta(t, 1, value(metrics.DomainRuleViolations), 0)

	n, err := testutil.GatherAndCount(reg, "entitle_subscription_granted_total", "entitle_owned_count")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPrometheusFactory_ReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	b := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	a.PurchasesRefunded.Inc()
	b.PurchasesRefunded.Inc()

	assert.InDelta(t, 2, value(a.PurchasesRefunded), 0)
}

func value(m any) float64 {
	return testutil.ToFloat64(m.(prometheus.Collector))
}
