package entitle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/canonical"
	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/paginate"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
	"github.com/xraph/entitle/store/fixture"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/transaction"
	"github.com/xraph/entitle/types"
)

const tenancy = "acme"

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func testCatalog() catalog.Static {
	return catalog.Static{tenancy: {
		ProductLines: map[string]catalog.ProductLine{
			"plans": {DisplayName: "Plans", CustomerType: product.CustomerUser},
			"tiers": {DisplayName: "Tiers", CustomerType: product.CustomerUser},
		},
		Products: map[string]*product.Product{
			"free": {
				DisplayName:      "Free",
				CustomerType:     product.CustomerUser,
				ProductLineID:    "plans",
				IncludeByDefault: true,
				IncludedItems:    map[string]product.IncludedItem{"credits": {Quantity: 10}},
			},
			"monthly": {
				DisplayName:   "Monthly",
				CustomerType:  product.CustomerUser,
				ProductLineID: "plans",
				Prices: map[string]product.Price{
					"monthly": {Amounts: map[string]string{"USD": "10.00"}, Interval: product.Every(1, product.UnitMonth)},
				},
				IncludedItems: map[string]product.IncludedItem{"credits": {Quantity: 100}},
			},
			"yearly": {
				DisplayName:   "Yearly",
				CustomerType:  product.CustomerUser,
				ProductLineID: "plans",
				Prices: map[string]product.Price{
					"yearly": {Amounts: map[string]string{"USD": "100.00"}, Interval: product.Every(1, product.UnitYear)},
					"setup":  {Amounts: map[string]string{"USD": "1.00"}},
				},
			},
			"lifetime": {
				CustomerType:  product.CustomerUser,
				ProductLineID: "tiers",
				Prices:        map[string]product.Price{"once": {Amounts: map[string]string{"USD": "99"}}},
			},
			"lifetime-plus": {
				CustomerType:  product.CustomerUser,
				ProductLineID: "tiers",
				Prices:        map[string]product.Price{"once": {Amounts: map[string]string{"USD": "149"}}},
			},
			"boost": {
				CustomerType:  product.CustomerUser,
				ProductLineID: "tiers",
				Stackable:     true,
				Prices:        map[string]product.Price{"once": {Amounts: map[string]string{"USD": "5"}}},
			},
			"seat": {
				CustomerType: product.CustomerUser,
				IsAddOnTo:    []string{"monthly"},
				Stackable:    true,
				Prices:       map[string]product.Price{"once": {Amounts: map[string]string{"USD": "2"}}},
			},
			"team-plan": {
				CustomerType: product.CustomerTeam,
				Prices:       map[string]product.Price{"once": {Amounts: map[string]string{"USD": "50"}}},
			},
		},
	}}
}

type hookCounter struct {
	mu         sync.Mutex
	counts     map[string]int
	violations []string
}

func (h *hookCounter) Name() string { return "counter" }

func (h *hookCounter) inc(hook string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counts == nil {
		h.counts = make(map[string]int)
	}
	h.counts[hook]++
}

func (h *hookCounter) count(hook string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[hook]
}

func (h *hookCounter) OnProductVersionCreated(context.Context, *product.Version) error {
	h.inc("version")
	return nil
}

func (h *hookCounter) OnProductGranted(context.Context, *purchase.Purchase, string) error {
	h.inc("granted")
	return nil
}

func (h *hookCounter) OnSubscriptionSwitched(context.Context, *purchase.Subscription, *purchase.Purchase) error {
	h.inc("switched")
	return nil
}

func (h *hookCounter) OnIntegrityViolation(context.Context, string, error) error {
	h.inc("integrity")
	return nil
}

func (h *hookCounter) OnDomainRuleViolated(_ context.Context, _, code, _ string) error {
	h.mu.Lock()
	h.violations = append(h.violations, code)
	h.mu.Unlock()
	h.inc("violation")
	return nil
}

func newEngine(t *testing.T) (*entitle.Engine, *memory.Store, *hookCounter) {
	t.Helper()
	s := memory.New()
	hooks := &hookCounter{}
	e := entitle.New(s,
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithCatalog(testCatalog()),
		entitle.WithPlugin(hooks),
		entitle.WithClock(func() time.Time { return t0 }),
	)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e, s, hooks
}

func grant(t *testing.T, e *entitle.Engine, productID string, at time.Time) *entitle.GrantResult {
	t.Helper()
	return grantPrice(t, e, productID, "", at)
}

func grantPrice(t *testing.T, e *entitle.Engine, productID, priceID string, at time.Time) *entitle.GrantResult {
	t.Helper()
	res, err := e.GrantProduct(context.Background(), entitle.GrantRequest{
		TenancyID:    tenancy,
		CustomerType: product.CustomerUser,
		CustomerID:   "alice",
		ProductID:    productID,
		PriceID:      priceID,
		Now:          at,
	})
	require.NoError(t, err)
	return res
}

func ownedIDs(t *testing.T, e *entitle.Engine, at time.Time) []string {
	t.Helper()
	owned, err := e.GetOwnedProducts(context.Background(), tenancy, product.CustomerUser, "alice", at)
	require.NoError(t, err)
	ids := make([]string, 0, len(owned))
	for _, o := range owned {
		ids = append(ids, *o.ProductID)
	}
	return ids
}

func requireViolation(t *testing.T, err error, code string) {
	t.Helper()
	var v *entitle.DomainRuleViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, code, v.Code)
	assert.True(t, entitle.IsUserFacing(err))
}

// ──────────────────────────────────────────────────
// Product versions
// ──────────────────────────────────────────────────

func TestUpsertProductVersion_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, _, hooks := newEngine(t)

	doc, err := canonical.FromJSON([]byte(`{"b": [1, 2], "a": {"y": true, "x": null}}`))
	require.NoError(t, err)
	reordered, err := canonical.FromJSON([]byte(`{"a": {"x": null, "y": true}, "b": [1, 2]}`))
	require.NoError(t, err)

	pid := "pro"
	first, err := e.UpsertProductVersion(ctx, tenancy, &pid, doc)
	require.NoError(t, err)
	second, err := e.UpsertProductVersion(ctx, tenancy, &pid, reordered)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, hooks.count("version"))

	v, err := e.GetProductVersion(ctx, tenancy, first)
	require.NoError(t, err)
	assert.Equal(t, "pro", *v.ProductID)
	assert.True(t, canonical.Equal(doc, v.ProductJSON))

	inline, err := e.UpsertProductVersion(ctx, tenancy, nil, doc)
	require.NoError(t, err)
	assert.NotEqual(t, first, inline)
}

func TestUpsertProductVersion_RejectsNonFiniteNumbers(t *testing.T) {
	ctx := context.Background()
	e, _, hooks := newEngine(t)

	nan := canonical.Map(canonical.Member{Key: "a", Value: canonical.Number(math.NaN())})
	_, err := e.UpsertProductVersion(ctx, tenancy, nil, nan)
	var ve *entitle.InputValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "product_json", ve.Field)

	inf := canonical.List(canonical.Number(math.Inf(-1)))
	_, err = e.UpsertProductVersion(ctx, tenancy, nil, inf)
	require.ErrorAs(t, err, &ve)

	null := canonical.Map(canonical.Member{Key: "a", Value: canonical.Null()})
	_, err = e.UpsertProductVersion(ctx, tenancy, nil, null)
	require.NoError(t, err)
	assert.Equal(t, 1, hooks.count("version"))
}

func TestGetProductVersion_MissingIsIntegrityError(t *testing.T) {
	e, _, hooks := newEngine(t)

	_, err := e.GetProductVersion(context.Background(), tenancy, "deadbeef")
	var ie *entitle.DataIntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "deadbeef", ie.VersionID)
	assert.True(t, entitle.IsFatal(err))
	assert.Equal(t, 1, hooks.count("integrity"))
}

func TestCanonicalize(t *testing.T) {
	out, err := entitle.Canonicalize(map[string]any{"z": 1, "a": []any{"x", 2.5}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",2.5],"z":1}`, out)
}

// ──────────────────────────────────────────────────
// Owned products
// ──────────────────────────────────────────────────

func TestSubscriptionLifecycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	res := grant(t, e, "monthly", t0)
	require.Equal(t, snapshot.OwnedSubscription, res.Type)
	require.NotNil(t, res.Subscription)
	assert.True(t, res.Subscription.CurrentPeriodEnd.Equal(t0.AddDate(0, 1, 0)))

	owned, err := e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", t0.Add(days(15)))
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, res.PurchaseID, owned[0].ID)
	require.NotNil(t, owned[0].Subscription)
	assert.False(t, owned[0].Subscription.CancelAtPeriodEnd)
	assert.Equal(t, int64(1000), mustPrice(t, owned[0]).Amount)

	_, err = e.CancelSubscription(ctx, tenancy, res.Subscription.ID, t0.Add(days(20)))
	require.NoError(t, err)

	owned, err = e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", t0.Add(days(25)))
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.True(t, owned[0].Subscription.CancelAtPeriodEnd)

	owned, err = e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", t0.Add(days(31)))
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func mustPrice(t *testing.T, o entitle.OwnedProduct) types.Money {
	t.Helper()
	price, ok := o.Product.Price(o.PriceID)
	require.True(t, ok)
	m, err := price.Amount("USD")
	require.NoError(t, err)
	return m
}

func TestOwnedProducts_UseFrozenVersion(t *testing.T) {
	ctx := context.Background()
	cat := testCatalog()
	e := entitle.New(memory.New(),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithCatalog(cat),
	)

	grant(t, e, "monthly", t0)
	cat[tenancy].Products["monthly"].DisplayName = "Renamed"

	owned, err := e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "Monthly", owned[0].Product.DisplayName)
}

func TestOwnedProducts_MonotonicGrants(t *testing.T) {
	e, _, _ := newEngine(t)
	grant(t, e, "lifetime", t0)
	grant(t, e, "boost", t0.Add(days(2)))
	grant(t, e, "boost", t0.Add(days(4)))

	var prev []string
	for d := 0; d <= 6; d++ {
		cur := ownedIDs(t, e, t0.Add(days(d)))
		assert.Subset(t, cur, prev, "day %d", d)
		prev = cur
	}
	assert.Len(t, prev, 3)
}

func TestOwnedProducts_RefundCutoff(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	res := grant(t, e, "lifetime", t0)

	refundAt := t0.Add(days(3))
	_, err := e.RefundPurchase(ctx, tenancy, res.PurchaseID, refundAt)
	require.NoError(t, err)

	assert.Equal(t, []string{"lifetime"}, ownedIDs(t, e, refundAt.Add(-time.Millisecond)))
	assert.Empty(t, ownedIDs(t, e, refundAt))

	_, err = e.RefundPurchase(ctx, tenancy, res.PurchaseID, refundAt.Add(time.Hour))
	requireViolation(t, err, entitle.CodeAlreadyRefunded)
}

func TestOwnedProducts_RenewalKeepsEarlierPeriods(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	res := grant(t, e, "monthly", t0)
	inFirst := t0.Add(days(15))

	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, inFirst))

	periodEnd := res.Subscription.CurrentPeriodEnd
	sub, _, err := e.RenewSubscription(ctx, tenancy, res.Subscription.ID, periodEnd)
	require.NoError(t, err)
	_, _, err = e.RenewSubscription(ctx, tenancy, sub.ID, sub.CurrentPeriodEnd)
	require.NoError(t, err)

	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, inFirst))
	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, periodEnd.Add(days(3))))
	assert.Empty(t, ownedIDs(t, e, t0.Add(-time.Millisecond)))

	effective, err := e.GetEffectiveItemQuantity(ctx, tenancy, "credits", "alice", product.CustomerUser, inFirst)
	require.NoError(t, err)
	assert.Equal(t, int64(100), effective)
}

func TestOwnedProducts_IntegrityViolation(t *testing.T) {
	ctx := context.Background()
	e, s, hooks := newEngine(t)

	pid := "ghost"
	require.NoError(t, s.CreateOneTimePurchase(ctx, &purchase.OneTimePurchase{
		ID: id.NewOneTimePurchaseID(),
		Purchase: purchase.Purchase{
			Entity:           types.NewEntityAt(t0),
			TenancyID:        tenancy,
			CustomerType:     product.CustomerUser,
			CustomerID:       "alice",
			ProductID:        &pid,
			ProductVersionID: "missing-version",
			Quantity:         1,
		},
	}))

	_, err := e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", t0.Add(time.Hour))
	var ie *entitle.DataIntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "missing-version", ie.VersionID)
	assert.Equal(t, tenancy, ie.TenancyID)

	_, err = e.ListTransactions(ctx, tenancy, product.CustomerUser, "alice")
	require.ErrorAs(t, err, &ie)

	_, err = e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{}, "", 10)
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, hooks.count("integrity"))
}

func TestInputValidation(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	tests := []struct {
		name  string
		field string
		call  func() error
	}{
		{"empty tenancy", "tenancy_id", func() error {
			_, err := e.GetOwnedProducts(ctx, "", product.CustomerUser, "alice", t0)
			return err
		}},
		{"unknown customer type", "customer_type", func() error {
			_, err := e.GetOwnedProducts(ctx, tenancy, "org", "alice", t0)
			return err
		}},
		{"empty customer id", "customer_id", func() error {
			_, err := e.ListTransactions(ctx, tenancy, product.CustomerUser, "")
			return err
		}},
		{"now before range", "now", func() error {
			_, err := e.GetItemQuantity(ctx, tenancy, "credits", "alice", product.CustomerUser, time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC))
			return err
		}},
		{"now at range end", "now", func() error {
			_, err := e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", entitle.DefaultMaxTime)
			return err
		}},
		{"negative limit", "limit", func() error {
			_, err := e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{}, "", -1)
			return err
		}},
		{"unknown product", "product_id", func() error {
			_, err := e.GrantProduct(ctx, entitle.GrantRequest{
				TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice", ProductID: "nope", Now: t0,
			})
			return err
		}},
		{"unknown price", "price_id", func() error {
			_, err := e.GrantProduct(ctx, entitle.GrantRequest{
				TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice", ProductID: "monthly", PriceID: "weekly", Now: t0,
			})
			return err
		}},
		{"customer type mismatch", "customer_type", func() error {
			_, err := e.GrantProduct(ctx, entitle.GrantRequest{
				TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice", ProductID: "team-plan", Now: t0,
			})
			return err
		}},
		{"zero delta", "delta", func() error {
			_, _, err := e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
				TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice", ItemID: "credits", Now: t0,
			})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var ve *entitle.InputValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, entitle.ErrInvalidInput)
		})
	}
}

// ──────────────────────────────────────────────────
// Item quantities
// ──────────────────────────────────────────────────

func TestItemQuantity_ExpiryIsNonMonotonic(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	expires := t0.Add(days(10))
	_, balance, err := e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: 10, ExpiresAt: &expires, Now: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	_, _, err = e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: 3, Now: t0.Add(days(1)),
	})
	require.NoError(t, err)

	before, err := e.GetItemQuantity(ctx, tenancy, "credits", "alice", product.CustomerUser, expires.Add(-time.Millisecond))
	require.NoError(t, err)
	after, err := e.GetItemQuantity(ctx, tenancy, "credits", "alice", product.CustomerUser, expires.Add(time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, int64(13), before)
	assert.Equal(t, int64(3), after)
}

func TestUpdateItemQuantity_NegativeGuard(t *testing.T) {
	ctx := context.Background()
	e, _, hooks := newEngine(t)

	req := entitle.ItemQuantityRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: -5, Now: t0,
	}
	_, _, err := e.UpdateItemQuantity(ctx, req)
	requireViolation(t, err, entitle.CodeNegativeItemQuantity)
	assert.Equal(t, []string{entitle.CodeNegativeItemQuantity}, hooks.violations)

	req.AllowNegative = true
	_, balance, err := e.UpdateItemQuantity(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), balance)
}

func TestEffectiveItemQuantity_IncludesOwnedProducts(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	grant(t, e, "monthly", t0)
	_, _, err := e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: -40, Now: t0.Add(days(1)),
	})
	require.NoError(t, err)

	direct, err := e.GetItemQuantity(ctx, tenancy, "credits", "alice", product.CustomerUser, t0.Add(days(2)))
	require.NoError(t, err)
	effective, err := e.GetEffectiveItemQuantity(ctx, tenancy, "credits", "alice", product.CustomerUser, t0.Add(days(2)))
	require.NoError(t, err)

	assert.Equal(t, int64(-40), direct)
	assert.Equal(t, int64(60), effective)
}

func TestEffectiveItemQuantity_IncludedItemPolicies(t *testing.T) {
	ctx := context.Background()
	cat := testCatalog()
	cat[tenancy].Products["studio"] = &product.Product{
		CustomerType: product.CustomerUser,
		Prices: map[string]product.Price{
			"monthly": {Amounts: map[string]string{"USD": "30"}, Interval: product.Every(1, product.UnitMonth)},
		},
		IncludedItems: map[string]product.IncludedItem{
			"credits": {Quantity: 50, Repeat: product.Every(1, product.UnitWeek), Expires: product.ExpiresWhenRepeated},
			"seats":   {Quantity: 2, Expires: product.ExpiresWhenPurchaseExpires},
			"badges":  {Quantity: 1},
			"tokens":  {Quantity: 10, Repeat: product.Every(1, product.UnitWeek)},
		},
	}
	e := entitle.New(memory.New(),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithCatalog(cat),
	)
	res := grantPrice(t, e, "studio", "monthly", t0)

	effective := func(itemID string, at time.Time) int64 {
		t.Helper()
		n, err := e.GetEffectiveItemQuantity(ctx, tenancy, itemID, "alice", product.CustomerUser, at)
		require.NoError(t, err)
		return n
	}
	type balances struct{ credits, seats, badges, tokens int64 }
	at := func(when time.Time) balances {
		return balances{effective("credits", when), effective("seats", when), effective("badges", when), effective("tokens", when)}
	}

	assert.Equal(t, balances{50, 2, 1, 10}, at(t0.Add(days(1))))
	assert.Equal(t, balances{50, 2, 1, 20}, at(t0.Add(days(8))))

	refundAt := t0.Add(days(15))
	_, err := e.RefundPurchase(ctx, tenancy, res.PurchaseID, refundAt)
	require.NoError(t, err)

	assert.Equal(t, balances{50, 2, 1, 20}, at(t0.Add(days(8))), "earlier instants keep their balances")
	assert.Equal(t, balances{50, 0, 1, 30}, at(refundAt.Add(days(30))))
}

// ──────────────────────────────────────────────────
// Product lines
// ──────────────────────────────────────────────────

func TestGrant_ProductLineExclusivity(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	grant(t, e, "lifetime", t0)

	_, err := e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ProductID: "lifetime-plus", Now: t0.Add(time.Hour),
	})
	requireViolation(t, err, entitle.CodeOneTimePurchaseInLine)

	_, err = e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ProductID: "lifetime", Now: t0.Add(time.Hour),
	})
	requireViolation(t, err, entitle.CodeProductAlreadyOwned)

	res := grant(t, e, "boost", t0.Add(time.Hour))
	assert.Equal(t, snapshot.OwnedOneTime, res.Type)
	assert.ElementsMatch(t, []string{"lifetime", "boost"}, ownedIDs(t, e, t0.Add(2*time.Hour)))
}

func TestGrant_SubscriptionInLineSwitches(t *testing.T) {
	ctx := context.Background()
	e, s, hooks := newEngine(t)

	first := grant(t, e, "monthly", t0)
	switchAt := t0.Add(days(5))
	second := grantPrice(t, e, "yearly", "yearly", switchAt)

	require.Len(t, second.Replaced, 1)
	assert.Equal(t, first.PurchaseID, second.Replaced[0].ID.String())
	assert.Equal(t, snapshot.OwnedSubscription, second.Type)
	assert.Equal(t, "yearly", second.Subscription.PriceID)
	assert.Equal(t, 1, hooks.count("switched"))

	old, err := s.GetSubscription(ctx, tenancy, first.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCanceled, old.Status)
	require.NotNil(t, old.EndedAt)
	assert.True(t, old.EndedAt.Equal(switchAt))

	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, switchAt.Add(-time.Millisecond)))
	assert.Equal(t, []string{"yearly"}, ownedIDs(t, e, switchAt))
}

type failingCreates struct {
	*memory.Store
	err error
}

func (f *failingCreates) CreateSubscription(ctx context.Context, sub *purchase.Subscription) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.CreateSubscription(ctx, sub)
}

func TestGrant_FailedCreateKeepsReplacedSubscription(t *testing.T) {
	ctx := context.Background()
	s := &failingCreates{Store: memory.New()}
	hooks := &hookCounter{}
	e := entitle.New(s,
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithCatalog(testCatalog()),
		entitle.WithPlugin(hooks),
	)

	first := grant(t, e, "monthly", t0)

	s.err = errors.New("write refused")
	_, err := e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ProductID: "yearly", PriceID: "yearly", Now: t0.Add(days(5)),
	})
	require.ErrorIs(t, err, s.err)

	old, err := s.GetSubscription(ctx, tenancy, first.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusActive, old.Status)
	assert.Nil(t, old.EndedAt)
	assert.True(t, old.CurrentPeriodEnd.Equal(first.Subscription.CurrentPeriodEnd))

	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, t0.Add(days(10))))
	assert.Equal(t, 0, hooks.count("switched"))
}

func TestGrant_AddOnRequiresBase(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	_, err := e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ProductID: "seat", Now: t0,
	})
	requireViolation(t, err, entitle.CodeAddOnBaseNotOwned)

	grant(t, e, "monthly", t0)
	res, err := e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ProductID: "seat", Quantity: 3, Now: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.OneTimePurchase.Quantity)
}

func TestSwitchSubscription(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	_, err := e.EnsureDefaultProductsSnapshot(ctx, tenancy, t0)
	require.NoError(t, err)

	req := entitle.SwitchRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		FromProductID: "monthly", ToProductID: "yearly", Now: t0.Add(time.Hour),
	}
	_, err = e.SwitchSubscription(ctx, req)
	requireViolation(t, err, entitle.CodeInvalidSwitch)

	req.FromProductID = "free"
	req.ToProductID = "monthly"
	res, err := e.SwitchSubscription(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.Replaced)

	req.FromProductID = "monthly"
	req.ToProductID = "yearly"
	req.Now = t0.Add(days(3))
	res, err = e.SwitchSubscription(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Replaced, 1)
	assert.Equal(t, "yearly", res.Subscription.PriceID)
	assert.Equal(t, []string{"yearly"}, ownedIDs(t, e, t0.Add(days(4))))

	req.ToProductID = "lifetime"
	_, err = e.SwitchSubscription(ctx, req)
	requireViolation(t, err, entitle.CodeInvalidSwitch)
}

func TestListSwitchOptions(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	opts, err := e.ListSwitchOptions(ctx, tenancy, product.CustomerUser, "monthly", true)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "yearly", opts[0].ProductID)
	assert.Contains(t, opts[0].Prices, "yearly")
	assert.NotContains(t, opts[0].Prices, "setup")

	_, err = e.ListSwitchOptions(ctx, tenancy, product.CustomerUser, "nope", true)
	assert.ErrorIs(t, err, entitle.ErrInvalidInput)
}

// ──────────────────────────────────────────────────
// Defaults snapshots
// ──────────────────────────────────────────────────

func TestEnsureDefaultProductsSnapshot(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	at := t0.Add(days(1))
	inserted, err := e.EnsureDefaultProductsSnapshot(ctx, tenancy, at)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = e.EnsureDefaultProductsSnapshot(ctx, tenancy, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Empty(t, ownedIDs(t, e, at.Add(-time.Millisecond)))
	assert.Equal(t, []string{"free"}, ownedIDs(t, e, at))

	owned, err := e.GetOwnedProducts(ctx, tenancy, product.CustomerUser, "alice", at)
	require.NoError(t, err)
	assert.Equal(t, snapshot.OwnedIncludeByDefault, owned[0].Type)
	assert.Equal(t, "free", owned[0].ID)

	grant(t, e, "monthly", at.Add(time.Hour))
	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, at.Add(2*time.Hour)))

	teamOwned, err := e.GetOwnedProducts(ctx, tenancy, product.CustomerTeam, "team-a", at)
	require.NoError(t, err)
	assert.Empty(t, teamOwned)
}

// ──────────────────────────────────────────────────
// Renewal
// ──────────────────────────────────────────────────

func TestRenewSubscription(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	res := grant(t, e, "monthly", t0)
	subID := res.Subscription.ID

	_, _, err := e.RenewSubscription(ctx, tenancy, subID, t0.Add(days(10)))
	requireViolation(t, err, entitle.CodeRenewalNotDue)

	periodEnd := res.Subscription.CurrentPeriodEnd
	sub, inv, err := e.RenewSubscription(ctx, tenancy, subID, periodEnd)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.True(t, sub.CurrentPeriodStart.Equal(periodEnd))
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd.AddDate(0, 1, 0)))
	assert.Equal(t, types.USD(1000), inv.AmountTotal)
	assert.False(t, inv.IsCreationInvoice)

	assert.Equal(t, []string{"monthly"}, ownedIDs(t, e, periodEnd.Add(days(1))))

	txs, err := e.ListTransactions(ctx, tenancy, product.CustomerUser, "alice")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, inv.ID.String(), txs[0].ID)

	_, err = e.CancelSubscription(ctx, tenancy, subID, periodEnd.Add(days(2)))
	require.NoError(t, err)
	sub, inv, err = e.RenewSubscription(ctx, tenancy, subID, sub.CurrentPeriodEnd)
	require.NoError(t, err)
	assert.Nil(t, inv)
	assert.Equal(t, purchase.StatusEnded, sub.Status)
	assert.Empty(t, ownedIDs(t, e, sub.CurrentPeriodEnd))

	_, err = e.CancelSubscription(ctx, tenancy, subID, sub.CurrentPeriodEnd.Add(time.Hour))
	requireViolation(t, err, entitle.CodeSubscriptionNotCancelable)
}

func TestCancelSubscription_NotCancelable(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEngine(t)
	res := grant(t, e, "monthly", t0)

	sub := res.Subscription
	sub.IsCancelable = false
	require.NoError(t, s.UpdateSubscription(ctx, sub))

	_, err := e.CancelSubscription(ctx, tenancy, sub.ID, t0.Add(time.Hour))
	requireViolation(t, err, entitle.CodeSubscriptionNotCancelable)
	assert.True(t, errors.Is(err, entitle.ErrDomainRule))
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func seedHistory(t *testing.T, e *entitle.Engine) {
	t.Helper()
	ctx := context.Background()

	res := grant(t, e, "monthly", t0)
	tied := t0.Add(days(2))
	for range 3 {
		grant(t, e, "boost", tied)
	}
	for _, delta := range []int64{50, 20, 5} {
		_, _, err := e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
			TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
			ItemID: "credits", Delta: delta, Now: tied,
		})
		require.NoError(t, err)
	}
	_, _, err := e.RenewSubscription(ctx, tenancy, res.Subscription.ID, res.Subscription.CurrentPeriodEnd)
	require.NoError(t, err)

	_, err = e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "bob",
		ProductID: "lifetime", Now: tied,
	})
	require.NoError(t, err)
}

func txIDs(txs []entitle.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.ID)
	}
	return out
}

func TestListTransactionsPage_MatchesFullListing(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	seedHistory(t, e)

	want, err := e.ListTransactions(ctx, tenancy, product.CustomerUser, "alice")
	require.NoError(t, err)
	require.Len(t, want, 8)

	filter := entitle.TransactionFilter{CustomerType: product.CustomerUser, CustomerID: "alice"}
	collect := func(limit int) (ids []string, boundaries []string) {
		cursor := ""
		for pages := 0; ; pages++ {
			require.Less(t, pages, len(want)+1, "limit %d does not terminate", limit)
			page, err := e.ListTransactionsPage(ctx, tenancy, filter, cursor, limit)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page.Items), limit)
			ids = append(ids, txIDs(page.Items)...)
			if page.NextCursor == "" {
				return ids, boundaries
			}
			boundaries = append(boundaries, page.Items[len(page.Items)-1].ID)
			cursor = page.NextCursor
		}
	}
	for limit := 1; limit <= len(want)+1; limit++ {
		got, boundaries := collect(limit)
		assert.Equal(t, txIDs(want), got, "limit %d", limit)

		_, again := collect(limit)
		assert.Equal(t, boundaries, again, "limit %d", limit)
	}

	all, err := e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{}, "", 0)
	require.NoError(t, err)
	assert.Len(t, all.Items, 9)
	assert.Empty(t, all.NextCursor)
}

func TestListTransactions_ClosingTransactions(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	monthly := grant(t, e, "monthly", t0)
	yearly := grantPrice(t, e, "yearly", "yearly", t0.Add(days(5)))
	boost := grant(t, e, "boost", t0.Add(days(6)))
	_, err := e.RefundPurchase(ctx, tenancy, boost.PurchaseID, t0.Add(days(7)))
	require.NoError(t, err)
	_, err = e.RefundPurchase(ctx, tenancy, yearly.PurchaseID, t0.Add(days(8)))
	require.NoError(t, err)

	want, err := e.ListTransactions(ctx, tenancy, product.CustomerUser, "alice")
	require.NoError(t, err)
	require.Len(t, want, 6)
	kinds := make([]transaction.Type, 0, len(want))
	for _, tx := range want {
		kinds = append(kinds, tx.Type)
	}
	assert.Equal(t, []transaction.Type{
		transaction.TypePurchaseRefund,
		transaction.TypePurchaseRefund,
		transaction.TypePurchase,
	}, kinds[:3])
	assert.ElementsMatch(t, []transaction.Type{transaction.TypeSubscriptionStart, transaction.TypeSubscriptionEnd}, kinds[3:5])
	assert.Equal(t, transaction.TypeSubscriptionStart, kinds[5])

	assert.Equal(t, transaction.RefundID(yearly.PurchaseID), want[0].ID)
	assert.Equal(t, transaction.RefundID(boost.PurchaseID), want[1].ID)
	assert.ElementsMatch(t, []string{yearly.PurchaseID, transaction.EndID(monthly.PurchaseID)}, txIDs(want[3:5]))
	assert.Equal(t, monthly.PurchaseID, want[5].ID)

	refund := want[1]
	require.NotEmpty(t, refund.Entries)
	assert.Equal(t, transaction.MoneyTransfer{Charged: []types.Money{types.USD(-500)}}, refund.Entries[0])

	filter := entitle.TransactionFilter{CustomerType: product.CustomerUser, CustomerID: "alice"}
	for limit := 1; limit <= len(want)+1; limit++ {
		var got []string
		cursor := ""
		for pages := 0; ; pages++ {
			require.Less(t, pages, len(want)+1, "limit %d does not terminate", limit)
			page, err := e.ListTransactionsPage(ctx, tenancy, filter, cursor, limit)
			require.NoError(t, err)
			got = append(got, txIDs(page.Items)...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		assert.Equal(t, txIDs(want), got, "limit %d", limit)
	}
}

func TestListTransactionsPage_StableUnderInserts(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	seedHistory(t, e)

	filter := entitle.TransactionFilter{CustomerType: product.CustomerUser, CustomerID: "alice"}
	first, err := e.ListTransactionsPage(ctx, tenancy, filter, "", 3)
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)

	_, _, err = e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
		TenancyID: tenancy, CustomerType: product.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: 1, Now: t0.Add(days(40)),
	})
	require.NoError(t, err)

	rest, err := e.ListTransactionsPage(ctx, tenancy, filter, first.NextCursor, 100)
	require.NoError(t, err)
	assert.Len(t, rest.Items, 5)

	seen := make(map[string]bool)
	for _, tx := range append(first.Items, rest.Items...) {
		assert.False(t, seen[tx.ID], "duplicate %s", tx.ID)
		seen[tx.ID] = true
	}
}

func TestListTransactionsPage_Limits(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	for range 5 {
		grant(t, e, "boost", t0)
	}

	page, err := e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{}, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)

	page, err = e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{}, "", entitle.MaxPageLimit*10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
}

func TestListTransactionsPage_InvalidCursor(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)
	grant(t, e, "boost", t0)

	stale, err := paginate.EncodeCursor(tenancy+"//", []paginate.Position{{
		Source: "sub",
		Key:    types.Keyset{CreatedAt: t0, ID: id.NewSubscriptionID().String()},
	}})
	require.NoError(t, err)
	unknown, err := paginate.EncodeCursor(tenancy+"//", []paginate.Position{{
		Source: "coupon",
		Key:    types.Keyset{CreatedAt: t0, ID: "x"},
	}})
	require.NoError(t, err)
	grant(t, e, "boost", t0)
	first, err := e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{CustomerType: product.CustomerUser, CustomerID: "alice"}, "", 1)
	require.NoError(t, err)
	alice := first.NextCursor
	require.NotEmpty(t, alice)

	tests := []struct {
		name   string
		cursor string
		reason string
	}{
		{"garbage", "not a cursor!", "malformed cursor"},
		{"truncated", stale[:len(stale)/2], "malformed cursor"},
		{"unknown source", unknown, "malformed cursor"},
		{"deleted row", stale, "cursor position no longer exists"},
		{"other filter", alice, "cursor belongs to a different filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ListTransactionsPage(ctx, tenancy, entitle.TransactionFilter{}, tt.cursor, 10)
			var ce *entitle.InvalidCursorError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.reason, ce.Reason)
			assert.ErrorIs(t, err, entitle.ErrInvalidCursor)
		})
	}
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func TestFixture_Basic(t *testing.T) {
	ctx := context.Background()
	fx, err := fixture.LoadFile(ctx, "store/fixture/testdata/basic.yaml")
	require.NoError(t, err)

	e := entitle.New(fx.Store,
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithCatalog(fx.Provider()),
	)
	at := func(month time.Month, day int) time.Time { return time.Date(2025, month, day, 0, 0, 0, 0, time.UTC) }
	owned := func(now time.Time) []string {
		products, err := e.GetOwnedProducts(ctx, fx.Tenancy, product.CustomerUser, "alice", now)
		require.NoError(t, err)
		var ids []string
		for _, o := range products {
			ids = append(ids, *o.ProductID)
		}
		return ids
	}
	effective := func(now time.Time) int64 {
		n, err := e.GetEffectiveItemQuantity(ctx, fx.Tenancy, "credits", "alice", product.CustomerUser, now)
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, []string{"free"}, owned(at(time.January, 15)))
	assert.ElementsMatch(t, []string{"pro", "boost"}, owned(at(time.February, 15)))
	assert.ElementsMatch(t, []string{"free", "boost"}, owned(at(time.March, 2)))

	credits, err := e.GetItemQuantity(ctx, fx.Tenancy, "credits", "alice", product.CustomerUser, at(time.February, 15))
	require.NoError(t, err)
	assert.Equal(t, int64(70), credits)

	assert.Equal(t, int64(570), effective(at(time.February, 15)))
	assert.Equal(t, int64(470), effective(at(time.February, 21)))
	assert.Equal(t, int64(-20), effective(at(time.March, 2)))

	txs, err := e.ListTransactions(ctx, fx.Tenancy, product.CustomerUser, "alice")
	require.NoError(t, err)
	assert.Len(t, txs, 4)
}
