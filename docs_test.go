package entitle_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		catalogs := catalog.Static{
			"acme": {
				Products: map[string]*product.Product{
					"pro": {
						DisplayName:  "Pro",
						CustomerType: product.CustomerUser,
						Prices: map[string]product.Price{
							"monthly": {
								Amounts:  map[string]string{"USD": "10.00"},
								Interval: product.Every(1, product.UnitMonth),
							},
						},
						IncludedItems: map[string]product.IncludedItem{
							"credits": {Quantity: 100},
						},
					},
				},
			},
		}

		e := entitle.New(store,
			entitle.WithLogger(slog.Default()),
			entitle.WithCatalog(catalogs),
		)

		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

		// Grant a subscription
		res, err := e.GrantProduct(ctx, entitle.GrantRequest{
			TenancyID:    "acme",
			CustomerType: entitle.CustomerUser,
			CustomerID:   "alice",
			ProductID:    "pro",
			Now:          start,
		})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Granted %s as %s\n", res.PurchaseID, res.Type)

		// Check what the customer owns
		owned, err := e.GetOwnedProducts(ctx, "acme", entitle.CustomerUser, "alice", start.Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(owned) != 1 {
			t.Fatalf("expected 1 owned product, got %d", len(owned))
		}

		// Included items count towards the effective balance
		credits, err := e.GetEffectiveItemQuantity(ctx, "acme", "credits", "alice", entitle.CustomerUser, start.Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if credits != 100 {
			t.Fatalf("expected 100 credits, got %d", credits)
		}

		// Read the history
		txs, err := e.ListTransactions(ctx, "acme", entitle.CustomerUser, "alice")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("History has %d transactions\n", len(txs))
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.USD(4900)   // $49.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		// Price amounts are decimal strings in major units
		m, err := types.ParseMajor("USD", "10.50")
		if err != nil {
			t.Fatal(err)
		}
		if m.Amount != 1050 {
			t.Fatalf("expected 1050 cents, got %d", m.Amount)
		}

		// Formatting
		_ = m.Multiply(3).String() // "$31.50"
		_ = m.FormatMajor()        // "10.50"
	})

	t.Run("VersionIDExample", func(t *testing.T) {
		pid := "pro"
		a, err := entitle.ComputeProductVersionID(&pid, map[string]any{"b": 1, "a": 2})
		if err != nil {
			t.Fatal(err)
		}
		b, err := entitle.ComputeProductVersionID(&pid, map[string]any{"a": 2, "b": 1})
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Fatalf("key order changed the version id: %s != %s", a, b)
		}
	})
}
