// Package entitle provides a ledger and entitlement-snapshot engine for
// product purchases.
//
// Entitle is designed as a library, not a service. It records subscriptions,
// one-time purchases and item quantity changes, and answers two questions at
// any instant: which products does a customer own, and how much of an item
// do they hold. It provides:
//
//   - Content-addressed, immutable product versions: a purchase keeps the
//     terms it was bought under even after the catalog changes
//   - Point-in-time entitlement evaluation over subscriptions, one-time
//     purchases and include-by-default products
//   - Item balances with expiring grants
//   - Product-line exclusivity with subscription switching
//   - A transaction history merged across tables with stable cursor
//     pagination
//   - Pluggable audit and metrics hooks
//
// # Quick Start
//
// Create an engine over a store and a catalog provider:
//
//	import (
//	    "github.com/xraph/entitle"
//	    "github.com/xraph/entitle/store/postgres"
//	)
//
//	s := postgres.New(db)
//	e := entitle.New(s, entitle.WithCatalog(catalogs))
//
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// Products are read from the tenant catalog when granted and frozen into a
// product version whose id is the keyed BLAKE3 hash of the canonical JSON:
//
//	res, err := e.GrantProduct(ctx, entitle.GrantRequest{
//	    TenancyID:    "acme",
//	    CustomerType: entitle.CustomerUser,
//	    CustomerID:   "alice",
//	    ProductID:    "pro",
//	})
//
// Owned products are evaluated at an instant, from the versions purchases
// reference:
//
//	owned, err := e.GetOwnedProducts(ctx, "acme", entitle.CustomerUser, "alice", time.Now())
//
// Item quantities sum the changes active at the instant. An expiring grant
// stops counting once it expires, so the balance can drop without a new
// change:
//
//	credits, err := e.GetItemQuantity(ctx, "acme", "credits", "alice", entitle.CustomerUser, time.Now())
//
// # Errors
//
// A purchase referencing a missing product version is a *DataIntegrityError
// and must alert. Refusals such as granting a second product in an exclusive
// line are *DomainRuleViolation values that can be shown to the end user.
// Cursors that no longer decode, or that point at deleted rows, return
// *InvalidCursorError; restart pagination from the first page.
//
// # TypeID
//
// Ledger rows use TypeID identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription
//	otp_01h2xcejqtf2nbrexx3vqjhp41   // One-time purchase
//	iqc_01h455vb4pex5vsknk084sn02q   // Item quantity change
//
// Product versions are addressed by content, not by TypeID.
package entitle
