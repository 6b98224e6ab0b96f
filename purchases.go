package entitle

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/productline"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/snapshot"
	"github.com/xraph/entitle/types"
)

// GrantRequest grants a product to a customer. Exactly one of ProductID and
// Product is set; Product is an inline definition without a catalog id.
// An empty PriceID selects the product's first price by id. Quantity 0
// means 1 and a zero Now means the engine clock.
type GrantRequest struct {
	TenancyID    string
	CustomerType product.CustomerType
	CustomerID   string
	ProductID    string
	Product      *product.Product
	PriceID      string
	Quantity     int64
	TestMode     bool
	Source       purchase.CreationSource
	Now          time.Time
}

// GrantResult is the purchase a grant created. Replaced lists the
// subscriptions a switch ended.
type GrantResult struct {
	Type             snapshot.OwnedType        `json:"type"`
	PurchaseID       string                    `json:"purchase_id"`
	ProductVersionID string                    `json:"product_version_id"`
	Subscription     *purchase.Subscription    `json:"subscription,omitempty"`
	OneTimePurchase  *purchase.OneTimePurchase `json:"one_time_purchase,omitempty"`
	Replaced         []*purchase.Subscription  `json:"replaced,omitempty"`
}

// SwitchRequest moves a subscriber of FromProductID to ToProductID in the
// same product line. An empty PriceID selects the first recurring price.
type SwitchRequest struct {
	TenancyID     string
	CustomerType  product.CustomerType
	CustomerID    string
	FromProductID string
	ToProductID   string
	PriceID       string
	Now           time.Time
}

// grantPlan is a validated grant.
type grantPlan struct {
	tenancyID    string
	customerType product.CustomerType
	customerID   string
	productID    *string
	product      *product.Product
	priceID      string
	price        *product.Price
	quantity     int64
	testMode     bool
	source       purchase.CreationSource
	now          time.Time
}

// ──────────────────────────────────────────────────
// Grants
// ──────────────────────────────────────────────────

// GrantProduct grants a product, enforcing product-line exclusivity against
// what the customer owns at the grant instant. Granting a product whose line
// holds one of the customer's subscriptions switches: the subscription ends
// at the grant instant and the new purchase replaces it.
func (e *Engine) GrantProduct(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	if err := checkTenancy(req.TenancyID); err != nil {
		return nil, err
	}
	if err := checkCustomer(req.CustomerType, req.CustomerID); err != nil {
		return nil, err
	}
	now, err := e.writeInstant(req.Now)
	if err != nil {
		return nil, err
	}

	var productID *string
	p := req.Product
	switch {
	case req.ProductID != "" && req.Product != nil:
		return nil, invalid("product", "set either a product id or an inline product, not both")
	case req.ProductID != "":
		c, err := e.catalog(ctx, req.TenancyID)
		if err != nil {
			return nil, err
		}
		var ok bool
		if p, ok = c.Product(req.ProductID); !ok {
			return nil, invalid("product_id", "unknown product %q", req.ProductID)
		}
		pid := req.ProductID
		productID = &pid
	case req.Product != nil:
		if err := p.Validate(); err != nil {
			return nil, invalid("product", "%v", err)
		}
	default:
		return nil, invalid("product_id", "a product id or an inline product is required")
	}

	if p.CustomerType != req.CustomerType {
		return nil, invalid("customer_type", "product is for %q customers, not %q", p.CustomerType, req.CustomerType)
	}
	if p.IncludeByDefault {
		return nil, invalid("product_id", "include-by-default products cannot be granted")
	}
	priceID, price, err := selectPrice(p, req.PriceID, false)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	source := req.Source
	if source == "" {
		source = purchase.SourceAPIGrant
	}

	return e.grant(ctx, &grantPlan{
		tenancyID:    req.TenancyID,
		customerType: req.CustomerType,
		customerID:   req.CustomerID,
		productID:    productID,
		product:      p,
		priceID:      priceID,
		price:        price,
		quantity:     quantity,
		testMode:     req.TestMode,
		source:       source,
		now:          now,
	})
}

// SwitchSubscription switches a subscriber to another product of the same
// line. The source product may be the line's include-by-default product.
func (e *Engine) SwitchSubscription(ctx context.Context, req SwitchRequest) (*GrantResult, error) {
	if err := checkTenancy(req.TenancyID); err != nil {
		return nil, err
	}
	if err := checkCustomer(req.CustomerType, req.CustomerID); err != nil {
		return nil, err
	}
	now, err := e.writeInstant(req.Now)
	if err != nil {
		return nil, err
	}

	c, err := e.catalog(ctx, req.TenancyID)
	if err != nil {
		return nil, err
	}
	if err := productline.ValidateSwitch(c, req.CustomerType, req.FromProductID, req.ToProductID); err != nil {
		return nil, e.lineRule(ctx, req.TenancyID, err)
	}

	owned, err := e.ownedAt(ctx, req.TenancyID, req.CustomerType, req.CustomerID, now)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(owned, func(o snapshot.OwnedProduct) bool {
		return o.Type != snapshot.OwnedOneTime && o.ProductID != nil && *o.ProductID == req.FromProductID
	}) {
		return nil, e.refuse(ctx, req.TenancyID,
			violated(CodeInvalidSwitch, "customer has no active subscription to product %q", req.FromProductID))
	}

	to, _ := c.Product(req.ToProductID)
	priceID, price, err := selectPrice(to, req.PriceID, true)
	if err != nil {
		return nil, err
	}
	toID := req.ToProductID

	return e.grant(ctx, &grantPlan{
		tenancyID:    req.TenancyID,
		customerType: req.CustomerType,
		customerID:   req.CustomerID,
		productID:    &toID,
		product:      to,
		priceID:      priceID,
		price:        price,
		quantity:     1,
		source:       purchase.SourceAPIGrant,
		now:          now,
	})
}

// ListSwitchOptions lists the products a subscriber of activeProductID may
// switch to. client hides server-only products and prices.
func (e *Engine) ListSwitchOptions(ctx context.Context, tenancyID string, customerType product.CustomerType, activeProductID string, client bool) ([]productline.SwitchOption, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	if !customerType.Valid() {
		return nil, invalid("customer_type", "unknown customer type %q", customerType)
	}
	c, err := e.catalog(ctx, tenancyID)
	if err != nil {
		return nil, err
	}
	if _, ok := c.Product(activeProductID); !ok {
		return nil, invalid("product_id", "unknown product %q", activeProductID)
	}
	return productline.SwitchOptions(c, customerType, activeProductID, client), nil
}

// grant resolves exclusivity for g and records the purchase.
func (e *Engine) grant(ctx context.Context, g *grantPlan) (*GrantResult, error) {
	owned, err := e.ownedAt(ctx, g.tenancyID, g.customerType, g.customerID, g.now)
	if err != nil {
		return nil, err
	}

	if g.product.IsAddOn() && !slices.ContainsFunc(owned, func(o snapshot.OwnedProduct) bool {
		return o.ProductID != nil && g.product.IsAddOnFor(*o.ProductID)
	}) {
		return nil, e.refuse(ctx, g.tenancyID,
			violated(CodeAddOnBaseNotOwned, "product is an add-on to a product the customer does not own"))
	}

	decision, err := productline.Resolve(owned, g.productID, g.product, g.quantity)
	if err != nil {
		return nil, e.lineRule(ctx, g.tenancyID, err)
	}

	result := &GrantResult{}
	versionID, err := e.freeze(ctx, g.tenancyID, g.productID, g.product)
	if err != nil {
		return nil, err
	}
	result.ProductVersionID = versionID

	pur := purchase.Purchase{
		Entity:           types.NewEntityAt(g.now),
		TenancyID:        g.tenancyID,
		CustomerType:     g.customerType,
		CustomerID:       g.customerID,
		ProductID:        g.productID,
		ProductVersionID: versionID,
		PriceID:          g.priceID,
		Quantity:         g.quantity,
		TestMode:         g.testMode,
		CreationSource:   g.source,
	}

	if g.price != nil && g.price.IsRecurring() {
		sub := &purchase.Subscription{
			Purchase:           pur,
			ID:                 id.NewSubscriptionID(),
			Status:             purchase.StatusActive,
			CurrentPeriodStart: g.now,
			CurrentPeriodEnd:   g.price.Interval.AddTo(g.now),
			IsCancelable:       true,
		}
		if err := e.store.CreateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		result.Type = snapshot.OwnedSubscription
		result.PurchaseID = sub.ID.String()
		result.Subscription = sub
	} else {
		otp := &purchase.OneTimePurchase{Purchase: pur, ID: id.NewOneTimePurchaseID()}
		if err := e.store.CreateOneTimePurchase(ctx, otp); err != nil {
			return nil, err
		}
		result.Type = snapshot.OwnedOneTime
		result.PurchaseID = otp.ID.String()
		result.OneTimePurchase = otp
	}

	// Replaced subscriptions end only after the new purchase is stored.
	for _, o := range decision.Replace {
		sub, err := e.endForSwitch(ctx, g.tenancyID, o.ID, g.now)
		if err != nil {
			e.logger.Error("switch left replaced subscription active",
				"tenancy_id", g.tenancyID,
				"subscription_id", o.ID,
				"purchase_id", result.PurchaseID,
				"error", err,
			)
			return nil, err
		}
		result.Replaced = append(result.Replaced, sub)
	}

	for _, sub := range result.Replaced {
		e.plugins.EmitSubscriptionSwitched(ctx, sub, &pur)
	}
	e.plugins.EmitProductGranted(ctx, &pur, result.PurchaseID)

	e.logger.Info("product granted",
		"tenancy_id", g.tenancyID,
		"customer_id", g.customerID,
		"purchase_id", result.PurchaseID,
		"type", result.Type,
		"replaced", len(result.Replaced),
	)
	return result, nil
}

// endForSwitch ends a subscription replaced by a switch at now.
func (e *Engine) endForSwitch(ctx context.Context, tenancyID, subscriptionID string, now time.Time) (*purchase.Subscription, error) {
	subID, err := id.ParseSubscriptionID(subscriptionID)
	if err != nil {
		return nil, err
	}
	sub, err := e.store.GetSubscription(ctx, tenancyID, subID)
	if err != nil {
		return nil, err
	}
	ended := now
	sub.Status = purchase.StatusCanceled
	sub.CurrentPeriodEnd = now
	sub.CancelAtPeriodEnd = true
	sub.EndedAt = &ended
	sub.Touch(now)
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// lineRule converts a product line violation into a *DomainRuleViolation.
func (e *Engine) lineRule(ctx context.Context, tenancyID string, err error) error {
	var v *productline.Violation
	if !errors.As(err, &v) {
		return err
	}
	return e.refuse(ctx, tenancyID, &DomainRuleViolation{Code: v.Code, Message: v.Message})
}

// selectPrice returns the price priceID of p, or the first price by id when
// priceID is empty. A product without prices selects none.
func selectPrice(p *product.Product, priceID string, recurringOnly bool) (string, *product.Price, error) {
	prices := p.Prices
	if recurringOnly {
		prices = p.RecurringPrices()
	}
	if priceID != "" {
		price, ok := prices[priceID]
		if !ok {
			return "", nil, invalid("price_id", "product has no price %q", priceID)
		}
		return priceID, &price, nil
	}
	if len(prices) == 0 {
		if recurringOnly {
			return "", nil, invalid("price_id", "product has no recurring price")
		}
		return "", nil, nil
	}
	ids := make([]string, 0, len(prices))
	for pid := range prices {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	price := prices[ids[0]]
	return ids[0], &price, nil
}
