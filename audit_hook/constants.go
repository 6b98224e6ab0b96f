package audithook

// Action constants for audit events.
const (
	// Product actions
	ActionProductVersionCreated   = "product_version.created"
	ActionDefaultsSnapshotCreated = "defaults_snapshot.created"

	// Purchase actions
	ActionProductGranted       = "product.granted"
	ActionPurchaseRefunded     = "purchase.refunded"
	ActionSubscriptionSwitched = "subscription.switched"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionSubscriptionRenewed  = "subscription.renewed"

	// Item actions
	ActionItemQuantityChanged = "item_quantity.changed"

	// Rule actions
	ActionDomainRuleViolated = "domain_rule.violated"
	ActionIntegrityViolation = "integrity.violation"
)

// Resource constants for audit events.
const (
	ResourceProductVersion   = "product_version"
	ResourceDefaultsSnapshot = "defaults_snapshot"
	ResourceSubscription     = "subscription"
	ResourcePurchase         = "purchase"
	ResourceItem             = "item"
	ResourceTenancy          = "tenancy"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategoryPurchase     = "purchase"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryIntegrity    = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
