package entitle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/store"
)

// Pagination and instant defaults.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

var (
	// DefaultMinTime is the earliest instant the engine evaluates at.
	DefaultMinTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	// DefaultMaxTime is the first instant past the evaluable range.
	DefaultMaxTime = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Engine evaluates entitlements and records purchases over a store.
type Engine struct {
	store    store.Store
	catalogs catalog.Provider
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    func() time.Time

	defaultPageLimit int
	maxPageLimit     int
	minTime          time.Time
	maxTime          time.Time
}

// New creates a new Engine instance. Without WithCatalog every tenancy has
// an empty catalog.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		catalogs:         emptyCatalogs,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		clock:            time.Now,
		defaultPageLimit: DefaultPageLimit,
		maxPageLimit:     MaxPageLimit,
		minTime:          DefaultMinTime,
		maxTime:          DefaultMaxTime,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

var emptyCatalogs = catalog.ProviderFunc(func(context.Context, string) (*catalog.Catalog, error) {
	return &catalog.Catalog{}, nil
})

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds how long a single plugin hook may run.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithCatalog sets the provider of tenant catalogs.
func WithCatalog(p catalog.Provider) Option {
	return func(e *Engine) {
		e.catalogs = p
	}
}

// WithClock sets the clock used when a write request carries no instant.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithPageLimits sets the default and maximum transaction page sizes.
func WithPageLimits(defaultLimit, maxLimit int) Option {
	return func(e *Engine) {
		if defaultLimit > 0 {
			e.defaultPageLimit = defaultLimit
		}
		if maxLimit > 0 {
			e.maxPageLimit = maxLimit
		}
		if e.defaultPageLimit > e.maxPageLimit {
			e.defaultPageLimit = e.maxPageLimit
		}
	}
}

// WithTimeBounds sets the half-open range [minTime, maxTime) of instants
// the engine accepts.
func WithTimeBounds(minTime, maxTime time.Time) Option {
	return func(e *Engine) {
		e.minTime = minTime.UTC()
		e.maxTime = maxTime.UTC()
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("entitle started",
		"plugins", e.plugins.Count(),
		"default_page_limit", e.defaultPageLimit,
		"max_page_limit", e.maxPageLimit,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Input checks
// ──────────────────────────────────────────────────

func checkTenancy(tenancyID string) error {
	if tenancyID == "" {
		return invalid("tenancy_id", "must not be empty")
	}
	return nil
}

func checkCustomer(customerType product.CustomerType, customerID string) error {
	if !customerType.Valid() {
		return invalid("customer_type", "unknown customer type %q", customerType)
	}
	if customerID == "" {
		return invalid("customer_id", "must not be empty")
	}
	return nil
}

// instant validates now and returns it in UTC at millisecond precision.
func (e *Engine) instant(now time.Time) (time.Time, error) {
	if now.Before(e.minTime) || !now.Before(e.maxTime) {
		return time.Time{}, invalid("now", "%s is outside [%s, %s)",
			now.UTC().Format(time.RFC3339Nano), e.minTime.Format(time.RFC3339), e.maxTime.Format(time.RFC3339))
	}
	return now.UTC().Truncate(time.Millisecond), nil
}

// writeInstant is instant for write requests, where zero means the clock.
func (e *Engine) writeInstant(now time.Time) (time.Time, error) {
	if now.IsZero() {
		now = e.clock()
	}
	return e.instant(now)
}

func (e *Engine) catalog(ctx context.Context, tenancyID string) (*catalog.Catalog, error) {
	c, err := e.catalogs.Catalog(ctx, tenancyID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return &catalog.Catalog{}, nil
	}
	return c, nil
}

// ──────────────────────────────────────────────────
// Error reporting
// ──────────────────────────────────────────────────

// integrity converts a missing-version error into a *DataIntegrityError,
// logs it and notifies plugins. Other errors pass through.
func (e *Engine) integrity(ctx context.Context, tenancyID string, err error) error {
	var missing *product.MissingVersionError
	if !errors.As(err, &missing) {
		return err
	}
	ie := &DataIntegrityError{TenancyID: tenancyID, VersionID: missing.VersionID, Reference: missing.Reference}
	e.logger.Error("data integrity violation",
		"tenancy_id", tenancyID,
		"version_id", missing.VersionID,
		"reference", missing.Reference,
	)
	e.plugins.EmitIntegrityViolation(ctx, tenancyID, ie)
	return ie
}

// refuse reports a domain rule violation to plugins and returns it.
func (e *Engine) refuse(ctx context.Context, tenancyID string, v *DomainRuleViolation) error {
	e.logger.Debug("domain rule violated",
		"tenancy_id", tenancyID,
		"code", v.Code,
		"message", v.Message,
	)
	e.plugins.EmitDomainRuleViolated(ctx, tenancyID, v.Code, v.Message)
	return v
}
