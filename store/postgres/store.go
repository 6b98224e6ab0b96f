package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	entitlestore "github.com/xraph/entitle/store"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: %w: %w", entitle.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Product version Store ====================

func (s *Store) InsertVersion(ctx context.Context, v *product.Version) (bool, error) {
	m, err := toVersionModel(v)
	if err != nil {
		return false, fmt.Errorf("entitle/postgres: insert version: %w", err)
	}
	res, err := s.pg.NewInsert(m).
		OnConflict("(tenancy_id, version_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("entitle/postgres: insert version: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) GetVersion(ctx context.Context, tenancyID, versionID string) (*product.Version, error) {
	m := new(versionModel)
	err := s.pg.NewSelect(m).
		Where("tenancy_id = $1", tenancyID).
		Where("version_id = $2", versionID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrProductVersionNotFound
		}
		return nil, fmt.Errorf("entitle/postgres: get version: %w", err)
	}
	return fromVersionModel(m)
}

func (s *Store) GetVersions(ctx context.Context, tenancyID string, versionIDs []string) (map[string]*product.Version, error) {
	result := make(map[string]*product.Version, len(versionIDs))
	if len(versionIDs) == 0 {
		return result, nil
	}

	var models []versionModel
	err := s.pg.NewSelect(&models).
		Where("tenancy_id = $1", tenancyID).
		Where("version_id = ANY($2)", versionIDs).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/postgres: get versions: %w", err)
	}
	for i := range models {
		v, err := fromVersionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[v.VersionID] = v
	}
	return result, nil
}

func (s *Store) CreateDefaultsSnapshot(ctx context.Context, snap *product.DefaultsSnapshot) error {
	m, err := toDefaultsSnapshotModel(snap)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create defaults snapshot: %w", err)
	}
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) LatestDefaultsSnapshot(ctx context.Context, tenancyID string, at time.Time) (*product.DefaultsSnapshot, error) {
	m := new(defaultsSnapshotModel)
	err := s.pg.NewSelect(m).
		Where("tenancy_id = $1", tenancyID).
		Where("created_at <= $2", at).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrDefaultsSnapshotNotFound
		}
		return nil, fmt.Errorf("entitle/postgres: latest defaults snapshot: %w", err)
	}
	return fromDefaultsSnapshotModel(m)
}

// ==================== Purchase Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *purchase.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, tenancyID string, subID id.SubscriptionID) (*purchase.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Where("tenancy_id = $2", tenancyID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *purchase.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenancyID string, opts purchase.ListOpts) ([]*purchase.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("tenancy_id = $1", tenancyID)

	argIdx := 1
	if opts.CustomerType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_type = $%d", argIdx), string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	col := opts.Order.Column()
	if opts.Order != purchase.OrderCreated {
		q = q.Where(col + " IS NOT NULL")
	}
	if opts.After != nil {
		q = q.Where(keysetOn(col, argIdx), opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr(col + " DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/postgres: list subscriptions: %w", err)
	}

	result := make([]*purchase.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) CreateOneTimePurchase(ctx context.Context, o *purchase.OneTimePurchase) error {
	m := toOneTimePurchaseModel(o)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetOneTimePurchase(ctx context.Context, tenancyID string, otpID id.OneTimePurchaseID) (*purchase.OneTimePurchase, error) {
	m := new(oneTimePurchaseModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", otpID.String()).
		Where("tenancy_id = $2", tenancyID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromOneTimePurchaseModel(m)
}

func (s *Store) UpdateOneTimePurchase(ctx context.Context, o *purchase.OneTimePurchase) error {
	m := toOneTimePurchaseModel(o)
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitle.ErrPurchaseNotFound
	}
	return nil
}

func (s *Store) ListOneTimePurchases(ctx context.Context, tenancyID string, opts purchase.ListOpts) ([]*purchase.OneTimePurchase, error) {
	if opts.Order == purchase.OrderEnded {
		return []*purchase.OneTimePurchase{}, nil
	}
	var models []oneTimePurchaseModel
	q := s.pg.NewSelect(&models).Where("tenancy_id = $1", tenancyID)

	argIdx := 1
	if opts.CustomerType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_type = $%d", argIdx), string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	col := opts.Order.Column()
	if opts.Order != purchase.OrderCreated {
		q = q.Where(col + " IS NOT NULL")
	}
	if opts.After != nil {
		q = q.Where(keysetOn(col, argIdx), opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr(col + " DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/postgres: list one-time purchases: %w", err)
	}

	result := make([]*purchase.OneTimePurchase, len(models))
	for i := range models {
		o, err := fromOneTimePurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

// ==================== Item Store ====================

func (s *Store) CreateItemQuantityChange(ctx context.Context, c *item.QuantityChange) error {
	m := toQuantityChangeModel(c)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetItemQuantityChange(ctx context.Context, tenancyID string, changeID id.ItemQuantityChangeID) (*item.QuantityChange, error) {
	m := new(quantityChangeModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", changeID.String()).
		Where("tenancy_id = $2", tenancyID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrItemQuantityChangeNotFound
		}
		return nil, err
	}
	return fromQuantityChangeModel(m)
}

func (s *Store) ListItemQuantityChanges(ctx context.Context, tenancyID string, opts item.ListOpts) ([]*item.QuantityChange, error) {
	var models []quantityChangeModel
	q := s.pg.NewSelect(&models).Where("tenancy_id = $1", tenancyID)

	argIdx := 1
	if opts.CustomerType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_type = $%d", argIdx), string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	if opts.ItemID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("item_id = $%d", argIdx), opts.ItemID)
	}
	if opts.After != nil {
		q = q.Where(keysetClause(argIdx), opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/postgres: list item quantity changes: %w", err)
	}

	result := make([]*item.QuantityChange, len(models))
	for i := range models {
		c, err := fromQuantityChangeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// ==================== Invoice Store ====================

func (s *Store) CreateSubscriptionInvoice(ctx context.Context, inv *invoice.SubscriptionInvoice) error {
	m := toInvoiceModel(inv)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscriptionInvoice(ctx context.Context, tenancyID string, invID id.InvoiceID) (*invoice.SubscriptionInvoice, error) {
	m := new(invoiceModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", invID.String()).
		Where("tenancy_id = $2", tenancyID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListSubscriptionInvoices(ctx context.Context, tenancyID string, opts invoice.ListOpts) ([]*invoice.SubscriptionInvoice, error) {
	var models []invoiceModel
	q := s.pg.NewSelect(&models).Where("tenancy_id = $1", tenancyID)

	argIdx := 1
	if opts.CustomerType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_type = $%d", argIdx), string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("customer_id = $%d", argIdx), opts.CustomerID)
	}
	if !opts.SubscriptionID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("subscription_id = $%d", argIdx), opts.SubscriptionID.String())
	}
	if opts.RenewalsOnly {
		q = q.Where("is_creation_invoice = FALSE")
	}
	if opts.After != nil {
		q = q.Where(keysetClause(argIdx), opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/postgres: list subscription invoices: %w", err)
	}

	result := make([]*invoice.SubscriptionInvoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// ==================== Helpers ====================

// keysetClause restricts a (created_at desc, id desc) listing to rows after a
// position. Its three placeholders follow argIdx.
func keysetClause(argIdx int) string {
	return keysetOn("created_at", argIdx)
}

// keysetOn is keysetClause over an arbitrary instant column.
func keysetOn(col string, argIdx int) string {
	return fmt.Sprintf("(%[1]s < $%[2]d OR (%[1]s = $%[3]d AND id < $%[4]d))", col, argIdx+1, argIdx+2, argIdx+3)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
