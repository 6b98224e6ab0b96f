package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("entitle/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/sqlite: %w: %w", entitle.ErrMigrationFailed, err)
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
		return false, fmt.Errorf("entitle/sqlite: insert version: %w", err)
	}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(tenancy_id, version_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("entitle/sqlite: insert version: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) GetVersion(ctx context.Context, tenancyID, versionID string) (*product.Version, error) {
	m := new(versionModel)
	err := s.sdb.NewSelect(m).
		Where("tenancy_id = ?", tenancyID).
		Where("version_id = ?", versionID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrProductVersionNotFound
		}
		return nil, fmt.Errorf("entitle/sqlite: get version: %w", err)
	}
	return fromVersionModel(m)
}

func (s *Store) GetVersions(ctx context.Context, tenancyID string, versionIDs []string) (map[string]*product.Version, error) {
	result := make(map[string]*product.Version, len(versionIDs))
	if len(versionIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(versionIDs))
	for i, vid := range versionIDs {
		args[i] = vid
	}

	var models []versionModel
	err := s.sdb.NewSelect(&models).
		Where("tenancy_id = ?", tenancyID).
		Where("version_id IN ("+placeholders(len(versionIDs))+")", args...).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/sqlite: get versions: %w", err)
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
		return fmt.Errorf("entitle/sqlite: create defaults snapshot: %w", err)
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) LatestDefaultsSnapshot(ctx context.Context, tenancyID string, at time.Time) (*product.DefaultsSnapshot, error) {
	m := new(defaultsSnapshotModel)
	err := s.sdb.NewSelect(m).
		Where("tenancy_id = ?", tenancyID).
		Where("created_at <= ?", at).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrDefaultsSnapshotNotFound
		}
		return nil, fmt.Errorf("entitle/sqlite: latest defaults snapshot: %w", err)
	}
	return fromDefaultsSnapshotModel(m)
}

// ==================== Purchase Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *purchase.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, tenancyID string, subID id.SubscriptionID) (*purchase.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Where("tenancy_id = ?", tenancyID).
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	q := s.sdb.NewSelect(&models).Where("tenancy_id = ?", tenancyID)

	if opts.CustomerType != "" {
		q = q.Where("customer_type = ?", string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		q = q.Where("customer_id = ?", opts.CustomerID)
	}
	col := opts.Order.Column()
	if opts.Order != purchase.OrderCreated {
		q = q.Where(col + " IS NOT NULL")
	}
	if opts.After != nil {
		q = q.Where(keysetOn(col), opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr(col + " DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/sqlite: list subscriptions: %w", err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetOneTimePurchase(ctx context.Context, tenancyID string, otpID id.OneTimePurchaseID) (*purchase.OneTimePurchase, error) {
	m := new(oneTimePurchaseModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", otpID.String()).
		Where("tenancy_id = ?", tenancyID).
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	q := s.sdb.NewSelect(&models).Where("tenancy_id = ?", tenancyID)

	if opts.CustomerType != "" {
		q = q.Where("customer_type = ?", string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		q = q.Where("customer_id = ?", opts.CustomerID)
	}
	col := opts.Order.Column()
	if opts.Order != purchase.OrderCreated {
		q = q.Where(col + " IS NOT NULL")
	}
	if opts.After != nil {
		q = q.Where(keysetOn(col), opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr(col + " DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/sqlite: list one-time purchases: %w", err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetItemQuantityChange(ctx context.Context, tenancyID string, changeID id.ItemQuantityChangeID) (*item.QuantityChange, error) {
	m := new(quantityChangeModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", changeID.String()).
		Where("tenancy_id = ?", tenancyID).
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
	q := s.sdb.NewSelect(&models).Where("tenancy_id = ?", tenancyID)

	if opts.CustomerType != "" {
		q = q.Where("customer_type = ?", string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		q = q.Where("customer_id = ?", opts.CustomerID)
	}
	if opts.ItemID != "" {
		q = q.Where("item_id = ?", opts.ItemID)
	}
	if opts.After != nil {
		q = q.Where(keysetClause, opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/sqlite: list item quantity changes: %w", err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscriptionInvoice(ctx context.Context, tenancyID string, invID id.InvoiceID) (*invoice.SubscriptionInvoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", invID.String()).
		Where("tenancy_id = ?", tenancyID).
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
	q := s.sdb.NewSelect(&models).Where("tenancy_id = ?", tenancyID)

	if opts.CustomerType != "" {
		q = q.Where("customer_type = ?", string(opts.CustomerType))
	}
	if opts.CustomerID != "" {
		q = q.Where("customer_id = ?", opts.CustomerID)
	}
	if !opts.SubscriptionID.IsNil() {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.RenewalsOnly {
		q = q.Where("is_creation_invoice = 0")
	}
	if opts.After != nil {
		q = q.Where(keysetClause, opts.After.CreatedAt, opts.After.CreatedAt, opts.After.ID)
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/sqlite: list subscription invoices: %w", err)
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
// position.
const keysetClause = "(created_at < ? OR (created_at = ? AND id < ?))"

// keysetOn is keysetClause over an arbitrary instant column.
func keysetOn(col string) string {
	return fmt.Sprintf("(%[1]s < ? OR (%[1]s = ? AND id < ?))", col)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
