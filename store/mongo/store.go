package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/types"
)

// Collection name constants.
const (
	colVersions         = "entitle_product_versions"
	colDefaults         = "entitle_defaults_snapshots"
	colSubscriptions    = "entitle_subscriptions"
	colOneTimePurchases = "entitle_one_time_purchases"
	colQuantityChanges  = "entitle_item_quantity_changes"
	colInvoices         = "entitle_subscription_invoices"
)

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM. BSON dates keep
// millisecond precision, so rows must be stamped at millisecond granularity
// for keyset pagination to round-trip.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w: %w", col, entitle.ErrMigrationFailed, err)
		}
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
	m := toVersionModel(v)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("entitle/mongo: insert version: %w", err)
	}
	return true, nil
}

func (s *Store) GetVersion(ctx context.Context, tenancyID, versionID string) (*product.Version, error) {
	var m versionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": versionKey(tenancyID, versionID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrProductVersionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get version: %w", err)
	}
	return fromVersionModel(&m)
}

func (s *Store) GetVersions(ctx context.Context, tenancyID string, versionIDs []string) (map[string]*product.Version, error) {
	result := make(map[string]*product.Version, len(versionIDs))
	if len(versionIDs) == 0 {
		return result, nil
	}

	keys := make([]string, len(versionIDs))
	for i, vid := range versionIDs {
		keys[i] = versionKey(tenancyID, vid)
	}

	var models []versionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"_id": bson.M{"$in": keys}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: get versions: %w", err)
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
	m := toDefaultsSnapshotModel(snap)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create defaults snapshot: %w", err)
	}
	return nil
}

func (s *Store) LatestDefaultsSnapshot(ctx context.Context, tenancyID string, at time.Time) (*product.DefaultsSnapshot, error) {
	var m defaultsSnapshotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenancy_id": tenancyID, "created_at": bson.M{"$lte": at}}).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrDefaultsSnapshotNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: latest defaults snapshot: %w", err)
	}
	return fromDefaultsSnapshotModel(&m)
}

// ==================== Purchase Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *purchase.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, tenancyID string, subID id.SubscriptionID) (*purchase.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String(), "tenancy_id": tenancyID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *purchase.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "tenancy_id": m.TenancyID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenancyID string, opts purchase.ListOpts) ([]*purchase.Subscription, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(purchaseFilter(tenancyID, opts)).
		Sort(newestBy(opts.Order.Column()))
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscriptions: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create one-time purchase: %w", err)
	}
	return nil
}

func (s *Store) GetOneTimePurchase(ctx context.Context, tenancyID string, otpID id.OneTimePurchaseID) (*purchase.OneTimePurchase, error) {
	var m oneTimePurchaseModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": otpID.String(), "tenancy_id": tenancyID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get one-time purchase: %w", err)
	}
	return fromOneTimePurchaseModel(&m)
}

func (s *Store) UpdateOneTimePurchase(ctx context.Context, o *purchase.OneTimePurchase) error {
	m := toOneTimePurchaseModel(o)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "tenancy_id": m.TenancyID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: update one-time purchase: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrPurchaseNotFound
	}
	return nil
}

func (s *Store) ListOneTimePurchases(ctx context.Context, tenancyID string, opts purchase.ListOpts) ([]*purchase.OneTimePurchase, error) {
	if opts.Order == purchase.OrderEnded {
		return []*purchase.OneTimePurchase{}, nil
	}
	var models []oneTimePurchaseModel

	q := s.mdb.NewFind(&models).
		Filter(purchaseFilter(tenancyID, opts)).
		Sort(newestBy(opts.Order.Column()))
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list one-time purchases: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create item quantity change: %w", err)
	}
	return nil
}

func (s *Store) GetItemQuantityChange(ctx context.Context, tenancyID string, changeID id.ItemQuantityChangeID) (*item.QuantityChange, error) {
	var m quantityChangeModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": changeID.String(), "tenancy_id": tenancyID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrItemQuantityChangeNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get item quantity change: %w", err)
	}
	return fromQuantityChangeModel(&m)
}

func (s *Store) ListItemQuantityChanges(ctx context.Context, tenancyID string, opts item.ListOpts) ([]*item.QuantityChange, error) {
	var models []quantityChangeModel

	filter := customerFilter(tenancyID, opts.CustomerType, opts.CustomerID, opts.After)
	if opts.ItemID != "" {
		filter["item_id"] = opts.ItemID
	}
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(newestFirst)
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list item quantity changes: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrAlreadyExists
		}
		return fmt.Errorf("entitle/mongo: create subscription invoice: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriptionInvoice(ctx context.Context, tenancyID string, invID id.InvoiceID) (*invoice.SubscriptionInvoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": invID.String(), "tenancy_id": tenancyID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListSubscriptionInvoices(ctx context.Context, tenancyID string, opts invoice.ListOpts) ([]*invoice.SubscriptionInvoice, error) {
	var models []invoiceModel

	filter := customerFilter(tenancyID, opts.CustomerType, opts.CustomerID, opts.After)
	if !opts.SubscriptionID.IsNil() {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}
	if opts.RenewalsOnly {
		filter["is_creation_invoice"] = false
	}
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(newestFirst)
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list subscription invoices: %w", err)
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

var newestFirst = newestBy("created_at")

func newestBy(field string) bson.D {
	return bson.D{{Key: field, Value: -1}, {Key: "_id", Value: -1}}
}

func customerFilter(tenancyID string, customerType product.CustomerType, customerID string, after *types.Keyset) bson.M {
	return keysetFilter(tenancyID, customerType, customerID, "created_at", after)
}

// purchaseFilter keys a purchase listing on the instant opts.Order selects.
func purchaseFilter(tenancyID string, opts purchase.ListOpts) bson.M {
	field := opts.Order.Column()
	filter := keysetFilter(tenancyID, opts.CustomerType, opts.CustomerID, field, opts.After)
	if opts.Order != purchase.OrderCreated && opts.After == nil {
		filter[field] = bson.M{"$ne": nil}
	}
	return filter
}

func keysetFilter(tenancyID string, customerType product.CustomerType, customerID, field string, after *types.Keyset) bson.M {
	filter := bson.M{"tenancy_id": tenancyID}
	if customerType != "" {
		filter["customer_type"] = string(customerType)
	}
	if customerID != "" {
		filter["customer_id"] = customerID
	}
	if after != nil {
		filter["$or"] = bson.A{
			bson.M{field: bson.M{"$lt": after.CreatedAt}},
			bson.M{field: after.CreatedAt, "_id": bson.M{"$lt": after.ID}},
		}
	}
	return filter
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	customerOrder := bson.D{
		{Key: "tenancy_id", Value: 1},
		{Key: "customer_type", Value: 1},
		{Key: "customer_id", Value: 1},
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	}
	return map[string][]mongo.IndexModel{
		colVersions: {
			{
				Keys:    bson.D{{Key: "tenancy_id", Value: 1}, {Key: "version_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colDefaults: {
			{Keys: bson.D{{Key: "tenancy_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colSubscriptions: {
			{Keys: customerOrder},
		},
		colOneTimePurchases: {
			{Keys: customerOrder},
		},
		colQuantityChanges: {
			{Keys: customerOrder},
			{Keys: bson.D{{Key: "tenancy_id", Value: 1}, {Key: "customer_id", Value: 1}, {Key: "item_id", Value: 1}}},
		},
		colInvoices: {
			{Keys: customerOrder},
			{Keys: bson.D{{Key: "tenancy_id", Value: 1}, {Key: "subscription_id", Value: 1}}},
		},
	}
}
