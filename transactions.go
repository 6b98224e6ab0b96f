package entitle

import (
	"context"
	"errors"
	"strings"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/invoice"
	"github.com/xraph/entitle/item"
	"github.com/xraph/entitle/paginate"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/purchase"
	"github.com/xraph/entitle/transaction"
	"github.com/xraph/entitle/types"
)

// TransactionFilter narrows a transaction listing. Empty fields match every
// customer.
type TransactionFilter struct {
	CustomerType product.CustomerType `json:"customer_type,omitempty"`
	CustomerID   string               `json:"customer_id,omitempty"`
}

// scope identifies the listing a cursor was issued for.
func (f TransactionFilter) scope(tenancyID string) string {
	return tenancyID + "/" + string(f.CustomerType) + "/" + f.CustomerID
}

// TransactionPage is one page of transactions, newest first. NextCursor is
// empty on the last page.
type TransactionPage struct {
	Items      []transaction.Transaction `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// ListTransactions projects every purchase, item quantity change and renewal
// invoice of a customer into transactions, newest first. Ended subscriptions
// and refunded purchases add their closing transactions.
func (e *Engine) ListTransactions(ctx context.Context, tenancyID string, customerType product.CustomerType, customerID string) ([]transaction.Transaction, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	if err := checkCustomer(customerType, customerID); err != nil {
		return nil, err
	}

	in, err := e.loadPurchases(ctx, tenancyID, customerType, customerID)
	if err != nil {
		return nil, err
	}
	changes, err := e.store.ListItemQuantityChanges(ctx, tenancyID, item.ListOpts{
		CustomerType: customerType,
		CustomerID:   customerID,
	})
	if err != nil {
		return nil, err
	}
	invoices, err := e.store.ListSubscriptionInvoices(ctx, tenancyID, invoice.ListOpts{
		CustomerType: customerType,
		CustomerID:   customerID,
		RenewalsOnly: true,
	})
	if err != nil {
		return nil, err
	}

	txs, err := transaction.Build(in.Subscriptions, in.OneTimePurchases, changes, invoices, in.Versions)
	if err != nil {
		return nil, e.integrity(ctx, tenancyID, err)
	}
	return txs, nil
}

// ListTransactionsPage returns the page of transactions following cursor.
// Following NextCursor until it is empty yields exactly ListTransactions.
// limit 0 selects the default page size and limits above the maximum are
// clamped. A cursor that cannot be decoded, that was issued under another
// tenancy or filter, or whose position row no longer exists, yields an
// *InvalidCursorError.
func (e *Engine) ListTransactionsPage(ctx context.Context, tenancyID string, filter TransactionFilter, cursor string, limit int) (*TransactionPage, error) {
	if err := checkTenancy(tenancyID); err != nil {
		return nil, err
	}
	if filter.CustomerType != "" && !filter.CustomerType.Valid() {
		return nil, invalid("customer_type", "unknown customer type %q", filter.CustomerType)
	}
	switch {
	case limit < 0:
		return nil, invalid("limit", "must not be negative, got %d", limit)
	case limit == 0:
		limit = e.defaultPageLimit
	case limit > e.maxPageLimit:
		limit = e.maxPageLimit
	}

	page, err := paginate.Paginate(ctx, e.transactionSources(tenancyID, filter), filter.scope(tenancyID), cursor, limit)
	switch {
	case errors.Is(err, paginate.ErrMalformedCursor):
		return nil, &InvalidCursorError{Reason: "malformed cursor", Err: err}
	case errors.Is(err, paginate.ErrCursorScope):
		return nil, &InvalidCursorError{Reason: "cursor belongs to a different filter", Err: err}
	case errors.Is(err, paginate.ErrStaleCursor):
		return nil, &InvalidCursorError{Reason: "cursor position no longer exists", Err: err}
	case err != nil:
		return nil, e.integrity(ctx, tenancyID, err)
	}

	out := &TransactionPage{
		Items:      make([]transaction.Transaction, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, it := range page.Items {
		out.Items = append(out.Items, it.Value)
	}
	return out, nil
}

type txRow = paginate.Row[transaction.Transaction]

// transactionSources returns one paginated source per ledger table.
func (e *Engine) transactionSources(tenancyID string, f TransactionFilter) []paginate.Source[transaction.Transaction] {
	return []paginate.Source[transaction.Transaction]{
		{
			Tag: string(transaction.SourceSubscription),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				subs, err := e.store.ListSubscriptions(ctx, tenancyID, purchase.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID, After: after, Limit: limit,
				})
				if err != nil {
					return nil, err
				}
				versions, err := e.versionsOf(ctx, tenancyID, subs, nil)
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(subs))
				for _, s := range subs {
					tx, err := transaction.FromSubscription(s, versions)
					if err != nil {
						return nil, err
					}
					rows = append(rows, txRow{Key: types.Keyset{CreatedAt: s.CreatedAt, ID: tx.ID}, Value: tx})
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				subID, err := id.ParseSubscriptionID(key.ID)
				if err != nil {
					return false, nil
				}
				_, err = e.store.GetSubscription(ctx, tenancyID, subID)
				return found(err, ErrSubscriptionNotFound)
			},
		},
		{
			Tag: string(transaction.SourceOneTimePurchase),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				otps, err := e.store.ListOneTimePurchases(ctx, tenancyID, purchase.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID, After: after, Limit: limit,
				})
				if err != nil {
					return nil, err
				}
				versions, err := e.versionsOf(ctx, tenancyID, nil, otps)
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(otps))
				for _, o := range otps {
					tx, err := transaction.FromOneTimePurchase(o, versions)
					if err != nil {
						return nil, err
					}
					rows = append(rows, txRow{Key: types.Keyset{CreatedAt: o.CreatedAt, ID: tx.ID}, Value: tx})
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				otpID, err := id.ParseOneTimePurchaseID(key.ID)
				if err != nil {
					return false, nil
				}
				_, err = e.store.GetOneTimePurchase(ctx, tenancyID, otpID)
				return found(err, ErrPurchaseNotFound)
			},
		},
		{
			Tag: string(transaction.SourceItemQuantityChange),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				changes, err := e.store.ListItemQuantityChanges(ctx, tenancyID, item.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID, After: after, Limit: limit,
				})
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(changes))
				for _, c := range changes {
					tx := transaction.FromItemQuantityChange(c)
					rows = append(rows, txRow{Key: types.Keyset{CreatedAt: c.CreatedAt, ID: tx.ID}, Value: tx})
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				changeID, err := id.ParseItemQuantityChangeID(key.ID)
				if err != nil {
					return false, nil
				}
				_, err = e.store.GetItemQuantityChange(ctx, tenancyID, changeID)
				return found(err, ErrItemQuantityChangeNotFound)
			},
		},
		{
			Tag: string(transaction.SourceInvoice),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				invoices, err := e.store.ListSubscriptionInvoices(ctx, tenancyID, invoice.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID, RenewalsOnly: true, After: after, Limit: limit,
				})
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(invoices))
				for _, inv := range invoices {
					if tx, ok := transaction.FromInvoice(inv); ok {
						rows = append(rows, txRow{Key: types.Keyset{CreatedAt: inv.CreatedAt, ID: tx.ID}, Value: tx})
					}
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				invID, err := id.ParseInvoiceID(key.ID)
				if err != nil {
					return false, nil
				}
				_, err = e.store.GetSubscriptionInvoice(ctx, tenancyID, invID)
				return found(err, ErrInvoiceNotFound)
			},
		},
		{
			Tag: string(transaction.SourceSubscriptionEnd),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				subs, err := e.store.ListSubscriptions(ctx, tenancyID, purchase.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID,
					After: rowKey(after, ":end"), Limit: limit, Order: purchase.OrderEnded,
				})
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(subs))
				for _, s := range subs {
					if tx, ok := transaction.FromSubscriptionEnd(s); ok {
						rows = append(rows, txRow{Key: types.Keyset{CreatedAt: tx.EffectiveAt, ID: tx.ID}, Value: tx})
					}
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				subID, err := id.ParseSubscriptionID(strings.TrimSuffix(key.ID, ":end"))
				if err != nil {
					return false, nil
				}
				s, err := e.store.GetSubscription(ctx, tenancyID, subID)
				if ok, err := found(err, ErrSubscriptionNotFound); !ok {
					return false, err
				}
				return s.EndedAt != nil, nil
			},
		},
		{
			Tag: string(transaction.SourceSubscriptionRefund),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				subs, err := e.store.ListSubscriptions(ctx, tenancyID, purchase.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID,
					After: rowKey(after, ":refund"), Limit: limit, Order: purchase.OrderRefunded,
				})
				if err != nil {
					return nil, err
				}
				versions, err := e.versionsOf(ctx, tenancyID, subs, nil)
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(subs))
				for _, s := range subs {
					tx, ok, err := transaction.FromSubscriptionRefund(s, versions)
					if err != nil {
						return nil, err
					}
					if ok {
						rows = append(rows, txRow{Key: types.Keyset{CreatedAt: tx.EffectiveAt, ID: tx.ID}, Value: tx})
					}
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				subID, err := id.ParseSubscriptionID(strings.TrimSuffix(key.ID, ":refund"))
				if err != nil {
					return false, nil
				}
				s, err := e.store.GetSubscription(ctx, tenancyID, subID)
				if ok, err := found(err, ErrSubscriptionNotFound); !ok {
					return false, err
				}
				return s.RefundedAt != nil, nil
			},
		},
		{
			Tag: string(transaction.SourcePurchaseRefund),
			Fetch: func(ctx context.Context, after *types.Keyset, limit int) ([]txRow, error) {
				otps, err := e.store.ListOneTimePurchases(ctx, tenancyID, purchase.ListOpts{
					CustomerType: f.CustomerType, CustomerID: f.CustomerID,
					After: rowKey(after, ":refund"), Limit: limit, Order: purchase.OrderRefunded,
				})
				if err != nil {
					return nil, err
				}
				versions, err := e.versionsOf(ctx, tenancyID, nil, otps)
				if err != nil {
					return nil, err
				}
				rows := make([]txRow, 0, len(otps))
				for _, o := range otps {
					tx, ok, err := transaction.FromOneTimePurchaseRefund(o, versions)
					if err != nil {
						return nil, err
					}
					if ok {
						rows = append(rows, txRow{Key: types.Keyset{CreatedAt: tx.EffectiveAt, ID: tx.ID}, Value: tx})
					}
				}
				return rows, nil
			},
			Exists: func(ctx context.Context, key types.Keyset) (bool, error) {
				otpID, err := id.ParseOneTimePurchaseID(strings.TrimSuffix(key.ID, ":refund"))
				if err != nil {
					return false, nil
				}
				o, err := e.store.GetOneTimePurchase(ctx, tenancyID, otpID)
				if ok, err := found(err, ErrPurchaseNotFound); !ok {
					return false, err
				}
				return o.RefundedAt != nil, nil
			},
		},
	}
}

// rowKey maps a closing transaction's cursor key to the key of the row it
// was projected from.
func rowKey(after *types.Keyset, suffix string) *types.Keyset {
	if after == nil {
		return nil
	}
	return &types.Keyset{CreatedAt: after.CreatedAt, ID: strings.TrimSuffix(after.ID, suffix)}
}

// found maps a lookup error to an existence check.
func found(err, notFound error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, notFound):
		return false, nil
	default:
		return false, err
	}
}
