package transaction

import (
	"fmt"
	"time"

	"github.com/xraph/entitle/product"
)

// Timeline returns txs effective at or before until in ascending order. Each
// product grant is expanded into item-grant transactions for the cycles of
// its included items, cut off by the period end or a later revocation. Every
// expiring change whose expiry falls at or before until gets a synthetic
// item-quantity-expire transaction.
func Timeline(txs []Transaction, until time.Time) ([]Transaction, error) {
	revoked := revocations(txs)

	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.EffectiveAt.After(until) {
			continue
		}
		out = append(out, tx)
		grants, err := itemGrants(tx, revoked[tx.ID], until)
		if err != nil {
			return nil, err
		}
		out = append(out, grants...)
	}

	expiring := len(out)
	for i := 0; i < expiring; i++ {
		out = appendExpiries(out, out[i], until)
	}
	SortAscending(out)
	return out, nil
}

// revocations maps each revoked transaction to its earliest revocation.
func revocations(txs []Transaction) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, tx := range txs {
		for _, e := range tx.Entries {
			r, ok := e.(ProductRevocation)
			if !ok {
				continue
			}
			if at, seen := out[r.AdjustedTransactionID]; !seen || tx.EffectiveAt.Before(at) {
				out[r.AdjustedTransactionID] = tx.EffectiveAt
			}
		}
	}
	return out
}

// itemGrants expands the product grants of tx, one transaction per instant.
func itemGrants(tx Transaction, revokedAt time.Time, until time.Time) ([]Transaction, error) {
	var out []Transaction
	for _, e := range tx.Entries {
		g, ok := e.(ProductGrant)
		if !ok {
			continue
		}
		prod, err := product.FromValue(g.Product)
		if err != nil {
			return nil, fmt.Errorf("transaction: %s: %w", tx.ID, err)
		}
		anchor := tx.EffectiveAt
		if g.CycleAnchor != nil {
			anchor = *g.CycleAnchor
		}
		end := tx.PeriodEnd
		if !revokedAt.IsZero() && (end == nil || revokedAt.Before(*end)) {
			end = &revokedAt
		}

		for _, ig := range prod.ItemGrants(g.Quantity, anchor, end, until) {
			at := maxTime(ig.At, tx.EffectiveAt)
			change := ItemQuantityChange{ItemID: ig.ItemID, Quantity: ig.Quantity, ExpiresAt: ig.ExpiresAt}
			if n := len(out); n > 0 && out[n-1].EffectiveAt.Equal(at) {
				out[n-1].Entries = append(out[n-1].Entries, change)
				continue
			}
			typ := TypeItemGrantRenewal
			if ig.At.Equal(anchor) {
				typ = TypeItemGrant
			}
			out = append(out, Transaction{
				ID:           grantID(tx.ID, at),
				Type:         typ,
				Source:       tx.Source,
				EffectiveAt:  at,
				CustomerType: tx.CustomerType,
				CustomerID:   tx.CustomerID,
				TestMode:     tx.TestMode,
				Entries:      []Entry{change},
			})
		}
	}
	return out, nil
}

func appendExpiries(out []Transaction, tx Transaction, until time.Time) []Transaction {
	for idx, e := range tx.Entries {
		change, ok := e.(ItemQuantityChange)
		if !ok || change.ExpiresAt == nil {
			continue
		}
		// An expiry before creation nets out at creation.
		at := maxTime(*change.ExpiresAt, tx.EffectiveAt)
		if at.After(until) {
			continue
		}
		out = append(out, Transaction{
			ID:           expireID(tx.ID, idx),
			Type:         TypeItemQuantityExpire,
			Source:       tx.Source,
			EffectiveAt:  at,
			CustomerType: tx.CustomerType,
			CustomerID:   tx.CustomerID,
			TestMode:     tx.TestMode,
			Entries: []Entry{ItemQuantityExpire{
				ItemID:                change.ItemID,
				Quantity:              change.Quantity,
				AdjustedTransactionID: tx.ID,
				AdjustedEntryIndex:    idx,
			}},
		})
	}
	return out
}

// ItemBalance replays an ascending timeline up to and including at.
func ItemBalance(timeline []Transaction, itemID string, at time.Time) int64 {
	var total int64
	for _, tx := range timeline {
		if tx.EffectiveAt.After(at) {
			break
		}
		for _, e := range tx.Entries {
			switch v := e.(type) {
			case ItemQuantityChange:
				if v.ItemID == itemID {
					total += v.Quantity
				}
			case ItemQuantityExpire:
				if v.ItemID == itemID {
					total -= v.Quantity
				}
			}
		}
	}
	return total
}

// grantID names the synthetic item grant of transaction txID at at.
func grantID(txID string, at time.Time) string {
	return fmt.Sprintf("%s:grant:%d", txID, at.UnixMilli())
}

// expireID names the synthetic expiry of entry idx of transaction txID.
func expireID(txID string, idx int) string {
	return fmt.Sprintf("%s:expire:%d", txID, idx)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
