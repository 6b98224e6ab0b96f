// Package types provides small value types shared across the ledger packages.
package types

import "time"

// Entity carries row timestamps. Embed it in mutable rows.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntityAt creates an Entity stamped with t in UTC.
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch sets UpdatedAt to t in UTC.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}

// Keyset is a pagination position in a (created_at desc, id desc) ordering.
// Listing "before" a keyset returns rows strictly older than it, with ties on
// CreatedAt broken by a smaller ID.
type Keyset struct {
	CreatedAt time.Time
	ID        string
}

// Before reports whether a row at (createdAt, id) sorts strictly after k in
// descending order, i.e. belongs to the page following k.
func (k Keyset) Before(createdAt time.Time, id string) bool {
	if createdAt.Equal(k.CreatedAt) {
		return id < k.ID
	}
	return createdAt.Before(k.CreatedAt)
}
