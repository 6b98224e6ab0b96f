package item_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/entitle/item"
)

func TestQuantityChangeActiveAt(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	expires := t0.Add(24 * time.Hour)

	permanent := &item.QuantityChange{Delta: 5, CreatedAt: t0}
	expiring := &item.QuantityChange{Delta: 10, CreatedAt: t0, ExpiresAt: &expires}

	assert.False(t, permanent.ActiveAt(t0.Add(-time.Millisecond)))
	assert.True(t, permanent.ActiveAt(t0))
	assert.True(t, permanent.ActiveAt(t0.AddDate(10, 0, 0)))

	assert.True(t, expiring.ActiveAt(expires.Add(-time.Millisecond)))
	assert.False(t, expiring.ActiveAt(expires))
	assert.False(t, expiring.ActiveAt(expires.Add(time.Millisecond)))
}
