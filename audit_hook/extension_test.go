package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	audithook "github.com/xraph/entitle/audit_hook"
	"github.com/xraph/entitle/catalog"
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/store/memory"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Action)
	}
	return out
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newEngine(t *testing.T, ext *audithook.Extension) *entitle.Engine {
	t.Helper()
	e := entitle.New(memory.New(),
		entitle.WithLogger(quiet),
		entitle.WithPlugin(ext),
		entitle.WithCatalog(catalog.Static{"acme": {
			Products: map[string]*product.Product{
				"pack": {
					CustomerType: product.CustomerUser,
					Prices:       map[string]product.Price{"once": {Amounts: map[string]string{"USD": "5"}}},
				},
			},
		}}),
	)
	require.NoError(t, e.Start(context.Background()))
	return e
}

func TestExtension_RecordsEngineEvents(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	e := newEngine(t, audithook.New(audithook.RecorderFunc(rec.record), audithook.WithLogger(quiet)))
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := e.GrantProduct(ctx, entitle.GrantRequest{
		TenancyID: "acme", CustomerType: entitle.CustomerUser, CustomerID: "alice", ProductID: "pack", Now: now,
	})
	require.NoError(t, err)

	_, _, err = e.UpdateItemQuantity(ctx, entitle.ItemQuantityRequest{
		TenancyID: "acme", CustomerType: entitle.CustomerUser, CustomerID: "alice",
		ItemID: "credits", Delta: -1, Now: now,
	})
	require.Error(t, err)

	assert.Equal(t, []string{
		audithook.ActionProductVersionCreated,
		audithook.ActionProductGranted,
		audithook.ActionDomainRuleViolated,
	}, rec.actions())

	granted := rec.events[1]
	assert.Equal(t, res.PurchaseID, granted.ResourceID)
	assert.Equal(t, "acme", granted.TenancyID)
	assert.Equal(t, "pack", granted.Metadata["product_id"])
	assert.Equal(t, audithook.OutcomeSuccess, granted.Outcome)

	refused := rec.events[2]
	assert.Equal(t, entitle.CodeNegativeItemQuantity, refused.Metadata["code"])
	assert.Equal(t, audithook.OutcomeFailure, refused.Outcome)
}

func TestExtension_ActionFilters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		opt  audithook.Option
		want []string
	}{
		{
			name: "enabled only",
			opt:  audithook.WithEnabledActions(audithook.ActionProductGranted),
			want: []string{audithook.ActionProductGranted},
		},
		{
			name: "disabled",
			opt:  audithook.WithDisabledActions(audithook.ActionProductGranted),
			want: []string{audithook.ActionProductVersionCreated},
		},
		{
			name: "category",
			opt:  audithook.WithCategories(audithook.CategoryCatalog),
			want: []string{audithook.ActionProductVersionCreated},
		},
		{
			name: "other tenancy",
			opt:  audithook.WithTenancies("globex"),
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captured{}
			e := newEngine(t, audithook.New(audithook.RecorderFunc(rec.record), tt.opt))
			_, err := e.GrantProduct(ctx, entitle.GrantRequest{
				TenancyID: "acme", CustomerType: entitle.CustomerUser, CustomerID: "bob", ProductID: "pack", Now: now,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.actions())
		})
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}), audithook.WithLogger(quiet))

	err := ext.OnIntegrityViolation(context.Background(), "acme", errors.New("missing version"))
	assert.NoError(t, err)
}
