package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Entitle store.
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_product_versions",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_product_versions (
    tenancy_id   TEXT NOT NULL,
    version_id   TEXT NOT NULL,
    product_id   TEXT,
    product_json JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenancy_id, version_id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_product_versions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_defaults_snapshots",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_defaults_snapshots (
    id         TEXT PRIMARY KEY,
    tenancy_id TEXT NOT NULL,
    products   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_defaults_tenancy ON entitle_defaults_snapshots (tenancy_id, created_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_defaults_snapshots`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_subscriptions",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_subscriptions (
    id                   TEXT PRIMARY KEY,
    tenancy_id           TEXT NOT NULL,
    customer_type        TEXT NOT NULL,
    customer_id          TEXT NOT NULL,
    product_id           TEXT,
    product_version_id   TEXT NOT NULL,
    price_id             TEXT NOT NULL DEFAULT '',
    quantity             BIGINT NOT NULL DEFAULT 1,
    status               TEXT NOT NULL DEFAULT 'active',
    current_period_start TIMESTAMPTZ NOT NULL,
    current_period_end   TIMESTAMPTZ NOT NULL,
    cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
    is_cancelable        BOOLEAN NOT NULL DEFAULT TRUE,
    ended_at             TIMESTAMPTZ,
    refunded_at          TIMESTAMPTZ,
    test_mode            BOOLEAN NOT NULL DEFAULT FALSE,
    creation_source      TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_subs_customer ON entitle_subscriptions (tenancy_id, customer_type, customer_id, created_at DESC, id DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_one_time_purchases",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_one_time_purchases (
    id                 TEXT PRIMARY KEY,
    tenancy_id         TEXT NOT NULL,
    customer_type      TEXT NOT NULL,
    customer_id        TEXT NOT NULL,
    product_id         TEXT,
    product_version_id TEXT NOT NULL,
    price_id           TEXT NOT NULL DEFAULT '',
    quantity           BIGINT NOT NULL DEFAULT 1,
    refunded_at        TIMESTAMPTZ,
    test_mode          BOOLEAN NOT NULL DEFAULT FALSE,
    creation_source    TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_otps_customer ON entitle_one_time_purchases (tenancy_id, customer_type, customer_id, created_at DESC, id DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_one_time_purchases`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_item_quantity_changes",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_item_quantity_changes (
    id            TEXT PRIMARY KEY,
    tenancy_id    TEXT NOT NULL,
    customer_type TEXT NOT NULL,
    customer_id   TEXT NOT NULL,
    item_id       TEXT NOT NULL,
    delta         BIGINT NOT NULL,
    expires_at    TIMESTAMPTZ,
    description   TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_iqcs_customer ON entitle_item_quantity_changes (tenancy_id, customer_type, customer_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_entitle_iqcs_item ON entitle_item_quantity_changes (tenancy_id, customer_type, customer_id, item_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_item_quantity_changes`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_subscription_invoices",
			Version: "20250101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_subscription_invoices (
    id                  TEXT PRIMARY KEY,
    tenancy_id          TEXT NOT NULL,
    subscription_id     TEXT NOT NULL,
    customer_type       TEXT NOT NULL,
    customer_id         TEXT NOT NULL,
    provider_invoice_id TEXT NOT NULL DEFAULT '',
    is_creation_invoice BOOLEAN NOT NULL DEFAULT FALSE,
    status              TEXT NOT NULL DEFAULT 'open',
    amount_total        BIGINT NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT 'USD',
    period_start        TIMESTAMPTZ NOT NULL,
    period_end          TIMESTAMPTZ NOT NULL,
    test_mode           BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_sinv_customer ON entitle_subscription_invoices (tenancy_id, customer_type, customer_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_entitle_sinv_subscription ON entitle_subscription_invoices (tenancy_id, subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_subscription_invoices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "index_entitle_closing_instants",
			Version: "20250101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE INDEX IF NOT EXISTS idx_entitle_subs_ended ON entitle_subscriptions (tenancy_id, ended_at DESC, id DESC) WHERE ended_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entitle_subs_refunded ON entitle_subscriptions (tenancy_id, refunded_at DESC, id DESC) WHERE refunded_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entitle_otps_refunded ON entitle_one_time_purchases (tenancy_id, refunded_at DESC, id DESC) WHERE refunded_at IS NOT NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP INDEX IF EXISTS idx_entitle_subs_ended;
DROP INDEX IF EXISTS idx_entitle_subs_refunded;
DROP INDEX IF EXISTS idx_entitle_otps_refunded;
`)
				return err
			},
		},
	)
}
