package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Beacon store (SQLite).
var Migrations = migrate.NewGroup("beacon")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_beacon_queue_items",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS beacon_queue_items (
    id               TEXT PRIMARY KEY,
    order_id         TEXT NOT NULL DEFAULT '',
    destination      TEXT NOT NULL DEFAULT '',
    event_type       TEXT NOT NULL DEFAULT 'purchase',
    payload          TEXT,
    attribution      TEXT NOT NULL DEFAULT '{}',
    state            TEXT NOT NULL DEFAULT 'pending',
    attempts         INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL DEFAULT 0,
    next_retry_at    TEXT NOT NULL DEFAULT (datetime('now')),
    last_error       TEXT NOT NULL DEFAULT '',
    last_status_code INTEGER NOT NULL DEFAULT 0,
    claimed_at       TEXT,
    completed_at     TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_beacon_queue_due ON beacon_queue_items (state, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_beacon_queue_order ON beacon_queue_items (order_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS beacon_queue_items`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_beacon_ledger",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS beacon_ledger (
    id            TEXT PRIMARY KEY,
    order_id      TEXT NOT NULL DEFAULT '',
    destination   TEXT NOT NULL DEFAULT '',
    event_type    TEXT NOT NULL DEFAULT 'purchase',
    event_id      TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT '',
    response_code INTEGER NOT NULL DEFAULT 0,
    response_body TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    click_ids     TEXT NOT NULL DEFAULT '{}',
    attribution   TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_beacon_ledger_dedup ON beacon_ledger (order_id, destination, event_type, status, created_at);
CREATE INDEX IF NOT EXISTS idx_beacon_ledger_order ON beacon_ledger (order_id);
CREATE INDEX IF NOT EXISTS idx_beacon_ledger_created ON beacon_ledger (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS beacon_ledger`)
				return err
			},
		},
	)
}
