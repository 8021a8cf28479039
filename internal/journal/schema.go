package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS batch_events (
	id          UUID PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	batch_id    TEXT        NOT NULL,
	event       TEXT        NOT NULL,
	op          TEXT        NOT NULL,
	records     INTEGER     NOT NULL DEFAULT 0,
	applied     INTEGER     NOT NULL DEFAULT 0,
	discarded   INTEGER     NOT NULL DEFAULT 0,
	version     BIGINT      NOT NULL DEFAULT 0,
	previous    TEXT,
	kind        TEXT,
	detail      TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS batch_events_batch_id_idx ON batch_events (batch_id, occurred_at);
`

// EnsureSchema creates the batch_events table and its index if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create batch_events: %w", err)
	}
	return nil
}
