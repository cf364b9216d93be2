package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const constraintCodeUnique = "links_code_unique"

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         UUID PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS links (
    id               UUID PRIMARY KEY,
    long_url         TEXT NOT NULL,
    code             TEXT NOT NULL,
    owner_id         UUID NOT NULL REFERENCES users (id),
    remaining_clicks INTEGER NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    expires_at       TIMESTAMPTZ NOT NULL,

    CONSTRAINT links_code_unique UNIQUE (code),
    CONSTRAINT links_remaining_clicks_nonnegative CHECK (remaining_clicks >= 0)
);

CREATE INDEX IF NOT EXISTS links_owner_id_idx ON links (owner_id);

CREATE TABLE IF NOT EXISTS notifications (
    seq          BIGSERIAL,
    id           UUID PRIMARY KEY,
    recipient_id UUID NOT NULL REFERENCES users (id),
    message      TEXT NOT NULL,
    read         BOOLEAN NOT NULL DEFAULT false,
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS notifications_unread_idx
    ON notifications (recipient_id, seq) WHERE NOT read;
`

// Migrate creates the tables if they do not exist. It is safe to run on
// every start.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
