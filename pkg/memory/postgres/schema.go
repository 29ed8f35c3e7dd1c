// Package postgres provides a PostgreSQL-backed [memory.MessageStore].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	saved, _ := store.SaveMessage(ctx, memory.StoredMessage{SessionID: "s-1", Role: types.RoleUser, Content: "hi"})
//	history, _ := store.MessagesBySession(ctx, "s-1", 20)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    seq            BIGSERIAL    PRIMARY KEY,
    id             TEXT         NOT NULL UNIQUE,
    session_id     TEXT         NOT NULL,
    user_id        TEXT         NOT NULL DEFAULT '',
    role           TEXT         NOT NULL,
    content        TEXT         NOT NULL,
    ui_components  JSONB        NOT NULL DEFAULT '[]',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_seq
    ON messages (session_id, seq);
`

// Migrate creates the tables and indexes used by [Store]. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlMessages} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
