package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/colloquy/pkg/memory"
	"github.com/MrWong99/colloquy/pkg/types"
)

var _ memory.MessageStore = (*Store)(nil)

// Store is a [memory.MessageStore] backed by a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveMessage implements [memory.MessageStore].
func (s *Store) SaveMessage(ctx context.Context, msg memory.StoredMessage) (memory.StoredMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	components := msg.UIComponents
	if components == nil {
		components = []types.UIComponent{}
	}
	uiJSON, err := json.Marshal(components)
	if err != nil {
		return memory.StoredMessage{}, fmt.Errorf("message store: encode ui components: %w", err)
	}

	const q = `
		INSERT INTO messages (id, session_id, user_id, role, content, ui_components, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		msg.ID,
		msg.SessionID,
		msg.UserID,
		string(msg.Role),
		msg.Content,
		uiJSON,
		msg.CreatedAt,
	)
	if err != nil {
		return memory.StoredMessage{}, fmt.Errorf("message store: save: %w", err)
	}
	return msg, nil
}

// MessagesBySession implements [memory.MessageStore].
func (s *Store) MessagesBySession(ctx context.Context, sessionID string, limit int) ([]memory.StoredMessage, error) {
	// The inner query picks the newest rows; the outer one restores
	// chronological order.
	const q = `
		SELECT id, session_id, user_id, role, content, ui_components, created_at
		FROM (
		    SELECT seq, id, session_id, user_id, role, content, ui_components, created_at
		    FROM   messages
		    WHERE  session_id = $1
		    ORDER  BY seq DESC
		    LIMIT  $2
		) recent
		ORDER BY seq`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("message store: query: %w", err)
	}
	return collectMessages(rows)
}

// collectMessages scans pgx rows into StoredMessage values.
func collectMessages(rows pgx.Rows) ([]memory.StoredMessage, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.StoredMessage, error) {
		var (
			m      memory.StoredMessage
			role   string
			uiJSON []byte
		)
		if err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &role, &m.Content, &uiJSON, &m.CreatedAt); err != nil {
			return memory.StoredMessage{}, err
		}
		m.Role = types.Role(role)
		if len(uiJSON) > 0 {
			if err := json.Unmarshal(uiJSON, &m.UIComponents); err != nil {
				return memory.StoredMessage{}, fmt.Errorf("decode ui components: %w", err)
			}
		}
		if len(m.UIComponents) == 0 {
			m.UIComponents = nil
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("message store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []memory.StoredMessage{}
	}
	return msgs, nil
}
