// Package memory persists the conversation history of sessions.
//
// A [MessageStore] keeps every user and assistant message together with the
// UI components produced during the turn. Conversation turns read the recent
// history back with [MessageStore.MessagesBySession] and feed it to the model
// via [History].
//
// Implementations: [MemStore] (in-process), postgres.Store (PostgreSQL via
// pgx) and mock.Store (tests). Every implementation must be safe for
// concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/MrWong99/colloquy/pkg/types"
)

// StoredMessage is one persisted conversation message.
type StoredMessage struct {
	// ID is assigned by the store when empty.
	ID string `json:"id"`

	// SessionID groups messages into a conversation.
	SessionID string `json:"sessionId"`

	// UserID identifies the human participant. Empty for assistant messages.
	UserID string `json:"userId,omitempty"`

	Role    types.Role `json:"role"`
	Content string     `json:"content"`

	// UIComponents are the components collected while producing an assistant
	// message, in production order.
	UIComponents []types.UIComponent `json:"uiComponents,omitempty"`

	// CreatedAt is assigned by the store when zero.
	CreatedAt time.Time `json:"createdAt"`
}

// MessageStore persists session messages.
type MessageStore interface {
	// SaveMessage appends msg to its session and returns it with ID and
	// CreatedAt filled in.
	SaveMessage(ctx context.Context, msg StoredMessage) (StoredMessage, error)

	// MessagesBySession returns the most recent limit messages of sessionID
	// in chronological order (oldest first). A limit of zero or less returns
	// the whole session. An unknown session yields an empty slice.
	MessagesBySession(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error)
}

// History converts stored messages into the conversation history passed to a
// turn, preserving order.
func History(msgs []StoredMessage) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = types.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
