package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/memory"
	"github.com/MrWong99/colloquy/pkg/types"
)

// ErrEmptyMessage is returned when a turn is requested without content.
var ErrEmptyMessage = errors.New("conversation: message content is empty")

// TurnRequest is one user message handled as a blocking turn.
type TurnRequest struct {
	SessionID string
	UserID    string
	Content   string
}

// TurnService runs blocking turns against a session's stored history.
type TurnService struct {
	orch         *Orchestrator
	store        memory.MessageStore
	historyLimit int
}

// NewTurnService returns a service that keeps at most historyLimit stored
// messages in the model context. Zero or less uses [DefaultHistoryLimit].
func NewTurnService(orch *Orchestrator, store memory.MessageStore, historyLimit int) *TurnService {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &TurnService{orch: orch, store: store, historyLimit: historyLimit}
}

// Send stores the user message, runs the turn under the configured deadline
// and stores the reply. The returned [Result] is always safe to show to the
// user; err reports persistence failures, [ErrTurnTimeout] and cancellation.
// A reply that was cut short by the deadline is not stored.
func (s *TurnService) Send(ctx context.Context, req TurnRequest) (Result, error) {
	if strings.TrimSpace(req.Content) == "" {
		return errorResult(s.orch.cfg.FailureText), ErrEmptyMessage
	}
	log := observe.Logger(ctx).With("session_id", req.SessionID)

	if _, err := s.store.SaveMessage(ctx, memory.StoredMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      types.RoleUser,
		Content:   req.Content,
	}); err != nil {
		log.Error("conversation: save user message failed", "err", err)
		return errorResult(s.orch.cfg.FailureText), fmt.Errorf("conversation: save user message: %w", err)
	}

	stored, err := s.store.MessagesBySession(ctx, req.SessionID, s.historyLimit)
	if err != nil {
		log.Error("conversation: load history failed", "err", err)
		return errorResult(s.orch.cfg.FailureText), fmt.Errorf("conversation: load history: %w", err)
	}

	res, err := s.orch.RunBlocking(ctx, req.SessionID, memory.History(stored), event.Nop{})
	if err != nil {
		return res, err
	}

	if _, err := s.store.SaveMessage(context.WithoutCancel(ctx), memory.StoredMessage{
		SessionID:    req.SessionID,
		Role:         types.RoleAssistant,
		Content:      res.Text,
		UIComponents: res.UIComponents,
	}); err != nil {
		log.Error("conversation: save assistant message failed", "err", err)
		return res, fmt.Errorf("conversation: save assistant message: %w", err)
	}
	return res, nil
}

// History returns the stored messages of sessionID, oldest first. A limit of
// zero or less returns the whole session.
func (s *TurnService) History(ctx context.Context, sessionID string, limit int) ([]memory.StoredMessage, error) {
	msgs, err := s.store.MessagesBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	return msgs, nil
}
