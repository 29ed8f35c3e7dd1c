package conversation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/memory"
	"github.com/MrWong99/colloquy/pkg/types"
)

const (
	// DefaultUnavailableText replaces replies that carry upstream error text.
	DefaultUnavailableText = "service unavailable"

	// DefaultThinkingDelay is the pause after the "thinking" status.
	DefaultThinkingDelay = time.Second

	// DefaultHistoryLimit is the number of stored messages sent to the model.
	DefaultHistoryLimit = 50

	// flushTimeout bounds the final emits of a turn whose context has ended.
	flushTimeout = 2 * time.Second
)

// defaultUpstreamMarkers are error-shaped substrings identifying leaked
// upstream errors.
var defaultUpstreamMarkers = []string{
	DefaultRequestFailedText,
	"API error:",
	"unexpected status code",
	"500 Internal Server Error",
	"502 Bad Gateway",
	"503 Service Unavailable",
	"429 Too Many Requests",
}

// StreamConfig configures a [StreamController].
type StreamConfig struct {
	// ThinkingDelay is the pause after the "thinking" status.
	ThinkingDelay time.Duration

	// TypingDelay separates consecutive reply chunks unless overridden per
	// request.
	TypingDelay time.Duration

	// ShowThinking and ShowCompleted are the per-request defaults.
	ShowThinking  bool
	ShowCompleted bool

	// HistoryLimit caps the stored messages sent to the model.
	HistoryLimit int

	// FallbackText replaces a blank reply.
	FallbackText string

	// UnavailableText replaces replies that contain one of UpstreamMarkers.
	UnavailableText string
	UpstreamMarkers []string
}

func (c *StreamConfig) setDefaults() {
	if c.ThinkingDelay < 0 {
		c.ThinkingDelay = 0
	}
	if c.TypingDelay < 0 {
		c.TypingDelay = 0
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.FallbackText == "" {
		c.FallbackText = DefaultFallbackText
	}
	if c.UnavailableText == "" {
		c.UnavailableText = DefaultUnavailableText
	}
	if c.UpstreamMarkers == nil {
		c.UpstreamMarkers = defaultUpstreamMarkers
	}
}

// StreamRequest is one streamed turn.
type StreamRequest struct {
	SessionID string
	UserID    string
	Content   string

	// Nil options fall back to the controller configuration.
	ShowThinking  *bool
	ShowCompleted *bool
	TypingDelay   *time.Duration
}

// StreamController runs turns in the background and pushes their progress
// to the session's live channel.
type StreamController struct {
	orch    *Orchestrator
	store   memory.MessageStore
	hub     *event.Hub
	metrics *observe.Metrics

	mu  sync.RWMutex
	cfg StreamConfig

	wg sync.WaitGroup
}

// NewStreamController returns a controller. Channels are allocated from hub
// so a session never has two streamed turns at once.
func NewStreamController(orch *Orchestrator, store memory.MessageStore, hub *event.Hub, cfg StreamConfig, metrics *observe.Metrics) *StreamController {
	cfg.setDefaults()
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &StreamController{orch: orch, store: store, hub: hub, cfg: cfg, metrics: metrics}
}

// Config returns the current configuration.
func (s *StreamController) Config() StreamConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdatePacing replaces the pacing settings. Turns already running keep the
// settings they started with.
func (s *StreamController) UpdatePacing(thinking, typing time.Duration, showThinking, showCompleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ThinkingDelay = thinking
	s.cfg.TypingDelay = typing
	s.cfg.ShowThinking = showThinking
	s.cfg.ShowCompleted = showCompleted
	s.cfg.setDefaults()
}

// Start opens the session channel and runs the turn in the background. The
// channel is always closed when the turn ends, after an error event if the
// turn failed. It returns [event.ErrStreamActive] when the session is already
// streaming.
func (s *StreamController) Start(ctx context.Context, req StreamRequest) (*event.Channel, error) {
	ch, err := s.hub.Open(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("conversation: start stream for session %q: %w", req.SessionID, err)
	}
	cfg := s.Config()

	s.wg.Add(1)
	s.metrics.ActiveStreams.Add(ctx, 1)
	go func() {
		defer s.wg.Done()
		defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
		s.run(ctx, ch, req, cfg)
	}()
	return ch, nil
}

// Wait blocks until every streamed turn started so far has finished.
func (s *StreamController) Wait() {
	s.wg.Wait()
}

// run is the streamed turn. It owns ch and closes it on every path.
func (s *StreamController) run(ctx context.Context, ch *event.Channel, req StreamRequest, cfg StreamConfig) {
	start := time.Now()
	sink := &meteredSink{next: ch, metrics: s.metrics}
	log := observe.Logger(ctx).With("session_id", req.SessionID)
	outcome := "error"

	defer func() {
		if r := recover(); r != nil {
			log.Error("conversation: streamed turn panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			s.fail(ctx, sink, req.SessionID, s.orch.cfg.FailureText)
		}
		ch.Close()
		s.metrics.RecordTurn(context.WithoutCancel(ctx), "streamed", outcome, time.Since(start))
	}()

	if err := s.stream(ctx, sink, req, cfg); err != nil {
		msg := s.orch.cfg.FailureText
		switch {
		case errors.Is(err, ErrTurnTimeout):
			msg = s.orch.cfg.TimeoutText
			outcome = "timeout"
		case errors.Is(err, event.ErrChannelClosed):
			log.Debug("conversation: channel closed before the turn finished")
			return
		}
		log.Warn("conversation: streamed turn failed", "err", err)
		s.fail(ctx, sink, req.SessionID, msg)
		return
	}
	outcome = "ok"
}

// stream emits the turn's events in order. Any error aborts the turn.
func (s *StreamController) stream(ctx context.Context, sink event.Sink, req StreamRequest, cfg StreamConfig) error {
	showThinking := cfg.ShowThinking
	if req.ShowThinking != nil {
		showThinking = *req.ShowThinking
	}
	showCompleted := cfg.ShowCompleted
	if req.ShowCompleted != nil {
		showCompleted = *req.ShowCompleted
	}
	typingDelay := cfg.TypingDelay
	if req.TypingDelay != nil && *req.TypingDelay >= 0 {
		typingDelay = *req.TypingDelay
	}

	// Everything up to the reply, store calls included, shares one deadline.
	budget := s.orch.cfg.TurnTimeout
	if showThinking {
		budget += cfg.ThinkingDelay
	}
	taskCtx, cancelTask := context.WithTimeout(ctx, budget)
	defer cancelTask()

	res, err := s.respond(taskCtx, sink, req, cfg, showThinking)
	if err != nil {
		return timedOut(ctx, taskCtx, err)
	}

	text := s.sanitize(res.Text, cfg)
	interrupted, err := s.emitChunks(ctx, sink, req.SessionID, text, typingDelay)
	if err != nil {
		return err
	}

	// The reply has been delivered, so it is stored even when the client went
	// away during pacing.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if _, err := s.store.SaveMessage(saveCtx, memory.StoredMessage{
		SessionID:    req.SessionID,
		Role:         types.RoleAssistant,
		Content:      text,
		UIComponents: res.UIComponents,
	}); err != nil {
		return fmt.Errorf("conversation: save assistant message: %w", err)
	}

	if interrupted {
		return nil
	}
	if showCompleted {
		emitCtx, cancelEmit := context.WithTimeout(ctx, flushTimeout)
		defer cancelEmit()
		return timedOut(ctx, emitCtx, sink.Emit(emitCtx, event.Completed(req.SessionID)))
	}
	return nil
}

// respond records the user message and produces the reply.
func (s *StreamController) respond(ctx context.Context, sink event.Sink, req StreamRequest, cfg StreamConfig, showThinking bool) (Result, error) {
	if err := sink.Emit(ctx, event.Status(req.SessionID, "processing")); err != nil {
		return Result{}, err
	}
	if err := sink.Emit(ctx, event.Message(req.SessionID, event.ContentUser, req.Content)); err != nil {
		return Result{}, err
	}

	if _, err := s.store.SaveMessage(ctx, memory.StoredMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      types.RoleUser,
		Content:   req.Content,
	}); err != nil {
		return Result{}, fmt.Errorf("conversation: save user message: %w", err)
	}
	stored, err := s.store.MessagesBySession(ctx, req.SessionID, cfg.HistoryLimit)
	if err != nil {
		return Result{}, fmt.Errorf("conversation: load history: %w", err)
	}

	if showThinking {
		if err := sink.Emit(ctx, event.Status(req.SessionID, "thinking")); err != nil {
			return Result{}, err
		}
		if err := sleep(ctx, cfg.ThinkingDelay); err != nil {
			return Result{}, err
		}
	}

	return s.orch.runWithDeadline(ctx, req.SessionID, memory.History(stored), sink)
}

// timedOut reports err as [ErrTurnTimeout] when it was caused by the expiry
// of bounded, a context derived from parent, rather than by parent itself.
func timedOut(parent, bounded context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTurnTimeout) {
		return err
	}
	if parent.Err() == nil && errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTurnTimeout, err)
	}
	return err
}

// sanitize applies the blank-reply fallback and hides upstream error text.
// Lines reporting a successful tool call carry tool output, not upstream
// errors, and are not checked.
func (s *StreamController) sanitize(text string, cfg StreamConfig) string {
	if strings.TrimSpace(text) == "" {
		return cfg.FallbackText
	}
	for line := range strings.Lines(text) {
		if strings.HasPrefix(line, "✅ ") {
			continue
		}
		for _, marker := range cfg.UpstreamMarkers {
			if marker != "" && strings.Contains(line, marker) {
				return cfg.UnavailableText
			}
		}
	}
	return text
}

// emitChunks sends text word by word, pausing delay between chunks. When ctx
// ends mid-way the rest of the text goes out as one final chunk and
// interrupted is true.
func (s *StreamController) emitChunks(ctx context.Context, sink event.Sink, sessionID, text string, delay time.Duration) (interrupted bool, err error) {
	chunks := SplitWords(text)
	paceCtx, cancelPace := context.WithTimeout(ctx, delay*time.Duration(len(chunks))+flushTimeout)
	defer cancelPace()

	for i, chunk := range chunks {
		if i > 0 && delay > 0 {
			if sleep(paceCtx, delay) != nil {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
				defer cancel()
				rest := strings.Join(chunks[i:], "")
				return true, sink.Emit(flushCtx, event.Message(sessionID, event.ContentAssistant, rest))
			}
		}
		if err := sink.Emit(paceCtx, event.Message(sessionID, event.ContentAssistant, chunk)); err != nil {
			return false, timedOut(ctx, paceCtx, err)
		}
	}
	return false, nil
}

// fail pushes a user-safe error event. The turn context may already be done,
// so the emit gets its own short deadline.
func (s *StreamController) fail(ctx context.Context, sink event.Sink, sessionID, msg string) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := sink.Emit(flushCtx, event.Error(sessionID, msg)); err != nil {
		observe.Logger(ctx).Debug("conversation: error event dropped", "session_id", sessionID, "err", err)
	}
}

// SplitWords cuts text into chunks of one word plus its trailing
// whitespace. "a b" yields "a " and "b". Leading whitespace stays with the
// first word, so concatenating the chunks gives back text.
func SplitWords(text string) []string {
	var (
		chunks   []string
		start    int
		seenWord bool
		inSpace  bool
	)
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			chunks = append(chunks, text[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// meteredSink counts every delivered event.
type meteredSink struct {
	next    event.Sink
	metrics *observe.Metrics
}

func (m *meteredSink) Emit(ctx context.Context, e event.Event) error {
	if err := m.next.Emit(ctx, e); err != nil {
		return err
	}
	m.metrics.RecordStreamEvent(context.WithoutCancel(ctx), string(e.Type))
	return nil
}
