package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/raylabs/chatcore/internal/auth"
	"github.com/raylabs/chatcore/internal/config"
	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/metrics"
	"github.com/raylabs/chatcore/internal/stream"
)

// SessionStore is the backend collaborator that persists sessions and turns.
type SessionStore interface {
	SessionCreator
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	AppendMessage(ctx context.Context, sessionID string, turn domain.ConversationTurn) error
}

// StreamOpener opens one completion stream. Satisfied by *stream.Client.
type StreamOpener interface {
	Open(ctx context.Context, req domain.StreamRequest, cred auth.Credential, cb stream.Callbacks) stream.CancelHandle
}

// UpgradePrompter is told when a send was blocked by quota so the UI can
// offer the matching plan upgrade.
type UpgradePrompter interface {
	PromptUpgrade(reason QuotaReason)
}

// Options are the completion parameters applied to every send.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Thinking    bool
}

// Deps contains all dependencies required to construct an Engine.
type Deps struct {
	Tokens  *auth.TokenCache
	Streams StreamOpener
	Store   SessionStore
	Upgrade UpgradePrompter
	Options Options

	// TokenSink receives each content delta as it streams in. Optional.
	TokenSink func(text string)
}

// Engine drives one conversation: it resolves the session, persists turns,
// opens the completion stream and walks the assistant turn through its
// state machine.
type Engine struct {
	tokens      *auth.TokenCache
	streams     StreamOpener
	store       SessionStore
	upgrade     UpgradePrompter
	opts        Options
	tokenSink   func(string)
	coordinator *SessionCoordinator
	timeline    *Timeline

	mu     sync.Mutex
	handle stream.CancelHandle
	titled bool
}

// NewEngine creates a new Engine from the provided dependencies.
func NewEngine(deps Deps) *Engine {
	return &Engine{
		tokens:      deps.Tokens,
		streams:     deps.Streams,
		store:       deps.Store,
		upgrade:     deps.Upgrade,
		opts:        deps.Options,
		tokenSink:   deps.TokenSink,
		coordinator: NewSessionCoordinator(deps.Store),
		timeline:    NewTimeline(),
	}
}

// Resume attaches the engine to an existing session and seeds the timeline
// with its persisted turns.
func (e *Engine) Resume(sessionID string, turns []domain.ConversationTurn) {
	e.coordinator.Adopt(sessionID)
	e.timeline.Restore(turns)
	e.mu.Lock()
	e.titled = true
	e.mu.Unlock()
}

// Timeline exposes the conversation state for rendering.
func (e *Engine) Timeline() *Timeline {
	return e.timeline
}

// SessionID returns the resolved session id, empty before the first send.
func (e *Engine) SessionID() string {
	return e.coordinator.SessionID()
}

// Send runs one full user turn: session resolution, user-turn persistence,
// the completion stream, and terminal handling. It blocks until the
// assistant turn reaches a terminal state and returns it. A cancelled send
// returns the cancelled turn with a nil error; quota blocks return
// ErrQuotaExceeded; other failures return the classified error alongside
// the errored turn.
func (e *Engine) Send(ctx context.Context, text string, attachments []domain.AttachmentRef) (domain.ConversationTurn, error) {
	userTurn, _, err := e.timeline.BeginExchange(text, attachments)
	if err != nil {
		return domain.ConversationTurn{}, err
	}

	sessionID, err := e.coordinator.EnsureSession(ctx, config.DefaultSessionTitle)
	if err != nil {
		turn, _ := e.timeline.Errored(GenericFailureText)
		return turn, fmt.Errorf("ensure session: %w", err)
	}

	if err := e.store.AppendMessage(ctx, sessionID, userTurn); err != nil {
		// Persistence failures must not block the conversation.
		slog.Error("persist user turn", "error", err, "session_id", sessionID)
	}

	cred, err := e.tokens.Get(ctx)
	if err != nil {
		turn, _ := e.timeline.Errored(GenericFailureText)
		return turn, err
	}

	req := domain.StreamRequest{
		Messages:    e.timeline.History(),
		Model:       e.opts.Model,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
		Thinking:    e.opts.Thinking,
	}

	var (
		errMu     sync.Mutex
		streamErr error
	)
	h := e.streams.Open(ctx, req, cred, stream.Callbacks{
		OnToken: func(delta string) {
			e.timeline.AppendDelta(delta)
			if e.tokenSink != nil {
				e.tokenSink(delta)
			}
		},
		OnUsage:  e.timeline.MergeUsage,
		OnImages: e.timeline.MergeImages,
		OnDone:   func() {},
		OnError: func(err error) {
			errMu.Lock()
			streamErr = err
			errMu.Unlock()
		},
	})
	e.setHandle(h)
	<-h.Done()
	e.setHandle(nil)

	errMu.Lock()
	finalErr := streamErr
	errMu.Unlock()
	if h.Cancelled() && finalErr == nil {
		finalErr = domain.ErrStreamCancelled
	}

	return e.finish(ctx, sessionID, finalErr)
}

// Stop cancels the in-flight stream, if any. Safe to call at any time.
func (e *Engine) Stop() {
	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

func (e *Engine) setHandle(h stream.CancelHandle) {
	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()
}

func (e *Engine) finish(ctx context.Context, sessionID string, streamErr error) (domain.ConversationTurn, error) {
	if streamErr == nil {
		turn, ok := e.timeline.Complete()
		if !ok {
			return domain.ConversationTurn{}, errors.New("no assistant turn to complete")
		}
		if err := e.store.AppendMessage(ctx, sessionID, turn); err != nil {
			slog.Error("persist assistant turn", "error", err, "session_id", sessionID)
		}
		e.titleSession(ctx, sessionID)
		return turn, nil
	}

	class := Classify(streamErr)
	metrics.StreamFailures.WithLabelValues(class.Class.String()).Inc()

	switch class.Class {
	case FailureCancelled:
		turn, _ := e.timeline.Cancelled()
		return turn, nil

	case FailureQuotaExceeded:
		if e.upgrade != nil {
			e.upgrade.PromptUpgrade(class.Quota)
		}
		if class.Quota == QuotaDaily {
			// A hard daily block is not a model failure; leave no error
			// turn behind.
			e.timeline.RemoveInFlight()
			return domain.ConversationTurn{}, fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, class.Quota)
		}
		turn, _ := e.timeline.Errored(GenericFailureText)
		return turn, fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, class.Quota)

	default:
		slog.Error("stream failed", "error", streamErr, "class", class.Class.String(), "session_id", sessionID)
		turn, _ := e.timeline.Errored(GenericFailureText)
		return turn, fmt.Errorf("stream failed: %w", streamErr)
	}
}

// titleSession renames the session after its first completed assistant turn,
// deriving the title from the first user message.
func (e *Engine) titleSession(ctx context.Context, sessionID string) {
	e.mu.Lock()
	if e.titled {
		e.mu.Unlock()
		return
	}
	e.titled = true
	e.mu.Unlock()

	title := config.DefaultSessionTitle
	for _, turn := range e.timeline.Turns() {
		if turn.Role == domain.RoleUser {
			title = deriveTitle(turn.Content)
			break
		}
	}
	if err := e.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		slog.Error("update session title", "error", err, "session_id", sessionID)
	}
}

func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return config.DefaultSessionTitle
	}
	runes := []rune(title)
	if len(runes) <= config.TitleMaxLen {
		return title
	}
	return string(runes[:config.TitleMaxLen]) + "…"
}
