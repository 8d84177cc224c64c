package chat

import (
	"sync"

	"github.com/raylabs/chatcore/internal/domain"
)

// User-facing replacement texts for terminal states. Partial content is
// discarded on cancel and error; the turn carries only the marker.
const (
	StoppedByUserText  = "Response stopped by user."
	GenericFailureText = "Something went wrong. Please try again."
)

// Timeline holds the ordered turns of one conversation and owns the state
// machine of the in-flight assistant turn. At most one assistant turn may be
// pending or streaming at a time.
type Timeline struct {
	mu       sync.Mutex
	turns    []*domain.ConversationTurn
	inFlight *domain.ConversationTurn
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// BeginExchange appends the user turn and opens the pending assistant turn
// in one step. Fails with ErrTurnInFlight while another assistant turn is
// still pending or streaming, leaving the timeline untouched.
func (t *Timeline) BeginExchange(content string, attachments []domain.AttachmentRef) (domain.ConversationTurn, domain.ConversationTurn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight != nil {
		return domain.ConversationTurn{}, domain.ConversationTurn{}, domain.ErrTurnInFlight
	}
	user := domain.NewUserTurn(content, attachments)
	assistant := domain.NewAssistantTurn()
	t.turns = append(t.turns, user, assistant)
	t.inFlight = assistant
	return *user, *assistant, nil
}

// AppendDelta grows the in-flight turn's content. The first delta moves the
// turn from pending to streaming.
func (t *Timeline) AppendDelta(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight == nil {
		return
	}
	if t.inFlight.Status == domain.TurnPending {
		t.inFlight.Status = domain.TurnStreaming
	}
	t.inFlight.Content += text
}

// MergeUsage attaches token counts to the in-flight turn. Usage may arrive
// at any point relative to content deltas; it never affects the state.
func (t *Timeline) MergeUsage(usage domain.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight == nil {
		return
	}
	u := usage
	t.inFlight.Usage = &u
}

// MergeImages attaches generated image refs to the in-flight turn.
func (t *Timeline) MergeImages(images []domain.ImageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight == nil {
		return
	}
	t.inFlight.Images = append(t.inFlight.Images, images...)
}

// Complete freezes the in-flight turn and returns it. The returned turn is
// a copy; the stored one no longer changes.
func (t *Timeline) Complete() (domain.ConversationTurn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight == nil {
		return domain.ConversationTurn{}, false
	}
	t.inFlight.Status = domain.TurnComplete
	turn := *t.inFlight
	t.inFlight = nil
	return turn, true
}

// Errored ends the in-flight turn with a user-facing error text, discarding
// partial content.
func (t *Timeline) Errored(text string) (domain.ConversationTurn, bool) {
	return t.terminate(domain.TurnErrored, text)
}

// Cancelled ends the in-flight turn with the stopped-by-user marker,
// discarding partial content.
func (t *Timeline) Cancelled() (domain.ConversationTurn, bool) {
	return t.terminate(domain.TurnCancelled, StoppedByUserText)
}

func (t *Timeline) terminate(status domain.TurnStatus, text string) (domain.ConversationTurn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight == nil {
		return domain.ConversationTurn{}, false
	}
	t.inFlight.Status = status
	t.inFlight.Content = text
	turn := *t.inFlight
	t.inFlight = nil
	return turn, true
}

// RemoveInFlight drops the in-flight assistant turn from the timeline
// entirely, used when a quota block should not leave an error turn behind.
func (t *Timeline) RemoveInFlight() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight == nil {
		return
	}
	for i, turn := range t.turns {
		if turn == t.inFlight {
			t.turns = append(t.turns[:i], t.turns[i+1:]...)
			break
		}
	}
	t.inFlight = nil
}

// Turns returns a snapshot of the conversation.
func (t *Timeline) Turns() []domain.ConversationTurn {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.ConversationTurn, len(t.turns))
	for i, turn := range t.turns {
		out[i] = *turn
	}
	return out
}

// History builds the outbound message list from all completed turns.
func (t *Timeline) History() []domain.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var msgs []domain.ChatMessage
	for _, turn := range t.turns {
		if turn.Status != domain.TurnComplete {
			continue
		}
		msgs = append(msgs, domain.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	return msgs
}

// Restore seeds the timeline with persisted turns, e.g. when resuming a
// session fetched from the backend.
func (t *Timeline) Restore(turns []domain.ConversationTurn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.turns = t.turns[:0]
	t.inFlight = nil
	for _, turn := range turns {
		copied := turn
		t.turns = append(t.turns, &copied)
	}
}
