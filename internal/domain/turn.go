package domain

import (
	"time"

	"github.com/google/uuid"
)

// TurnStatus tracks the lifecycle of a conversation turn. User turns are
// created complete; assistant turns walk pending → streaming → terminal.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnComplete  TurnStatus = "complete"
	TurnErrored   TurnStatus = "errored"
	TurnCancelled TurnStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TurnStatus) Terminal() bool {
	return s == TurnComplete || s == TurnErrored || s == TurnCancelled
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationTurn struct {
	ID          string
	Role        string
	Content     string
	CreatedAt   time.Time
	Attachments []AttachmentRef
	Images      []ImageRef
	Status      TurnStatus
	Usage       *TokenUsage
}

type AttachmentRef struct {
	Name     string
	FileType string // image, video, audio, document
	URL      string
}

type ImageRef struct {
	URL string
}

// NewUserTurn builds a completed user turn ready for persistence.
func NewUserTurn(content string, attachments []AttachmentRef) *ConversationTurn {
	return &ConversationTurn{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Content:     content,
		CreatedAt:   time.Now(),
		Attachments: attachments,
		Status:      TurnComplete,
	}
}

// NewAssistantTurn builds an empty pending assistant turn.
func NewAssistantTurn() *ConversationTurn {
	return &ConversationTurn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		Status:    TurnPending,
	}
}
