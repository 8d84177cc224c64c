package domain

// EventType discriminates decoded stream frames.
type EventType string

const (
	EventContent EventType = "content"
	EventUsage   EventType = "usage"
	EventImages  EventType = "images"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// StreamEvent is one decoded frame of the completion stream. Exactly one of
// the payload fields is meaningful, selected by Type.
type StreamEvent struct {
	Type    EventType
	Text    string      // EventContent
	Usage   *TokenUsage // EventUsage
	Images  []ImageRef  // EventImages
	Message string      // EventError
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
