package domain

// ChatMessage is one turn of the outbound conversation payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the completion request body. Built fresh per send and
// immutable once dispatched.
type StreamRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Thinking    bool          `json:"thinking"`
}
