package config

import "time"

const (
	// Backend request timeout for non-streaming calls
	RequestTimeout = 30 * time.Second

	// Streaming completion timeout (whole stream)
	StreamTimeout = 90 * time.Second

	// Credential cache
	TokenTTL          = 55 * time.Minute
	TokenSafetyMargin = 30 * time.Second

	// Session titles
	DefaultSessionTitle = "New Chat"
	TitleMaxLen         = 48

	// Stream read chunk size
	StreamReadBufferSize = 4096

	// Cap on error bodies read from non-2xx responses
	MaxErrorBodyLen = 4096
)
