package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuthUnavailable  = errors.New("auth credential unavailable")
	ErrIncompleteStream = errors.New("incomplete stream")
	ErrStreamCancelled  = errors.New("stream cancelled")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTurnInFlight     = errors.New("assistant turn already in flight")
	ErrQuotaExceeded    = errors.New("quota exceeded")
)

// StatusError carries a non-2xx backend response. Detail holds the backend's
// human-readable reason when the body had one.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Detail)
}

// RemoteError is an error frame sent by the model stream itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "stream error: " + e.Message
}
