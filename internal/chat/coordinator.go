package chat

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/metrics"
)

// SessionCreator is the backend collaborator that persists new sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, title string) (domain.SessionRef, error)
}

// SessionCoordinator resolves the session id for one conversation, creating
// it at most once. Concurrent sends racing before the first creation share a
// single in-flight call; a failed creation is reported to every waiter and
// the next send may retry.
type SessionCoordinator struct {
	creator SessionCreator

	mu    sync.Mutex
	id    string
	group singleflight.Group
}

func NewSessionCoordinator(creator SessionCreator) *SessionCoordinator {
	return &SessionCoordinator{creator: creator}
}

// Adopt seeds the coordinator with an already-known session id.
func (c *SessionCoordinator) Adopt(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// SessionID returns the resolved id, or empty if none exists yet.
func (c *SessionCoordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// EnsureSession returns the conversation's session id, creating the session
// on first use.
func (c *SessionCoordinator) EnsureSession(ctx context.Context, title string) (string, error) {
	if id := c.SessionID(); id != "" {
		return id, nil
	}

	v, err, _ := c.group.Do("create", func() (interface{}, error) {
		// A racer that lost the fast path may have finished creation by
		// the time we hold the flight.
		if id := c.SessionID(); id != "" {
			return id, nil
		}

		ref, err := c.creator.CreateSession(ctx, title)
		if err != nil {
			return nil, err
		}
		metrics.SessionsCreated.Inc()
		c.Adopt(ref.ID)
		return ref.ID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
