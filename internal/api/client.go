// Package api is the typed client for the backend chat persistence API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raylabs/chatcore/internal/auth"
	"github.com/raylabs/chatcore/internal/config"
	"github.com/raylabs/chatcore/internal/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *auth.TokenCache
}

func NewClient(baseURL string, tokens *auth.TokenCache) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		tokens:     tokens,
	}
}

type sessionPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messagePayload struct {
	ID         string    `json:"id,omitempty"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// CreateSession persists a new session and returns its ref.
func (c *Client) CreateSession(ctx context.Context, title string) (domain.SessionRef, error) {
	var created sessionPayload
	err := c.do(ctx, http.MethodPost, "/api/chat/sessions", map[string]string{"title": title}, &created)
	if err != nil {
		return domain.SessionRef{}, fmt.Errorf("create session: %w", err)
	}
	return domain.SessionRef{
		ID:        created.ID,
		Title:     created.Title,
		CreatedAt: created.CreatedAt,
		UpdatedAt: created.UpdatedAt,
	}, nil
}

// UpdateSessionTitle renames a session.
func (c *Client) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	path := "/api/chat/sessions/" + sessionID
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"title": title}, nil); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/api/chat/sessions/" + sessionID
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendMessage persists one completed turn.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, turn domain.ConversationTurn) error {
	payload := messagePayload{
		Role:    turn.Role,
		Content: turn.Content,
	}
	if turn.Usage != nil {
		payload.TokensUsed = turn.Usage.TotalTokens
	}
	path := "/api/chat/sessions/" + sessionID + "/messages"
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages fetches the persisted turns of a session, oldest first.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	var payloads []messagePayload
	path := "/api/chat/sessions/" + sessionID + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &payloads); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	turns := make([]domain.ConversationTurn, len(payloads))
	for i, p := range payloads {
		turns[i] = domain.ConversationTurn{
			ID:        p.ID,
			Role:      p.Role,
			Content:   p.Content,
			CreatedAt: p.CreatedAt,
			Status:    domain.TurnComplete,
		}
		if p.TokensUsed > 0 {
			turns[i].Usage = &domain.TokenUsage{TotalTokens: p.TokensUsed}
		}
	}
	return turns, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cred, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLen))
		return &domain.StatusError{Code: resp.StatusCode, Detail: detailFrom(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func detailFrom(raw []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(bytes.TrimSpace(raw))
}
