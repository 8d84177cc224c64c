package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/raylabs/chatcore/internal/auth"
	"github.com/raylabs/chatcore/internal/config"
	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/metrics"
)

// Callbacks receive decoded events in wire order. A terminal callback
// (OnDone or OnError) fires at most once, and nothing fires after it or
// after CancelHandle.Cancel returns. A callback must not call Cancel on
// its own handle.
type Callbacks struct {
	OnToken  func(text string)
	OnUsage  func(usage domain.TokenUsage)
	OnImages func(images []domain.ImageRef)
	OnDone   func()
	OnError  func(err error)
}

// CancelHandle controls an open stream. Cancel is idempotent; cancelling a
// finished stream is a no-op.
type CancelHandle interface {
	Cancel()
	Cancelled() bool
	// Done is closed once the stream stops for any reason.
	Done() <-chan struct{}
}

// Client opens streaming completion requests against the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	// No client-level timeout: the stream stays open for the whole
	// completion. Callers bound it through the request context.
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Open issues the completion request and starts dispatching events. A
// transport failure or non-2xx status invokes OnError before Open returns
// and yields an already-finished handle.
func (c *Client) Open(ctx context.Context, req domain.StreamRequest, cred auth.Credential, cb Callbacks) CancelHandle {
	payload, err := json.Marshal(req)
	if err != nil {
		cb.OnError(fmt.Errorf("marshal request: %w", err))
		return finishedHandle()
	}

	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(payload))
	if err != nil {
		cancel()
		cb.OnError(fmt.Errorf("create request: %w", err))
		return finishedHandle()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		cb.OnError(fmt.Errorf("open stream: %w", err))
		return finishedHandle()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLen))
		resp.Body.Close()
		cancel()
		cb.OnError(&domain.StatusError{Code: resp.StatusCode, Detail: errorDetail(body)})
		return finishedHandle()
	}

	metrics.StreamsOpened.Inc()

	h := newHandle(cancel)
	go c.run(h, resp.Body, cb)
	return h
}

func (c *Client) run(h *handle, body io.ReadCloser, cb Callbacks) {
	defer body.Close()

	dec := NewDecoder()
	buf := make([]byte, config.StreamReadBufferSize)
	sawDone := false

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.Type == domain.EventDone {
					sawDone = true
				}
				if !h.dispatch(ev, cb) {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				h.fail(cb, fmt.Errorf("read stream: %w", err))
				return
			}
			for _, ev := range dec.Finish() {
				if ev.Type == domain.EventDone {
					sawDone = true
				}
				if !h.dispatch(ev, cb) {
					return
				}
			}
			if !sawDone {
				h.fail(cb, domain.ErrIncompleteStream)
			}
			return
		}
	}
}

// errorDetail pulls the backend's {"detail": ...} reason out of an error
// body, falling back to the raw text.
func errorDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(bytes.TrimSpace(body))
}
