package stream

import (
	"context"
	"sync"

	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/metrics"
)

// handle serializes callback delivery and cancellation on one mutex: Cancel
// and every dispatch contend for it, so once Cancel returns no callback can
// fire, already-running callbacks included.
type handle struct {
	mu        sync.Mutex
	stopped   bool
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHandle(cancel context.CancelFunc) *handle {
	return &handle{cancel: cancel, done: make(chan struct{})}
}

// finishedHandle is returned when the stream failed before it started.
func finishedHandle() *handle {
	h := &handle{stopped: true, done: make(chan struct{})}
	close(h.done)
	return h
}

func (h *handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
}

func (h *handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

// dispatch delivers one event, returning false once the stream is finished
// and no further events may be delivered.
func (h *handle) dispatch(ev domain.StreamEvent, cb Callbacks) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}

	switch ev.Type {
	case domain.EventContent:
		metrics.TokensStreamed.Inc()
		if cb.OnToken != nil {
			cb.OnToken(ev.Text)
		}
	case domain.EventUsage:
		if cb.OnUsage != nil && ev.Usage != nil {
			cb.OnUsage(*ev.Usage)
		}
	case domain.EventImages:
		if cb.OnImages != nil {
			cb.OnImages(ev.Images)
		}
	case domain.EventDone:
		h.stopped = true
		if cb.OnDone != nil {
			cb.OnDone()
		}
		close(h.done)
	case domain.EventError:
		h.stopped = true
		if cb.OnError != nil {
			cb.OnError(&domain.RemoteError{Message: ev.Message})
		}
		close(h.done)
	}
	return !h.stopped
}

// fail reports a transport-level error unless the stream already finished.
// A read error caused by Cancel never reaches the caller: Cancel marked the
// handle stopped first.
func (h *handle) fail(cb Callbacks, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if cb.OnError != nil {
		cb.OnError(err)
	}
	close(h.done)
}
