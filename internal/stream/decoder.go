package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/metrics"
)

const (
	framePrefix = "data: "
	doneMarker  = "[DONE]"
)

// Decoder turns raw response-body chunks into stream events. Chunks may split
// frames at any byte boundary; the decoder buffers bytes and only interprets
// complete lines, so a multi-byte UTF-8 sequence or a JSON payload is never
// decoded partially. Lines without the frame prefix (keep-alive comments,
// blanks) and frames that fail to parse are dropped, never surfaced.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns every event completed by it, in wire order.
func (d *Decoder) Feed(chunk []byte) []domain.StreamEvent {
	d.buf = append(d.buf, chunk...)

	var events []domain.StreamEvent
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Finish flushes a trailing line the transport closed without terminating.
func (d *Decoder) Finish() []domain.StreamEvent {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := d.decodeLine(line); ok {
		return []domain.StreamEvent{ev}
	}
	return nil
}

// wireFrame is the JSON payload of one frame, discriminated by Type.
type wireFrame struct {
	Type             string   `json:"type"`
	Content          string   `json:"content"`
	Images           []string `json:"images"`
	Error            string   `json:"error"`
	Message          string   `json:"message"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
}

func (d *Decoder) decodeLine(line []byte) (domain.StreamEvent, bool) {
	s := strings.TrimSuffix(string(line), "\r")
	if !strings.HasPrefix(s, framePrefix) {
		return domain.StreamEvent{}, false
	}
	payload := strings.TrimSpace(s[len(framePrefix):])

	if payload == doneMarker {
		return domain.StreamEvent{Type: domain.EventDone}, true
	}

	var frame wireFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		metrics.FramesDropped.Inc()
		return domain.StreamEvent{}, false
	}

	switch frame.Type {
	case "content":
		return domain.StreamEvent{Type: domain.EventContent, Text: frame.Content}, true
	case "usage":
		return domain.StreamEvent{
			Type: domain.EventUsage,
			Usage: &domain.TokenUsage{
				PromptTokens:     frame.PromptTokens,
				CompletionTokens: frame.CompletionTokens,
				TotalTokens:      frame.TotalTokens,
			},
		}, true
	case "images":
		refs := make([]domain.ImageRef, len(frame.Images))
		for i, u := range frame.Images {
			refs[i] = domain.ImageRef{URL: u}
		}
		return domain.StreamEvent{Type: domain.EventImages, Images: refs}, true
	case "error":
		msg := frame.Error
		if msg == "" {
			msg = frame.Message
		}
		return domain.StreamEvent{Type: domain.EventError, Message: msg}, true
	case "done":
		return domain.StreamEvent{Type: domain.EventDone}, true
	default:
		metrics.FramesDropped.Inc()
		return domain.StreamEvent{}, false
	}
}
