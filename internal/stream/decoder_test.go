package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raylabs/chatcore/internal/domain"
)

func decodeAll(t *testing.T, chunks ...[]byte) []domain.StreamEvent {
	t.Helper()
	dec := NewDecoder()
	var events []domain.StreamEvent
	for _, chunk := range chunks {
		events = append(events, dec.Feed(chunk)...)
	}
	events = append(events, dec.Finish()...)
	return events
}

func TestDecoder_SplitFrame(t *testing.T) {
	events := decodeAll(t,
		[]byte("data: {\"type\":\"content\",\"content\":\"Hel"),
		[]byte("lo\"}\n\ndata: [DONE]\n\n"),
	)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventContent, events[0].Type)
	assert.Equal(t, "Hello", events[0].Text)
	assert.Equal(t, domain.EventDone, events[1].Type)
}

func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	wire := []byte("data: {\"type\":\"content\",\"content\":\"Привет → мир\"}\n" +
		"data: {\"type\":\"usage\",\"prompt_tokens\":12,\"completion_tokens\":34,\"total_tokens\":46}\n" +
		"data: {\"type\":\"content\",\"content\":\"…и ещё\"}\n" +
		"data: [DONE]\n")

	want := decodeAll(t, wire)
	require.NotEmpty(t, want)

	for i := 1; i < len(wire); i++ {
		got := decodeAll(t, wire[:i], wire[i:])
		assert.Equal(t, want, got, "split at byte %d", i)
	}
}

func TestDecoder_Frames(t *testing.T) {
	tests := []struct {
		name string
		line string
		want domain.StreamEvent
	}{
		{
			name: "content",
			line: "data: {\"type\":\"content\",\"content\":\"hi\"}\n",
			want: domain.StreamEvent{Type: domain.EventContent, Text: "hi"},
		},
		{
			name: "usage",
			line: "data: {\"type\":\"usage\",\"prompt_tokens\":1,\"completion_tokens\":2,\"total_tokens\":3}\n",
			want: domain.StreamEvent{Type: domain.EventUsage, Usage: &domain.TokenUsage{
				PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3,
			}},
		},
		{
			name: "images",
			line: "data: {\"type\":\"images\",\"images\":[\"https://img.example/a.png\"]}\n",
			want: domain.StreamEvent{Type: domain.EventImages, Images: []domain.ImageRef{
				{URL: "https://img.example/a.png"},
			}},
		},
		{
			name: "error",
			line: "data: {\"type\":\"error\",\"error\":\"model overloaded\"}\n",
			want: domain.StreamEvent{Type: domain.EventError, Message: "model overloaded"},
		},
		{
			name: "error with message field",
			line: "data: {\"type\":\"error\",\"message\":\"bad request\"}\n",
			want: domain.StreamEvent{Type: domain.EventError, Message: "bad request"},
		},
		{
			name: "done as json",
			line: "data: {\"type\":\"done\"}\n",
			want: domain.StreamEvent{Type: domain.EventDone},
		},
		{
			name: "crlf terminator",
			line: "data: [DONE]\r\n",
			want: domain.StreamEvent{Type: domain.EventDone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := NewDecoder().Feed([]byte(tt.line))
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0])
		})
	}
}

func TestDecoder_DropsJunk(t *testing.T) {
	lines := []string{
		"data: {broken json\n",
		": keep-alive\n",
		"\n",
		"event: ping\n",
		"data: {\"type\":\"mystery\",\"content\":\"x\"}\n",
	}

	dec := NewDecoder()
	for _, line := range lines {
		assert.Empty(t, dec.Feed([]byte(line)), "line %q", line)
	}
}

func TestDecoder_FinishFlushesTrailingLine(t *testing.T) {
	dec := NewDecoder()
	assert.Empty(t, dec.Feed([]byte("data: {\"type\":\"content\",\"content\":\"tail\"}")))

	events := dec.Finish()
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Text)

	assert.Empty(t, dec.Finish())
}

func TestDecoder_NoByteLostAcrossRuneBoundary(t *testing.T) {
	wire := []byte("data: {\"type\":\"content\",\"content\":\"日本語\"}\n")

	// Split inside the first multi-byte rune of the payload.
	var got []domain.StreamEvent
	dec := NewDecoder()
	for _, b := range wire {
		got = append(got, dec.Feed([]byte{b})...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "日本語", got[0].Text)
}
