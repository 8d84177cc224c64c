// Package metrics provides Prometheus metrics for the chat engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_streams_opened_total",
		Help: "Total number of completion streams opened",
	})

	TokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_tokens_streamed_total",
		Help: "Total number of content deltas received",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_frames_dropped_total",
		Help: "Total number of malformed stream frames dropped",
	})

	StreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_stream_failures_total",
		Help: "Total number of failed sends by failure class",
	}, []string{"class"})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_sessions_created_total",
		Help: "Total number of sessions created on the backend",
	})

	TokenFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_token_fetches_total",
		Help: "Total number of credential provider fetches",
	})
)
