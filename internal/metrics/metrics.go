// Package metrics exposes Prometheus instrumentation for the hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	ToolCalls       *prometheus.CounterVec
	ToolErrors      *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	MessagesStored  prometheus.Counter
	BlobsStored     prometheus.Counter
	CodecSavedChars prometheus.Counter
	TasksCreated    prometheus.Counter
	ClaimsGranted   prometheus.Counter
	ClaimsExpired   prometheus.Counter
	EmptyPolls      prometheus.Counter
	IdempotentHits  prometheus.Counter
}

// New registers the hub collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caephub_tool_calls_total",
			Help: "Tool invocations by tool name.",
		}, []string{"tool"}),
		ToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caephub_tool_errors_total",
			Help: "Tool invocations that returned an error, by tool and code.",
		}, []string{"tool", "code"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caephub_tool_duration_seconds",
			Help:    "Tool handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_messages_stored_total",
			Help: "Messages appended to the store.",
		}),
		BlobsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_blobs_stored_total",
			Help: "New content-addressed blobs stored.",
		}),
		CodecSavedChars: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_codec_saved_chars_total",
			Help: "Characters saved by codec compression across stored payloads.",
		}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_tasks_created_total",
			Help: "Tasks created.",
		}),
		ClaimsGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_claims_granted_total",
			Help: "Task claims granted, by claim_task or poll_and_claim.",
		}),
		ClaimsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_claims_expired_total",
			Help: "Claims reclaimed after lease expiry.",
		}),
		EmptyPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_empty_polls_total",
			Help: "poll_and_claim calls that found no candidate.",
		}),
		IdempotentHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "caephub_idempotent_replays_total",
			Help: "Tool calls answered from the idempotency cache.",
		}),
	}
}
