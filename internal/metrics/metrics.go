// Package metrics provides Prometheus instrumentation for Agorai.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agorai_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agorai_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Tool dispatch metrics.
var (
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agorai_tool_calls_total",
		Help: "Total number of tool calls by name and outcome.",
	}, []string{"tool", "outcome"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agorai_tool_call_duration_seconds",
		Help:    "Tool call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)

// Session / event bus metrics.
var (
	SSEConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agorai_sse_connections_active",
		Help: "Number of currently open SSE streams.",
	})

	EventBusSubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agorai_eventbus_subscribers_active",
		Help: "Number of currently registered event bus watchers.",
	})

	MessagesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agorai_messages_created_total",
		Help: "Total number of messages written to the store.",
	})
)

// Agent run-loop metrics.
var (
	AgentLoopTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agorai_agent_loop_ticks_total",
		Help: "Total number of agent run-loop ticks by agent and outcome.",
	}, []string{"agent", "outcome"})

	AgentLoopRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agorai_agent_loop_replies_total",
		Help: "Total number of replies sent by the agent run-loop.",
	}, []string{"agent"})

	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agorai_model_call_duration_seconds",
		Help:    "Model caller round-trip duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "outcome"})
)
