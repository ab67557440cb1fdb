package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_events_logged_total",
		Help: "Total number of events appended to the Hub event log, labelled by action.",
	}, []string{"action"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_events_processed_total",
		Help: "Total number of events applied by the processor, labelled by role and status.",
	}, []string{"role", "status"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pubnet_event_processing_duration_ms",
		Help:    "Per-event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	PushesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_pushes_sent_total",
		Help: "Total number of push attempts from a Node to the Hub, labelled by status.",
	}, []string{"status"})

	PushesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubnet_pushes_dropped_total",
		Help: "Total number of pushes rejected because the push queue was full.",
	})

	PushQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubnet_push_queue_utilization_ratio",
		Help: "Current push queue utilization (0-1).",
	})

	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_webhook_requests_total",
		Help: "Total number of pushed events received by the Hub, labelled by result.",
	}, []string{"result"})

	PullRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_pull_requests_total",
		Help: "Total number of pull requests served by the Hub, labelled by result.",
	}, []string{"result"})

	PullEventsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pubnet_pull_events_served_total",
		Help: "Total number of events returned to pulling Nodes.",
	})

	PullCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_pull_cycles_total",
		Help: "Total number of Node pull cycles, labelled by result.",
	}, []string{"result"})

	PullOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pubnet_pull_outstanding_events",
		Help: "Events the Hub reported as still waiting after the last pull.",
	})

	Handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_handshakes_total",
		Help: "Total number of retrieve-key attempts, labelled by result.",
	}, []string{"result"})

	RPCVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pubnet_rpc_verifications_total",
		Help: "Total number of signed cross-site requests checked, labelled by endpoint and result.",
	}, []string{"endpoint", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pubnet_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds, labelled by method and status code.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "status"})
)
