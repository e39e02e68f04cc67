package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_messages_sent_total",
		Help: "Messages accepted and persisted.",
	})
	MessagesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_messages_edited_total",
		Help: "Message edit operations applied.",
	})
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_messages_deleted_total",
		Help: "Messages soft-deleted.",
	})
	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_read_receipts_total",
		Help: "Read receipts recorded.",
	})
	DeliveryConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_delivery_confirmed_total",
		Help: "Per-recipient delivery confirmations recorded.",
	})
	DeliveryUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_delivery_unavailable_total",
		Help: "Fanout attempts that reached no recipient.",
	})
	DeliveryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_delivery_dropped_total",
		Help: "Delivery notices dropped because the queue was full.",
	})
	ReactionsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_reactions_added_total",
		Help: "Emoji reactions recorded on messages.",
	})
	ReconcileRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_reconcile_repairs_total",
		Help: "Unread counters corrected by the reconcile job.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "converse_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records per-request latency into the duration histogram.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(srw.status)).
			Observe(time.Since(start).Seconds())
	})
}
