package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// HandleAssignmentsTotal counts EnsureHandle outcomes: "existing", "assigned" or "failed".
	HandleAssignmentsTotal *prometheus.CounterVec

	// HandleCollisionsTotal counts candidate handles rejected because another account holds them.
	HandleCollisionsTotal prometheus.Counter

	// CollaboratorInvitesTotal counts AddCollaborator outcomes.
	CollaboratorInvitesTotal *prometheus.CounterVec

	// StreamSubscriptions tracks currently open change stream subscriptions.
	StreamSubscriptions prometheus.Gauge

	// StreamDropsTotal counts subscriptions ended by a StreamError.
	StreamDropsTotal prometheus.Counter

	// ReconcileEventsTotal counts change events merged by reconcilers, by event type.
	ReconcileEventsTotal *prometheus.CounterVec

	// ReconcileRollbacksTotal counts optimistic mutations rolled back after a store failure.
	ReconcileRollbacksTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ulists_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ulists_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ulists_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ulists_cache_hits_total",
		Help: "Total cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ulists_cache_misses_total",
		Help: "Total cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "ulists_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "ulists_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	HandleAssignmentsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ulists_handle_assignments_total",
		Help: "Handle lookups and assignments by outcome",
	}, []string{"outcome"})

	HandleCollisionsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ulists_handle_collisions_total",
		Help: "Candidate handles already held by another account",
	})

	CollaboratorInvitesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ulists_collaborator_invites_total",
		Help: "Collaborator invitations by outcome",
	}, []string{"outcome"})

	StreamSubscriptions = f.NewGauge(prometheus.GaugeOpts{
		Name: "ulists_stream_subscriptions",
		Help: "Open change stream subscriptions",
	})

	StreamDropsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ulists_stream_drops_total",
		Help: "Change stream subscriptions dropped",
	})

	ReconcileEventsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ulists_reconcile_events_total",
		Help: "Change events merged into reconciled list views",
	}, []string{"event_type"})

	ReconcileRollbacksTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ulists_reconcile_rollbacks_total",
		Help: "Optimistic mutations rolled back after a store failure",
	})
}

// The helpers below are no-ops until InitMetrics has run, so packages can
// record metrics from unit tests and client processes that never export them.

// ObserveStoreLatency records the duration of a store operation.
func ObserveStoreLatency(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit && CacheHitsTotal != nil {
		CacheHitsTotal.Inc()
	} else if !hit && CacheMissesTotal != nil {
		CacheMissesTotal.Inc()
	}
}

// RecordHandleAssignment counts an EnsureHandle outcome.
func RecordHandleAssignment(outcome string) {
	if HandleAssignmentsTotal != nil {
		HandleAssignmentsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordHandleCollision counts a rejected handle candidate.
func RecordHandleCollision() {
	if HandleCollisionsTotal != nil {
		HandleCollisionsTotal.Inc()
	}
}

// RecordCollaboratorInvite counts an AddCollaborator outcome.
func RecordCollaboratorInvite(outcome string) {
	if CollaboratorInvitesTotal != nil {
		CollaboratorInvitesTotal.WithLabelValues(outcome).Inc()
	}
}

// TrackStreamSubscription adjusts the open subscription gauge by delta.
func TrackStreamSubscription(delta int) {
	if StreamSubscriptions != nil {
		StreamSubscriptions.Add(float64(delta))
	}
}

// RecordStreamDrop counts a dropped subscription.
func RecordStreamDrop() {
	if StreamDropsTotal != nil {
		StreamDropsTotal.Inc()
	}
}

// RecordReconcileEvent counts a merged change event.
func RecordReconcileEvent(eventType string) {
	if ReconcileEventsTotal != nil {
		ReconcileEventsTotal.WithLabelValues(eventType).Inc()
	}
}

// RecordReconcileRollback counts a rolled back optimistic mutation.
func RecordReconcileRollback() {
	if ReconcileRollbacksTotal != nil {
		ReconcileRollbacksTotal.Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
