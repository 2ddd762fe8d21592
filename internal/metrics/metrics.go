package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "store_ratings",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "store_ratings",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "store_ratings",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	ratingWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "store_ratings",
			Subsystem: "ledger",
			Name:      "rating_writes_total",
			Help:      "Rating upserts by outcome.",
		},
		[]string{"outcome"},
	)

	ratingWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "store_ratings",
			Subsystem: "ledger",
			Name:      "rating_write_duration_seconds",
			Help:      "Duration of the rating upsert + aggregate transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	hashWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "store_ratings",
			Subsystem: "auth",
			Name:      "hash_pool_wait_seconds",
			Help:      "Time spent waiting for a password hashing slot.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	tokenRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "store_ratings",
			Subsystem: "auth",
			Name:      "token_rejections_total",
			Help:      "Bearer credentials rejected by the authorization gate.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ratingWrites,
		ratingWriteDuration,
		hashWait,
		tokenRejections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Must be mounted inside a chi router so the route pattern is known.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordRatingWrite records the outcome of a rating upsert.
func RecordRatingWrite(outcome string, duration time.Duration) {
	ratingWrites.WithLabelValues(outcome).Inc()
	ratingWriteDuration.Observe(duration.Seconds())
}

// ObserveHashWait records how long a caller queued for a hashing slot.
func ObserveHashWait(d time.Duration) {
	hashWait.Observe(d.Seconds())
}

// RecordTokenRejection counts a rejected bearer credential.
func RecordTokenRejection(reason string) {
	tokenRejections.WithLabelValues(reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// PoolStats is a point-in-time view of the database connection pool.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
	Max      int32
}

type poolCollector struct {
	stats    func() PoolStats
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
}

// NewPoolCollector reports pool gauges, reading stats on every scrape.
func NewPoolCollector(stats func() PoolStats) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("store_ratings", "db_pool", name), help, nil, nil)
	}
	return &poolCollector{
		stats:    stats,
		acquired: desc("acquired_connections", "Connections currently checked out of the pool."),
		idle:     desc("idle_connections", "Idle connections held by the pool."),
		total:    desc("total_connections", "All connections owned by the pool."),
		max:      desc("max_connections", "Configured pool size."),
	}
}

// RegisterPoolStats adds the pool collector to Registry.
func RegisterPoolStats(stats func() PoolStats) error {
	return Registry.Register(NewPoolCollector(stats))
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.Max))
}
