package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvdb"

// Metrics owns a private Prometheus registry and every kvdb collector. It
// satisfies the storage metrics hook and the datastore observer.
type Metrics struct {
	reg *prometheus.Registry

	storeWrites      *prometheus.HistogramVec
	storeWriteBytes  prometheus.Counter
	storeWriteErrors *prometheus.CounterVec
	storeReads       prometheus.Histogram
	batchCommits     prometheus.Histogram
	batchBytes       prometheus.Counter

	mutations      *prometheus.HistogramVec
	mutationErrors *prometheus.CounterVec
	queries        *prometheus.HistogramVec
	queryResults   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		storeWrites: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "write_seconds",
			Help:    "Latency of durable commits.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"op"}),
		storeWriteBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "write_bytes_total",
			Help: "Bytes committed to the store, after encryption.",
		}),
		storeWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "write_errors_total",
			Help: "Failed durable commits.",
		}, []string{"op"}),
		storeReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "read_seconds",
			Help:    "Latency of direct store reads.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		batchCommits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "batch_commit_seconds",
			Help:    "Latency of batch commits including WAL sync.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		batchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "batch_bytes_total",
			Help: "Encoded batch bytes committed.",
		}),
		mutations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "mutation_seconds",
			Help:    "End-to-end latency of insert and delete, commit through broadcast.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"op"}),
		mutationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "mutation_errors_total",
			Help: "Mutations that returned an error.",
		}, []string{"op"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "index", Name: "query_seconds",
			Help:    "Latency of index reads.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}, []string{"op"}),
		queryResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "index", Name: "query_results_total",
			Help: "Entries returned by index reads.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.storeWrites, m.storeWriteBytes, m.storeWriteErrors, m.storeReads,
		m.batchCommits, m.batchBytes,
		m.mutations, m.mutationErrors, m.queries, m.queryResults,
		m.httpRequests, m.httpLatency,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveWrite records a durable commit.
func (m *Metrics) ObserveWrite(op string, elapsed time.Duration, bytes int, err error) {
	if err != nil {
		m.storeWriteErrors.WithLabelValues(op).Inc()
		return
	}
	m.storeWrites.WithLabelValues(op).Observe(elapsed.Seconds())
	m.storeWriteBytes.Add(float64(bytes))
}

// ObserveRead records a direct store read.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storeReads.Observe(elapsed.Seconds())
}

// ObserveBatchCommit records one batch commit.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.batchCommits.Observe(elapsed.Seconds())
	m.batchBytes.Add(float64(bytes))
}

// ObserveMutation records an insert or delete through the pipeline.
func (m *Metrics) ObserveMutation(op string, elapsed time.Duration, err error) {
	m.mutations.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.mutationErrors.WithLabelValues(op).Inc()
	}
}

// ObserveQuery records an index read returning n entries.
func (m *Metrics) ObserveQuery(op string, elapsed time.Duration, n int) {
	m.queries.WithLabelValues(op).Observe(elapsed.Seconds())
	m.queryResults.WithLabelValues(op).Add(float64(n))
}

// Source reports live gauges.
type Source interface {
	KeyCount() int
	ListenerCount() int
}

// WatchSource exports key and listener counts read from src at scrape time.
func (m *Metrics) WatchSource(src Source) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "keys",
			Help: "Keys held in the index, including the boot key.",
		}, func() float64 { return float64(src.KeyCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "listeners",
			Help: "Live change subscribers.",
		}, func() float64 { return float64(src.ListenerCount()) }),
	)
}

// Middleware counts requests by chi route pattern so path parameters do not
// explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
