// Package metrics exposes the Worker Pool's Prometheus collectors:
// lane depth, workers busy per lane, and invocation duration —
// scraped via /metrics alongside the plain-text /health endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collectors struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	laneDepth          *prometheus.GaugeVec
	workersBusy        *prometheus.GaugeVec
	abortsTotal        prometheus.Counter
	reapedTotal        prometheus.Counter
}

var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000, 60000}

var m *collectors

// Init registers the engine's collectors under namespace. Calling it
// more than once, or never, is safe — every recorder below is a
// no-op until Init has run.
func Init(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &collectors{
		registry: registry,
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of request invocations by entrypoint and outcome",
		}, []string{"entrypoint", "status"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_milliseconds",
			Help:      "Duration of request invocations in milliseconds",
			Buckets:   defaultBuckets,
		}, []string{"entrypoint", "lane"}),
		laneDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lane_queue_depth",
			Help:      "Current depth of a worker lane's queue",
		}, []string{"lane"}),
		workersBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Number of worker slots currently executing a request",
		}, []string{"lane"}),
		abortsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Total number of requests aborted",
		}),
		reapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Total number of RUNNING records reclaimed by the reaper after a worker crash",
		}),
	}

	registry.MustRegister(
		c.invocationsTotal,
		c.invocationDuration,
		c.laneDepth,
		c.workersBusy,
		c.abortsTotal,
		c.reapedTotal,
	)

	m = c
}

// RecordInvocation records one terminal invocation outcome.
func RecordInvocation(entrypoint, lane, status string, durationMs int64) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(entrypoint, status).Inc()
	m.invocationDuration.WithLabelValues(entrypoint, lane).Observe(float64(durationMs))
}

// SetLaneDepth records lane's current queue depth.
func SetLaneDepth(lane string, depth int) {
	if m == nil {
		return
	}
	m.laneDepth.WithLabelValues(lane).Set(float64(depth))
}

// IncWorkersBusy/DecWorkersBusy track how many slots in lane are
// currently executing a request.
func IncWorkersBusy(lane string) {
	if m == nil {
		return
	}
	m.workersBusy.WithLabelValues(lane).Inc()
}

func DecWorkersBusy(lane string) {
	if m == nil {
		return
	}
	m.workersBusy.WithLabelValues(lane).Dec()
}

// RecordAbort increments the aborts counter.
func RecordAbort() {
	if m == nil {
		return
	}
	m.abortsTotal.Inc()
}

// RecordReaped increments the reaper-reclaimed counter.
func RecordReaped() {
	if m == nil {
		return
	}
	m.reapedTotal.Inc()
}

// Handler serves the registered collectors for scraping. If Init has
// not been called, it reports 503 rather than panicking.
func Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized\n"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
