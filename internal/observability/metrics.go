package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	threadsStarted  *prometheus.CounterVec
	messagesAdded   prometheus.Counter
	readMarks       *prometheus.CounterVec
	activeWatches   *prometheus.GaugeVec
}

// NewMetrics registers collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by route, method and domain error code.",
		}, []string{"path", "method", "code"}),
		threadsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_threads_started_total",
			Help: "StartThread calls, labelled by whether a thread was created.",
		}, []string{"created"}),
		messagesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messaging_messages_appended_total",
			Help: "Messages appended to threads.",
		}),
		readMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_read_marks_total",
			Help: "MarkRead calls, labelled by whether the stored value advanced.",
		}, []string{"advanced"}),
		activeWatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "messaging_active_watches",
			Help: "Open live watches by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.threadsStarted,
		m.messagesAdded,
		m.readMarks,
		m.activeWatches,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

func (m *Metrics) ThreadStarted(created bool) {
	if m == nil {
		return
	}
	m.threadsStarted.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (m *Metrics) MessageAppended() {
	if m == nil {
		return
	}
	m.messagesAdded.Inc()
}

func (m *Metrics) ReadMarked(advanced bool) {
	if m == nil {
		return
	}
	m.readMarks.WithLabelValues(strconv.FormatBool(advanced)).Inc()
}

// WatchOpened tracks live watches; call the returned func on close.
func (m *Metrics) WatchOpened(kind string) func() {
	if m == nil {
		return func() {}
	}
	g := m.activeWatches.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}
