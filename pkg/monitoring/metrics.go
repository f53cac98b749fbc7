package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for the daemon
type MetricsCollector struct {
	serviceName string

	// Standard HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	serviceInfo         *prometheus.GaugeVec
}

// ConnectionMetrics are the endpoint-management metrics exposed by the daemon.
type ConnectionMetrics struct {
	// ProbeLatency observes round-trip time of successful health probes.
	ProbeLatency *prometheus.HistogramVec
	// ProbeFailures counts failed probes per endpoint.
	ProbeFailures *prometheus.CounterVec
	// Failovers counts active-endpoint changes.
	Failovers prometheus.Counter
	// DiscoveryRuns counts discovery attempts by result (ok, fallback, failed).
	DiscoveryRuns *prometheus.CounterVec
	// PeersConnected tracks how many mesh peers the active endpoint reports
	// as connected.
	PeersConnected prometheus.Gauge
}

// NewMetricsCollector creates a new metrics collector for a service
func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	// Sanitize service name for Prometheus (replace hyphens with underscores)
	sanitized := strings.ReplaceAll(serviceName, "-", "_")

	mc := &MetricsCollector{serviceName: sanitized}

	mc.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: mc.serviceName + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	mc.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    mc.serviceName + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	mc.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: mc.serviceName + "_service_info",
			Help: "Service information",
		},
		[]string{"version", "commit"},
	)

	prometheus.MustRegister(mc.httpRequestsTotal)
	prometheus.MustRegister(mc.httpRequestDuration)
	prometheus.MustRegister(mc.serviceInfo)

	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// CreateConnectionMetrics registers and returns the endpoint-management metrics.
func (mc *MetricsCollector) CreateConnectionMetrics() *ConnectionMetrics {
	cm := &ConnectionMetrics{
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    mc.serviceName + "_probe_latency_seconds",
				Help:    "Health probe round-trip time per endpoint",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		ProbeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: mc.serviceName + "_probe_failures_total",
				Help: "Failed health probes per endpoint",
			},
			[]string{"endpoint"},
		),
		Failovers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: mc.serviceName + "_failovers_total",
				Help: "Active endpoint changes",
			},
		),
		DiscoveryRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: mc.serviceName + "_discovery_runs_total",
				Help: "Discovery attempts by result",
			},
			[]string{"result"},
		),
		PeersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: mc.serviceName + "_peers_connected",
				Help: "Mesh peers reported connected by the active endpoint",
			},
		),
	}

	prometheus.MustRegister(cm.ProbeLatency)
	prometheus.MustRegister(cm.ProbeFailures)
	prometheus.MustRegister(cm.Failovers)
	prometheus.MustRegister(cm.DiscoveryRuns)
	prometheus.MustRegister(cm.PeersConnected)

	return cm
}

// MetricsMiddleware returns middleware that collects HTTP metrics
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		mc.httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		mc.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration)
	}
}

// PrometheusHandler returns the standard Prometheus metrics endpoint handler
func (mc *MetricsCollector) PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
