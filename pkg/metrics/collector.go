package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Collector owns a private registry with the backend and migration metrics.
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	migrations *prometheus.CounterVec
}

func NewCollector(namespace string) (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "operations_total",
			Help:      "Backend operations by backend, operation and status.",
		}, []string{"backend", "operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "operation_duration_seconds",
			Help:      "Duration of backend operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_migrations_total",
			Help:      "Files recorded in the index after being found on a legacy backend.",
		}, []string{"backend"}),
	}

	for _, collector := range []prometheus.Collector{c.operations, c.duration, c.migrations} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) ObserveBackend(backend, operation, status string, elapsed time.Duration) {
	c.operations.WithLabelValues(backend, operation, status).Inc()
	c.duration.WithLabelValues(backend, operation).Observe(elapsed.Seconds())
}

// ObserveMigration counts one migration for every backend that reported the file.
func (c *Collector) ObserveMigration(path string, backends []string) {
	for _, name := range backends {
		c.migrations.WithLabelValues(name).Inc()
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
