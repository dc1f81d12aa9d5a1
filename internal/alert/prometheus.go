package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"guarddog/internal/rules"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusExporter exposes the engine metrics over HTTP
type PrometheusExporter struct {
	server *http.Server
	logger *logrus.Logger
	port   string
}

// CreateCustomRegistry returns a registry with the Go and process collectors
func CreateCustomRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry
}

// NewPrometheusExporter registers metrics on a custom registry and serves
// it on /metrics.
func NewPrometheusExporter(port string, metrics *rules.Metrics, logger *logrus.Logger) (*PrometheusExporter, error) {
	registry := CreateCustomRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`
			<h1>GuardDog Metrics Exporter</h1>
			<p><a href="/metrics">Metrics</a></p>
			<p><a href="/health">Health Check</a></p>
		`))
	})

	return &PrometheusExporter{
		server: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		logger: logger,
		port:   port,
	}, nil
}

// Start serves metrics until ctx is cancelled
func (e *PrometheusExporter) Start(ctx context.Context) error {
	e.logger.Infof("Starting Prometheus exporter on port %s", e.port)
	e.logger.Infof("Metrics available at: http://localhost:%s/metrics", e.port)

	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Errorf("Failed to start Prometheus exporter: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.logger.Info("Shutting down Prometheus exporter...")
	return e.server.Shutdown(shutdownCtx)
}

func (e *PrometheusExporter) Handler() http.Handler {
	return e.server.Handler
}
