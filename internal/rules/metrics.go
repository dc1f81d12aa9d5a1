package rules

import (
	"time"

	"guarddog/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. They are not registered
// on creation; call Register with the registry that should expose them.
type Metrics struct {
	// Finding metrics
	FindingsTotal   *prometheus.CounterVec
	FindingsDropped *prometheus.CounterVec

	// Record metrics
	RecordsScanned *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec

	// Performance metrics
	ScanDuration *prometheus.HistogramVec
	WindowKeys   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guarddog_findings_total",
				Help: "Total number of findings emitted",
			},
			[]string{"category", "subtype", "severity"},
		),
		FindingsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guarddog_findings_dropped_total",
				Help: "Findings refused because of an invalid severity or action",
			},
			[]string{"category", "subtype"},
		),
		RecordsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guarddog_records_scanned_total",
				Help: "Total number of records evaluated",
			},
			[]string{"kind"},
		),
		RecordsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guarddog_records_skipped_total",
				Help: "Checks skipped because a record field could not be parsed",
			},
			[]string{"kind", "reason"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guarddog_scan_duration_seconds",
				Help:    "Time spent in one scan call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		WindowKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guarddog_window_keys",
				Help: "Number of keys tracked by the rapid transaction window",
			},
			[]string{"rule"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FindingsTotal,
		m.FindingsDropped,
		m.RecordsScanned,
		m.RecordsSkipped,
		m.ScanDuration,
		m.WindowKeys,
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Describe and Collect let Metrics itself be registered as one collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) recordFinding(f model.Finding) {
	if m == nil {
		return
	}
	m.FindingsTotal.WithLabelValues(string(f.Category), f.Subtype, string(f.Severity)).Inc()
}

func (m *Metrics) recordDropped(category model.Category, subtype string) {
	if m == nil {
		return
	}
	m.FindingsDropped.WithLabelValues(string(category), subtype).Inc()
}

func (m *Metrics) recordScanned(kind string, n int) {
	if m == nil {
		return
	}
	m.RecordsScanned.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) recordSkipped(kind, reason string) {
	if m == nil {
		return
	}
	m.RecordsSkipped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) observeScan(kind string, started time.Time) {
	if m == nil {
		return
	}
	m.ScanDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setWindowKeys(rule string, n int) {
	if m == nil {
		return
	}
	m.WindowKeys.WithLabelValues(rule).Set(float64(n))
}
