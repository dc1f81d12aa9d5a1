package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"guarddog/internal/model"
	"guarddog/internal/rules"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const document = `
rules:
  pii_detection:
    enabled: true
    patterns:
      email:
        regex: '[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}'
        severity: warning
        action: redact
  financial_compliance:
    enabled: true
    rules:
      high_value_transaction: {threshold: 10000, severity: warning, action: review}
      rapid_transactions: {windowDuration: 1h, maxCount: 2, severity: warning, action: review}
  service_health:
    enabled: true
    rules:
      service_status: {severity: warning, action: alert}
  usage_baseline:
    enabled: true
    rules:
      ip_concentration: {severity: warning, action: alert}
`

func newProcessor(t *testing.T) *Processor {
	p, _ := newProcessorWithMetrics(t)
	return p
}

func newProcessorWithMetrics(t *testing.T) (*Processor, *prometheus.Registry) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	catalog, err := rules.Load([]byte(document), rules.WithLogger(logger))
	require.NoError(t, err)

	engine := rules.NewEngine(catalog, logger)
	metrics := rules.NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	engine.SetMetrics(metrics)

	clock := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return NewProcessor(engine, logger, rules.WithClock(clock)), reg
}

// skipped returns the records_skipped counter for kind and reason.
func skipped(t *testing.T, reg *prometheus.Registry, kind, reason string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != "guarddog_records_skipped_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["kind"] == kind && labels["reason"] == reason {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestProcess_MixedBatch(t *testing.T) {
	p := newProcessor(t)

	findings, err := p.Process(context.Background(),
		Batch{Kind: KindText, Source: "chat", Records: raw(t, []interface{}{"reach me at a@b.com\r\n", map[string]string{"content": "nothing"}})},
		Batch{Kind: KindTelemetry, Records: raw(t, []model.TelemetryRecord{{Name: "plaid", Status: "down"}})},
		Batch{Kind: KindAPICalls, Records: raw(t, []model.APICallRecord{{ClientIP: "10.0.0.1"}, {ClientIP: "10.0.0.1"}})},
	)

	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, "email", findings[0].Subtype)
	assert.Equal(t, "chat", findings[0].Source)
	assert.Equal(t, "reach me at [EMAIL_REDACTED]", findings[0].Evidence["content"])
	assert.Equal(t, "service_status", findings[1].Subtype)
	assert.Equal(t, "ip_concentration", findings[2].Subtype)
}

func TestProcess_LogBlobSplitIntoLines(t *testing.T) {
	p := newProcessor(t)

	findings, err := p.Process(context.Background(), Batch{
		Kind:    KindLogs,
		Source:  "app.log",
		Records: raw(t, "boot ok\nuser=x@y.io logged in\n"),
	})

	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "app.log:2", findings[0].Source)
}

func TestProcess_WindowsCarryAcrossBatches(t *testing.T) {
	p := newProcessor(t)
	tx := func(id, ts string) map[string]interface{} {
		return map[string]interface{}{"id": id, "amount": "10", "timestamp": ts}
	}

	first, err := p.Process(context.Background(), Batch{Kind: KindTransactions, Records: raw(t, []interface{}{
		tx("t1", "2024-03-01T10:00:00Z"),
		tx("t2", "2024-03-01T10:05:00Z"),
	})})
	require.NoError(t, err)
	assert.Empty(t, first)

	second, err := p.Process(context.Background(), Batch{Kind: KindTransactions, Records: raw(t, []interface{}{
		tx("t3", "2024-03-01T10:10:00Z"),
	})})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "t3", second[0].Source)

	p.Reset()
	third, err := p.Process(context.Background(), Batch{Kind: KindTransactions, Records: raw(t, []interface{}{
		tx("t4", "2024-03-01T10:15:00Z"),
	})})
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestProcess_MistypedRecordsAreIsolated(t *testing.T) {
	p, reg := newProcessorWithMetrics(t)

	findings, err := p.Process(context.Background(),
		Batch{Kind: KindTransactions, Records: json.RawMessage(`[
			{"id": "a", "amount": 15000, "timestamp": "2024-03-01T10:00:00Z"},
			{"id": "b", "amount": 10, "timestamp": "2024-03-01T10:01:00Z"},
			{"id": "c", "amount": 10, "timestamp": "2024-03-01T10:02:00Z"},
			{"id": "d", "amount": 20000, "timestamp": 1709287380},
			{"id": {"nested": true}, "amount": 50000}
		]`)},
		Batch{Kind: KindTelemetry, Records: json.RawMessage(`[
			{"name": "yodlee", "callsToday": "many"},
			{"name": "plaid", "status": "down", "lastActivity": 1709287380}
		]`)},
		Batch{Kind: KindText, Records: json.RawMessage(`[42, "mail a@b.com"]`)},
	)

	require.NoError(t, err)
	require.Len(t, findings, 5)
	assert.Equal(t, "high_value_transaction", findings[0].Subtype)
	assert.Equal(t, "a", findings[0].Source)
	assert.Equal(t, "rapid_transactions", findings[1].Subtype)
	assert.Equal(t, "c", findings[1].Source)
	assert.Equal(t, "high_value_transaction", findings[2].Subtype)
	assert.Equal(t, "d", findings[2].Source)
	assert.Equal(t, "service_status", findings[3].Subtype)
	assert.Equal(t, "plaid", findings[3].Source)
	assert.Equal(t, "email", findings[4].Subtype)

	assert.Equal(t, 1.0, skipped(t, reg, rules.KindTransactions, "undecodable"))
	assert.Equal(t, 1.0, skipped(t, reg, rules.KindTelemetry, "undecodable"))
	assert.Equal(t, 1.0, skipped(t, reg, rules.KindText, "undecodable"))
	// d has no usable timestamp, so only its window check was skipped
	assert.Equal(t, 1.0, skipped(t, reg, rules.KindTransactions, "unparsable"))
}

func TestProcess_Errors(t *testing.T) {
	p := newProcessor(t)

	_, err := p.Process(context.Background(), Batch{Kind: "metrics"})
	assert.Error(t, err)

	_, err = p.Process(context.Background(), Batch{Kind: KindTelemetry, Records: json.RawMessage(`{"not": "a list"}`)})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, Batch{Kind: KindText})
	assert.ErrorIs(t, err, context.Canceled)
}
