package baseline

import (
	"fmt"
	"testing"
	"time"

	"guarddog/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(name string, sev model.Severity) model.RuleMeta {
	return model.RuleMeta{Name: name, Severity: sev, Action: model.ActionAlert}
}

var (
	volumeRule = &model.VolumeRule{
		RuleMeta:           meta("volume_spike", model.SeverityWarning),
		Multiplier:         3,
		CriticalMultiplier: 5,
		CriticalSeverity:   model.SeverityCritical,
	}
	statusRule = &model.StatusRule{
		RuleMeta:     meta("service_status", model.SeverityWarning),
		ActiveValue:  "active",
		DownValue:    "down",
		DownSeverity: model.SeverityCritical,
	}
	escalationRule = &model.EscalationRule{
		RuleMeta:    meta("alert_escalation", model.SeverityWarning),
		NormalValue: "normal",
		SeverityMap: map[string]model.Severity{
			"elevated": model.SeverityWarning,
			"high":     model.SeverityWarning,
			"critical": model.SeverityCritical,
		},
	}
	staleRule = &model.StalenessRule{
		RuleMeta:   meta("stale_data", model.SeverityWarning),
		Inactivity: 2 * time.Hour,
	}
	concentrationRule = &model.ConcentrationRule{RuleMeta: meta("ip_concentration", model.SeverityWarning), Ratio: 0.3}
	spreadRule        = &model.SpreadRule{RuleMeta: meta("geographic_spread", model.SeverityInfo), MaxDistinct: 10}
	timingRule        = &model.TimingRule{RuleMeta: meta("unusual_timing", model.SeverityWarning), StartHour: 9, EndHour: 18, OutsideRatio: 0.1}
)

func TestBaselineVolume(t *testing.T) {
	stats := BaselineVolume([]model.TelemetryRecord{{CallsToday: 50}, {CallsToday: 150}})
	assert.Equal(t, 100.0, stats.Mean)
	assert.Equal(t, 2, stats.Count)

	assert.Zero(t, BaselineVolume(nil).Mean)
}

func TestDetectVolumeAnomaly_SeverityTiers(t *testing.T) {
	stats := Stats{Mean: 100, Count: 4}

	tests := []struct {
		calls    float64
		expected model.Severity
	}{
		{calls: 300, expected: ""},
		{calls: 350, expected: model.SeverityWarning},
		{calls: 499, expected: model.SeverityWarning},
		{calls: 500, expected: model.SeverityCritical},
		{calls: 600, expected: model.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.0f calls", tt.calls), func(t *testing.T) {
			d := DetectVolumeAnomaly(model.TelemetryRecord{Name: "bank-feed", CallsToday: tt.calls}, stats, volumeRule)
			if tt.expected == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.expected, d.Severity)
			assert.Equal(t, "volume_spike", d.Subtype)
			assert.Equal(t, "bank-feed", d.Source)
		})
	}
}

func TestDetectVolumeAnomaly_ZeroBaseline(t *testing.T) {
	d := DetectVolumeAnomaly(model.TelemetryRecord{CallsToday: 1000}, Stats{}, volumeRule)
	assert.Nil(t, d)
}

func TestCheckStatus(t *testing.T) {
	assert.Nil(t, CheckStatus(model.TelemetryRecord{Status: "active"}, statusRule))

	down := CheckStatus(model.TelemetryRecord{Name: "plaid", Status: "down"}, statusRule)
	require.NotNil(t, down)
	assert.Equal(t, model.SeverityCritical, down.Severity)
	assert.Equal(t, "plaid status is down", down.Description)

	degraded := CheckStatus(model.TelemetryRecord{Status: "degraded"}, statusRule)
	require.NotNil(t, degraded)
	assert.Equal(t, model.SeverityWarning, degraded.Severity)
	assert.Equal(t, "Unknown", degraded.Source)

	missing := CheckStatus(model.TelemetryRecord{}, statusRule)
	require.NotNil(t, missing)
	assert.Equal(t, "unknown", missing.Evidence["status"])
}

func TestCheckAlertStatus(t *testing.T) {
	assert.Nil(t, CheckAlertStatus(model.TelemetryRecord{AlertStatus: "normal"}, escalationRule))
	assert.Nil(t, CheckAlertStatus(model.TelemetryRecord{}, escalationRule))

	critical := CheckAlertStatus(model.TelemetryRecord{AlertStatus: "critical"}, escalationRule)
	require.NotNil(t, critical)
	assert.Equal(t, model.SeverityCritical, critical.Severity)

	unmapped := CheckAlertStatus(model.TelemetryRecord{AlertStatus: "purple"}, escalationRule)
	require.NotNil(t, unmapped)
	assert.Equal(t, model.SeverityWarning, unmapped.Severity)
}

func TestCheckStaleness(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := CheckStaleness(model.TelemetryRecord{LastActivity: "2024-03-01T09:00:00Z"}, staleRule, now)
	require.NotNil(t, stale)
	assert.InDelta(t, 3.0, *stale.Value, 0.001)

	fresh := CheckStaleness(model.TelemetryRecord{LastActivity: "2024-03-01T11:00:00+00:00"}, staleRule, now)
	assert.Nil(t, fresh)

	assert.Nil(t, CheckStaleness(model.TelemetryRecord{LastActivity: "yesterday-ish"}, staleRule, now))
	assert.Nil(t, CheckStaleness(model.TelemetryRecord{}, staleRule, now))
}

func calls(ips ...string) []model.APICallRecord {
	out := make([]model.APICallRecord, len(ips))
	for i, ip := range ips {
		out[i] = model.APICallRecord{ClientIP: ip, Timestamp: "2024-03-01T10:00:00Z"}
	}
	return out
}

func TestDetectConcentration(t *testing.T) {
	batch := calls("10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.3", "10.0.0.1", "10.0.0.4", "10.0.0.5", "10.0.0.6", "10.0.0.7", "10.0.0.8")

	detections := DetectConcentration(batch, concentrationRule)

	// 3/10 is not above 30%
	assert.Empty(t, detections)

	batch = append(batch, model.APICallRecord{ClientIP: "10.0.0.1"})
	detections = DetectConcentration(batch, concentrationRule)
	require.Len(t, detections, 1)
	assert.Equal(t, "10.0.0.1", detections[0].Evidence["ip_address"])
	assert.Equal(t, 4, detections[0].MatchCount)
}

func TestDetectConcentration_EmptyBatch(t *testing.T) {
	assert.Empty(t, DetectConcentration(nil, concentrationRule))
}

func TestDetectSpread(t *testing.T) {
	var batch []model.APICallRecord
	for i := 0; i < 10; i++ {
		batch = append(batch, model.APICallRecord{Country: fmt.Sprintf("C%d", i)})
	}
	assert.Nil(t, DetectSpread(batch, spreadRule))

	batch = append(batch, model.APICallRecord{Country: "C10"})
	d := DetectSpread(batch, spreadRule)
	require.NotNil(t, d)
	assert.Equal(t, 11, d.Evidence["country_count"])
	assert.Equal(t, "C0", d.Evidence["countries"].([]string)[0])
}

func TestDetectTiming(t *testing.T) {
	batch := []model.APICallRecord{
		{Timestamp: "2024-03-01T09:00:00Z"},
		{Timestamp: "2024-03-01T18:59:00Z"},
		{Timestamp: "2024-03-01T12:00:00Z"},
		{Timestamp: "2024-03-01T13:00:00Z"},
		{Timestamp: "2024-03-01T14:00:00Z"},
		{Timestamp: "2024-03-01T15:00:00Z"},
		{Timestamp: "2024-03-01T16:00:00Z"},
		{Timestamp: "2024-03-01T17:00:00Z"},
		{Timestamp: "2024-03-01T10:00:00Z"},
		{Timestamp: "2024-03-01T03:00:00Z"},
	}

	// exactly 10% outside is not above the threshold
	assert.Nil(t, DetectTiming(batch, timingRule))

	batch = append(batch, model.APICallRecord{Timestamp: "2024-03-01T23:30:00Z"})
	d := DetectTiming(batch, timingRule)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.MatchCount)
	assert.Equal(t, model.SeverityWarning, d.Rule.Severity)
}

func TestDetectTiming_UnparsableTimestampsSkipped(t *testing.T) {
	batch := []model.APICallRecord{{Timestamp: "garbage"}, {}}

	assert.Nil(t, DetectTiming(batch, timingRule))

	stats := MeasureTiming(batch, timingRule)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.OutsideRatio())
}

func TestDetectTiming_SkippedCallsLeftOutOfRatio(t *testing.T) {
	batch := []model.APICallRecord{
		{Timestamp: "2024-03-01T10:00:00Z"},
		{Timestamp: "2024-03-01T23:00:00Z"},
		{Timestamp: "1709287380"},
		{},
	}

	stats := MeasureTiming(batch, timingRule)
	assert.Equal(t, TimingStats{Total: 2, Inside: 1, Skipped: 2}, stats)
	assert.Equal(t, 0.5, stats.OutsideRatio())

	d := DetectTiming(batch, timingRule)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Evidence["total_calls"])
	assert.Equal(t, 2, d.Evidence["skipped_calls"])
	assert.Equal(t, 0.5, d.Evidence["business_hours_ratio"])
}

func TestTimingRule_WrapsMidnight(t *testing.T) {
	night := model.TimingRule{StartHour: 22, EndHour: 5}
	assert.True(t, night.InHours(23))
	assert.True(t, night.InHours(2))
	assert.False(t, night.InHours(12))
}
