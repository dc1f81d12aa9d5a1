package baseline

import (
	"fmt"

	"guarddog/internal/model"
)

// Stats is the call-volume baseline of a telemetry batch
type Stats struct {
	Mean  float64
	Total float64
	Count int
}

// BaselineVolume computes the mean daily call volume over all sources.
// An empty batch yields a zero baseline.
func BaselineVolume(records []model.TelemetryRecord) Stats {
	stats := Stats{Count: len(records)}
	if len(records) == 0 {
		return stats
	}
	for _, r := range records {
		stats.Total += r.CallsToday
	}
	stats.Mean = stats.Total / float64(len(records))
	return stats
}

// DetectVolumeAnomaly reports a source whose calls exceed the baseline mean
// by more than rule.Multiplier. Below rule.CriticalMultiplier times the mean
// the rule severity applies, at or above it the critical one. A zero
// baseline never produces a detection.
func DetectVolumeAnomaly(record model.TelemetryRecord, stats Stats, rule *model.VolumeRule) *model.Detection {
	if rule == nil || stats.Mean <= 0 {
		return nil
	}

	calls := record.CallsToday
	if calls <= stats.Mean*rule.Multiplier {
		return nil
	}

	severity := rule.Severity
	if calls >= stats.Mean*rule.CriticalMultiplier {
		severity = rule.CriticalSeverity
	}

	ratio := calls / stats.Mean
	name := record.SourceName()
	return &model.Detection{
		Category:    model.CategoryUsageBaseline,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Severity:    severity,
		Source:      name,
		Description: fmt.Sprintf("%s has %.0f calls today, %.1fx the average", name, calls, ratio),
		Evidence: model.Evidence{
			"current_calls": calls,
			"average_calls": stats.Mean,
			"multiplier":    ratio,
		},
		Value: model.Float(ratio),
	}
}
