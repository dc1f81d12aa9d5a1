package baseline

import (
	"fmt"

	"guarddog/internal/model"
)

const (
	sourceTemporal   = "Temporal Analysis"
	sourceGeographic = "Geographic Analysis"
	unknownValue     = "unknown"
)

// DetectConcentration reports every client IP holding more than rule.Ratio
// of all calls, in order of first appearance.
func DetectConcentration(calls []model.APICallRecord, rule *model.ConcentrationRule) []model.Detection {
	total := len(calls)
	if rule == nil || total == 0 {
		return nil
	}

	order, counts := tally(calls, func(c model.APICallRecord) string { return c.ClientIP })

	var detections []model.Detection
	for _, ip := range order {
		count := counts[ip]
		if float64(count) <= float64(total)*rule.Ratio {
			continue
		}
		share := float64(count) / float64(total)
		detections = append(detections, model.Detection{
			Category:    model.CategoryUsageBaseline,
			Subtype:     rule.Name,
			Rule:        rule.RuleMeta,
			Source:      sourceGeographic,
			Description: fmt.Sprintf("Single IP %s made %d calls (%.1f%% of total)", ip, count, share*100),
			Evidence: model.Evidence{
				"ip_address": ip,
				"call_count": count,
				"percentage": share * 100,
			},
			MatchCount: count,
			Value:      model.Float(share),
		})
	}
	return detections
}

// DetectSpread reports calls arriving from more than rule.MaxDistinct
// distinct countries.
func DetectSpread(calls []model.APICallRecord, rule *model.SpreadRule) *model.Detection {
	if rule == nil || len(calls) == 0 {
		return nil
	}

	countries, _ := tally(calls, func(c model.APICallRecord) string { return c.Country })
	if len(countries) <= rule.MaxDistinct {
		return nil
	}

	return &model.Detection{
		Category:    model.CategoryUsageBaseline,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Source:      sourceGeographic,
		Description: fmt.Sprintf("API calls received from %d different countries", len(countries)),
		Evidence: model.Evidence{
			"country_count": len(countries),
			"countries":     countries,
		},
		MatchCount: len(countries),
		Value:      model.Float(float64(len(countries))),
	}
}

// TimingStats is the time-of-day split of a batch of calls
type TimingStats struct {
	Total   int
	Inside  int
	Skipped int
}

// OutsideRatio is the fraction of parsed calls outside the normal window.
func (s TimingStats) OutsideRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Total-s.Inside) / float64(s.Total)
}

// MeasureTiming counts how many calls fall inside the rule's hour range.
// Calls with missing or unparsable timestamps are skipped and left out of
// Total, so they count neither as inside nor as outside business hours.
func MeasureTiming(calls []model.APICallRecord, rule *model.TimingRule) TimingStats {
	var stats TimingStats
	for _, c := range calls {
		ts, err := model.ParseTimestamp(c.Timestamp)
		if err != nil {
			stats.Skipped++
			continue
		}
		stats.Total++
		if rule.InHours(ts.Hour()) {
			stats.Inside++
		}
	}
	return stats
}

// DetectTiming reports a batch whose out-of-hours fraction exceeds
// rule.OutsideRatio.
func DetectTiming(calls []model.APICallRecord, rule *model.TimingRule) *model.Detection {
	if rule == nil || len(calls) == 0 {
		return nil
	}

	stats := MeasureTiming(calls, rule)
	if stats.Total == 0 {
		return nil
	}

	outside := stats.OutsideRatio()
	if outside <= rule.OutsideRatio {
		return nil
	}

	return &model.Detection{
		Category:    model.CategoryUsageBaseline,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Source:      sourceTemporal,
		Description: fmt.Sprintf("%.1f%% of API calls occurred outside business hours", outside*100),
		Evidence: model.Evidence{
			"business_hours_ratio": 1 - outside,
			"total_calls":          stats.Total,
			"non_business_calls":   stats.Total - stats.Inside,
			"skipped_calls":        stats.Skipped,
		},
		MatchCount: stats.Total - stats.Inside,
		Value:      model.Float(outside),
	}
}

// tally counts values in order of first appearance. Empty values count as
// "unknown".
func tally(calls []model.APICallRecord, field func(model.APICallRecord) string) ([]string, map[string]int) {
	var order []string
	counts := make(map[string]int)
	for _, c := range calls {
		v := field(c)
		if v == "" {
			v = unknownValue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	return order, counts
}
