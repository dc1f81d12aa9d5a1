package baseline

import (
	"fmt"
	"time"

	"guarddog/internal/model"
)

// CheckStatus reports a source whose status is not the active value.
// The down value escalates to the rule's down severity.
func CheckStatus(record model.TelemetryRecord, rule *model.StatusRule) *model.Detection {
	if rule == nil {
		return nil
	}

	status := record.Status
	if status == "" {
		status = unknownValue
	}
	if status == rule.ActiveValue {
		return nil
	}

	severity := rule.Severity
	if status == rule.DownValue {
		severity = rule.DownSeverity
	}

	name := record.SourceName()
	return &model.Detection{
		Category:    model.CategoryServiceHealth,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Severity:    severity,
		Source:      name,
		Description: fmt.Sprintf("%s status is %s", name, status),
		Evidence:    model.Evidence{"status": status},
	}
}

// CheckAlertStatus reports a source whose alert status left the normal value.
func CheckAlertStatus(record model.TelemetryRecord, rule *model.EscalationRule) *model.Detection {
	if rule == nil {
		return nil
	}

	alertStatus := record.AlertStatus
	if alertStatus == "" || alertStatus == rule.NormalValue {
		return nil
	}

	name := record.SourceName()
	return &model.Detection{
		Category:    model.CategoryServiceHealth,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Severity:    rule.SeverityFor(alertStatus),
		Source:      name,
		Description: fmt.Sprintf("%s alert status escalated to %s", name, alertStatus),
		Evidence:    model.Evidence{"alert_status": alertStatus},
	}
}

// CheckStaleness reports a source whose last activity is older than
// rule.Inactivity. Absent or unparsable timestamps are skipped.
func CheckStaleness(record model.TelemetryRecord, rule *model.StalenessRule, now time.Time) *model.Detection {
	if rule == nil || record.LastActivity == "" {
		return nil
	}

	last, err := model.ParseTimestamp(record.LastActivity)
	if err != nil {
		return nil
	}

	idle := now.Sub(last)
	if idle <= rule.Inactivity {
		return nil
	}

	hours := idle.Hours()
	name := record.SourceName()
	return &model.Detection{
		Category:    model.CategoryServiceHealth,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Source:      name,
		Description: fmt.Sprintf("%s has not reported activity for %.1f hours", name, hours),
		Evidence: model.Evidence{
			"last_activity":        record.LastActivity,
			"hours_since_activity": hours,
		},
		Value: model.Float(hours),
	}
}
