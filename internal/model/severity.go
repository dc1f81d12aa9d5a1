package model

import (
	"fmt"
	"strings"
)

// Severity is the ordered classification attached to every finding
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a configured severity onto the three output levels.
// The legacy low/medium/high vocabulary of older rule files is folded in;
// anything else is rejected.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "low":
		return SeverityInfo, nil
	case "warning", "warn", "medium", "high":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	case "":
		return "", fmt.Errorf("severity is required")
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities: info < warning < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Action is the recommended response attached to a finding
type Action string

const (
	ActionAlert  Action = "alert"
	ActionLog    Action = "log"
	ActionBlock  Action = "block"
	ActionReview Action = "review"
	ActionRedact Action = "redact"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAlert, ActionLog, ActionBlock, ActionReview, ActionRedact:
		return a, nil
	case "":
		return "", fmt.Errorf("action is required")
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) Valid() bool {
	switch a {
	case ActionAlert, ActionLog, ActionBlock, ActionReview, ActionRedact:
		return true
	}
	return false
}

// Category identifies a rule group in the rule document
type Category string

const (
	CategoryPII           Category = "pii_detection"
	CategoryFinancial     Category = "financial_compliance"
	CategoryServiceHealth Category = "service_health"
	CategoryUsageBaseline Category = "usage_baseline"
)

// Categories lists every category in traversal order.
var Categories = []Category{
	CategoryPII,
	CategoryFinancial,
	CategoryServiceHealth,
	CategoryUsageBaseline,
}

func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
