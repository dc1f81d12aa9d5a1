package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// RuleMeta is the metadata every rule carries into the findings it produces
type RuleMeta struct {
	Name        string   `json:"name" yaml:"name"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Action      Action   `json:"action" yaml:"action"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// PatternRule is a compiled text pattern of the pii_detection category
type PatternRule struct {
	RuleMeta
	Expr        string         `json:"regex"`
	Pattern     *regexp.Regexp `json:"-"`
	Placeholder string         `json:"placeholder,omitempty"`
}

// Type is the redaction type of the pattern. Patterns are typed by name.
func (p PatternRule) Type() string {
	return p.Name
}

// ThresholdRule fires when a value is strictly greater than Threshold
type ThresholdRule struct {
	RuleMeta
	Threshold decimal.Decimal `json:"threshold"`
}

const (
	GroupByGlobal  = "global"
	GroupByAccount = "account"
)

// WindowRule fires when more than MaxCount events fall inside a trailing
// window of length Window
type WindowRule struct {
	RuleMeta
	Window   time.Duration `json:"window"`
	MaxCount int           `json:"max_count"`
	GroupBy  string        `json:"group_by"`
}

// KeyFor returns the window key a transaction is tracked under.
func (w WindowRule) KeyFor(tx TransactionRecord) string {
	if w.GroupBy == GroupByAccount && tx.Account != "" {
		return "account:" + tx.Account
	}
	return GroupByGlobal
}

// StatusRule reports sources whose status is not the active value
type StatusRule struct {
	RuleMeta
	ActiveValue  string   `json:"active_value"`
	DownValue    string   `json:"down_value"`
	DownSeverity Severity `json:"down_severity"`
}

// EscalationRule reports sources whose alert status left the normal value.
// RuleMeta.Severity is used for statuses missing from SeverityMap.
type EscalationRule struct {
	RuleMeta
	NormalValue string              `json:"normal_value"`
	SeverityMap map[string]Severity `json:"severity_map"`
}

// SeverityFor resolves the severity for an alert status.
func (e EscalationRule) SeverityFor(status string) Severity {
	if sev, ok := e.SeverityMap[status]; ok {
		return sev
	}
	return e.Severity
}

// StalenessRule reports sources inactive for longer than Inactivity
type StalenessRule struct {
	RuleMeta
	Inactivity time.Duration `json:"inactivity"`
}

// VolumeRule reports call volumes above Multiplier times the batch mean.
// At CriticalMultiplier and above the CriticalSeverity applies.
type VolumeRule struct {
	RuleMeta
	Multiplier         float64  `json:"multiplier"`
	CriticalMultiplier float64  `json:"critical_multiplier"`
	CriticalSeverity   Severity `json:"critical_severity"`
}

// ConcentrationRule reports a single key holding more than Ratio of all events
type ConcentrationRule struct {
	RuleMeta
	Ratio float64 `json:"ratio"`
}

// SpreadRule reports more than MaxDistinct distinct countries
type SpreadRule struct {
	RuleMeta
	MaxDistinct int `json:"max_distinct"`
}

// TimingRule reports batches where more than OutsideRatio of the calls fall
// outside the inclusive hour range [StartHour, EndHour]
type TimingRule struct {
	RuleMeta
	StartHour    int     `json:"start_hour"`
	EndHour      int     `json:"end_hour"`
	OutsideRatio float64 `json:"outside_ratio"`
}

// InHours reports whether hour falls inside the normal window.
func (t TimingRule) InHours(hour int) bool {
	if t.StartHour <= t.EndHour {
		return hour >= t.StartHour && hour <= t.EndHour
	}
	// window wraps midnight
	return hour >= t.StartHour || hour <= t.EndHour
}
