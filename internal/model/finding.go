package model

import "time"

// Evidence carries the redacted content or metadata that justified a finding
type Evidence map[string]interface{}

// Finding is one detected rule violation or anomaly
type Finding struct {
	Category    Category  `json:"category"`
	Subtype     string    `json:"subtype"`
	Severity    Severity  `json:"severity"`
	Action      Action    `json:"action"`
	Source      string    `json:"source"`
	Description string    `json:"description,omitempty"`
	Evidence    Evidence  `json:"evidence,omitempty"`
	MatchCount  int       `json:"match_count,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Detection is a raw rule hit before it is normalised into a Finding.
// Severity overrides Rule.Severity when a rule has several tiers.
type Detection struct {
	Category    Category
	Subtype     string
	Rule        RuleMeta
	Severity    Severity
	Source      string
	Description string
	Evidence    Evidence
	MatchCount  int
	Value       *float64
}

// Float is a helper for optional metric values.
func Float(v float64) *float64 {
	return &v
}
