package alert

import "guarddog/internal/model"

// Notifier interface for finding notification
type Notifier interface {
	SendFinding(finding model.Finding) error
}

// SeverityFilter forwards only findings at or above a minimum severity
type SeverityFilter struct {
	next Notifier
	min  model.Severity
}

func NewSeverityFilter(next Notifier, min model.Severity) *SeverityFilter {
	return &SeverityFilter{next: next, min: min}
}

func (f *SeverityFilter) SendFinding(finding model.Finding) error {
	if !finding.Severity.AtLeast(f.min) {
		return nil
	}
	return f.next.SendFinding(finding)
}
