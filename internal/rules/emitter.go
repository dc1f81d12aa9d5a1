package rules

import (
	"time"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
)

// Emitter normalises detections into findings and hands them to the
// notifiers. It keeps no copy; the scan call returns what it emitted.
// A finding is never changed after emission.
type Emitter struct {
	logger    *logrus.Logger
	notifiers []Notifier
	metrics   *Metrics
}

func NewEmitter(logger *logrus.Logger, metrics *Metrics, notifiers ...Notifier) *Emitter {
	return &Emitter{
		logger:    logger,
		notifiers: notifiers,
		metrics:   metrics,
	}
}

// Emit turns d into a finding stamped with at. Detections whose severity or
// action is not valid are refused and logged.
func (e *Emitter) Emit(d model.Detection, at time.Time) (model.Finding, bool) {
	severity := d.Severity
	if severity == "" {
		severity = d.Rule.Severity
	}
	if !severity.Valid() {
		e.logger.Errorf("[Emitter] Refusing finding %s/%s: invalid severity %q", d.Category, d.Subtype, severity)
		e.metrics.recordDropped(d.Category, d.Subtype)
		return model.Finding{}, false
	}
	if !d.Rule.Action.Valid() {
		e.logger.Errorf("[Emitter] Refusing finding %s/%s: invalid action %q", d.Category, d.Subtype, d.Rule.Action)
		e.metrics.recordDropped(d.Category, d.Subtype)
		return model.Finding{}, false
	}

	source := d.Source
	if source == "" {
		source = "unknown"
	}

	finding := model.Finding{
		Category:    d.Category,
		Subtype:     d.Subtype,
		Severity:    severity,
		Action:      d.Rule.Action,
		Source:      source,
		Description: d.Description,
		Evidence:    d.Evidence,
		MatchCount:  d.MatchCount,
		Value:       d.Value,
		Timestamp:   at,
	}

	e.metrics.recordFinding(finding)

	for _, notifier := range e.notifiers {
		if err := notifier.SendFinding(finding); err != nil {
			e.logger.Errorf("Failed to send finding: %v", err)
		}
	}

	return finding, true
}
