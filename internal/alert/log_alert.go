package alert

import (
	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes findings to the local log
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger,
	}
}

// SendFinding logs critical findings at error level and the rest at warn.
// Evidence is not logged.
func (ln *LogNotifier) SendFinding(finding model.Finding) error {
	entry := ln.logger.WithFields(logrus.Fields{
		"category": finding.Category,
		"subtype":  finding.Subtype,
		"severity": finding.Severity,
		"action":   finding.Action,
		"source":   finding.Source,
	})

	if finding.Severity == model.SeverityCritical {
		entry.Errorf("FINDING [%s] %s: %s", finding.Severity, finding.Subtype, finding.Description)
		return nil
	}
	entry.Warnf("FINDING [%s] %s: %s", finding.Severity, finding.Subtype, finding.Description)
	return nil
}
