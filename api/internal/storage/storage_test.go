package storage

import (
	"io"
	"testing"
	"time"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(max int) *Storage {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewStorage(max, logger)
}

func finding(category model.Category, subtype string, severity model.Severity, description string) model.Finding {
	return model.Finding{
		Category:    category,
		Subtype:     subtype,
		Severity:    severity,
		Action:      model.ActionAlert,
		Source:      "test",
		Description: description,
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStorage_AddAndQuery(t *testing.T) {
	s := newTestStorage(10)

	first := s.AddFinding(finding(model.CategoryPII, "email", model.SeverityWarning, "Found 1 email match(es)"))
	require.NoError(t, s.SendFinding(finding(model.CategoryServiceHealth, "service_status", model.SeverityCritical, "plaid status is down")))
	s.AddFinding(finding(model.CategoryPII, "ssn", model.SeverityInfo, "Found 2 ssn match(es)"))

	assert.NotEmpty(t, first.ID)

	all := s.GetFindings(10, FindingFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "ssn", all[0].Subtype, "latest first")
	assert.Equal(t, first.ID, all[2].ID)

	assert.Len(t, s.GetFindings(10, FindingFilter{Category: "pii_detection"}), 2)
	assert.Len(t, s.GetFindings(10, FindingFilter{MinSeverity: model.SeverityWarning}), 2)
	assert.Len(t, s.GetFindings(10, FindingFilter{Search: "PLAID"}), 1)
	assert.Len(t, s.GetFindings(1, FindingFilter{}), 1)

	got := s.GetFindingByID(first.ID)
	require.NotNil(t, got)
	assert.Equal(t, "email", got.Subtype)
	assert.Nil(t, s.GetFindingByID("missing"))
}

func TestStorage_CapsStoredFindings(t *testing.T) {
	s := newTestStorage(2)
	for _, subtype := range []string{"a", "b", "c"} {
		s.AddFinding(finding(model.CategoryPII, subtype, model.SeverityInfo, ""))
	}

	all := s.GetFindings(10, FindingFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].Subtype)
	assert.Equal(t, "b", all[1].Subtype)
}

func TestStorage_Stats(t *testing.T) {
	s := newTestStorage(10)
	s.AddFinding(finding(model.CategoryPII, "email", model.SeverityWarning, ""))
	s.AddFinding(finding(model.CategoryPII, "email", model.SeverityCritical, ""))
	s.AddFinding(finding(model.CategoryUsageBaseline, "volume_spike", model.SeverityCritical, ""))

	stats := s.GetFindingStats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByCategory["pii_detection"])
	assert.Equal(t, 2, stats.BySeverity["critical"])
	assert.Equal(t, 2, stats.BySubtype["email"])
}

func TestStorage_Subscribers(t *testing.T) {
	s := newTestStorage(10)
	sub := &FindingSubscriber{
		ID:      "sub",
		Channel: make(chan Finding, 1),
		Filter:  FindingFilter{Category: "service_health"},
	}
	s.SubscribeFindings(sub)

	s.AddFinding(finding(model.CategoryPII, "email", model.SeverityWarning, ""))
	s.AddFinding(finding(model.CategoryServiceHealth, "service_status", model.SeverityCritical, ""))
	// channel is full, this one is dropped rather than blocking
	s.AddFinding(finding(model.CategoryServiceHealth, "alert_escalation", model.SeverityWarning, ""))

	got := <-sub.Channel
	assert.Equal(t, "service_status", got.Subtype)

	s.UnsubscribeFindings(sub)
	_, open := <-sub.Channel
	assert.False(t, open)

	// unsubscribing twice is harmless
	s.UnsubscribeFindings(sub)
}

func TestStorage_Rules(t *testing.T) {
	s := newTestStorage(0)
	s.SetRules([]Rule{{ID: "pii_detection.ssn", Name: "ssn", Category: "pii_detection", Enabled: true}})

	rules := s.GetRules()
	require.Len(t, rules, 1)
	rules[0].Name = "changed"
	assert.Equal(t, "ssn", s.GetRules()[0].Name)
}
