package storage

import (
	"strings"
	"sync"
	"time"

	"guarddog/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Storage keeps the most recent findings in memory and fans them out to
// stream subscribers. It implements the engine's notifier interface.
type Storage struct {
	mu          sync.RWMutex
	findings    []Finding
	rules       []Rule
	maxFindings int
	logger      *logrus.Logger
	subs        map[*FindingSubscriber]bool
	subsMu      sync.RWMutex
}

// Finding is a stored finding with its assigned ID
type Finding struct {
	ID string `json:"id"`
	model.Finding
}

type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Enabled     bool   `json:"enabled"`
	Severity    string `json:"severity"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

type FindingSubscriber struct {
	ID      string
	Channel chan Finding
	Filter  FindingFilter
}

type FindingFilter struct {
	Category    string
	Subtype     string
	Source      string
	MinSeverity model.Severity
	Search      string
}

func (f FindingFilter) matches(finding Finding) bool {
	if f.Category != "" && string(finding.Category) != f.Category {
		return false
	}
	if f.Subtype != "" && finding.Subtype != f.Subtype {
		return false
	}
	if f.Source != "" && finding.Source != f.Source {
		return false
	}
	if f.MinSeverity != "" && !finding.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(finding.Description), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

type FindingStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	BySeverity map[string]int `json:"by_severity"`
	BySubtype  map[string]int `json:"by_subtype"`
	Streams    int            `json:"streams"`
}

func NewStorage(maxFindings int, logger *logrus.Logger) *Storage {
	if maxFindings <= 0 {
		maxFindings = 10000
	}
	return &Storage{
		findings:    make([]Finding, 0),
		rules:       make([]Rule, 0),
		maxFindings: maxFindings,
		logger:      logger,
		subs:        make(map[*FindingSubscriber]bool),
	}
}

// SendFinding stores a finding emitted by the engine
func (s *Storage) SendFinding(finding model.Finding) error {
	s.AddFinding(finding)
	return nil
}

// AddFinding assigns an ID, stores the finding and notifies subscribers
func (s *Storage) AddFinding(finding model.Finding) Finding {
	stored := Finding{ID: uuid.NewString(), Finding: finding}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.findings = append(s.findings, stored)
	// Keep only last maxFindings
	if len(s.findings) > s.maxFindings {
		s.findings = s.findings[len(s.findings)-s.maxFindings:]
	}
	s.mu.Unlock()

	s.notifySubscribers(stored)
	return stored
}

// GetFindings returns up to limit findings matching filter, latest first
func (s *Storage) GetFindings(limit int, filter FindingFilter) []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Finding, 0)
	for i := len(s.findings) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.matches(s.findings[i]) {
			result = append(result, s.findings[i])
		}
	}
	return result
}

func (s *Storage) GetFindingByID(id string) *Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.findings {
		if s.findings[i].ID == id {
			f := s.findings[i]
			return &f
		}
	}
	return nil
}

func (s *Storage) GetFindingStats() FindingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := FindingStats{
		Total:      len(s.findings),
		ByCategory: make(map[string]int),
		BySeverity: make(map[string]int),
		BySubtype:  make(map[string]int),
	}
	for _, f := range s.findings {
		stats.ByCategory[string(f.Category)]++
		stats.BySeverity[string(f.Severity)]++
		stats.BySubtype[f.Subtype]++
	}

	s.subsMu.RLock()
	stats.Streams = len(s.subs)
	s.subsMu.RUnlock()
	return stats
}

// Rule methods
func (s *Storage) SetRules(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

func (s *Storage) GetRules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Rule, len(s.rules))
	copy(result, s.rules)
	return result
}

// Subscriber methods
func (s *Storage) SubscribeFindings(sub *FindingSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[sub] = true
}

func (s *Storage) UnsubscribeFindings(sub *FindingSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subs[sub] {
		delete(s.subs, sub)
		close(sub.Channel)
	}
}

func (s *Storage) notifySubscribers(finding Finding) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for sub := range s.subs {
		if !sub.Filter.matches(finding) {
			continue
		}

		select {
		case sub.Channel <- finding:
		default:
			s.logger.Debugf("Subscriber %s channel full, dropping finding", sub.ID)
		}
	}
}
