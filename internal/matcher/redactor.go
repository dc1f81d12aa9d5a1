package matcher

import (
	"sort"
	"strings"
	"sync"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
)

// GenericPlaceholder replaces spans whose type has no registered placeholder
const GenericPlaceholder = "[REDACTED]"

var defaultPlaceholders = map[string]string{
	"ssn":         "[SSN_REDACTED]",
	"credit_card": "[CREDIT_CARD_REDACTED]",
	"email":       "[EMAIL_REDACTED]",
	"phone":       "[PHONE_REDACTED]",
	"address":     "[ADDRESS_REDACTED]",
	"name":        "[NAME_REDACTED]",
	"ip_address":  "[IP_ADDRESS_REDACTED]",
	"iban":        "[IBAN_REDACTED]",
}

// Redactor replaces matched spans with fixed per-type placeholders
type Redactor struct {
	placeholders map[string]string
	warned       map[string]bool
	logger       *logrus.Logger
	mu           sync.RWMutex
}

func NewRedactor(logger *logrus.Logger) *Redactor {
	placeholders := make(map[string]string, len(defaultPlaceholders))
	for k, v := range defaultPlaceholders {
		placeholders[k] = v
	}
	return &Redactor{
		placeholders: placeholders,
		warned:       make(map[string]bool),
		logger:       logger,
	}
}

// Register sets the placeholder for a pattern type.
func (r *Redactor) Register(patternType, placeholder string) {
	if placeholder == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placeholders[patternType] = placeholder
}

// RegisterPatterns registers the configured placeholders of a pattern set.
func (r *Redactor) RegisterPatterns(patterns []model.PatternRule) {
	for _, p := range patterns {
		r.Register(p.Type(), p.Placeholder)
	}
}

// Placeholder returns the placeholder for a type, falling back to the
// generic one. Each fallback type is logged once.
func (r *Redactor) Placeholder(patternType string) string {
	r.mu.RLock()
	placeholder, ok := r.placeholders[patternType]
	r.mu.RUnlock()
	if ok {
		return placeholder
	}

	r.mu.Lock()
	if !r.warned[patternType] {
		r.warned[patternType] = true
		if r.logger != nil {
			r.logger.Warnf("[Redactor] No placeholder registered for type %q, using %s", patternType, GenericPlaceholder)
		}
	}
	r.mu.Unlock()
	return GenericPlaceholder
}

// Redact replaces the match and every other occurrence of its span.
func (r *Redactor) Redact(text string, m MatchResult) string {
	return r.RedactAll(text, []MatchResult{m})
}

type region struct {
	start, end int
	typ        string
}

// RedactAll replaces every matched span of text. Overlapping spans of
// different types are merged into one region that takes the placeholder of
// the span starting first (the longest one on ties).
func (r *Redactor) RedactAll(text string, matches []MatchResult) string {
	regions := make([]region, 0, len(matches))
	for _, m := range matches {
		if m.Span == "" || m.Start < 0 || m.End > len(text) || m.Start >= m.End || text[m.Start:m.End] != m.Span {
			continue
		}
		regions = append(regions, region{start: m.Start, end: m.End, typ: m.Type})
	}
	if len(regions) == 0 {
		return r.scrub(text, matches)
	}

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].start != regions[j].start {
			return regions[i].start < regions[j].start
		}
		return regions[i].end > regions[j].end
	})

	merged := []region{regions[0]}
	for _, reg := range regions[1:] {
		last := &merged[len(merged)-1]
		if reg.start < last.end {
			if reg.end > last.end {
				last.end = reg.end
			}
			continue
		}
		merged = append(merged, reg)
	}

	var b strings.Builder
	prev := 0
	for _, reg := range merged {
		b.WriteString(text[prev:reg.start])
		b.WriteString(r.Placeholder(reg.typ))
		prev = reg.end
	}
	b.WriteString(text[prev:])

	return r.scrub(b.String(), matches)
}

// scrub removes any remaining copy of a matched span, e.g. an occurrence the
// pattern skipped because it overlapped a previous match.
func (r *Redactor) scrub(text string, matches []MatchResult) string {
	for _, m := range matches {
		if m.Span == "" || !strings.Contains(text, m.Span) {
			continue
		}
		text = strings.ReplaceAll(text, m.Span, r.Placeholder(m.Type))
	}
	if leaks(text, matches) {
		// a span is part of a placeholder; nothing of the text can be kept
		if leaks(GenericPlaceholder, matches) {
			return ""
		}
		return GenericPlaceholder
	}
	return text
}

func leaks(text string, matches []MatchResult) bool {
	for _, m := range matches {
		if m.Span != "" && strings.Contains(text, m.Span) {
			return true
		}
	}
	return false
}

// RedactValue returns a copy of a decoded JSON value with every string leaf
// redacted against the given patterns.
func (r *Redactor) RedactValue(value interface{}, patterns []model.PatternRule) interface{} {
	switch v := value.(type) {
	case string:
		matches := Match(v, patterns)
		if len(matches) == 0 {
			return v
		}
		return r.RedactAll(v, matches)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = r.RedactValue(item, patterns)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = r.RedactValue(item, patterns)
		}
		return out
	default:
		return v
	}
}
