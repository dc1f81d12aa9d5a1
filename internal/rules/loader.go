package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"guarddog/internal/model"

	prommodel "github.com/prometheus/common/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Rule names understood inside each category
const (
	RuleHighValue      = "high_value_transaction"
	RuleRapid          = "rapid_transactions"
	RuleServiceStatus  = "service_status"
	RuleEscalation     = "alert_escalation"
	RuleStaleData      = "stale_data"
	RuleVolumeSpike    = "volume_spike"
	RuleUnusualTiming  = "unusual_timing"
	RuleConcentration  = "ip_concentration"
	RuleGeographicSpan = "geographic_spread"
)

type loadOptions struct {
	logger      *logrus.Logger
	skipInvalid bool
}

// LoadOption configures Load
type LoadOption func(*loadOptions)

func WithLogger(logger *logrus.Logger) LoadOption {
	return func(o *loadOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSkipInvalidCategories makes Load skip categories that fail validation
// instead of failing. Skipped categories are reported by Catalog.Problems.
func WithSkipInvalidCategories() LoadOption {
	return func(o *loadOptions) {
		o.skipInvalid = true
	}
}

// LoadFile reads a YAML or JSON rule document from disk and loads it
func LoadFile(filename string, opts ...LoadOption) (*Catalog, error) {
	if len(filename) == 0 {
		return nil, fmt.Errorf("rules file path is empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return Load(data, opts...)
}

// Load parses and validates a rule document. Every pattern is compiled here.
// A document that is not well-formed structured data fails with
// *MalformedDocumentError, a rule that fails validation with
// *ValidationError.
func Load(document []byte, opts ...LoadOption) (*Catalog, error) {
	o := loadOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	top, err := parseDocument(document)
	if err != nil {
		return nil, &MalformedDocumentError{Err: err}
	}

	categories := top
	wrapped := false
	if rulesNode := lookup(top, "rules"); rulesNode != nil {
		if rulesNode.Kind != yaml.MappingNode {
			return nil, &MalformedDocumentError{Err: errors.New("rules must be a mapping of categories")}
		}
		categories = rulesNode
		wrapped = true
	}

	catalog := &Catalog{}
	seen := make(map[model.Category]bool)

	for _, entry := range pairs(categories) {
		category, ok := model.ParseCategory(entry.key)
		if !ok {
			if wrapped {
				o.logger.Warnf("Unknown rule category: %s", entry.key)
			}
			continue
		}

		var loadErr error
		switch {
		case seen[category]:
			loadErr = invalid(category, "", "category defined more than once")
		case entry.value.Kind != yaml.MappingNode:
			o.logger.Warnf("Rule category %s is not a mapping, treating it as disabled", category)
			continue
		default:
			loadErr = loadCategory(catalog, category, entry.value, o.logger)
		}
		seen[category] = true

		if loadErr != nil {
			if !o.skipInvalid {
				return nil, loadErr
			}
			o.logger.Errorf("Skipping rule category %s: %v", category, loadErr)
			catalog.problems = append(catalog.problems, loadErr)
			catalog.drop(category)
		}
	}

	o.logger.Infof("Loaded rule catalog, enabled categories: %v", catalog.Enabled())
	return catalog, nil
}

func (c *Catalog) drop(category model.Category) {
	switch category {
	case model.CategoryPII:
		c.pii = nil
	case model.CategoryFinancial:
		c.financial = nil
	case model.CategoryServiceHealth:
		c.service = nil
	case model.CategoryUsageBaseline:
		c.usage = nil
	}
}

// parseDocument returns the root mapping of a YAML or JSON document.
func parseDocument(document []byte) (*yaml.Node, error) {
	trimmed := bytes.TrimSpace(document)
	if len(trimmed) == 0 {
		return nil, errors.New("document is empty")
	}

	isJSON := trimmed[0] == '{' || trimmed[0] == '['
	if isJSON {
		var parsed interface{}
		if err := json.Unmarshal(trimmed, &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(trimmed, &root); err != nil {
		if !isJSON {
			return nil, err
		}
		// valid JSON the YAML scanner rejects (tab indentation); key order is lost
		var value interface{}
		if jerr := json.Unmarshal(trimmed, &value); jerr != nil {
			return nil, jerr
		}
		root = yaml.Node{}
		if eerr := root.Encode(value); eerr != nil {
			return nil, eerr
		}
	}

	top := &root
	if top.Kind == yaml.DocumentNode {
		if len(top.Content) == 0 {
			return nil, errors.New("document is empty")
		}
		top = top.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at the document root, got %s", kindName(top.Kind))
	}
	return top, nil
}

type nodeEntry struct {
	key   string
	value *yaml.Node
}

// pairs returns the entries of a mapping node in document order.
func pairs(n *yaml.Node) []nodeEntry {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	entries := make([]nodeEntry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		entries = append(entries, nodeEntry{key: n.Content[i].Value, value: n.Content[i+1]})
	}
	return entries
}

func lookup(n *yaml.Node, key string) *yaml.Node {
	for _, e := range pairs(n) {
		if e.key == key {
			return e.value
		}
	}
	return nil
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an unknown node"
	}
}

type categoryDoc struct {
	Enabled  *bool     `yaml:"enabled"`
	Patterns yaml.Node `yaml:"patterns"`
	Rules    yaml.Node `yaml:"rules"`
}

type metaDoc struct {
	Severity    string `yaml:"severity"`
	Risk        string `yaml:"risk"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

type patternDoc struct {
	metaDoc       `yaml:",inline"`
	Regex         string `yaml:"regex"`
	Pattern       string `yaml:"pattern"`
	Placeholder   string `yaml:"placeholder"`
	CaseSensitive bool   `yaml:"caseSensitive"`
}

type ruleDoc struct {
	metaDoc `yaml:",inline"`

	Threshold *decimalValue `yaml:"threshold"`

	WindowDuration string `yaml:"windowDuration"`
	TimeWindow     string `yaml:"timeWindow"`
	MaxCount       *int   `yaml:"maxCount"`
	Count          *int   `yaml:"count"`
	GroupBy        string `yaml:"groupBy"`

	ActiveValue     string            `yaml:"activeValue"`
	DownValue       string            `yaml:"downValue"`
	DownSeverity    string            `yaml:"downSeverity"`
	NormalValue     string            `yaml:"normalValue"`
	SeverityMap     map[string]string `yaml:"severityMap"`
	DefaultSeverity string            `yaml:"defaultSeverity"`
	Inactivity      string            `yaml:"inactivity"`

	Multiplier         *float64 `yaml:"multiplier"`
	CriticalMultiplier *float64 `yaml:"criticalMultiplier"`
	CriticalSeverity   string   `yaml:"criticalSeverity"`
	Ratio              *float64 `yaml:"ratio"`
	MaxDistinct        *int     `yaml:"maxDistinct"`
	StartHour          *int     `yaml:"startHour"`
	EndHour            *int     `yaml:"endHour"`
	OutsideRatio       *float64 `yaml:"outsideRatio"`
}

type decimalValue struct {
	decimal.Decimal
}

func (d *decimalValue) UnmarshalYAML(n *yaml.Node) error {
	v, err := decimal.NewFromString(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("invalid number %q", n.Value)
	}
	d.Decimal = v
	return nil
}

func loadCategory(catalog *Catalog, category model.Category, node *yaml.Node, logger *logrus.Logger) error {
	var doc categoryDoc
	if err := node.Decode(&doc); err != nil {
		return invalid(category, "", "%v", err)
	}
	if doc.Enabled == nil {
		return invalid(category, "", "enabled flag is required")
	}
	if !*doc.Enabled {
		logger.Debugf("Rule category %s is disabled", category)
		return nil
	}

	l := &categoryLoader{category: category, logger: logger}

	switch category {
	case model.CategoryPII:
		rules, err := l.pii(&doc.Patterns)
		if err != nil {
			return err
		}
		catalog.pii = rules
	case model.CategoryFinancial:
		rules, err := l.financial(&doc.Rules)
		if err != nil {
			return err
		}
		catalog.financial = rules
	case model.CategoryServiceHealth:
		rules, err := l.serviceHealth(&doc.Rules)
		if err != nil {
			return err
		}
		catalog.service = rules
	case model.CategoryUsageBaseline:
		rules, err := l.usageBaseline(&doc.Rules)
		if err != nil {
			return err
		}
		catalog.usage = rules
	}
	return nil
}

type categoryLoader struct {
	category model.Category
	logger   *logrus.Logger
}

func (l *categoryLoader) entries(node *yaml.Node, what string) ([]nodeEntry, error) {
	entries := pairs(node)
	if len(entries) == 0 {
		return nil, invalid(l.category, "", "%s are required", what)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.key] {
			return nil, invalid(l.category, e.key, "defined more than once")
		}
		seen[e.key] = true
	}
	return entries, nil
}

func (l *categoryLoader) pii(node *yaml.Node) (*PIIRules, error) {
	entries, err := l.entries(node, "patterns")
	if err != nil {
		return nil, err
	}

	rules := &PIIRules{Patterns: make([]model.PatternRule, 0, len(entries))}
	for _, e := range entries {
		var doc patternDoc
		if err := e.value.Decode(&doc); err != nil {
			return nil, invalid(l.category, e.key, "%v", err)
		}

		expr := doc.Regex
		if expr == "" {
			expr = doc.Pattern
		}
		if expr == "" {
			return nil, invalid(l.category, e.key, "regex is required")
		}

		source := expr
		if !doc.CaseSensitive {
			source = "(?i)" + expr
		}
		compiled, err := regexp.Compile(source)
		if err != nil {
			return nil, invalid(l.category, e.key, "pattern does not compile: %v", err)
		}

		meta, err := l.meta(e.key, doc.metaDoc)
		if err != nil {
			return nil, err
		}

		rules.Patterns = append(rules.Patterns, model.PatternRule{
			RuleMeta:    meta,
			Expr:        expr,
			Pattern:     compiled,
			Placeholder: doc.Placeholder,
		})
	}
	return rules, nil
}

func (l *categoryLoader) financial(node *yaml.Node) (*FinancialRules, error) {
	entries, err := l.entries(node, "rules")
	if err != nil {
		return nil, err
	}

	rules := &FinancialRules{}
	for _, e := range entries {
		var doc ruleDoc
		if err := e.value.Decode(&doc); err != nil {
			return nil, invalid(l.category, e.key, "%v", err)
		}

		switch e.key {
		case RuleHighValue:
			if doc.Threshold == nil {
				return nil, invalid(l.category, e.key, "threshold is required")
			}
			if !doc.Threshold.IsPositive() {
				return nil, invalid(l.category, e.key, "threshold must be positive")
			}
			meta, err := l.meta(e.key, doc.metaDoc)
			if err != nil {
				return nil, err
			}
			rules.HighValue = &model.ThresholdRule{RuleMeta: meta, Threshold: doc.Threshold.Decimal}

		case RuleRapid:
			rule, err := l.windowRule(e.key, doc)
			if err != nil {
				return nil, err
			}
			rules.Rapid = rule

		default:
			l.logger.Warnf("Unknown rule %s in category %s", e.key, l.category)
		}
	}

	if rules.HighValue == nil && rules.Rapid == nil {
		return nil, invalid(l.category, "", "no known rules defined")
	}
	return rules, nil
}

func (l *categoryLoader) windowRule(name string, doc ruleDoc) (*model.WindowRule, error) {
	token := doc.WindowDuration
	if token == "" {
		token = doc.TimeWindow
	}
	window, err := ParseWindow(token)
	if err != nil {
		return nil, invalid(l.category, name, "%v", err)
	}

	maxCount := doc.MaxCount
	if maxCount == nil {
		maxCount = doc.Count
	}
	if maxCount == nil {
		return nil, invalid(l.category, name, "maxCount is required")
	}
	if *maxCount < 1 {
		return nil, invalid(l.category, name, "maxCount must be at least 1")
	}

	groupBy := strings.ToLower(doc.GroupBy)
	switch groupBy {
	case "":
		groupBy = model.GroupByGlobal
	case model.GroupByGlobal, model.GroupByAccount:
	default:
		return nil, invalid(l.category, name, "unknown groupBy %q", doc.GroupBy)
	}

	meta, err := l.meta(name, doc.metaDoc)
	if err != nil {
		return nil, err
	}
	return &model.WindowRule{RuleMeta: meta, Window: window, MaxCount: *maxCount, GroupBy: groupBy}, nil
}

func (l *categoryLoader) serviceHealth(node *yaml.Node) (*ServiceHealthRules, error) {
	entries, err := l.entries(node, "rules")
	if err != nil {
		return nil, err
	}

	rules := &ServiceHealthRules{}
	for _, e := range entries {
		var doc ruleDoc
		if err := e.value.Decode(&doc); err != nil {
			return nil, invalid(l.category, e.key, "%v", err)
		}

		switch e.key {
		case RuleServiceStatus:
			meta, err := l.meta(e.key, doc.metaDoc)
			if err != nil {
				return nil, err
			}
			downSeverity, err := l.severityOr(e.key, doc.DownSeverity, model.SeverityCritical)
			if err != nil {
				return nil, err
			}
			rules.Status = &model.StatusRule{
				RuleMeta:     meta,
				ActiveValue:  orDefault(doc.ActiveValue, "active"),
				DownValue:    orDefault(doc.DownValue, "down"),
				DownSeverity: downSeverity,
			}

		case RuleEscalation:
			if doc.DefaultSeverity != "" {
				doc.Severity = doc.DefaultSeverity
			}
			if doc.Severity == "" && doc.Risk == "" {
				doc.Severity = string(model.SeverityWarning)
			}
			meta, err := l.meta(e.key, doc.metaDoc)
			if err != nil {
				return nil, err
			}
			severityMap := map[string]model.Severity{
				"elevated": model.SeverityWarning,
				"high":     model.SeverityWarning,
				"critical": model.SeverityCritical,
			}
			if len(doc.SeverityMap) > 0 {
				severityMap = make(map[string]model.Severity, len(doc.SeverityMap))
				for status, value := range doc.SeverityMap {
					sev, err := model.ParseSeverity(value)
					if err != nil {
						return nil, invalid(l.category, e.key, "severityMap[%s]: %v", status, err)
					}
					severityMap[status] = sev
				}
			}
			rules.Escalation = &model.EscalationRule{
				RuleMeta:    meta,
				NormalValue: orDefault(doc.NormalValue, "normal"),
				SeverityMap: severityMap,
			}

		case RuleStaleData:
			inactivity := 2 * time.Hour
			if doc.Inactivity != "" {
				inactivity, err = ParseWindow(doc.Inactivity)
				if err != nil {
					return nil, invalid(l.category, e.key, "%v", err)
				}
			}
			meta, err := l.meta(e.key, doc.metaDoc)
			if err != nil {
				return nil, err
			}
			rules.Staleness = &model.StalenessRule{RuleMeta: meta, Inactivity: inactivity}

		default:
			l.logger.Warnf("Unknown rule %s in category %s", e.key, l.category)
		}
	}

	if rules.Status == nil && rules.Escalation == nil && rules.Staleness == nil {
		return nil, invalid(l.category, "", "no known rules defined")
	}
	return rules, nil
}

func (l *categoryLoader) usageBaseline(node *yaml.Node) (*UsageBaselineRules, error) {
	entries, err := l.entries(node, "rules")
	if err != nil {
		return nil, err
	}

	rules := &UsageBaselineRules{}
	for _, e := range entries {
		var doc ruleDoc
		if err := e.value.Decode(&doc); err != nil {
			return nil, invalid(l.category, e.key, "%v", err)
		}

		if !isKnownUsageRule(e.key) {
			l.logger.Warnf("Unknown rule %s in category %s", e.key, l.category)
			continue
		}

		meta, err := l.meta(e.key, doc.metaDoc)
		if err != nil {
			return nil, err
		}

		switch e.key {
		case RuleVolumeSpike:
			multiplier := floatOr(doc.Multiplier, 3)
			critical := floatOr(doc.CriticalMultiplier, 5)
			if multiplier <= 0 {
				return nil, invalid(l.category, e.key, "multiplier must be positive")
			}
			if critical < multiplier {
				return nil, invalid(l.category, e.key, "criticalMultiplier %.2f is below multiplier %.2f", critical, multiplier)
			}
			criticalSeverity, err := l.severityOr(e.key, doc.CriticalSeverity, model.SeverityCritical)
			if err != nil {
				return nil, err
			}
			rules.Volume = &model.VolumeRule{
				RuleMeta:           meta,
				Multiplier:         multiplier,
				CriticalMultiplier: critical,
				CriticalSeverity:   criticalSeverity,
			}

		case RuleUnusualTiming:
			start := intOr(doc.StartHour, 9)
			end := intOr(doc.EndHour, 18)
			if start < 0 || start > 23 || end < 0 || end > 23 {
				return nil, invalid(l.category, e.key, "hours must be within 0-23")
			}
			ratio := floatOr(doc.OutsideRatio, 0.1)
			if ratio < 0 || ratio >= 1 {
				return nil, invalid(l.category, e.key, "outsideRatio must be within [0, 1)")
			}
			rules.Timing = &model.TimingRule{RuleMeta: meta, StartHour: start, EndHour: end, OutsideRatio: ratio}

		case RuleConcentration:
			ratio := floatOr(doc.Ratio, 0.3)
			if ratio <= 0 || ratio > 1 {
				return nil, invalid(l.category, e.key, "ratio must be within (0, 1]")
			}
			rules.Concentration = &model.ConcentrationRule{RuleMeta: meta, Ratio: ratio}

		case RuleGeographicSpan:
			maxDistinct := intOr(doc.MaxDistinct, 10)
			if maxDistinct < 0 {
				return nil, invalid(l.category, e.key, "maxDistinct must not be negative")
			}
			rules.Spread = &model.SpreadRule{RuleMeta: meta, MaxDistinct: maxDistinct}
		}
	}

	if rules.Volume == nil && rules.Timing == nil && rules.Concentration == nil && rules.Spread == nil {
		return nil, invalid(l.category, "", "no known rules defined")
	}
	return rules, nil
}

func isKnownUsageRule(name string) bool {
	switch name {
	case RuleVolumeSpike, RuleUnusualTiming, RuleConcentration, RuleGeographicSpan:
		return true
	}
	return false
}

// meta validates severity and action. Missing values are accepted with a
// warning: findings of such a rule are refused at emission time.
func (l *categoryLoader) meta(name string, doc metaDoc) (model.RuleMeta, error) {
	meta := model.RuleMeta{Name: name, Description: doc.Description}

	severity := doc.Severity
	if severity == "" {
		severity = doc.Risk
	}
	if severity != "" {
		sev, err := model.ParseSeverity(severity)
		if err != nil {
			return meta, invalid(l.category, name, "%v", err)
		}
		meta.Severity = sev
	} else {
		l.logger.Warnf("Rule %s.%s has no severity, its findings will be refused", l.category, name)
	}

	if doc.Action != "" {
		action, err := model.ParseAction(doc.Action)
		if err != nil {
			return meta, invalid(l.category, name, "%v", err)
		}
		meta.Action = action
	} else {
		l.logger.Warnf("Rule %s.%s has no action, its findings will be refused", l.category, name)
	}

	return meta, nil
}

func (l *categoryLoader) severityOr(name, value string, fallback model.Severity) (model.Severity, error) {
	if value == "" {
		return fallback, nil
	}
	sev, err := model.ParseSeverity(value)
	if err != nil {
		return "", invalid(l.category, name, "%v", err)
	}
	return sev, nil
}

// ParseWindow parses a duration in Prometheus syntax (90s, 60m, 1h, 1d) or
// the legacy <n>_<unit> form (1_hour, 30_minutes).
func ParseWindow(token string) (time.Duration, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return 0, fmt.Errorf("window duration is required")
	}

	if parts := strings.SplitN(token, "_", 2); len(parts) == 2 {
		n, err := strconv.Atoi(parts[0])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", token)
		}
		var unit time.Duration
		switch strings.TrimSuffix(parts[1], "s") {
		case "second":
			unit = time.Second
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		default:
			return 0, fmt.Errorf("invalid duration unit in %q", token)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := prommodel.ParseDuration(token)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", token, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", token)
	}
	return time.Duration(d), nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func floatOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}

func intOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}
