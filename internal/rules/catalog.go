package rules

import "guarddog/internal/model"

// CategoryRules is the validated rule set of one enabled category
type CategoryRules interface {
	Category() model.Category
	RuleNames() []string
	Metas() []model.RuleMeta
}

func names(metas []model.RuleMeta) []string {
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.Name
	}
	return out
}

// PIIRules holds the compiled patterns of pii_detection in document order
type PIIRules struct {
	Patterns []model.PatternRule
}

func (r *PIIRules) Category() model.Category { return model.CategoryPII }

func (r *PIIRules) RuleNames() []string { return names(r.Metas()) }

func (r *PIIRules) Metas() []model.RuleMeta {
	metas := make([]model.RuleMeta, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		metas = append(metas, p.RuleMeta)
	}
	return metas
}

// FinancialRules holds the transaction checks of financial_compliance
type FinancialRules struct {
	HighValue *model.ThresholdRule
	Rapid     *model.WindowRule
}

func (r *FinancialRules) Category() model.Category { return model.CategoryFinancial }

func (r *FinancialRules) RuleNames() []string { return names(r.Metas()) }

func (r *FinancialRules) Metas() []model.RuleMeta {
	var metas []model.RuleMeta
	if r.HighValue != nil {
		metas = append(metas, r.HighValue.RuleMeta)
	}
	if r.Rapid != nil {
		metas = append(metas, r.Rapid.RuleMeta)
	}
	return metas
}

// ServiceHealthRules holds the status and escalation checks of service_health
type ServiceHealthRules struct {
	Status     *model.StatusRule
	Escalation *model.EscalationRule
	Staleness  *model.StalenessRule
}

func (r *ServiceHealthRules) Category() model.Category { return model.CategoryServiceHealth }

func (r *ServiceHealthRules) RuleNames() []string { return names(r.Metas()) }

func (r *ServiceHealthRules) Metas() []model.RuleMeta {
	var metas []model.RuleMeta
	if r.Status != nil {
		metas = append(metas, r.Status.RuleMeta)
	}
	if r.Escalation != nil {
		metas = append(metas, r.Escalation.RuleMeta)
	}
	if r.Staleness != nil {
		metas = append(metas, r.Staleness.RuleMeta)
	}
	return metas
}

// UsageBaselineRules holds the statistical checks of usage_baseline
type UsageBaselineRules struct {
	Volume        *model.VolumeRule
	Timing        *model.TimingRule
	Concentration *model.ConcentrationRule
	Spread        *model.SpreadRule
}

func (r *UsageBaselineRules) Category() model.Category { return model.CategoryUsageBaseline }

func (r *UsageBaselineRules) RuleNames() []string { return names(r.Metas()) }

func (r *UsageBaselineRules) Metas() []model.RuleMeta {
	var metas []model.RuleMeta
	if r.Volume != nil {
		metas = append(metas, r.Volume.RuleMeta)
	}
	if r.Timing != nil {
		metas = append(metas, r.Timing.RuleMeta)
	}
	if r.Concentration != nil {
		metas = append(metas, r.Concentration.RuleMeta)
	}
	if r.Spread != nil {
		metas = append(metas, r.Spread.RuleMeta)
	}
	return metas
}

// Catalog is the immutable, validated rule set of a session. Accessors
// return nil for categories that are absent or disabled.
type Catalog struct {
	pii       *PIIRules
	financial *FinancialRules
	service   *ServiceHealthRules
	usage     *UsageBaselineRules
	problems  []error
}

func (c *Catalog) PII() *PIIRules                     { return c.pii }
func (c *Catalog) Financial() *FinancialRules         { return c.financial }
func (c *Catalog) ServiceHealth() *ServiceHealthRules { return c.service }
func (c *Catalog) UsageBaseline() *UsageBaselineRules { return c.usage }

// Category returns the rules of an enabled category or ErrNotEnabled.
func (c *Catalog) Category(category model.Category) (CategoryRules, error) {
	var rules CategoryRules
	switch category {
	case model.CategoryPII:
		if c.pii != nil {
			rules = c.pii
		}
	case model.CategoryFinancial:
		if c.financial != nil {
			rules = c.financial
		}
	case model.CategoryServiceHealth:
		if c.service != nil {
			rules = c.service
		}
	case model.CategoryUsageBaseline:
		if c.usage != nil {
			rules = c.usage
		}
	}
	if rules == nil {
		return nil, ErrNotEnabled
	}
	return rules, nil
}

// Enabled lists the enabled categories in traversal order.
func (c *Catalog) Enabled() []model.Category {
	var enabled []model.Category
	for _, category := range model.Categories {
		if _, err := c.Category(category); err == nil {
			enabled = append(enabled, category)
		}
	}
	return enabled
}

// Problems returns the validation errors of categories skipped while
// loading with WithSkipInvalidCategories.
func (c *Catalog) Problems() []error {
	out := make([]error, len(c.problems))
	copy(out, c.problems)
	return out
}
