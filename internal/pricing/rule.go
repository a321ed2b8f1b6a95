package pricing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType enumerates the supported repricing strategies.
type RuleType string

const (
	RuleCompetitorFollow RuleType = "competitor-follow"
	RuleMinMargin        RuleType = "min-margin"
	RuleMaxDiscount      RuleType = "max-discount"
	RuleDemandBased      RuleType = "demand-based"
	RuleTimeBased        RuleType = "time-based"
	RuleCustom           RuleType = "custom"
)

const (
	ActionMatch    = "match"
	ActionUndercut = "undercut"
)

// Default percentages applied when a rule omits an explicit value.
var (
	defaultUndercutPct = decimal.NewFromInt(5)
	defaultDiscountPct = decimal.NewFromInt(10)
)

// Action is a validated action specification of a rule.
type Action struct {
	Type  string
	Value *decimal.Decimal
}

// Condition guards rule application against the observed listing state.
type Condition struct {
	Field    string
	Operator string
	Value    decimal.Decimal
}

// Condition fields and operators accepted at parse time.
const (
	FieldCurrentPrice     = "current_price"
	FieldLowestCompetitor = "lowest_competitor"
)

// Rule is a pricing rule with its specifications parsed and validated once
// at load time; evaluation never re-parses JSON.
type Rule struct {
	ID            string
	Name          string
	Type          RuleType
	Conditions    []Condition
	Actions       []Action
	Marketplaces  []string
	Categories    []string
	Priority      int
	Safety        SafetyConfig
	AppliedCount  int64
	LastAppliedAt *time.Time
}

// RuleSpec carries the raw stored representation of a rule.
type RuleSpec struct {
	ID            string
	Name          string
	Type          string
	Conditions    json.RawMessage
	Actions       json.RawMessage
	Safety        json.RawMessage
	Marketplaces  []string
	Categories    []string
	Priority      int
	AppliedCount  int64
	LastAppliedAt *time.Time
}

type actionJSON struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value,omitempty"`
}

type conditionJSON struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

type safetyJSON struct {
	MinPrice         *float64 `json:"min_price,omitempty"`
	MaxPrice         *float64 `json:"max_price,omitempty"`
	MaxChangePercent *float64 `json:"max_change_percent,omitempty"`
}

// ParseRule validates a stored rule specification into a Rule.
func ParseRule(spec RuleSpec) (*Rule, error) {
	ruleType := RuleType(spec.Type)
	switch ruleType {
	case RuleCompetitorFollow, RuleMinMargin, RuleMaxDiscount, RuleDemandBased, RuleTimeBased, RuleCustom:
	default:
		return nil, fmt.Errorf("rule %s: unknown rule type %q", spec.ID, spec.Type)
	}

	rule := &Rule{
		ID:            spec.ID,
		Name:          spec.Name,
		Type:          ruleType,
		Marketplaces:  spec.Marketplaces,
		Categories:    spec.Categories,
		Priority:      spec.Priority,
		AppliedCount:  spec.AppliedCount,
		LastAppliedAt: spec.LastAppliedAt,
	}

	if len(spec.Actions) > 0 {
		var actions []actionJSON
		if err := json.Unmarshal(spec.Actions, &actions); err != nil {
			return nil, fmt.Errorf("rule %s: parse actions: %w", spec.ID, err)
		}
		for _, a := range actions {
			if ruleType == RuleCompetitorFollow && a.Type != ActionMatch && a.Type != ActionUndercut {
				return nil, fmt.Errorf("rule %s: unknown action type %q", spec.ID, a.Type)
			}
			action := Action{Type: a.Type}
			if a.Value != nil {
				if *a.Value < 0 {
					return nil, fmt.Errorf("rule %s: action value cannot be negative", spec.ID)
				}
				v := decimal.NewFromFloat(*a.Value)
				action.Value = &v
			}
			rule.Actions = append(rule.Actions, action)
		}
	}

	if len(spec.Conditions) > 0 {
		var conditions []conditionJSON
		if err := json.Unmarshal(spec.Conditions, &conditions); err != nil {
			return nil, fmt.Errorf("rule %s: parse conditions: %w", spec.ID, err)
		}
		for _, c := range conditions {
			if c.Field != FieldCurrentPrice && c.Field != FieldLowestCompetitor {
				return nil, fmt.Errorf("rule %s: unknown condition field %q", spec.ID, c.Field)
			}
			switch c.Operator {
			case "gt", "gte", "lt", "lte", "eq":
			default:
				return nil, fmt.Errorf("rule %s: unknown condition operator %q", spec.ID, c.Operator)
			}
			rule.Conditions = append(rule.Conditions, Condition{
				Field:    c.Field,
				Operator: c.Operator,
				Value:    decimal.NewFromFloat(c.Value),
			})
		}
	}

	if len(spec.Safety) > 0 {
		var safety safetyJSON
		if err := json.Unmarshal(spec.Safety, &safety); err != nil {
			return nil, fmt.Errorf("rule %s: parse safety config: %w", spec.ID, err)
		}
		if safety.MinPrice != nil {
			v := decimal.NewFromFloat(*safety.MinPrice)
			rule.Safety.MinPrice = &v
		}
		if safety.MaxPrice != nil {
			v := decimal.NewFromFloat(*safety.MaxPrice)
			rule.Safety.MaxPrice = &v
		}
		if safety.MaxChangePercent != nil {
			if *safety.MaxChangePercent <= 0 {
				return nil, fmt.Errorf("rule %s: max_change_percent must be positive", spec.ID)
			}
			v := decimal.NewFromFloat(*safety.MaxChangePercent)
			rule.Safety.MaxChangePercent = &v
		}
		if rule.Safety.MinPrice != nil && rule.Safety.MaxPrice != nil && rule.Safety.MinPrice.GreaterThan(*rule.Safety.MaxPrice) {
			return nil, fmt.Errorf("rule %s: min_price exceeds max_price", spec.ID)
		}
	}

	return rule, nil
}

// Matches reports whether the rule's scope covers the given listing.
func (r *Rule) Matches(marketplace, category string) bool {
	if len(r.Marketplaces) > 0 && !containsString(r.Marketplaces, marketplace) {
		return false
	}
	if len(r.Categories) > 0 && !containsString(r.Categories, category) {
		return false
	}
	return true
}

// ConditionsHold evaluates the rule's guards against the listing state.
func (r *Rule) ConditionsHold(currentPrice, lowestCompetitor decimal.Decimal) bool {
	for _, c := range r.Conditions {
		var observed decimal.Decimal
		switch c.Field {
		case FieldCurrentPrice:
			observed = currentPrice
		case FieldLowestCompetitor:
			observed = lowestCompetitor
		}

		var ok bool
		switch c.Operator {
		case "gt":
			ok = observed.GreaterThan(c.Value)
		case "gte":
			ok = observed.GreaterThanOrEqual(c.Value)
		case "lt":
			ok = observed.LessThan(c.Value)
		case "lte":
			ok = observed.LessThanOrEqual(c.Value)
		case "eq":
			ok = observed.Equal(c.Value)
		}
		if !ok {
			return false
		}
	}
	return true
}

// HighestPriority returns the highest-priority rule whose scope matches the
// listing, or nil when none match. Ties keep the earlier rule.
func HighestPriority(rules []*Rule, marketplace, category string) *Rule {
	var best *Rule
	for _, r := range rules {
		if !r.Matches(marketplace, category) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
