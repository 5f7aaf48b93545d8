/*
Package factory provides JSON to Go top-up rule conversion.

PURPOSE:
  Converts JSON rule definitions into education.TopUpRule values. Programme
  administrators keep rule definitions in files or paste them into the admin
  portal; the factory turns them into validated rules ready to store.

JSON SCHEMA:
  {
    "name": "Tertiary Education Students - Annual Top-up",
    "amount": 2000,
    "status": "active",
    "valid_from": "2025-01-01",
    "valid_to": "2025-12-31",
    "criteria": {
      "min_age": 18,
      "max_age": 25,
      "min_balance": 0,
      "max_balance": 5000,
      "in_school": "in_school",
      "education_level": "tertiary",
      "continuing_learning": "active"
    }
  }

  Every criterion is optional. A criterion that is present is checked, even
  when it is 0; leave it out to accept any value.

USAGE:
  f := factory.NewRuleFactory()

  rule, err := f.ParseRule(jsonString)
  rules, err := f.ParseRules(jsonArray)

  // From a preset
  rule, err := f.ParseRule(factory.LowBalanceSupportJSON(1000, 1000))

SEE ALSO:
  - education/types.go: TopUpRule
  - education/eligibility.go: How criteria are evaluated
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a top-up rule.
type RuleJSON struct {
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status,omitempty"`
	ValidFrom string          `json:"valid_from,omitempty"`
	ValidTo   string          `json:"valid_to,omitempty"`
	Criteria  *CriteriaJSON   `json:"criteria,omitempty"`
}

// CriteriaJSON holds the optional eligibility criteria.
type CriteriaJSON struct {
	MinAge             *int             `json:"min_age,omitempty"`
	MaxAge             *int             `json:"max_age,omitempty"`
	MinBalance         *decimal.Decimal `json:"min_balance,omitempty"`
	MaxBalance         *decimal.Decimal `json:"max_balance,omitempty"`
	InSchool           string           `json:"in_school,omitempty"`
	EducationLevel     string           `json:"education_level,omitempty"`
	ContinuingLearning string           `json:"continuing_learning,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to education.TopUpRule.
type RuleFactory struct{}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses and validates one rule.
func (f *RuleFactory) ParseRule(jsonStr string) (education.TopUpRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return education.TopUpRule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// ParseRules parses a JSON array of rules. The first invalid rule stops
// parsing and is reported by position.
func (f *RuleFactory) ParseRules(jsonStr string) ([]education.TopUpRule, error) {
	var rjs []RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rjs); err != nil {
		return nil, fmt.Errorf("failed to parse rules JSON: %w", err)
	}
	rules := make([]education.TopUpRule, 0, len(rjs))
	for i, rj := range rjs {
		rule, err := f.FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rj.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FromJSON converts RuleJSON to a validated TopUpRule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (education.TopUpRule, error) {
	if rj.Name == "" {
		return education.TopUpRule{}, fmt.Errorf("%w: name is required", generic.ErrInvalidRule)
	}
	validFrom, err := generic.ParseDate(rj.ValidFrom)
	if err != nil {
		return education.TopUpRule{}, fmt.Errorf("%w: valid_from: %v", generic.ErrInvalidRule, err)
	}
	validTo, err := generic.ParseDate(rj.ValidTo)
	if err != nil {
		return education.TopUpRule{}, fmt.Errorf("%w: valid_to: %v", generic.ErrInvalidRule, err)
	}
	status, err := parseRuleStatus(rj.Status)
	if err != nil {
		return education.TopUpRule{}, err
	}

	rule := education.TopUpRule{
		Name:      rj.Name,
		Amount:    rj.Amount,
		Status:    status,
		ValidFrom: validFrom,
		ValidTo:   validTo,
	}
	if rj.Criteria != nil {
		if err := applyCriteria(&rule, *rj.Criteria); err != nil {
			return education.TopUpRule{}, err
		}
	}

	if err := education.ValidateRule(rule); err != nil {
		return education.TopUpRule{}, err
	}
	return rule, nil
}

// ToJSON converts a rule back to its JSON form.
func (f *RuleFactory) ToJSON(rule education.TopUpRule) RuleJSON {
	rj := RuleJSON{
		Name:   rule.Name,
		Amount: rule.Amount,
		Status: string(rule.Status),
	}
	if !rule.ValidFrom.IsZero() {
		rj.ValidFrom = rule.ValidFrom.String()
	}
	if !rule.ValidTo.IsZero() {
		rj.ValidTo = rule.ValidTo.String()
	}

	c := CriteriaJSON{
		MinAge:     rule.MinAge,
		MaxAge:     rule.MaxAge,
		MinBalance: rule.MinBalance,
		MaxBalance: rule.MaxBalance,
	}
	if rule.InSchool != nil {
		c.InSchool = string(*rule.InSchool)
	}
	if rule.EducationLevel != nil {
		c.EducationLevel = string(*rule.EducationLevel)
	}
	if rule.ContinuingLearning != nil {
		c.ContinuingLearning = string(*rule.ContinuingLearning)
	}
	if c != (CriteriaJSON{}) {
		rj.Criteria = &c
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRuleStatus(s string) (education.RuleStatus, error) {
	switch s {
	case "", "active":
		return education.RuleActive, nil
	case "inactive":
		return education.RuleInactive, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", generic.ErrInvalidRule, s)
	}
}

func applyCriteria(rule *education.TopUpRule, c CriteriaJSON) error {
	rule.MinAge = c.MinAge
	rule.MaxAge = c.MaxAge
	rule.MinBalance = c.MinBalance
	rule.MaxBalance = c.MaxBalance

	if c.InSchool != "" {
		v := education.InSchoolStatus(c.InSchool)
		if v != education.InSchool && v != education.NotInSchool {
			return fmt.Errorf("%w: unknown in_school %q", generic.ErrInvalidRule, c.InSchool)
		}
		rule.InSchool = &v
	}
	if c.EducationLevel != "" {
		v := education.EducationLevel(c.EducationLevel)
		switch v {
		case education.LevelPrimary, education.LevelSecondary, education.LevelPostSecondary,
			education.LevelTertiary, education.LevelPostgraduate:
		default:
			return fmt.Errorf("%w: unknown education_level %q", generic.ErrInvalidRule, c.EducationLevel)
		}
		rule.EducationLevel = &v
	}
	if c.ContinuingLearning != "" {
		v := education.ContinuingLearningStatus(c.ContinuingLearning)
		switch v {
		case education.LearningActive, education.LearningInactive, education.LearningCompleted:
		default:
			return fmt.Errorf("%w: unknown continuing_learning %q", generic.ErrInvalidRule, c.ContinuingLearning)
		}
		rule.ContinuingLearning = &v
	}
	return nil
}
