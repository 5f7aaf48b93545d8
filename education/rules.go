package education

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// TOP-UP RULES
// =============================================================================

// CreateRule validates and stores a rule. An empty status means active.
func (e *Engine) CreateRule(ctx context.Context, sess Session, rule TopUpRule) (TopUpRule, error) {
	if err := requireStaff(sess); err != nil {
		return TopUpRule{}, err
	}
	if err := ValidateRule(rule); err != nil {
		return TopUpRule{}, err
	}
	if rule.Status == "" {
		rule.Status = RuleActive
	}
	created, err := e.store.Rules.Create(ctx, rule)
	if err != nil {
		return TopUpRule{}, err
	}
	log.Info().Str("rule_id", created.ID).Str("name", created.Name).Str("amount", created.Amount.String()).Msg("top-up rule created")
	return created, nil
}

// UpdateRule replaces every editable field of a rule. Criteria left nil
// are cleared. Schedules already created keep the amount they were
// created with.
func (e *Engine) UpdateRule(ctx context.Context, sess Session, ruleID string, rule TopUpRule) (TopUpRule, error) {
	if err := requireStaff(sess); err != nil {
		return TopUpRule{}, err
	}
	if err := ValidateRule(rule); err != nil {
		return TopUpRule{}, err
	}
	if _, err := e.store.rule(ctx, ruleID); err != nil {
		return TopUpRule{}, err
	}
	status := rule.Status
	if status == "" {
		status = RuleActive
	}
	err := e.store.Rules.Update(ctx, ruleID, generic.Patch{
		"name":               rule.Name,
		"minAge":             rule.MinAge,
		"maxAge":             rule.MaxAge,
		"minBalance":         rule.MinBalance,
		"maxBalance":         rule.MaxBalance,
		"inSchool":           rule.InSchool,
		"educationLevel":     rule.EducationLevel,
		"continuingLearning": rule.ContinuingLearning,
		"amount":             rule.Amount,
		"status":             status,
		"validFrom":          rule.ValidFrom,
		"validTo":            rule.ValidTo,
	})
	if err != nil {
		return TopUpRule{}, err
	}
	updated, err := e.store.rule(ctx, ruleID)
	if err != nil {
		return TopUpRule{}, err
	}
	return *updated, nil
}

// DeleteRule removes a rule. Schedules referencing it fail when executed.
func (e *Engine) DeleteRule(ctx context.Context, sess Session, ruleID string) error {
	if err := requireStaff(sess); err != nil {
		return err
	}
	if _, err := e.store.rule(ctx, ruleID); err != nil {
		return err
	}
	return e.store.Rules.Delete(ctx, ruleID)
}

// RulePreview is a rule with the accounts it would credit today.
type RulePreview struct {
	Rule          TopUpRule `json:"rule"`
	EligibleCount int       `json:"eligibleCount"`
	AccountIDs    []string  `json:"accountIds"`
}

// PreviewRule evaluates a rule against every account without scheduling
// anything.
func (e *Engine) PreviewRule(ctx context.Context, rule TopUpRule) (RulePreview, error) {
	accounts, err := e.store.Accounts.GetAll(ctx)
	if err != nil {
		return RulePreview{}, err
	}
	eligible := EligibleAccounts(accounts, rule, e.today())
	preview := RulePreview{Rule: rule, EligibleCount: len(eligible), AccountIDs: []string{}}
	for _, acc := range eligible {
		preview.AccountIDs = append(preview.AccountIDs, acc.ID)
	}
	return preview, nil
}
