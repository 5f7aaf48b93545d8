package education

import (
	"fmt"

	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// ELIGIBILITY - Which accounts a top-up rule applies to
// =============================================================================

// IsEligible reports whether the account satisfies every criterion the rule
// sets. Only active accounts can be eligible. Criteria left nil on the rule
// are not checked. Age is counted in completed years on asOf.
//
// Rule status and validity window are not considered here; they gate
// scheduling, not evaluation.
func IsEligible(acc AccountHolder, rule TopUpRule, asOf generic.Date) bool {
	if acc.Status != AccountActive {
		return false
	}
	if rule.MinAge != nil || rule.MaxAge != nil {
		if acc.DateOfBirth.IsZero() {
			return false
		}
		if !rule.AgeRange().Contains(acc.Age(asOf)) {
			return false
		}
	}
	if !rule.BalanceRange().Contains(acc.Balance) {
		return false
	}
	if !generic.Matches(rule.InSchool, acc.InSchool) {
		return false
	}
	if !generic.Matches(rule.EducationLevel, acc.EducationLevel) {
		return false
	}
	if !generic.Matches(rule.ContinuingLearning, acc.ContinuingLearning) {
		return false
	}
	return true
}

// EligibleAccounts filters accounts down to those eligible for the rule,
// preserving order.
func EligibleAccounts(accounts []AccountHolder, rule TopUpRule, asOf generic.Date) []AccountHolder {
	var out []AccountHolder
	for _, acc := range accounts {
		if IsEligible(acc, rule, asOf) {
			out = append(out, acc)
		}
	}
	return out
}

// ValidateRule rejects rules that can never match or never pay out.
func ValidateRule(rule TopUpRule) error {
	if !rule.Amount.IsPositive() {
		return fmt.Errorf("rule amount must be positive: %w", generic.ErrInvalidAmount)
	}
	if err := rule.AgeRange().Validate(); err != nil {
		return fmt.Errorf("%w: age %v", generic.ErrInvalidRule, err)
	}
	if err := rule.BalanceRange().Validate(); err != nil {
		return fmt.Errorf("%w: balance %v", generic.ErrInvalidRule, err)
	}
	if !rule.ValidFrom.IsZero() && !rule.ValidTo.IsZero() && rule.ValidTo.Before(rule.ValidFrom) {
		return fmt.Errorf("%w: validTo before validFrom", generic.ErrInvalidRule)
	}
	return nil
}
