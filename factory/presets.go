package factory

import (
	"encoding/json"
	"strconv"
)

// =============================================================================
// PRESET RULES
// =============================================================================
//
// The standard programme rules for one calendar year. Each returns JSON so
// it can be edited before parsing.

func yearWindow(year int) (string, string) {
	y := strconv.Itoa(year)
	return y + "-01-01", y + "-12-31"
}

func presetJSON(rule map[string]interface{}) string {
	b, _ := json.MarshalIndent(rule, "", "  ")
	return string(b)
}

// TertiaryAnnualJSON is the annual grant for tertiary students aged 18-25
// in school with at most maxBalance saved.
func TertiaryAnnualJSON(year int, amount, maxBalance float64) string {
	from, to := yearWindow(year)
	return presetJSON(map[string]interface{}{
		"name":       "Tertiary Education Students - Annual Top-up",
		"amount":     amount,
		"valid_from": from,
		"valid_to":   to,
		"criteria": map[string]interface{}{
			"min_age":         18,
			"max_age":         25,
			"min_balance":     0,
			"max_balance":     maxBalance,
			"in_school":       "in_school",
			"education_level": "tertiary",
		},
	})
}

// PostSecondaryQuarterlyJSON supports post-secondary students aged 16-20.
func PostSecondaryQuarterlyJSON(year int, amount float64) string {
	from, to := yearWindow(year)
	return presetJSON(map[string]interface{}{
		"name":       "Post-Secondary Students - Quarterly Support",
		"amount":     amount,
		"valid_from": from,
		"valid_to":   to,
		"criteria": map[string]interface{}{
			"min_age":         16,
			"max_age":         20,
			"in_school":       "in_school",
			"education_level": "post_secondary",
		},
	})
}

// SkillUpgradeJSON is for active continuing learners aged 25-30.
func SkillUpgradeJSON(year int, amount float64) string {
	from, to := yearWindow(year)
	return presetJSON(map[string]interface{}{
		"name":       "Continuing Learners - Skill Upgrade Grant",
		"amount":     amount,
		"valid_from": from,
		"valid_to":   to,
		"criteria": map[string]interface{}{
			"min_age":             25,
			"max_age":             30,
			"continuing_learning": "active",
		},
	})
}

// LowBalanceSupportJSON tops up students in school whose balance is at most
// threshold.
func LowBalanceSupportJSON(year int, amount, threshold float64) string {
	from, to := yearWindow(year)
	return presetJSON(map[string]interface{}{
		"name":       "Low Balance Support - Emergency Fund",
		"amount":     amount,
		"valid_from": from,
		"valid_to":   to,
		"criteria": map[string]interface{}{
			"max_balance": threshold,
			"in_school":   "in_school",
		},
	})
}

// StandardRulesJSON is the array of all four presets with their default
// amounts.
func StandardRulesJSON(year int) string {
	var all []json.RawMessage
	for _, s := range []string{
		TertiaryAnnualJSON(year, 2000, 5000),
		PostSecondaryQuarterlyJSON(year, 500),
		SkillUpgradeJSON(year, 1500),
		LowBalanceSupportJSON(year, 1000, 1000),
	} {
		all = append(all, json.RawMessage(s))
	}
	b, _ := json.MarshalIndent(all, "", "  ")
	return string(b)
}
