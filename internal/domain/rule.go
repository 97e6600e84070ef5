package domain

import (
	"slices"

	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleAmountThreshold RuleType = "AMOUNT_THRESHOLD"
	RuleVelocity        RuleType = "VELOCITY"
	RuleTimeBased       RuleType = "TIME_BASED"
	RuleNewDevice       RuleType = "NEW_DEVICE"
	RuleAmountDeviation RuleType = "AMOUNT_DEVIATION"
	RuleNewRecipient    RuleType = "NEW_RECIPIENT_HIGH_VALUE"
	RuleCumulativeDaily RuleType = "CUMULATIVE_DAILY"
)

// RuleConditions holds the parameters of every rule type. Only the fields
// relevant to a rule's Type are read during evaluation.
type RuleConditions struct {
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	WindowMinutes   int              `json:"window_minutes,omitempty"`
	MaxTransactions int              `json:"max_transactions,omitempty"`
	SuspiciousHours []int            `json:"suspicious_hours,omitempty"`
	MaxDeviation    float64          `json:"max_deviation,omitempty"`
	ThresholdForNew *decimal.Decimal `json:"threshold_for_new,omitempty"`
	MaxDaily        *decimal.Decimal `json:"max_daily,omitempty"`
}

type FraudRule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        RuleType       `json:"type"`
	Description string         `json:"description"`
	Conditions  RuleConditions `json:"conditions"`
	Score       int            `json:"score"`
	Priority    int            `json:"priority"`
	IsActive    bool           `json:"is_active"`
	Version     int            `json:"version"`
}

// RuleSet is an immutable snapshot of the active rules, ordered by
// descending priority. It is passed by value into every evaluation.
type RuleSet struct {
	Version int         `json:"version"`
	Rules   []FraudRule `json:"rules"`
}

func NewRuleSet(version int, rules []FraudRule) RuleSet {
	active := make([]FraudRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	slices.SortStableFunc(active, func(a, b FraudRule) int {
		return b.Priority - a.Priority
	})
	return RuleSet{Version: version, Rules: active}
}
