package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type ruleFile struct {
	Version int        `yaml:"version"`
	Rules   []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Score       int            `yaml:"score"`
	Priority    int            `yaml:"priority"`
	Active      *bool          `yaml:"active"`
	Conditions  conditionsSpec `yaml:"conditions"`
}

// Amounts are strings so they are parsed exactly.
type conditionsSpec struct {
	MaxAmount       string  `yaml:"max_amount"`
	WindowMinutes   int     `yaml:"window_minutes"`
	MaxTransactions int     `yaml:"max_transactions"`
	SuspiciousHours []int   `yaml:"suspicious_hours"`
	MaxDeviation    float64 `yaml:"max_deviation"`
	ThresholdForNew string  `yaml:"threshold_for_new"`
	MaxDaily        string  `yaml:"max_daily"`
}

// LoadRuleSet parses a YAML rule file into a validated rule set.
func LoadRuleSet(r io.Reader) (domain.RuleSet, error) {
	var file ruleFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return domain.RuleSet{}, fmt.Errorf("failed to parse rule file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Rules))
	rules := make([]domain.FraudRule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := entry.toRule()
		if err != nil {
			return domain.RuleSet{}, fmt.Errorf("rule %d (%s): %w", i, entry.ID, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return domain.RuleSet{}, fmt.Errorf("rule %d: duplicate id %s", i, rule.ID)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}

	return domain.NewRuleSet(file.Version, rules), nil
}

func LoadRuleSetFile(path string) (domain.RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RuleSet{}, err
	}
	defer f.Close()
	return LoadRuleSet(f)
}

func (s ruleSpec) toRule() (domain.FraudRule, error) {
	if s.ID == "" {
		return domain.FraudRule{}, errors.New("id is required")
	}
	if s.Score < 0 || s.Score > domain.MaxRiskScore {
		return domain.FraudRule{}, fmt.Errorf("score %d out of range", s.Score)
	}

	rule := domain.FraudRule{
		ID:          s.ID,
		Name:        s.Name,
		Type:        domain.RuleType(s.Type),
		Description: s.Description,
		Score:       s.Score,
		Priority:    s.Priority,
		IsActive:    s.Active == nil || *s.Active,
		Conditions: domain.RuleConditions{
			WindowMinutes:   s.Conditions.WindowMinutes,
			MaxTransactions: s.Conditions.MaxTransactions,
			SuspiciousHours: s.Conditions.SuspiciousHours,
			MaxDeviation:    s.Conditions.MaxDeviation,
		},
	}

	var err error
	if rule.Conditions.MaxAmount, err = optionalAmount(s.Conditions.MaxAmount); err != nil {
		return domain.FraudRule{}, fmt.Errorf("max_amount: %w", err)
	}
	if rule.Conditions.ThresholdForNew, err = optionalAmount(s.Conditions.ThresholdForNew); err != nil {
		return domain.FraudRule{}, fmt.Errorf("threshold_for_new: %w", err)
	}
	if rule.Conditions.MaxDaily, err = optionalAmount(s.Conditions.MaxDaily); err != nil {
		return domain.FraudRule{}, fmt.Errorf("max_daily: %w", err)
	}

	if err := ValidateRule(rule); err != nil {
		return domain.FraudRule{}, err
	}
	return rule, nil
}

func optionalAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateRule checks that a rule carries the conditions its type reads.
func ValidateRule(rule domain.FraudRule) error {
	c := rule.Conditions
	switch rule.Type {
	case domain.RuleAmountThreshold:
		if c.MaxAmount == nil {
			return errors.New("max_amount is required")
		}
	case domain.RuleVelocity:
		if c.WindowMinutes <= 0 || c.MaxTransactions <= 0 {
			return errors.New("window_minutes and max_transactions must be positive")
		}
	case domain.RuleTimeBased:
		if len(c.SuspiciousHours) == 0 {
			return errors.New("suspicious_hours is required")
		}
		for _, h := range c.SuspiciousHours {
			if h < 0 || h > 23 {
				return fmt.Errorf("hour %d out of range", h)
			}
		}
	case domain.RuleNewDevice:
	case domain.RuleAmountDeviation:
		if c.MaxDeviation <= 0 {
			return errors.New("max_deviation must be positive")
		}
	case domain.RuleNewRecipient:
		if c.ThresholdForNew == nil {
			return errors.New("threshold_for_new is required")
		}
	case domain.RuleCumulativeDaily:
		if c.MaxDaily == nil {
			return errors.New("max_daily is required")
		}
	default:
		return fmt.Errorf("unknown rule type %q", rule.Type)
	}
	return nil
}

func amountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// DefaultRules is the rule set installed when no rule file is configured.
func DefaultRules() []domain.FraudRule {
	return []domain.FraudRule{
		{
			ID: "high-amount", Name: "High amount", Type: domain.RuleAmountThreshold,
			Description: "Single transfer above 5000.00",
			Conditions:  domain.RuleConditions{MaxAmount: amountPtr("5000")},
			Score:       25, Priority: 100, IsActive: true,
		},
		{
			ID: "velocity", Name: "Burst of transfers", Type: domain.RuleVelocity,
			Description: "Five or more transfers within ten minutes",
			Conditions:  domain.RuleConditions{WindowMinutes: 10, MaxTransactions: 5},
			Score:       30, Priority: 90, IsActive: true,
		},
		{
			ID: "new-recipient", Name: "New high-value recipient", Type: domain.RuleNewRecipient,
			Description: "First transfer to a recipient above 1000.00",
			Conditions:  domain.RuleConditions{ThresholdForNew: amountPtr("1000")},
			Score:       20, Priority: 80, IsActive: true,
		},
		{
			ID: "amount-deviation", Name: "Unusual amount", Type: domain.RuleAmountDeviation,
			Description: "Amount over five times the user's average",
			Conditions:  domain.RuleConditions{MaxDeviation: 5},
			Score:       20, Priority: 70, IsActive: true,
		},
		{
			ID: "cumulative-daily", Name: "Daily outbound volume", Type: domain.RuleCumulativeDaily,
			Description: "Outbound total today above 15000.00",
			Conditions:  domain.RuleConditions{MaxDaily: amountPtr("15000")},
			Score:       20, Priority: 60, IsActive: true,
		},
		{
			ID: "new-device", Name: "Unknown device", Type: domain.RuleNewDevice,
			Description: "Transfer from a device not seen before",
			Score:       15, Priority: 50, IsActive: true,
		},
		{
			ID: "late-night", Name: "Late night", Type: domain.RuleTimeBased,
			Description: "Transfer between 01:00 and 04:59",
			Conditions:  domain.RuleConditions{SuspiciousHours: []int{1, 2, 3, 4}},
			Score:       10, Priority: 40, IsActive: true,
		},
	}
}

// InstallRules stores rules that are not yet present, leaving existing ones
// untouched. It returns how many were added.
func InstallRules(ctx context.Context, repo repository.RuleRepository, rules []domain.FraudRule) (int, error) {
	added := 0
	for i := range rules {
		rule := rules[i]
		if err := ValidateRule(rule); err != nil {
			return added, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		err := repo.Save(ctx, &rule)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
