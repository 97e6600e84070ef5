package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

var errMissingCondition = errors.New("rule condition not configured")

// AnalysisContext is the transfer being scored.
type AnalysisContext struct {
	TransferID        string
	UserID            string
	AccountID         string
	Amount            decimal.Decimal
	Type              string
	RecipientKey      string
	DeviceFingerprint string
	Timestamp         time.Time
}

type RuleResult struct {
	RuleID      string
	RuleName    string
	Type        domain.RuleType
	Score       int
	Triggered   bool
	Description string
}

// RuleEngine evaluates a rule set against a transfer. It holds no rules of
// its own; callers pass the set to use for each evaluation.
type RuleEngine struct {
	transfers repository.TransferRepository
	location  *time.Location
	logger    *slog.Logger
}

func NewRuleEngine(transfers repository.TransferRepository, location *time.Location, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if location == nil {
		location = time.UTC
	}

	return &RuleEngine{
		transfers: transfers,
		location:  location,
		logger:    logger,
	}
}

// EvaluateRules runs every rule of set in its priority order and returns the
// triggered ones. A misconfigured rule is skipped; a store failure aborts.
func (e *RuleEngine) EvaluateRules(ctx context.Context, set domain.RuleSet, ac AnalysisContext, profile *domain.RiskProfile) ([]RuleResult, int, error) {
	var results []RuleResult
	evaluated := 0

	for _, rule := range set.Rules {
		if !rule.IsActive {
			continue
		}
		evaluated++

		triggered, err := e.evaluateRule(ctx, rule, ac, profile)
		if err != nil {
			if errors.Is(err, errMissingCondition) {
				e.logger.ErrorContext(ctx, "Failed to evaluate rule",
					slog.String("rule_id", rule.ID),
					slog.String("error", err.Error()))
				continue
			}
			return nil, evaluated, fmt.Errorf("rule %s: %w", rule.ID, err)
		}

		if triggered {
			results = append(results, RuleResult{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Type:        rule.Type,
				Score:       rule.Score,
				Triggered:   true,
				Description: rule.Description,
			})
			e.logger.InfoContext(ctx, "Rule triggered",
				slog.String("rule_id", rule.ID),
				slog.String("rule_name", rule.Name),
				slog.String("transfer_id", ac.TransferID))
		}
	}

	return results, evaluated, nil
}

func (e *RuleEngine) evaluateRule(ctx context.Context, rule domain.FraudRule, ac AnalysisContext, profile *domain.RiskProfile) (bool, error) {
	c := rule.Conditions

	switch rule.Type {
	case domain.RuleAmountThreshold:
		if c.MaxAmount == nil {
			return false, errMissingCondition
		}
		return ac.Amount.GreaterThan(*c.MaxAmount), nil

	case domain.RuleVelocity:
		if c.WindowMinutes <= 0 || c.MaxTransactions <= 0 {
			return false, errMissingCondition
		}
		return e.checkVelocity(ctx, c, ac)

	case domain.RuleTimeBased:
		if len(c.SuspiciousHours) == 0 {
			return false, errMissingCondition
		}
		return slices.Contains(c.SuspiciousHours, ac.Timestamp.In(e.location).Hour()), nil

	case domain.RuleNewDevice:
		if ac.DeviceFingerprint == "" {
			return false, nil
		}
		return !profile.KnowsDevice(ac.DeviceFingerprint), nil

	case domain.RuleAmountDeviation:
		if c.MaxDeviation <= 0 {
			return false, errMissingCondition
		}
		if !profile.AverageTransactionAmount.IsPositive() {
			return false, nil
		}
		ratio := ac.Amount.Div(profile.AverageTransactionAmount)
		return ratio.GreaterThan(decimal.NewFromFloat(c.MaxDeviation)), nil

	case domain.RuleNewRecipient:
		if c.ThresholdForNew == nil {
			return false, errMissingCondition
		}
		if ac.RecipientKey == "" || !ac.Amount.GreaterThan(*c.ThresholdForNew) {
			return false, nil
		}
		known, err := e.transfers.HasCompletedToRecipient(ctx, ac.AccountID, ac.RecipientKey)
		if err != nil {
			return false, err
		}
		return !known, nil

	case domain.RuleCumulativeDaily:
		if c.MaxDaily == nil {
			return false, errMissingCondition
		}
		local := ac.Timestamp.In(e.location)
		startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
		total, err := e.transfers.SumOutboundSince(ctx, ac.AccountID, startOfDay)
		if err != nil {
			return false, err
		}
		return total.Add(ac.Amount).GreaterThan(*c.MaxDaily), nil

	default:
		return false, fmt.Errorf("%w: unknown rule type %s", errMissingCondition, rule.Type)
	}
}

// checkVelocity counts the sender's earlier transfers inside the window. The
// transfer under evaluation is already recorded, so it is excluded.
func (e *RuleEngine) checkVelocity(ctx context.Context, c domain.RuleConditions, ac AnalysisContext) (bool, error) {
	since := ac.Timestamp.Add(-time.Duration(c.WindowMinutes) * time.Minute)
	count, err := e.transfers.CountBySenderSince(ctx, ac.AccountID, since)
	if err != nil {
		return false, err
	}
	if ac.TransferID != "" && count > 0 {
		count--
	}
	return count >= c.MaxTransactions, nil
}
