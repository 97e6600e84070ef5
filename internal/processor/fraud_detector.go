package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/repository"
	"pix_processor/pkg/metrics"
)

const (
	histogramSampleSize = 50
	maxKnownDevices     = 20
)

type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *domain.Alert) error
}

// Analysis is the outcome of scoring one transfer.
type Analysis struct {
	Score          int
	Severity       domain.Severity
	Decision       domain.Decision
	TriggeredRules []string
	Results        []RuleResult
	RulesEvaluated int
	RuleSetVersion int
	BlockedReason  string
	Alert          *domain.Alert
}

func (a *Analysis) Allowed() bool {
	return a.Decision == domain.DecisionAllow
}

type FraudDetector struct {
	store     repository.Store
	engine    *RuleEngine
	notifier  AlertNotifier
	metrics   *metrics.MetricsCollector
	userLocks *keyedMutex
	location  *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

type FraudOption func(*FraudDetector)

func WithAlertNotifier(n AlertNotifier) FraudOption {
	return func(d *FraudDetector) { d.notifier = n }
}

func WithDetectorMetrics(m *metrics.MetricsCollector) FraudOption {
	return func(d *FraudDetector) { d.metrics = m }
}

func WithDetectorClock(now func() time.Time) FraudOption {
	return func(d *FraudDetector) { d.now = now }
}

func WithDetectorLocation(loc *time.Location) FraudOption {
	return func(d *FraudDetector) { d.location = loc }
}

func NewFraudDetector(store repository.Store, logger *slog.Logger, opts ...FraudOption) *FraudDetector {
	if logger == nil {
		logger = slog.Default()
	}

	d := &FraudDetector{
		store:     store,
		userLocks: newKeyedMutex(),
		location:  time.UTC,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.engine = NewRuleEngine(store.Transfers(), d.location, logger)
	return d
}

// Analyze scores a transfer against set. A blocked profile short-circuits to
// the maximum score without evaluating any rule. Scores at or above the
// alert threshold raise an Alert whatever the decision.
func (d *FraudDetector) Analyze(ctx context.Context, set domain.RuleSet, ac AnalysisContext) (*Analysis, error) {
	if ac.Timestamp.IsZero() {
		ac.Timestamp = d.now()
	}

	profile, err := d.GetProfile(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{RuleSetVersion: set.Version}
	if profile.IsBlocked {
		analysis.Score = domain.MaxRiskScore
		analysis.BlockedReason = profile.BlockedReason
	} else {
		results, evaluated, err := d.engine.EvaluateRules(ctx, set, ac, profile)
		if err != nil {
			return nil, fmt.Errorf("rule evaluation failed: %w", err)
		}

		total := profile.Score
		for _, r := range results {
			total += r.Score
			analysis.TriggeredRules = append(analysis.TriggeredRules, r.RuleID)
		}
		analysis.Score = min(total, domain.MaxRiskScore)
		analysis.Results = results
		analysis.RulesEvaluated = evaluated
	}
	analysis.Severity = domain.SeverityFor(analysis.Score)
	analysis.Decision = domain.DecisionFor(analysis.Score)

	if analysis.Score >= domain.AlertScoreThreshold {
		alert, err := d.raiseAlert(ctx, ac, analysis)
		if err != nil {
			return nil, err
		}
		analysis.Alert = alert
	}

	d.metrics.RecordFraudDecision(string(analysis.Decision), analysis.Score)
	d.logger.InfoContext(ctx, "Fraud analysis completed",
		slog.String("user_id", ac.UserID),
		slog.String("transfer_id", ac.TransferID),
		slog.Int("score", analysis.Score),
		slog.String("decision", string(analysis.Decision)),
		slog.Int("rule_set_version", set.Version),
		slog.Int("rules_evaluated", analysis.RulesEvaluated))

	return analysis, nil
}

func (d *FraudDetector) raiseAlert(ctx context.Context, ac AnalysisContext, analysis *Analysis) (*domain.Alert, error) {
	unlock := d.userLocks.lock(ac.UserID)
	defer unlock()

	now := d.now()
	alert := &domain.Alert{
		ID:             uuid.NewString(),
		UserID:         ac.UserID,
		TransferID:     ac.TransferID,
		Severity:       analysis.Severity,
		Score:          analysis.Score,
		TriggeredRules: analysis.TriggeredRules,
		Status:         domain.AlertOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		profile, err := d.profileForUpdate(ctx, tx, ac.UserID)
		if err != nil {
			return err
		}
		profile.FlagCount++
		profile.UpdatedAt = now
		if err := tx.Risk().SaveProfile(ctx, profile); err != nil {
			return err
		}
		return tx.Risk().SaveAlert(ctx, alert)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record fraud alert: %w", err)
	}

	d.logger.WarnContext(ctx, "Fraud alert raised",
		slog.String("alert_id", alert.ID),
		slog.String("user_id", alert.UserID),
		slog.String("severity", string(alert.Severity)),
		slog.Int("score", alert.Score))

	if d.notifier != nil {
		if err := d.notifier.NotifyAlert(ctx, alert); err != nil {
			d.logger.ErrorContext(ctx, "Failed to queue alert notification",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()))
		}
	}
	return alert, nil
}

// UpdateProfile folds an allowed transfer into the user's running average,
// hour histogram and device list. Updates for one user are serialized.
func (d *FraudDetector) UpdateProfile(ctx context.Context, ac AnalysisContext) error {
	unlock := d.userLocks.lock(ac.UserID)
	defer unlock()

	return d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		profile, err := d.profileForUpdate(ctx, tx, ac.UserID)
		if err != nil {
			return err
		}

		// Kept unrounded so repeated updates do not drift.
		n := decimal.NewFromInt(int64(profile.TransferCount + 1))
		profile.AverageTransactionAmount = profile.AverageTransactionAmount.
			Mul(n.Sub(decimal.NewFromInt(1))).
			Add(ac.Amount).
			Div(n)
		profile.TransferCount++

		recent, err := tx.Transfers().ListRecentBySender(ctx, ac.AccountID, histogramSampleSize)
		if err != nil {
			return fmt.Errorf("failed to load recent transfers: %w", err)
		}
		var hours [24]int
		included := false
		for _, t := range recent {
			hours[t.CreatedAt.In(d.location).Hour()]++
			if t.ID == ac.TransferID {
				included = true
			}
		}
		if !included && !ac.Timestamp.IsZero() {
			hours[ac.Timestamp.In(d.location).Hour()]++
		}
		profile.TypicalHours = hours

		if ac.DeviceFingerprint != "" && !profile.KnowsDevice(ac.DeviceFingerprint) {
			profile.KnownDevices = append(profile.KnownDevices, ac.DeviceFingerprint)
			if len(profile.KnownDevices) > maxKnownDevices {
				profile.KnownDevices = profile.KnownDevices[len(profile.KnownDevices)-maxKnownDevices:]
			}
		}

		profile.UpdatedAt = d.now()
		return tx.Risk().SaveProfile(ctx, profile)
	})
}

// GetProfile returns the user's profile, creating an empty one on first use.
func (d *FraudDetector) GetProfile(ctx context.Context, userID string) (*domain.RiskProfile, error) {
	profile, err := d.store.Risk().GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load risk profile: %w", err)
	}

	err = d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		profile, err = d.profileForUpdate(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (d *FraudDetector) profileForUpdate(ctx context.Context, tx repository.Repositories, userID string) (*domain.RiskProfile, error) {
	profile, err := tx.Risk().GetProfileForUpdate(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load risk profile: %w", err)
	}
	profile = domain.NewRiskProfile(userID, d.now())
	if err := tx.Risk().SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create risk profile: %w", err)
	}
	return profile, nil
}

// Block stops every future transfer of the user until Unblock is called.
func (d *FraudDetector) Block(ctx context.Context, userID, reason string) error {
	if reason == "" {
		return apperrors.NewValidationError("reason", "is required")
	}
	err := d.mutateProfile(ctx, userID, func(p *domain.RiskProfile) error {
		p.IsBlocked = true
		p.BlockedReason = reason
		return nil
	})
	if err == nil {
		d.logger.WarnContext(ctx, "User blocked",
			slog.String("user_id", userID),
			slog.String("reason", reason))
	}
	return err
}

func (d *FraudDetector) Unblock(ctx context.Context, userID string) error {
	err := d.mutateProfile(ctx, userID, func(p *domain.RiskProfile) error {
		p.IsBlocked = false
		p.BlockedReason = ""
		return nil
	})
	if err == nil {
		d.logger.InfoContext(ctx, "User unblocked", slog.String("user_id", userID))
	}
	return err
}

// SetBaseScore sets the score every analysis of the user starts from.
func (d *FraudDetector) SetBaseScore(ctx context.Context, userID string, score int) error {
	if score < 0 || score > domain.MaxRiskScore {
		return apperrors.NewValidationError("score", "must be between 0 and 100")
	}
	return d.mutateProfile(ctx, userID, func(p *domain.RiskProfile) error {
		p.Score = score
		return nil
	})
}

func (d *FraudDetector) mutateProfile(ctx context.Context, userID string, mutate func(*domain.RiskProfile) error) error {
	unlock := d.userLocks.lock(userID)
	defer unlock()

	return d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		profile, err := d.profileForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := mutate(profile); err != nil {
			return err
		}
		profile.UpdatedAt = d.now()
		return tx.Risk().SaveProfile(ctx, profile)
	})
}

func (d *FraudDetector) ListAlerts(ctx context.Context, userID string) ([]*domain.Alert, error) {
	return d.store.Risk().ListAlertsByUser(ctx, userID)
}

// UpdateAlertStatus moves an alert along its investigation lifecycle.
func (d *FraudDetector) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus) (*domain.Alert, error) {
	var alert *domain.Alert
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		var err error
		alert, err = tx.Risk().GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if !alert.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: alert %s is %s", apperrors.ErrInvalidTransition, alert.ID, alert.Status)
		}
		alert.Status = status
		alert.UpdatedAt = d.now()
		return tx.Risk().UpdateAlert(ctx, alert)
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}
