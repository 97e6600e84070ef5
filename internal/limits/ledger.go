// Package limits tracks how much of each user's spending caps has been used
// and resets the daily and monthly counters at calendar boundaries.
package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/repository"
)

const (
	nightStartHour = 20
	nightEndHour   = 6
)

// Defaults are assigned to a user the first time their limits are read.
type Defaults struct {
	PerTransaction decimal.Decimal
	Daily          decimal.Decimal
	Nightly        decimal.Decimal
	Monthly        decimal.Decimal
}

func DefaultLimits() Defaults {
	return Defaults{
		PerTransaction: decimal.NewFromInt(5000),
		Daily:          decimal.NewFromInt(10000),
		Nightly:        decimal.NewFromInt(1000),
		Monthly:        decimal.NewFromInt(50000),
	}
}

// Update carries the caps a user asked to change. Nil fields are left alone.
type Update struct {
	PerTransaction *decimal.Decimal `json:"per_transaction_limit,omitempty"`
	Daily          *decimal.Decimal `json:"daily_limit,omitempty"`
	Nightly        *decimal.Decimal `json:"nightly_limit,omitempty"`
	Monthly        *decimal.Decimal `json:"monthly_limit,omitempty"`
}

type Ledger struct {
	store    repository.Store
	defaults Defaults
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Ledger)

func WithDefaults(d Defaults) Option {
	return func(l *Ledger) { l.defaults = d }
}

// WithLocation sets the time zone that defines calendar days and the night window.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.location = loc }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store repository.Store, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		store:    store,
		defaults: DefaultLimits(),
		location: time.UTC,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsNightWindow reports whether t falls in the reduced-limit night period.
func (l *Ledger) IsNightWindow(t time.Time) bool {
	hour := t.In(l.location).Hour()
	return hour >= nightStartHour || hour < nightEndHour
}

func (l *Ledger) GetOrCreate(ctx context.Context, userID string) (*domain.LimitWindow, error) {
	var window *domain.LimitWindow
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		var err error
		window, err = l.GetOrCreateTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return window, nil
}

// GetOrCreateTx loads the user's window inside an open transaction, creating
// it from defaults and applying any pending calendar reset.
func (l *Ledger) GetOrCreateTx(ctx context.Context, tx repository.Repositories, userID string) (*domain.LimitWindow, error) {
	now := l.now()

	window, err := tx.Limits().GetForUpdate(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load limits: %w", err)
		}
		window = &domain.LimitWindow{
			UserID:              userID,
			DailyLimit:          l.defaults.Daily,
			NightlyLimit:        l.defaults.Nightly,
			PerTransactionLimit: l.defaults.PerTransaction,
			MonthlyLimit:        l.defaults.Monthly,
			UsedToday:           decimal.Zero,
			UsedThisMonth:       decimal.Zero,
			LastResetAt:         now,
		}
		if err := tx.Limits().Save(ctx, window); err != nil {
			return nil, fmt.Errorf("failed to create limits: %w", err)
		}
		return window, nil
	}

	if l.applyResets(window, now) {
		if err := tx.Limits().Save(ctx, window); err != nil {
			return nil, fmt.Errorf("failed to reset limits: %w", err)
		}
		l.logger.DebugContext(ctx, "Limit counters reset",
			slog.String("user_id", userID))
	}
	return window, nil
}

// applyResets zeroes the counters whose calendar period has ended since the
// last reset. A clock that moved backwards never triggers a reset.
func (l *Ledger) applyResets(w *domain.LimitWindow, now time.Time) bool {
	if !now.After(w.LastResetAt) {
		return false
	}

	last := w.LastResetAt.In(l.location)
	current := now.In(l.location)

	ly, lm, ld := last.Date()
	cy, cm, cd := current.Date()

	dayChanged := ly != cy || lm != cm || ld != cd
	monthChanged := ly != cy || lm != cm

	if dayChanged {
		w.UsedToday = decimal.Zero
	}
	if monthChanged {
		w.UsedThisMonth = decimal.Zero
	}
	if dayChanged || monthChanged {
		w.LastResetAt = now
		return true
	}
	return false
}

// CanTransact returns the current window when amount fits every cap, or a
// LimitExceededError naming the first violated constraint.
func (l *Ledger) CanTransact(ctx context.Context, userID string, amount decimal.Decimal, isNight bool) (*domain.LimitWindow, error) {
	window, err := l.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := Check(window, amount, isNight); err != nil {
		l.logger.WarnContext(ctx, "Limit check failed",
			slog.String("user_id", userID),
			slog.String("amount", amount.StringFixed(2)),
			slog.String("error", err.Error()))
		return window, err
	}
	return window, nil
}

// Hold checks the caps and consumes amount in one transaction, so concurrent
// transfers of the same user cannot both claim the last headroom. Undo it
// with Release when the transfer does not go through.
func (l *Ledger) Hold(ctx context.Context, userID string, amount decimal.Decimal, isNight bool) error {
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return l.ConsumeWithinLimitsTx(ctx, tx, userID, amount, isNight)
	})
	if err != nil && apperrors.IsLimitExceeded(err) {
		l.logger.WarnContext(ctx, "Limit check failed",
			slog.String("user_id", userID),
			slog.String("amount", amount.StringFixed(2)),
			slog.String("error", err.Error()))
	}
	return err
}

// Check evaluates the caps in order: per transaction, the daily or nightly
// headroom, then the monthly headroom. Only the first failure is reported.
func Check(w *domain.LimitWindow, amount decimal.Decimal, isNight bool) error {
	if amount.GreaterThan(w.PerTransactionLimit) {
		return &apperrors.LimitExceededError{
			Constraint: domain.ConstraintPerTransaction,
			Limit:      w.PerTransactionLimit,
			Remaining:  w.PerTransactionLimit,
		}
	}

	periodLimit, constraint := w.DailyLimit, domain.ConstraintDaily
	if isNight {
		periodLimit, constraint = w.NightlyLimit, domain.ConstraintNightly
	}
	if remaining := headroom(periodLimit, w.UsedToday); amount.GreaterThan(remaining) {
		return &apperrors.LimitExceededError{
			Constraint: constraint,
			Limit:      periodLimit,
			Remaining:  remaining,
		}
	}

	if remaining := headroom(w.MonthlyLimit, w.UsedThisMonth); amount.GreaterThan(remaining) {
		return &apperrors.LimitExceededError{
			Constraint: domain.ConstraintMonthly,
			Limit:      w.MonthlyLimit,
			Remaining:  remaining,
		}
	}
	return nil
}

func headroom(limit, used decimal.Decimal) decimal.Decimal {
	remaining := limit.Sub(used)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func (l *Ledger) Consume(ctx context.Context, userID string, amount decimal.Decimal) error {
	return l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return l.ConsumeTx(ctx, tx, userID, amount)
	})
}

// ConsumeTx adds amount to both counters inside an open transaction.
func (l *Ledger) ConsumeTx(ctx context.Context, tx repository.Repositories, userID string, amount decimal.Decimal) error {
	window, err := l.GetOrCreateTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	window.UsedToday = window.UsedToday.Add(amount)
	window.UsedThisMonth = window.UsedThisMonth.Add(amount)
	return tx.Limits().Save(ctx, window)
}

// ConsumeWithinLimitsTx checks the caps against the window locked by tx
// and consumes amount only when they still hold.
func (l *Ledger) ConsumeWithinLimitsTx(ctx context.Context, tx repository.Repositories, userID string, amount decimal.Decimal, isNight bool) error {
	window, err := l.GetOrCreateTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if err := Check(window, amount, isNight); err != nil {
		return err
	}
	window.UsedToday = window.UsedToday.Add(amount)
	window.UsedThisMonth = window.UsedThisMonth.Add(amount)
	return tx.Limits().Save(ctx, window)
}

func (l *Ledger) Release(ctx context.Context, userID string, amount decimal.Decimal) error {
	return l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return l.ReleaseTx(ctx, tx, userID, amount)
	})
}

// ReleaseTx undoes a consumption. Counters never go below zero, so a release
// that crosses a reset boundary only removes what is still counted.
func (l *Ledger) ReleaseTx(ctx context.Context, tx repository.Repositories, userID string, amount decimal.Decimal) error {
	window, err := l.GetOrCreateTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	window.UsedToday = floorZero(window.UsedToday.Sub(amount))
	window.UsedThisMonth = floorZero(window.UsedThisMonth.Sub(amount))
	return tx.Limits().Save(ctx, window)
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// UpdateLimits changes the caps of a user. Usage counters are preserved.
func (l *Ledger) UpdateLimits(ctx context.Context, userID string, update Update) (*domain.LimitWindow, error) {
	for field, value := range map[string]*decimal.Decimal{
		"per_transaction_limit": update.PerTransaction,
		"daily_limit":           update.Daily,
		"nightly_limit":         update.Nightly,
		"monthly_limit":         update.Monthly,
	} {
		if value != nil && !value.IsPositive() {
			return nil, apperrors.NewValidationError(field, "must be positive")
		}
	}

	var window *domain.LimitWindow
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		var err error
		window, err = l.GetOrCreateTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if update.PerTransaction != nil {
			window.PerTransactionLimit = *update.PerTransaction
		}
		if update.Daily != nil {
			window.DailyLimit = *update.Daily
		}
		if update.Nightly != nil {
			window.NightlyLimit = *update.Nightly
		}
		if update.Monthly != nil {
			window.MonthlyLimit = *update.Monthly
		}

		if window.NightlyLimit.GreaterThan(window.DailyLimit) {
			return apperrors.NewValidationError("nightly_limit", "cannot exceed daily limit")
		}
		if window.DailyLimit.GreaterThan(window.MonthlyLimit) {
			return apperrors.NewValidationError("daily_limit", "cannot exceed monthly limit")
		}
		return tx.Limits().Save(ctx, window)
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Limits updated",
		slog.String("user_id", userID),
		slog.String("daily_limit", window.DailyLimit.StringFixed(2)),
		slog.String("per_transaction_limit", window.PerTransactionLimit.StringFixed(2)))
	return window, nil
}
