package validator

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	apperrors "pix_processor/internal/errors"
)

const (
	maxDescriptionLength = 140
	maxAmountPlaces      = 2
	maxScheduleAhead     = 365 * 24 * time.Hour
)

var (
	ErrInvalidAmount   = errors.New("invalid transfer amount")
	ErrInvalidSchedule = errors.New("invalid schedule date")
)

// TransferInput is the caller-supplied part of a transfer request.
type TransferInput struct {
	SenderUserID string
	ReceiverKey  string
	Amount       decimal.Decimal
	Description  string
	ScheduledFor *time.Time
}

type TransactionValidator struct {
	maxAmount decimal.Decimal
	now       func() time.Time
}

func NewTransactionValidator(now func() time.Time) *TransactionValidator {
	if now == nil {
		now = time.Now
	}
	return &TransactionValidator{
		maxAmount: decimal.NewFromInt(1_000_000),
		now:       now,
	}
}

// ValidateTransfer returns the first problem found as a ValidationError.
func (v *TransactionValidator) ValidateTransfer(in TransferInput) error {
	if strings.TrimSpace(in.SenderUserID) == "" {
		return apperrors.NewValidationError("sender_user_id", "is required")
	}
	if strings.TrimSpace(in.ReceiverKey) == "" {
		return apperrors.NewValidationError("receiver_key", "is required")
	}
	if err := v.ValidateAmount(in.Amount); err != nil {
		return err
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return apperrors.NewValidationError("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
	if in.ScheduledFor != nil {
		now := v.now()
		if !in.ScheduledFor.After(now) {
			return &apperrors.ValidationError{Field: "scheduled_for", Message: ErrInvalidSchedule.Error() + ": must be in the future"}
		}
		if in.ScheduledFor.After(now.Add(maxScheduleAhead)) {
			return &apperrors.ValidationError{Field: "scheduled_for", Message: ErrInvalidSchedule.Error() + ": too far ahead"}
		}
	}
	return nil
}

func (v *TransactionValidator) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError("amount", ErrInvalidAmount.Error()+": must be positive")
	}
	if !amount.Equal(amount.Round(maxAmountPlaces)) {
		return apperrors.NewValidationError("amount", ErrInvalidAmount.Error()+": at most two decimal places")
	}
	if amount.GreaterThan(v.maxAmount) {
		return apperrors.NewValidationError("amount", fmt.Sprintf("%s: exceeds maximum of %s", ErrInvalidAmount, v.maxAmount.StringFixed(2)))
	}
	return nil
}
