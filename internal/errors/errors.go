package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
)

// Domain errors for the transfer engine
var (
	ErrKeyNotFound            = errors.New("transfer key not found")
	ErrDuplicateKey           = errors.New("transfer key already registered")
	ErrKeyLimitReached        = errors.New("maximum number of keys reached")
	ErrKeyInUse               = errors.New("transfer key has transfers in progress")
	ErrNoSenderKey            = errors.New("sender has no registered transfer key")
	ErrSelfTransfer           = errors.New("cannot transfer to the same key")
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrNotCancellable         = errors.New("transfer cannot be cancelled")
	ErrForbidden              = errors.New("operation not allowed for this owner")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	ErrInvalidTransition      = errors.New("invalid status transition")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

type InsufficientFundsError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s", e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

type LimitExceededError struct {
	Constraint domain.LimitConstraint
	Limit      decimal.Decimal
	Remaining  decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: remaining %s of %s", e.Constraint, e.Remaining.StringFixed(2), e.Limit.StringFixed(2))
}

type FraudBlockedError struct {
	Score        int
	Severity     domain.Severity
	Rules        []string
	Reason       string
	RequiresAuth bool
}

func (e *FraudBlockedError) Error() string {
	if e.RequiresAuth {
		return fmt.Sprintf("additional authentication required: risk score %d (%s)", e.Score, e.Severity)
	}
	if e.Reason != "" {
		return fmt.Sprintf("transfer blocked by fraud analysis: %s (score %d)", e.Reason, e.Score)
	}
	return fmt.Sprintf("transfer blocked by fraud analysis: score %d (%s), rules [%s]", e.Score, e.Severity, strings.Join(e.Rules, ", "))
}

type SettlementError struct {
	Reason  string
	Timeout bool
	Cause   error
}

func (e *SettlementError) Error() string {
	if e.Timeout {
		return "settlement failed: timeout waiting for payment network"
	}
	return fmt.Sprintf("settlement failed: %s", e.Reason)
}

func (e *SettlementError) Unwrap() error {
	return e.Cause
}

type ChainBreakKind string

const (
	BreakLink    ChainBreakKind = "link"
	BreakContent ChainBreakKind = "content"
)

type ChainBreak struct {
	EntryID  string
	Sequence int64
	Kind     ChainBreakKind
}

type ChainIntegrityError struct {
	UserID string
	Breaks []ChainBreak
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("audit chain for user %s has %d broken entries, first at sequence %d", e.UserID, len(e.Breaks), e.Breaks[0].Sequence)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsInsufficientFunds(err error) bool {
	var fundsErr *InsufficientFundsError
	return errors.As(err, &fundsErr)
}

func IsLimitExceeded(err error) bool {
	var limitErr *LimitExceededError
	return errors.As(err, &limitErr)
}

func IsFraudBlocked(err error) bool {
	var fraudErr *FraudBlockedError
	return errors.As(err, &fraudErr)
}

func IsSettlement(err error) bool {
	var settlementErr *SettlementError
	return errors.As(err, &settlementErr)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrTransferNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrReconciliationConflict)
}

func IsChainIntegrity(err error) bool {
	var chainErr *ChainIntegrityError
	return errors.As(err, &chainErr)
}
