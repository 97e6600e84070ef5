package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
)

type AccountRepository interface {
	Save(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByOwnerID(ctx context.Context, ownerID string) (*domain.Account, error)
	// GetForUpdate locks the row for the remainder of the enclosing transaction.
	GetForUpdate(ctx context.Context, id string) (*domain.Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error
}

type KeyRepository interface {
	Save(ctx context.Context, key *domain.TransferKey) error
	Update(ctx context.Context, key *domain.TransferKey) error
	GetByID(ctx context.Context, id string) (*domain.TransferKey, error)
	GetActiveByValue(ctx context.Context, value string) (*domain.TransferKey, error)
	// ValueExists reports whether the value was ever registered, active or not.
	ValueExists(ctx context.Context, value string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.TransferKey, error)
}

type TransferRepository interface {
	Save(ctx context.Context, transfer *domain.Transfer) error
	Update(ctx context.Context, transfer *domain.Transfer) error
	GetByID(ctx context.Context, id string) (*domain.Transfer, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Transfer, error)
	GetByExternalReference(ctx context.Context, ref string) (*domain.Transfer, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error)
	ListRecentBySender(ctx context.Context, accountID string, limit int) ([]*domain.Transfer, error)
	CountBySenderSince(ctx context.Context, accountID string, since time.Time) (int, error)
	CountCompletedBySender(ctx context.Context, accountID string) (int, error)
	SumOutboundSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error)
	HasCompletedToRecipient(ctx context.Context, accountID, recipientKey string) (bool, error)
	HasOpenForKey(ctx context.Context, keyID string) (bool, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Transfer, error)
}

type LimitRepository interface {
	Get(ctx context.Context, userID string) (*domain.LimitWindow, error)
	GetForUpdate(ctx context.Context, userID string) (*domain.LimitWindow, error)
	Save(ctx context.Context, window *domain.LimitWindow) error
}

type RiskRepository interface {
	GetProfile(ctx context.Context, userID string) (*domain.RiskProfile, error)
	GetProfileForUpdate(ctx context.Context, userID string) (*domain.RiskProfile, error)
	SaveProfile(ctx context.Context, profile *domain.RiskProfile) error
	SaveAlert(ctx context.Context, alert *domain.Alert) error
	UpdateAlert(ctx context.Context, alert *domain.Alert) error
	GetAlert(ctx context.Context, id string) (*domain.Alert, error)
	ListAlertsByUser(ctx context.Context, userID string) ([]*domain.Alert, error)
}

type RuleRepository interface {
	Save(ctx context.Context, rule *domain.FraudRule) error
	GetByID(ctx context.Context, id string) (*domain.FraudRule, error)
	GetAll(ctx context.Context) ([]*domain.FraudRule, error)
	GetActiveRules(ctx context.Context) ([]*domain.FraudRule, error)
	Update(ctx context.Context, rule *domain.FraudRule) error
	Deactivate(ctx context.Context, id string) error
	// Snapshot returns the active rules together with the generation they
	// were read at; the generation changes on every rule mutation.
	Snapshot(ctx context.Context) (domain.RuleSet, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	Last(ctx context.Context, userID string) (*domain.AuditEntry, error)
	// ListByUser returns entries in chain order. Zero bounds are open.
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*domain.AuditEntry, error)
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	ListByTransfer(ctx context.Context, transferID string) ([]*domain.LedgerEntry, error)
}

type WebhookRepository interface {
	Save(ctx context.Context, event *domain.WebhookEvent) error
	Update(ctx context.Context, event *domain.WebhookEvent) error
	GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error)
	ListRetryable(ctx context.Context, maxAttempts int) ([]*domain.WebhookEvent, error)
}

type Repositories interface {
	Accounts() AccountRepository
	Keys() KeyRepository
	Transfers() TransferRepository
	Limits() LimitRepository
	Risk() RiskRepository
	Rules() RuleRepository
	Audit() AuditRepository
	Ledger() LedgerRepository
	Webhooks() WebhookRepository
}

// Store is the persistence boundary. WithinTx runs fn against repositories
// bound to a single atomic unit: every write inside fn is committed together
// or not at all, and no concurrent reader observes a partial group.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
	ErrConflict  = errors.New("concurrent modification")
)
