package processor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pix_processor/internal/audit"
	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/repository"
)

// Posting is one signed balance movement on one account.
type Posting struct {
	AccountID  string
	TransferID string
	Kind       domain.LedgerEntryKind
	Delta      decimal.Decimal
	Event      domain.AuditEventType
	Payload    any
}

// Poster applies postings inside an open transaction, writing the ledger
// entry and the audit link in the same unit as the balance change.
type Poster struct {
	chain *audit.Chain
	now   func() time.Time
}

func NewPoster(chain *audit.Chain, now func() time.Time) *Poster {
	if now == nil {
		now = time.Now
	}
	return &Poster{chain: chain, now: now}
}

// LockAccounts takes the row locks of every account in a stable order so two
// transfers between the same pair of accounts cannot deadlock.
func LockAccounts(ctx context.Context, tx repository.Repositories, ids ...string) (map[string]*domain.Account, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locked := make(map[string]*domain.Account, len(sorted))
	for _, id := range sorted {
		if id == "" {
			continue
		}
		account, err := tx.Accounts().GetForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %s: %w", id, err)
		}
		locked[id] = account
	}
	return locked, nil
}

func (p *Poster) Post(ctx context.Context, tx repository.Repositories, posting Posting) (*domain.Account, error) {
	account, err := tx.Accounts().GetForUpdate(ctx, posting.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", posting.AccountID, err)
	}

	before := account.Balance
	after := before.Add(posting.Delta)
	amount := posting.Delta.Abs()
	if after.IsNegative() {
		return nil, &apperrors.InsufficientFundsError{Available: before, Requested: amount}
	}

	if err := tx.Accounts().UpdateBalance(ctx, account.ID, after); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	now := p.now()
	if err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
		ID:           uuid.NewString(),
		TransferID:   posting.TransferID,
		AccountID:    account.ID,
		Kind:         posting.Kind,
		Amount:       amount,
		BalanceAfter: after,
		CreatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("failed to write ledger entry: %w", err)
	}

	if _, err := p.chain.AppendTx(ctx, tx, audit.Event{
		UserID:        account.OwnerID,
		Type:          posting.Event,
		Payload:       posting.Payload,
		Amount:        &amount,
		BalanceBefore: &before,
		BalanceAfter:  &after,
	}); err != nil {
		return nil, err
	}

	account.Balance = after
	account.UpdatedAt = now
	return account, nil
}

// TransferPayload is the audit payload recorded for transfer movements.
type TransferPayload struct {
	TransferID          string `json:"transfer_id"`
	ExternalReferenceID string `json:"external_reference_id,omitempty"`
	Direction           string `json:"direction"`
	Reason              string `json:"reason,omitempty"`
}
