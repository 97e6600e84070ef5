package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type AccountRepository struct {
	v view
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	defer r.v.lock()()
	d := r.v.s.data

	if _, exists := d.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.ID)
	}
	if _, exists := d.ownerIndex[account.OwnerID]; exists {
		return fmt.Errorf("%w: account for owner %s", repository.ErrDuplicate, account.OwnerID)
	}

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	d.accounts[account.ID] = cloneAccount(account)
	d.ownerIndex[account.OwnerID] = account.ID

	r.v.onRollback(func() {
		delete(d.accounts, account.ID)
		delete(d.ownerIndex, account.OwnerID)
	})
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	defer r.v.rlock()()

	account, exists := r.v.s.data.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return cloneAccount(account), nil
}

func (r *AccountRepository) GetByOwnerID(ctx context.Context, ownerID string) (*domain.Account, error) {
	defer r.v.rlock()()
	d := r.v.s.data

	id, exists := d.ownerIndex[ownerID]
	if !exists {
		return nil, fmt.Errorf("%w: account for owner %s", repository.ErrNotFound, ownerID)
	}
	return cloneAccount(d.accounts[id]), nil
}

// GetForUpdate relies on the transaction's exclusive lock.
func (r *AccountRepository) GetForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	defer r.v.lock()()

	account, exists := r.v.s.data.accounts[id]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative balance for account %s", repository.ErrConflict, id)
	}

	previous := *account
	account.Balance = balance
	account.UpdatedAt = time.Now()
	r.v.onRollback(func() { *account = previous })

	return nil
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	defer r.v.lock()()

	account, exists := r.v.s.data.accounts[id]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}

	previous := *account
	account.Status = status
	account.UpdatedAt = time.Now()
	r.v.onRollback(func() { *account = previous })

	return nil
}
