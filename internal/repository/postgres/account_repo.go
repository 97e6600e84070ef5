package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type AccountRepository struct {
	repos
}

const accountColumns = `id, owner_id, owner_name, balance, currency, status, created_at, updated_at`

func scanAccount(row scanner) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.OwnerID, &a.OwnerName, &a.Balance, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.ExecContext(ctx, query,
		account.ID, account.OwnerID, account.OwnerName, account.Balance,
		account.Currency, account.Status, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", mapError(err))
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return account, nil
}

func (r *AccountRepository) GetByOwnerID(ctx context.Context, ownerID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1`
	account, err := scanAccount(r.q.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		return nil, notFound(err, "account for owner", ownerID)
	}
	return account, nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	query := r.forUpdate(`SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`)
	account, err := scanAccount(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return account, nil
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: negative balance for account %s", repository.ErrConflict, id)
	}

	query := `UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`
	result, err := r.q.ExecContext(ctx, query, balance, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", mapError(err))
	}
	return expectRow(result, "account", id)
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	query := `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.q.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", mapError(err))
	}
	return expectRow(result, "account", id)
}

type LedgerRepository struct {
	repos
}

func (r *LedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, transfer_id, account_id, kind, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.ExecContext(ctx, query,
		entry.ID, entry.TransferID, entry.AccountID, entry.Kind,
		entry.Amount, entry.BalanceAfter, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", mapError(err))
	}
	return nil
}

func (r *LedgerRepository) ListByTransfer(ctx context.Context, transferID string) ([]*domain.LedgerEntry, error) {
	query := `SELECT id, transfer_id, account_id, kind, amount, balance_after, created_at
		FROM ledger_entries WHERE transfer_id = $1 ORDER BY created_at, id`
	rows, err := r.q.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return collect(rows, func(row scanner) (*domain.LedgerEntry, error) {
		e := &domain.LedgerEntry{}
		err := row.Scan(&e.ID, &e.TransferID, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceAfter, &e.CreatedAt)
		return e, err
	})
}
