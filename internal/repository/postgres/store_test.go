package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, repository.ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505", Constraint: "transfer_keys_value_key"}, repository.ErrDuplicate},
		{"check violation", &pq.Error{Code: "23514", Message: "balance"}, repository.ErrConflict},
		{"serialization failure", fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}), repository.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError(tc.err); !errors.Is(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	other := errors.New("connection reset")
	if got := mapError(other); got != other {
		t.Errorf("expected unrelated errors to pass through, got %v", got)
	}
}

func TestForUpdateOnlyInsideTransactions(t *testing.T) {
	if got := (repos{}).forUpdate("SELECT 1"); got != "SELECT 1" {
		t.Errorf("unexpected query %q", got)
	}
	if got := (repos{inTx: true}).forUpdate("SELECT 1"); got != "SELECT 1 FOR UPDATE" {
		t.Errorf("unexpected query %q", got)
	}
}

// openTestStore connects to PIX_TEST_DATABASE_DSN and skips when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PIX_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("PIX_TEST_DATABASE_DSN not set")
	}

	store, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_TransferRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	account := &domain.Account{
		ID: "acc-" + uuid.NewString(), OwnerID: "owner-" + uuid.NewString(),
		Balance: decimal.NewFromInt(100), Currency: domain.DefaultCurrency, Status: domain.AccountActive,
	}
	if err := store.Accounts().Save(ctx, account); err != nil {
		t.Fatalf("save account failed: %v", err)
	}
	if err := store.Accounts().Save(ctx, account); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	transfer := domain.NewTransfer(account.ID, account.OwnerID, decimal.RequireFromString("12.34"), now)
	transfer.ExternalReceiverKey = "someone@example.com"
	if err := store.Transfers().Save(ctx, transfer); err != nil {
		t.Fatalf("save transfer failed: %v", err)
	}

	err := store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		locked, err := tx.Transfers().GetForUpdate(ctx, transfer.ID)
		if err != nil {
			return err
		}
		locked.MarkFailed("network rejected", now)
		return tx.Transfers().Update(ctx, locked)
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	loaded, err := store.Transfers().GetByID(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Status != domain.StatusFailed || !loaded.Amount.Equal(transfer.Amount) {
		t.Errorf("unexpected transfer %+v", loaded)
	}

	loaded.Status = domain.StatusCompleted
	if err := store.Transfers().Update(ctx, loaded); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("expected ErrConflict reopening a failed transfer, got %v", err)
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	account := &domain.Account{
		ID: "acc-" + uuid.NewString(), OwnerID: "owner-" + uuid.NewString(),
		Balance: decimal.NewFromInt(50), Currency: domain.DefaultCurrency, Status: domain.AccountActive,
	}
	if err := store.Accounts().Save(ctx, account); err != nil {
		t.Fatalf("save account failed: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		if err := tx.Accounts().UpdateBalance(ctx, account.ID, decimal.NewFromInt(10)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	loaded, err := store.Accounts().GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected rollback to keep 50, got %s", loaded.Balance)
	}
}
