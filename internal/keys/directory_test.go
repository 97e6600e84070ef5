package keys

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/network"
	"pix_processor/internal/repository/memory"
)

func newDirectory(t *testing.T) (*Directory, *memory.Store, *network.Simulator) {
	t.Helper()
	store := memory.NewStore()
	sim := network.NewSimulator(nil)
	for _, owner := range []string{"u1", "u2"} {
		err := store.Accounts().Save(context.Background(), &domain.Account{
			ID:        "acc-" + owner,
			OwnerID:   owner,
			OwnerName: "Owner " + owner,
			Balance:   decimal.NewFromInt(100),
			Currency:  domain.DefaultCurrency,
			Status:    domain.AccountActive,
		})
		if err != nil {
			t.Fatalf("save account failed: %v", err)
		}
	}
	return NewDirectory(store, sim, nil), store, sim
}

func TestDirectory_FirstKeyBecomesPrimary(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()

	first, err := dir.Create(ctx, "u1", domain.KeyEmail, "one@example.com", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := dir.Create(ctx, "u1", domain.KeyRandom, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.IsPrimary {
		t.Error("expected first key to be primary")
	}
	if second.IsPrimary {
		t.Error("expected second key not to be primary")
	}
}

func TestDirectory_RejectsDuplicateAcrossOwners(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()
	_, _ = dir.Create(ctx, "u1", domain.KeyEmail, "shared@example.com", false)

	_, err := dir.Create(ctx, "u2", domain.KeyEmail, "SHARED@example.com", false)

	if !errors.Is(err, apperrors.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestDirectory_EnforcesKeyCap(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()
	for i := 0; i < DefaultMaxKeysPerOwner; i++ {
		if _, err := dir.Create(ctx, "u1", domain.KeyRandom, "", false); err != nil {
			t.Fatalf("unexpected error on key %d: %v", i, err)
		}
	}

	_, err := dir.Create(ctx, "u1", domain.KeyRandom, "", false)

	if !errors.Is(err, apperrors.ErrKeyLimitReached) {
		t.Fatalf("expected ErrKeyLimitReached, got %v", err)
	}
}

func TestDirectory_SetPrimaryDemotesPrevious(t *testing.T) {
	dir, store, _ := newDirectory(t)
	ctx := context.Background()
	first, _ := dir.Create(ctx, "u1", domain.KeyEmail, "one@example.com", false)
	second, _ := dir.Create(ctx, "u1", domain.KeyPhone, "+5511987654321", false)

	if err := dir.SetPrimary(ctx, "u1", second.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	oldPrimary, _ := store.Keys().GetByID(ctx, first.ID)
	newPrimary, _ := store.Keys().GetByID(ctx, second.ID)
	if oldPrimary.IsPrimary || !newPrimary.IsPrimary {
		t.Errorf("expected primary to move, got first=%v second=%v", oldPrimary.IsPrimary, newPrimary.IsPrimary)
	}
}

func TestDirectory_DeletePromotesRemainingKey(t *testing.T) {
	dir, store, _ := newDirectory(t)
	ctx := context.Background()
	first, _ := dir.Create(ctx, "u1", domain.KeyEmail, "one@example.com", false)
	second, _ := dir.Create(ctx, "u1", domain.KeyPhone, "+5511987654321", false)

	if err := dir.Delete(ctx, "u1", first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted, _ := store.Keys().GetByID(ctx, first.ID)
	if deleted.IsActive() {
		t.Error("expected deleted key to be inactive but retained")
	}
	promoted, _ := store.Keys().GetByID(ctx, second.ID)
	if !promoted.IsPrimary {
		t.Error("expected remaining key to become primary")
	}
	if _, err := dir.Create(ctx, "u2", domain.KeyEmail, "one@example.com", false); !errors.Is(err, apperrors.ErrDuplicateKey) {
		t.Errorf("expected deactivated value to stay reserved, got %v", err)
	}
}

func TestDirectory_DeleteRefusesKeyWithOpenTransfer(t *testing.T) {
	dir, store, _ := newDirectory(t)
	ctx := context.Background()
	key, _ := dir.Create(ctx, "u1", domain.KeyEmail, "one@example.com", false)
	_ = store.Transfers().Save(ctx, &domain.Transfer{ID: "t1", SenderKeyID: key.ID, Status: domain.StatusPending})

	err := dir.Delete(ctx, "u1", key.ID)

	if !errors.Is(err, apperrors.ErrKeyInUse) {
		t.Fatalf("expected ErrKeyInUse, got %v", err)
	}
}

func TestDirectory_ResolveInternalAndExternal(t *testing.T) {
	dir, _, sim := newDirectory(t)
	ctx := context.Background()
	_, _ = dir.Create(ctx, "u2", domain.KeyNationalID, "529.982.247-25", false)
	sim.RegisterExternalKey("other@bank.com", "External Person", "Other Bank")

	internal, err := dir.Resolve(ctx, "52998224725")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	external, err := dir.Resolve(ctx, "other@bank.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, missing := dir.Resolve(ctx, "nobody@nowhere.com")

	if !internal.Internal || internal.AccountID != "acc-u2" || internal.MaskedKey != "***.982.247-**" {
		t.Errorf("unexpected internal resolution %+v", internal)
	}
	if external.Internal || external.BankName != "Other Bank" {
		t.Errorf("unexpected external resolution %+v", external)
	}
	if !errors.Is(missing, apperrors.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", missing)
	}
}
