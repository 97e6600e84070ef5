// Package keys is the key directory: it registers the aliases that route
// instant transfers to an account and resolves aliases typed by payers.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/network"
	"pix_processor/internal/repository"
)

const (
	DefaultMaxKeysPerOwner  = 5
	BusinessMaxKeysPerOwner = 20
)

// Resolution describes the destination behind a key. Value is only used
// internally to address the network; callers display MaskedKey.
type Resolution struct {
	Internal  bool           `json:"internal"`
	KeyID     string         `json:"key_id,omitempty"`
	KeyType   domain.KeyType `json:"key_type"`
	OwnerID   string         `json:"-"`
	AccountID string         `json:"-"`
	OwnerName string         `json:"owner_name"`
	BankName  string         `json:"bank_name"`
	MaskedKey string         `json:"masked_key"`
	Value     string         `json:"-"`
}

type Directory struct {
	store    repository.Store
	lookup   network.KeyLookup
	maxKeys  int
	bankName string
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Directory)

func WithMaxKeys(n int) Option {
	return func(d *Directory) { d.maxKeys = n }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func WithBankName(name string) Option {
	return func(d *Directory) { d.bankName = name }
}

func NewDirectory(store repository.Store, lookup network.KeyLookup, logger *slog.Logger, opts ...Option) *Directory {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Directory{
		store:    store,
		lookup:   lookup,
		maxKeys:  DefaultMaxKeysPerOwner,
		bankName: "Pix Processor Bank",
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create registers a key for owner. value is ignored for random keys.
func (d *Directory) Create(ctx context.Context, ownerID string, keyType domain.KeyType, value string, isPrimary bool) (*domain.TransferKey, error) {
	if !keyType.Valid() {
		return nil, apperrors.NewValidationError("type", "unknown key type")
	}

	if keyType == domain.KeyRandom {
		value = GenerateRandomKey()
	}
	normalized, err := Normalize(keyType, value)
	if err != nil {
		return nil, err
	}

	var created *domain.TransferKey
	err = d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		account, err := tx.Accounts().GetByOwnerID(ctx, ownerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrAccountNotFound
			}
			return err
		}
		if account.Status != domain.AccountActive {
			return apperrors.NewValidationError("owner", "account is not active")
		}

		exists, err := tx.Keys().ValueExists(ctx, normalized)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrDuplicateKey
		}

		owned, err := tx.Keys().ListByOwner(ctx, ownerID, false)
		if err != nil {
			return err
		}
		if len(owned) >= d.capFor(owned, keyType) {
			return apperrors.ErrKeyLimitReached
		}

		key := &domain.TransferKey{
			ID:             uuid.NewString(),
			OwnerID:        ownerID,
			OwnerAccountID: account.ID,
			Type:           keyType,
			Value:          normalized,
			IsPrimary:      isPrimary || len(owned) == 0,
			State:          domain.KeyStateActive,
			CreatedAt:      d.now(),
		}

		if key.IsPrimary {
			for _, other := range owned {
				if !other.IsPrimary {
					continue
				}
				other.IsPrimary = false
				if err := tx.Keys().Update(ctx, other); err != nil {
					return err
				}
			}
		}

		if err := tx.Keys().Save(ctx, key); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.ErrDuplicateKey
			}
			return err
		}
		created = key
		return nil
	})
	if err != nil {
		d.logger.WarnContext(ctx, "Key registration rejected",
			slog.String("owner_id", ownerID),
			slog.String("key_type", string(keyType)),
			slog.String("error", err.Error()))
		return nil, err
	}

	d.logger.InfoContext(ctx, "Key registered",
		slog.String("owner_id", ownerID),
		slog.String("key_id", created.ID),
		slog.String("key_type", string(keyType)),
		slog.Bool("primary", created.IsPrimary))
	return created, nil
}

func (d *Directory) capFor(owned []*domain.TransferKey, creating domain.KeyType) int {
	if creating == domain.KeyBusinessID {
		return max(d.maxKeys, BusinessMaxKeysPerOwner)
	}
	for _, k := range owned {
		if k.Type == domain.KeyBusinessID {
			return max(d.maxKeys, BusinessMaxKeysPerOwner)
		}
	}
	return d.maxKeys
}

func (d *Directory) List(ctx context.Context, ownerID string) ([]*domain.TransferKey, error) {
	return d.store.Keys().ListByOwner(ctx, ownerID, false)
}

func (d *Directory) SetPrimary(ctx context.Context, ownerID, keyID string) error {
	return d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		key, err := d.ownedKey(ctx, tx, ownerID, keyID)
		if err != nil {
			return err
		}
		if !key.IsActive() {
			return apperrors.ErrKeyNotFound
		}
		if key.IsPrimary {
			return nil
		}

		owned, err := tx.Keys().ListByOwner(ctx, ownerID, false)
		if err != nil {
			return err
		}
		for _, other := range owned {
			if other.IsPrimary {
				other.IsPrimary = false
				if err := tx.Keys().Update(ctx, other); err != nil {
					return err
				}
			}
		}

		key.IsPrimary = true
		return tx.Keys().Update(ctx, key)
	})
}

// Delete soft-deactivates a key. A key referenced by a transfer that has
// not reached a terminal status cannot be removed.
func (d *Directory) Delete(ctx context.Context, ownerID, keyID string) error {
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		key, err := d.ownedKey(ctx, tx, ownerID, keyID)
		if err != nil {
			return err
		}
		if !key.IsActive() {
			return apperrors.ErrKeyNotFound
		}

		open, err := tx.Transfers().HasOpenForKey(ctx, keyID)
		if err != nil {
			return err
		}
		if open {
			return apperrors.ErrKeyInUse
		}

		wasPrimary := key.IsPrimary
		key.Deactivate(d.now())
		if err := tx.Keys().Update(ctx, key); err != nil {
			return err
		}

		if !wasPrimary {
			return nil
		}
		remaining, err := tx.Keys().ListByOwner(ctx, ownerID, false)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		remaining[0].IsPrimary = true
		return tx.Keys().Update(ctx, remaining[0])
	})
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Key deactivated",
		slog.String("owner_id", ownerID),
		slog.String("key_id", keyID))
	return nil
}

// DeactivateAll retires every key of an owner whose account is being closed.
func (d *Directory) DeactivateAll(ctx context.Context, ownerID string) (int, error) {
	count := 0
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		owned, err := tx.Keys().ListByOwner(ctx, ownerID, false)
		if err != nil {
			return err
		}
		for _, key := range owned {
			open, err := tx.Transfers().HasOpenForKey(ctx, key.ID)
			if err != nil {
				return err
			}
			if open {
				return fmt.Errorf("key %s: %w", key.ID, apperrors.ErrKeyInUse)
			}
			key.Deactivate(d.now())
			if err := tx.Keys().Update(ctx, key); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SenderKey returns keyID when given, otherwise the owner's primary key.
func (d *Directory) SenderKey(ctx context.Context, ownerID, keyID string) (*domain.TransferKey, error) {
	if keyID != "" {
		key, err := d.ownedKey(ctx, d.store, ownerID, keyID)
		if err != nil {
			return nil, err
		}
		if !key.IsActive() {
			return nil, apperrors.ErrKeyNotFound
		}
		return key, nil
	}

	owned, err := d.store.Keys().ListByOwner(ctx, ownerID, false)
	if err != nil {
		return nil, err
	}
	for _, key := range owned {
		if key.IsPrimary {
			return key, nil
		}
	}
	return nil, apperrors.ErrNoSenderKey
}

// Resolve finds the destination behind a key value, asking the network
// directory when the key is not registered here.
func (d *Directory) Resolve(ctx context.Context, value string) (*Resolution, error) {
	keyType, normalized, ok := Detect(value)
	if !ok {
		return nil, apperrors.NewValidationError("key", "unrecognized key format")
	}

	key, err := d.store.Keys().GetActiveByValue(ctx, normalized)
	if err == nil {
		account, err := d.store.Accounts().GetByID(ctx, key.OwnerAccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load key account: %w", err)
		}
		return &Resolution{
			Internal:  true,
			KeyID:     key.ID,
			KeyType:   key.Type,
			OwnerID:   key.OwnerID,
			AccountID: account.ID,
			OwnerName: account.OwnerName,
			BankName:  d.bankName,
			MaskedKey: Mask(key.Type, key.Value),
			Value:     key.Value,
		}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if d.lookup == nil {
		return nil, apperrors.ErrKeyNotFound
	}
	result, err := d.lookup.Lookup(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("external key lookup failed: %w", err)
	}
	if !result.Found {
		return nil, apperrors.ErrKeyNotFound
	}

	return &Resolution{
		Internal:  false,
		KeyType:   keyType,
		OwnerName: result.OwnerName,
		BankName:  result.BankName,
		MaskedKey: Mask(keyType, normalized),
		Value:     normalized,
	}, nil
}

func (d *Directory) ownedKey(ctx context.Context, repos repository.Repositories, ownerID, keyID string) (*domain.TransferKey, error) {
	key, err := repos.Keys().GetByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrKeyNotFound
		}
		return nil, err
	}
	if key.OwnerID != ownerID {
		return nil, apperrors.ErrKeyNotFound
	}
	return key, nil
}
