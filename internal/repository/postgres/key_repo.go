package postgres

import (
	"context"
	"fmt"

	"pix_processor/internal/domain"
)

type KeyRepository struct {
	repos
}

const keyColumns = `id, owner_id, owner_account_id, type, value, is_primary, state, created_at, deactivated_at`

func scanKey(row scanner) (*domain.TransferKey, error) {
	k := &domain.TransferKey{}
	err := row.Scan(&k.ID, &k.OwnerID, &k.OwnerAccountID, &k.Type, &k.Value, &k.IsPrimary, &k.State, &k.CreatedAt, &k.DeactivatedAt)
	return k, err
}

// Save fails with ErrDuplicate when the value was ever registered, since
// the unique constraint covers inactive keys too.
func (r *KeyRepository) Save(ctx context.Context, key *domain.TransferKey) error {
	query := `INSERT INTO transfer_keys (` + keyColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.ExecContext(ctx, query,
		key.ID, key.OwnerID, key.OwnerAccountID, key.Type, key.Value,
		key.IsPrimary, key.State, key.CreatedAt.UTC(), nullTime(key.DeactivatedAt))
	if err != nil {
		return fmt.Errorf("failed to save key: %w", mapError(err))
	}
	return nil
}

func (r *KeyRepository) Update(ctx context.Context, key *domain.TransferKey) error {
	query := `UPDATE transfer_keys SET is_primary = $1, state = $2, deactivated_at = $3 WHERE id = $4`
	result, err := r.q.ExecContext(ctx, query, key.IsPrimary, key.State, nullTime(key.DeactivatedAt), key.ID)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", mapError(err))
	}
	return expectRow(result, "key", key.ID)
}

func (r *KeyRepository) GetByID(ctx context.Context, id string) (*domain.TransferKey, error) {
	query := r.forUpdate(`SELECT ` + keyColumns + ` FROM transfer_keys WHERE id = $1`)
	key, err := scanKey(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "key", id)
	}
	return key, nil
}

func (r *KeyRepository) GetActiveByValue(ctx context.Context, value string) (*domain.TransferKey, error) {
	query := `SELECT ` + keyColumns + ` FROM transfer_keys WHERE value = $1 AND state = $2`
	key, err := scanKey(r.q.QueryRowContext(ctx, query, value, domain.KeyStateActive))
	if err != nil {
		return nil, notFound(err, "key value", "")
	}
	return key, nil
}

func (r *KeyRepository) ValueExists(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transfer_keys WHERE value = $1)`, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check key value: %w", err)
	}
	return exists, nil
}

func (r *KeyRepository) ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.TransferKey, error) {
	query := `SELECT ` + keyColumns + ` FROM transfer_keys
		WHERE owner_id = $1 AND ($2 OR state = $3)
		ORDER BY created_at, id`
	rows, err := r.q.QueryContext(ctx, query, ownerID, includeInactive, domain.KeyStateActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return collect(rows, scanKey)
}
