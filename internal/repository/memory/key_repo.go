package memory

import (
	"context"
	"fmt"
	"sort"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type KeyRepository struct {
	v view
}

func (r *KeyRepository) Save(ctx context.Context, key *domain.TransferKey) error {
	defer r.v.lock()()
	d := r.v.s.data

	if _, exists := d.keys[key.ID]; exists {
		return fmt.Errorf("%w: key %s", repository.ErrDuplicate, key.ID)
	}
	for _, k := range d.keys {
		if k.Value == key.Value {
			return fmt.Errorf("%w: key value", repository.ErrDuplicate)
		}
	}

	d.keys[key.ID] = cloneKey(key)
	r.v.onRollback(func() { delete(d.keys, key.ID) })
	return nil
}

func (r *KeyRepository) Update(ctx context.Context, key *domain.TransferKey) error {
	defer r.v.lock()()
	d := r.v.s.data

	existing, exists := d.keys[key.ID]
	if !exists {
		return fmt.Errorf("%w: key %s", repository.ErrNotFound, key.ID)
	}

	previous := existing
	d.keys[key.ID] = cloneKey(key)
	r.v.onRollback(func() { d.keys[key.ID] = previous })
	return nil
}

func (r *KeyRepository) GetByID(ctx context.Context, id string) (*domain.TransferKey, error) {
	defer r.v.rlock()()

	key, exists := r.v.s.data.keys[id]
	if !exists {
		return nil, fmt.Errorf("%w: key %s", repository.ErrNotFound, id)
	}
	return cloneKey(key), nil
}

func (r *KeyRepository) GetActiveByValue(ctx context.Context, value string) (*domain.TransferKey, error) {
	defer r.v.rlock()()

	for _, key := range r.v.s.data.keys {
		if key.Value == value && key.IsActive() {
			return cloneKey(key), nil
		}
	}
	return nil, fmt.Errorf("%w: key value", repository.ErrNotFound)
}

func (r *KeyRepository) ValueExists(ctx context.Context, value string) (bool, error) {
	defer r.v.rlock()()

	for _, key := range r.v.s.data.keys {
		if key.Value == value {
			return true, nil
		}
	}
	return false, nil
}

func (r *KeyRepository) ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*domain.TransferKey, error) {
	defer r.v.rlock()()

	var result []*domain.TransferKey
	for _, key := range r.v.s.data.keys {
		if key.OwnerID != ownerID {
			continue
		}
		if !includeInactive && !key.IsActive() {
			continue
		}
		result = append(result, cloneKey(key))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}
