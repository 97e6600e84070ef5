package memory

import (
	"context"
	"fmt"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type LimitRepository struct {
	v view
}

func (r *LimitRepository) Get(ctx context.Context, userID string) (*domain.LimitWindow, error) {
	defer r.v.rlock()()

	window, exists := r.v.s.data.limits[userID]
	if !exists {
		return nil, fmt.Errorf("%w: limits for user %s", repository.ErrNotFound, userID)
	}
	return cloneLimit(window), nil
}

func (r *LimitRepository) GetForUpdate(ctx context.Context, userID string) (*domain.LimitWindow, error) {
	return r.Get(ctx, userID)
}

func (r *LimitRepository) Save(ctx context.Context, window *domain.LimitWindow) error {
	defer r.v.lock()()
	d := r.v.s.data

	previous, existed := d.limits[window.UserID]
	d.limits[window.UserID] = cloneLimit(window)
	r.v.onRollback(func() {
		if existed {
			d.limits[window.UserID] = previous
			return
		}
		delete(d.limits, window.UserID)
	})
	return nil
}
