package memory

import (
	"context"
	"fmt"
	"sort"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type RiskRepository struct {
	v view
}

func (r *RiskRepository) GetProfile(ctx context.Context, userID string) (*domain.RiskProfile, error) {
	defer r.v.rlock()()

	profile, exists := r.v.s.data.profiles[userID]
	if !exists {
		return nil, fmt.Errorf("%w: risk profile %s", repository.ErrNotFound, userID)
	}
	return cloneProfile(profile), nil
}

func (r *RiskRepository) GetProfileForUpdate(ctx context.Context, userID string) (*domain.RiskProfile, error) {
	return r.GetProfile(ctx, userID)
}

func (r *RiskRepository) SaveProfile(ctx context.Context, profile *domain.RiskProfile) error {
	defer r.v.lock()()
	d := r.v.s.data

	previous, existed := d.profiles[profile.UserID]
	d.profiles[profile.UserID] = cloneProfile(profile)
	r.v.onRollback(func() {
		if existed {
			d.profiles[profile.UserID] = previous
			return
		}
		delete(d.profiles, profile.UserID)
	})
	return nil
}

func (r *RiskRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	defer r.v.lock()()
	d := r.v.s.data

	if _, exists := d.alerts[alert.ID]; exists {
		return fmt.Errorf("%w: alert %s", repository.ErrDuplicate, alert.ID)
	}
	d.alerts[alert.ID] = cloneAlert(alert)
	r.v.onRollback(func() { delete(d.alerts, alert.ID) })
	return nil
}

func (r *RiskRepository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	defer r.v.lock()()
	d := r.v.s.data

	previous, exists := d.alerts[alert.ID]
	if !exists {
		return fmt.Errorf("%w: alert %s", repository.ErrNotFound, alert.ID)
	}
	d.alerts[alert.ID] = cloneAlert(alert)
	r.v.onRollback(func() { d.alerts[alert.ID] = previous })
	return nil
}

func (r *RiskRepository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	defer r.v.rlock()()

	alert, exists := r.v.s.data.alerts[id]
	if !exists {
		return nil, fmt.Errorf("%w: alert %s", repository.ErrNotFound, id)
	}
	return cloneAlert(alert), nil
}

func (r *RiskRepository) ListAlertsByUser(ctx context.Context, userID string) ([]*domain.Alert, error) {
	defer r.v.rlock()()

	var result []*domain.Alert
	for _, alert := range r.v.s.data.alerts {
		if alert.UserID == userID {
			result = append(result, cloneAlert(alert))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
