package memory

import (
	"context"
	"fmt"
	"sort"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type WebhookRepository struct {
	v view
}

func (r *WebhookRepository) Save(ctx context.Context, event *domain.WebhookEvent) error {
	defer r.v.lock()()
	d := r.v.s.data

	if _, exists := d.webhooks[event.ID]; exists {
		return fmt.Errorf("%w: webhook event %s", repository.ErrDuplicate, event.ID)
	}
	d.webhooks[event.ID] = cloneWebhook(event)
	r.v.onRollback(func() { delete(d.webhooks, event.ID) })
	return nil
}

func (r *WebhookRepository) Update(ctx context.Context, event *domain.WebhookEvent) error {
	defer r.v.lock()()
	d := r.v.s.data

	previous, exists := d.webhooks[event.ID]
	if !exists {
		return fmt.Errorf("%w: webhook event %s", repository.ErrNotFound, event.ID)
	}
	d.webhooks[event.ID] = cloneWebhook(event)
	r.v.onRollback(func() { d.webhooks[event.ID] = previous })
	return nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	defer r.v.rlock()()

	event, exists := r.v.s.data.webhooks[id]
	if !exists {
		return nil, fmt.Errorf("%w: webhook event %s", repository.ErrNotFound, id)
	}
	return cloneWebhook(event), nil
}

func (r *WebhookRepository) ListRetryable(ctx context.Context, maxAttempts int) ([]*domain.WebhookEvent, error) {
	defer r.v.rlock()()

	var result []*domain.WebhookEvent
	for _, event := range r.v.s.data.webhooks {
		if event.Outcome == domain.OutcomeFailed && event.Attempts < maxAttempts {
			result = append(result, cloneWebhook(event))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})
	return result, nil
}
