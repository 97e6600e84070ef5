package memory

import (
	"context"
	"fmt"
	"time"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type AuditRepository struct {
	v view
}

// Append assigns the next sequence number in the user's chain.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	defer r.v.lock()()
	d := r.v.s.data

	chain := d.audit[entry.UserID]
	entry.Sequence = int64(len(chain)) + 1
	d.audit[entry.UserID] = append(chain, cloneAudit(entry))
	r.v.onRollback(func() { d.audit[entry.UserID] = chain })

	return nil
}

func (r *AuditRepository) Last(ctx context.Context, userID string) (*domain.AuditEntry, error) {
	defer r.v.rlock()()

	chain := r.v.s.data.audit[userID]
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: audit chain for user %s", repository.ErrNotFound, userID)
	}
	return cloneAudit(chain[len(chain)-1]), nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*domain.AuditEntry, error) {
	defer r.v.rlock()()

	var result []*domain.AuditEntry
	for _, entry := range r.v.s.data.audit[userID] {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, cloneAudit(entry))
	}
	return result, nil
}

// Tamper overwrites a stored entry in place. It exists so tests can simulate
// an out-of-band modification of the underlying storage.
func (s *Store) Tamper(userID string, sequence int64, mutate func(*domain.AuditEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.data.audit[userID] {
		if entry.Sequence == sequence {
			mutate(entry)
			return true
		}
	}
	return false
}
