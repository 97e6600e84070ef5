package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type TransferRepository struct {
	v view
}

func (r *TransferRepository) Save(ctx context.Context, transfer *domain.Transfer) error {
	defer r.v.lock()()
	d := r.v.s.data

	if _, exists := d.transfers[transfer.ID]; exists {
		return fmt.Errorf("%w: transfer %s", repository.ErrDuplicate, transfer.ID)
	}
	if transfer.ExternalReferenceID != "" {
		for _, t := range d.transfers {
			if t.ExternalReferenceID == transfer.ExternalReferenceID {
				return fmt.Errorf("%w: external reference %s", repository.ErrDuplicate, transfer.ExternalReferenceID)
			}
		}
	}

	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now()
	}
	d.transfers[transfer.ID] = cloneTransfer(transfer)
	r.v.onRollback(func() { delete(d.transfers, transfer.ID) })

	return nil
}

func (r *TransferRepository) Update(ctx context.Context, transfer *domain.Transfer) error {
	defer r.v.lock()()
	d := r.v.s.data

	existing, exists := d.transfers[transfer.ID]
	if !exists {
		return fmt.Errorf("%w: transfer %s", repository.ErrNotFound, transfer.ID)
	}
	if existing.Status.IsTerminal() && existing.Status != transfer.Status &&
		!existing.Status.CanTransitionTo(transfer.Status) {
		return fmt.Errorf("%w: transfer %s is %s", repository.ErrConflict, transfer.ID, existing.Status)
	}

	previous := existing
	d.transfers[transfer.ID] = cloneTransfer(transfer)
	r.v.onRollback(func() { d.transfers[transfer.ID] = previous })

	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	defer r.v.rlock()()

	transfer, exists := r.v.s.data.transfers[id]
	if !exists {
		return nil, fmt.Errorf("%w: transfer %s", repository.ErrNotFound, id)
	}
	return cloneTransfer(transfer), nil
}

func (r *TransferRepository) GetForUpdate(ctx context.Context, id string) (*domain.Transfer, error) {
	return r.GetByID(ctx, id)
}

func (r *TransferRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.Transfer, error) {
	defer r.v.rlock()()

	for _, transfer := range r.v.s.data.transfers {
		if transfer.ExternalReferenceID == ref {
			return cloneTransfer(transfer), nil
		}
	}
	return nil, fmt.Errorf("%w: external reference %s", repository.ErrNotFound, ref)
}

func (r *TransferRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error) {
	defer r.v.rlock()()

	var matches []*domain.Transfer
	for _, transfer := range r.v.s.data.transfers {
		if transfer.SenderAccountID == accountID || transfer.ReceiverAccountID == accountID {
			matches = append(matches, transfer)
		}
	}
	newestFirst(matches)

	if offset >= len(matches) {
		return []*domain.Transfer{}, nil
	}
	end := len(matches)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]*domain.Transfer, 0, end-offset)
	for _, transfer := range matches[offset:end] {
		result = append(result, cloneTransfer(transfer))
	}
	return result, nil
}

func (r *TransferRepository) ListRecentBySender(ctx context.Context, accountID string, limit int) ([]*domain.Transfer, error) {
	defer r.v.rlock()()

	var matches []*domain.Transfer
	for _, transfer := range r.v.s.data.transfers {
		if transfer.SenderAccountID == accountID && transfer.Status == domain.StatusCompleted {
			matches = append(matches, transfer)
		}
	}
	newestFirst(matches)

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	result := make([]*domain.Transfer, 0, len(matches))
	for _, transfer := range matches {
		result = append(result, cloneTransfer(transfer))
	}
	return result, nil
}

func (r *TransferRepository) CountBySenderSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	defer r.v.rlock()()

	count := 0
	for _, transfer := range r.v.s.data.transfers {
		if transfer.SenderAccountID == accountID && !transfer.CreatedAt.Before(since) &&
			transfer.Status != domain.StatusCancelled {
			count++
		}
	}
	return count, nil
}

func (r *TransferRepository) CountCompletedBySender(ctx context.Context, accountID string) (int, error) {
	defer r.v.rlock()()

	count := 0
	for _, transfer := range r.v.s.data.transfers {
		if transfer.SenderAccountID == accountID && transfer.Status == domain.StatusCompleted {
			count++
		}
	}
	return count, nil
}

func (r *TransferRepository) SumOutboundSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	defer r.v.rlock()()

	total := decimal.Zero
	for _, transfer := range r.v.s.data.transfers {
		if transfer.SenderAccountID != accountID || transfer.CreatedAt.Before(since) {
			continue
		}
		if transfer.Status == domain.StatusCompleted ||
			(transfer.Status == domain.StatusProcessing && transfer.SenderDebited) {
			total = total.Add(transfer.Amount)
		}
	}
	return total, nil
}

func (r *TransferRepository) HasCompletedToRecipient(ctx context.Context, accountID, recipientKey string) (bool, error) {
	defer r.v.rlock()()

	for _, transfer := range r.v.s.data.transfers {
		if transfer.SenderAccountID == accountID && transfer.Status == domain.StatusCompleted &&
			transfer.RecipientKey() == recipientKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *TransferRepository) HasOpenForKey(ctx context.Context, keyID string) (bool, error) {
	defer r.v.rlock()()

	for _, transfer := range r.v.s.data.transfers {
		if transfer.Status.IsTerminal() {
			continue
		}
		if transfer.SenderKeyID == keyID || transfer.ReceiverKeyID == keyID {
			return true, nil
		}
	}
	return false, nil
}

func (r *TransferRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Transfer, error) {
	defer r.v.rlock()()

	var result []*domain.Transfer
	for _, transfer := range r.v.s.data.transfers {
		if transfer.Status == domain.StatusPending && transfer.ScheduledFor != nil &&
			!transfer.ScheduledFor.After(now) {
			result = append(result, cloneTransfer(transfer))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledFor.Before(*result[j].ScheduledFor)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func newestFirst(transfers []*domain.Transfer) {
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].CreatedAt.Equal(transfers[j].CreatedAt) {
			return transfers[i].ID > transfers[j].ID
		}
		return transfers[i].CreatedAt.After(transfers[j].CreatedAt)
	})
}
