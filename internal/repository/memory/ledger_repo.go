package memory

import (
	"context"

	"pix_processor/internal/domain"
)

type LedgerRepository struct {
	v view
}

func (r *LedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	defer r.v.lock()()
	d := r.v.s.data

	previous := d.ledger
	d.ledger = append(d.ledger, cloneLedger(entry))
	r.v.onRollback(func() { d.ledger = previous })

	return nil
}

func (r *LedgerRepository) ListByTransfer(ctx context.Context, transferID string) ([]*domain.LedgerEntry, error) {
	defer r.v.rlock()()

	var result []*domain.LedgerEntry
	for _, entry := range r.v.s.data.ledger {
		if entry.TransferID == transferID {
			result = append(result, cloneLedger(entry))
		}
	}
	return result, nil
}
