package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	"pix_processor/internal/repository"
)

type TransferRepository struct {
	repos
}

const transferColumns = `id, sender_account_id, sender_user_id, sender_key_id, receiver_key_id,
	receiver_account_id, external_receiver_key, amount, description, status,
	external_reference_id, scheduled_for, failure_reason, risk_score, triggered_rules,
	device_fingerprint, sender_debited, receiver_credited, created_at, updated_at, completed_at`

func scanTransfer(row scanner) (*domain.Transfer, error) {
	t := &domain.Transfer{}
	var rules []string
	err := row.Scan(&t.ID, &t.SenderAccountID, &t.SenderUserID, &t.SenderKeyID, &t.ReceiverKeyID,
		&t.ReceiverAccountID, &t.ExternalReceiverKey, &t.Amount, &t.Description, &t.Status,
		&t.ExternalReferenceID, &t.ScheduledFor, &t.FailureReason, &t.RiskScore, pq.Array(&rules),
		&t.DeviceFingerprint, &t.SenderDebited, &t.ReceiverCredited, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if len(rules) > 0 {
		t.TriggeredRules = rules
	}
	return t, err
}

func (r *TransferRepository) Save(ctx context.Context, t *domain.Transfer) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	query := `INSERT INTO transfers (` + transferColumns + `) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.SenderAccountID, t.SenderUserID, t.SenderKeyID, t.ReceiverKeyID,
		t.ReceiverAccountID, t.ExternalReceiverKey, t.Amount, t.Description, t.Status,
		t.ExternalReferenceID, nullTime(t.ScheduledFor), t.FailureReason, t.RiskScore, stringArray(t.TriggeredRules),
		t.DeviceFingerprint, t.SenderDebited, t.ReceiverCredited, t.CreatedAt.UTC(), t.UpdatedAt.UTC(), nullTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save transfer: %w", mapError(err))
	}
	return nil
}

// Update rewrites the mutable columns. A terminal row only moves along an
// allowed transition; anything else is ErrConflict.
func (r *TransferRepository) Update(ctx context.Context, t *domain.Transfer) error {
	var current domain.TransferStatus
	err := r.q.QueryRowContext(ctx, r.forUpdate(`SELECT status FROM transfers WHERE id = $1`), t.ID).Scan(&current)
	if err != nil {
		return notFound(err, "transfer", t.ID)
	}
	if current.IsTerminal() && current != t.Status && !current.CanTransitionTo(t.Status) {
		return fmt.Errorf("%w: transfer %s is %s", repository.ErrConflict, t.ID, current)
	}

	query := `UPDATE transfers SET
		sender_key_id = $1, receiver_key_id = $2, receiver_account_id = $3, external_receiver_key = $4,
		status = $5, external_reference_id = $6, scheduled_for = $7, failure_reason = $8,
		risk_score = $9, triggered_rules = $10, device_fingerprint = $11,
		sender_debited = $12, receiver_credited = $13, updated_at = $14, completed_at = $15
		WHERE id = $16`
	result, err := r.q.ExecContext(ctx, query,
		t.SenderKeyID, t.ReceiverKeyID, t.ReceiverAccountID, t.ExternalReceiverKey,
		t.Status, t.ExternalReferenceID, nullTime(t.ScheduledFor), t.FailureReason,
		t.RiskScore, stringArray(t.TriggeredRules), t.DeviceFingerprint,
		t.SenderDebited, t.ReceiverCredited, t.UpdatedAt.UTC(), nullTime(t.CompletedAt),
		t.ID)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", mapError(err))
	}
	return expectRow(result, "transfer", t.ID)
}

func (r *TransferRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	t, err := scanTransfer(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "transfer", id)
	}
	return t, nil
}

func (r *TransferRepository) GetForUpdate(ctx context.Context, id string) (*domain.Transfer, error) {
	query := r.forUpdate(`SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`)
	t, err := scanTransfer(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "transfer", id)
	}
	return t, nil
}

func (r *TransferRepository) GetByExternalReference(ctx context.Context, ref string) (*domain.Transfer, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty external reference", repository.ErrNotFound)
	}
	query := r.forUpdate(`SELECT ` + transferColumns + ` FROM transfers WHERE external_reference_id = $1`)
	t, err := scanTransfer(r.q.QueryRowContext(ctx, query, ref))
	if err != nil {
		return nil, notFound(err, "external reference", ref)
	}
	return t, nil
}

func (r *TransferRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE sender_account_id = $1 OR receiver_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0) OFFSET $3`
	rows, err := r.q.QueryContext(ctx, query, accountID, max(limit, 0), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	transfers, err := collect(rows, scanTransfer)
	if err != nil {
		return nil, err
	}
	if transfers == nil {
		transfers = []*domain.Transfer{}
	}
	return transfers, nil
}

func (r *TransferRepository) ListRecentBySender(ctx context.Context, accountID string, limit int) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE sender_account_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3, 0)`
	rows, err := r.q.QueryContext(ctx, query, accountID, domain.StatusCompleted, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent transfers: %w", err)
	}
	return collect(rows, scanTransfer)
}

func (r *TransferRepository) CountBySenderSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers WHERE sender_account_id = $1 AND created_at >= $2 AND status <> $3`,
		accountID, since.UTC(), domain.StatusCancelled).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}

func (r *TransferRepository) CountCompletedBySender(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers WHERE sender_account_id = $1 AND status = $2`,
		accountID, domain.StatusCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed transfers: %w", err)
	}
	return count, nil
}

// SumOutboundSince adds completed transfers and pending ones that already
// debited the sender.
func (r *TransferRepository) SumOutboundSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transfers
		WHERE sender_account_id = $1 AND created_at >= $2
		AND (status = $3 OR (status = $4 AND sender_debited))`,
		accountID, since.UTC(), domain.StatusCompleted, domain.StatusProcessing).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum outbound transfers: %w", err)
	}
	return total, nil
}

func (r *TransferRepository) HasCompletedToRecipient(ctx context.Context, accountID, recipientKey string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transfers
		WHERE sender_account_id = $1 AND status = $2
		AND (CASE WHEN receiver_key_id <> '' THEN receiver_key_id ELSE external_receiver_key END) = $3)`,
		accountID, domain.StatusCompleted, recipientKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recipient history: %w", err)
	}
	return exists, nil
}

func (r *TransferRepository) HasOpenForKey(ctx context.Context, keyID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transfers
		WHERE (sender_key_id = $1 OR receiver_key_id = $1) AND status IN ($2, $3))`,
		keyID, domain.StatusPending, domain.StatusProcessing).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open transfers: %w", err)
	}
	return exists, nil
}

func (r *TransferRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE status = $1 AND scheduled_for IS NOT NULL AND scheduled_for <= $2
		ORDER BY scheduled_for
		LIMIT NULLIF($3, 0)`
	rows, err := r.q.QueryContext(ctx, query, domain.StatusPending, now.UTC(), max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled transfers: %w", err)
	}
	return collect(rows, scanTransfer)
}
