package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pix_processor/internal/domain"
)

type AuditRepository struct {
	repos
}

const auditColumns = `id, user_id, sequence, event_type, payload, amount, balance_before, balance_after,
	hash, previous_hash, signature, created_at`

func scanAudit(row scanner) (*domain.AuditEntry, error) {
	e := &domain.AuditEntry{}
	var payload string
	err := row.Scan(&e.ID, &e.UserID, &e.Sequence, &e.EventType, &payload, &e.Amount, &e.BalanceBefore,
		&e.BalanceAfter, &e.Hash, &e.PreviousHash, &e.Signature, &e.CreatedAt)
	e.Payload = json.RawMessage(payload)
	return e, err
}

// lockChain serializes appends to one user's chain until the transaction
// ends. Outside a transaction it is a no-op.
func (r *AuditRepository) lockChain(ctx context.Context, userID string) error {
	if !r.inTx {
		return nil
	}
	if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("failed to lock audit chain: %w", err)
	}
	return nil
}

// Append assigns the next sequence number in the user's chain. The payload
// is stored as text so the hashed bytes come back unchanged.
func (r *AuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	if err := r.lockChain(ctx, e.UserID); err != nil {
		return err
	}

	query := `INSERT INTO audit_entries (` + auditColumns + `)
		SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10, $11
		FROM audit_entries WHERE user_id = $2
		RETURNING sequence`
	err := r.q.QueryRowContext(ctx, query,
		e.ID, e.UserID, e.EventType, string(e.Payload), e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Hash, e.PreviousHash, e.Signature, e.CreatedAt.UTC()).Scan(&e.Sequence)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapError(err))
	}
	return nil
}

// Last takes the chain lock first, so the entry it returns stays the tail
// until the caller's transaction commits.
func (r *AuditRepository) Last(ctx context.Context, userID string) (*domain.AuditEntry, error) {
	if err := r.lockChain(ctx, userID); err != nil {
		return nil, err
	}

	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE user_id = $1 ORDER BY sequence DESC LIMIT 1`
	e, err := scanAudit(r.q.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, notFound(err, "audit chain for user", userID)
	}
	return e, nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries
		WHERE user_id = $1
		AND ($2::timestamptz IS NULL OR created_at >= $2)
		AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY sequence`
	rows, err := r.q.QueryContext(ctx, query, userID, openBound(from), openBound(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return collect(rows, scanAudit)
}

func openBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

type WebhookRepository struct {
	repos
}

const webhookColumns = `id, event_type, external_reference_id, raw_payload, outcome, attempts, last_error,
	received_at, processed_at`

func scanWebhook(row scanner) (*domain.WebhookEvent, error) {
	e := &domain.WebhookEvent{}
	var raw string
	err := row.Scan(&e.ID, &e.EventType, &e.ExternalReferenceID, &raw, &e.Outcome, &e.Attempts,
		&e.LastError, &e.ReceivedAt, &e.ProcessedAt)
	e.RawPayload = json.RawMessage(raw)
	return e, err
}

func (r *WebhookRepository) Save(ctx context.Context, e *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (` + webhookColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.EventType, e.ExternalReferenceID, string(e.RawPayload), e.Outcome, e.Attempts,
		e.LastError, e.ReceivedAt.UTC(), nullTime(e.ProcessedAt))
	if err != nil {
		return fmt.Errorf("failed to save webhook event: %w", mapError(err))
	}
	return nil
}

func (r *WebhookRepository) Update(ctx context.Context, e *domain.WebhookEvent) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE webhook_events SET outcome = $1, attempts = $2, last_error = $3, processed_at = $4 WHERE id = $5`,
		e.Outcome, e.Attempts, e.LastError, nullTime(e.ProcessedAt), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", mapError(err))
	}
	return expectRow(result, "webhook event", e.ID)
}

func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	e, err := scanWebhook(r.q.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "webhook event", id)
	}
	return e, nil
}

func (r *WebhookRepository) ListRetryable(ctx context.Context, maxAttempts int) ([]*domain.WebhookEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events WHERE outcome = $1 AND attempts < $2 ORDER BY received_at`,
		domain.OutcomeFailed, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable webhook events: %w", err)
	}
	return collect(rows, scanWebhook)
}
