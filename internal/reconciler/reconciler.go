// Package reconciler applies the asynchronous settlement events delivered by
// the payment network. Events may arrive late, early, twice or out of order;
// every handler checks the transfer's current state before mutating it.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pix_processor/internal/audit"
	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/limits"
	"pix_processor/internal/processor"
	"pix_processor/internal/repository"
	"pix_processor/pkg/metrics"
)

const DefaultMaxAttempts = 5

type Reconciler struct {
	store       repository.Store
	limits      *limits.Ledger
	chain       *audit.Chain
	poster      *processor.Poster
	notifier    processor.TransferNotifier
	metrics     *metrics.MetricsCollector
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Reconciler)

// WithMaxAttempts bounds how many times a failing event is processed.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) { r.maxAttempts = n }
}

func WithNotifier(n processor.TransferNotifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(store repository.Store, ledger *limits.Ledger, chain *audit.Chain, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconciler{
		store:       store,
		limits:      ledger,
		chain:       chain,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.poster = processor.NewPoster(chain, r.now)
	return r
}

// Process persists the event and then applies it. A returned error means the
// event was not accepted at all; processing failures are recorded on the
// event and left for RetryFailed.
func (r *Reconciler) Process(ctx context.Context, event domain.SettlementEvent, raw []byte) (*domain.WebhookEvent, error) {
	if !event.EventType.Valid() {
		return nil, apperrors.NewValidationError("event_type", fmt.Sprintf("unsupported event type %q", event.EventType))
	}
	if event.ExternalReferenceID == "" {
		return nil, apperrors.NewValidationError("external_reference_id", "is required")
	}

	if len(raw) == 0 {
		encoded, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
		}
		raw = encoded
	}

	record := &domain.WebhookEvent{
		ID:                  uuid.NewString(),
		EventType:           event.EventType,
		ExternalReferenceID: event.ExternalReferenceID,
		RawPayload:          json.RawMessage(raw),
		Outcome:             domain.OutcomePending,
		ReceivedAt:          r.now(),
	}
	if err := r.store.Webhooks().Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	return r.attempt(ctx, record, event), nil
}

// Deliver lets the reconciler receive events straight from an in-process network.
func (r *Reconciler) Deliver(ctx context.Context, event domain.SettlementEvent) error {
	_, err := r.Process(ctx, event, nil)
	return err
}

func (r *Reconciler) attempt(ctx context.Context, record *domain.WebhookEvent, event domain.SettlementEvent) *domain.WebhookEvent {
	record.Attempts++

	outcome, transfer, err := r.apply(ctx, event)
	switch {
	case err == nil:
		record.LastError = ""
	case apperrors.IsConflict(err):
		outcome = domain.OutcomeNoop
		record.LastError = err.Error()
		r.logger.WarnContext(ctx, "Webhook event conflicts with transfer state",
			slog.String("external_reference_id", event.ExternalReferenceID),
			slog.String("event_type", string(event.EventType)),
			slog.String("error", err.Error()))
	default:
		outcome = domain.OutcomeFailed
		record.LastError = err.Error()
		r.logger.ErrorContext(ctx, "Webhook processing failed",
			slog.String("webhook_id", record.ID),
			slog.String("external_reference_id", event.ExternalReferenceID),
			slog.Int("attempts", record.Attempts),
			slog.String("error", err.Error()))
	}

	record.Outcome = outcome
	processedAt := r.now()
	record.ProcessedAt = &processedAt
	if err := r.store.Webhooks().Update(context.WithoutCancel(ctx), record); err != nil {
		r.logger.ErrorContext(ctx, "Failed to record webhook outcome",
			slog.String("webhook_id", record.ID),
			slog.String("error", err.Error()))
	}
	r.metrics.RecordWebhook(string(event.EventType), string(outcome))

	if outcome == domain.OutcomeApplied {
		r.logger.InfoContext(ctx, "Webhook event applied",
			slog.String("external_reference_id", event.ExternalReferenceID),
			slog.String("event_type", string(event.EventType)),
			slog.String("transfer_id", transfer.ID),
			slog.String("status", string(transfer.Status)))
		if r.notifier != nil && transfer.Status.IsTerminal() {
			if err := r.notifier.NotifyTransfer(ctx, transfer); err != nil {
				r.logger.ErrorContext(ctx, "Failed to queue transfer notification",
					slog.String("transfer_id", transfer.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	return record
}

// apply runs one event against its transfer in a single atomic group.
func (r *Reconciler) apply(ctx context.Context, event domain.SettlementEvent) (domain.WebhookOutcome, *domain.Transfer, error) {
	ctx = context.WithoutCancel(ctx)

	var outcome domain.WebhookOutcome
	var updated *domain.Transfer
	var balances []*domain.Account
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		found, err := tx.Transfers().GetByExternalReference(ctx, event.ExternalReferenceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrTransferNotFound
			}
			return err
		}
		transfer, err := tx.Transfers().GetForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		if !event.Amount.IsZero() && !event.Amount.Equal(transfer.Amount) {
			return fmt.Errorf("%w: amount %s does not match transfer amount %s",
				apperrors.ErrReconciliationConflict, event.Amount.StringFixed(2), transfer.Amount.StringFixed(2))
		}

		u := &unit{r: r, tx: tx, transfer: transfer, event: event}
		switch event.EventType {
		case domain.WebhookReceived:
			outcome, err = u.received(ctx)
		case domain.WebhookSentConfirmed:
			outcome, err = u.sentConfirmed(ctx)
		case domain.WebhookFailed:
			outcome, err = u.failed(ctx)
		case domain.WebhookRefunded:
			outcome, err = u.refunded(ctx)
		}
		if err != nil {
			return err
		}
		if outcome == domain.OutcomeApplied {
			transfer.UpdatedAt = r.now()
			if err := tx.Transfers().Update(ctx, transfer); err != nil {
				return err
			}
		}
		updated = transfer
		balances = u.balances
		return nil
	})
	if err != nil {
		return domain.OutcomeFailed, nil, err
	}

	for _, account := range balances {
		r.metrics.UpdateAccountBalance(account.ID, account.Currency, account.Balance.InexactFloat64())
	}
	return outcome, updated, nil
}

// unit is one event being applied inside an open transaction.
type unit struct {
	r        *Reconciler
	tx       repository.Repositories
	transfer *domain.Transfer
	event    domain.SettlementEvent
	balances []*domain.Account
}

func (u *unit) conflict(format string, args ...any) error {
	return fmt.Errorf("%w: transfer %s is %s, %s", apperrors.ErrReconciliationConflict,
		u.transfer.ID, u.transfer.Status, fmt.Sprintf(format, args...))
}

func (u *unit) post(ctx context.Context, accountID string, kind domain.LedgerEntryKind, credit bool, event domain.AuditEventType, direction string) error {
	amount := u.transfer.Amount
	if !credit {
		amount = amount.Neg()
	}
	account, err := u.r.poster.Post(ctx, u.tx, processor.Posting{
		AccountID:  accountID,
		TransferID: u.transfer.ID,
		Kind:       kind,
		Delta:      amount,
		Event:      event,
		Payload: processor.TransferPayload{
			TransferID:          u.transfer.ID,
			ExternalReferenceID: u.event.ExternalReferenceID,
			Direction:           direction,
			Reason:              u.event.Reason,
		},
	})
	if err != nil {
		return err
	}
	u.balances = append(u.balances, account)
	return nil
}

func (u *unit) lockParties(ctx context.Context) error {
	_, err := processor.LockAccounts(ctx, u.tx, u.transfer.SenderAccountID, u.transfer.ReceiverAccountID)
	return err
}

// received credits an internal receiver exactly once.
func (u *unit) received(ctx context.Context) (domain.WebhookOutcome, error) {
	t := u.transfer
	if !t.IsInternal() || t.ReceiverCredited {
		return domain.OutcomeNoop, nil
	}
	switch t.Status {
	case domain.StatusFailed, domain.StatusCancelled, domain.StatusRefunded, domain.StatusPending:
		return domain.OutcomeNoop, u.conflict("receiver cannot be credited")
	}

	if err := u.lockParties(ctx); err != nil {
		return "", err
	}
	if err := u.post(ctx, t.ReceiverAccountID, domain.LedgerCredit, true, domain.AuditTransferCredit, "inbound"); err != nil {
		return "", err
	}
	t.ReceiverCredited = true
	return domain.OutcomeApplied, nil
}

// sentConfirmed completes a PROCESSING transfer, posting the sender debit
// and the internal receiver credit when they have not happened yet.
func (u *unit) sentConfirmed(ctx context.Context) (domain.WebhookOutcome, error) {
	t := u.transfer
	switch t.Status {
	case domain.StatusCompleted, domain.StatusRefunded:
		return domain.OutcomeNoop, nil
	case domain.StatusProcessing:
	default:
		return domain.OutcomeNoop, u.conflict("cannot be confirmed")
	}
	if err := u.lockParties(ctx); err != nil {
		return "", err
	}
	// A transfer parked after settlement still owes its debit.
	if !t.SenderDebited {
		if err := u.post(ctx, t.SenderAccountID, domain.LedgerDebit, false, domain.AuditTransferDebit, "outbound"); err != nil {
			return "", err
		}
		t.SenderDebited = true
	}
	if t.IsInternal() && !t.ReceiverCredited {
		if err := u.post(ctx, t.ReceiverAccountID, domain.LedgerCredit, true, domain.AuditTransferCredit, "inbound"); err != nil {
			return "", err
		}
		t.ReceiverCredited = true
	}

	sender, err := u.tx.Accounts().GetForUpdate(ctx, t.SenderAccountID)
	if err != nil {
		return "", err
	}
	if _, err := u.r.chain.AppendTx(ctx, u.tx, audit.Event{
		UserID: sender.OwnerID,
		Type:   domain.AuditSettlementConfirm,
		Payload: processor.TransferPayload{
			TransferID:          t.ID,
			ExternalReferenceID: u.event.ExternalReferenceID,
			Direction:           "outbound",
		},
		Amount: &t.Amount,
	}); err != nil {
		return "", err
	}

	t.MarkCompleted(u.r.now())
	return domain.OutcomeApplied, nil
}

// failed undoes whatever the synchronous path applied and marks the
// transfer FAILED. Terminal transfers are never reopened.
func (u *unit) failed(ctx context.Context) (domain.WebhookOutcome, error) {
	t := u.transfer
	switch t.Status {
	case domain.StatusFailed:
		return domain.OutcomeNoop, nil
	case domain.StatusProcessing, domain.StatusPending:
	default:
		return domain.OutcomeNoop, u.conflict("failure arrived after a final state")
	}

	if err := u.lockParties(ctx); err != nil {
		return "", err
	}
	if t.ReceiverCredited {
		if err := u.post(ctx, t.ReceiverAccountID, domain.LedgerReversal, false, domain.AuditTransferReversal, "inbound"); err != nil {
			return "", err
		}
		t.ReceiverCredited = false
	}
	if t.SenderDebited {
		if err := u.post(ctx, t.SenderAccountID, domain.LedgerReversal, true, domain.AuditTransferRefund, "outbound"); err != nil {
			return "", err
		}
		t.SenderDebited = false
	}
	// Settled transfers hold their limit consumption, debited or not.
	if t.Status == domain.StatusProcessing {
		if err := u.r.limits.ReleaseTx(ctx, u.tx, t.SenderUserID, t.Amount); err != nil {
			return "", err
		}
	}

	reason := u.event.Reason
	if reason == "" {
		reason = "settlement failed at payment network"
	}
	t.MarkFailed(reason, u.r.now())
	return domain.OutcomeApplied, nil
}

// refunded returns a completed transfer's money to the sender.
func (u *unit) refunded(ctx context.Context) (domain.WebhookOutcome, error) {
	t := u.transfer
	switch t.Status {
	case domain.StatusRefunded:
		return domain.OutcomeNoop, nil
	case domain.StatusCompleted:
	default:
		return domain.OutcomeNoop, u.conflict("only completed transfers can be refunded")
	}

	if err := u.lockParties(ctx); err != nil {
		return "", err
	}
	if t.ReceiverCredited {
		if err := u.post(ctx, t.ReceiverAccountID, domain.LedgerReversal, false, domain.AuditTransferReversal, "inbound"); err != nil {
			return "", err
		}
	}
	if t.SenderDebited {
		if err := u.post(ctx, t.SenderAccountID, domain.LedgerReversal, true, domain.AuditTransferRefund, "outbound"); err != nil {
			return "", err
		}
		if err := u.r.limits.ReleaseTx(ctx, u.tx, t.SenderUserID, t.Amount); err != nil {
			return "", err
		}
	}

	t.Status = domain.StatusRefunded
	return domain.OutcomeApplied, nil
}

type RetryReport struct {
	Retried int `json:"retried"`
	Applied int `json:"applied"`
	Noop    int `json:"noop"`
	Failed  int `json:"failed"`
}

// RetryFailed re-runs every failed event that still has attempts left.
func (r *Reconciler) RetryFailed(ctx context.Context) (RetryReport, error) {
	events, err := r.store.Webhooks().ListRetryable(ctx, r.maxAttempts)
	if err != nil {
		return RetryReport{}, fmt.Errorf("failed to list retryable webhooks: %w", err)
	}

	var report RetryReport
	for _, record := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var event domain.SettlementEvent
		if err := json.Unmarshal(record.RawPayload, &event); err != nil {
			record.Attempts = r.maxAttempts
			record.LastError = fmt.Sprintf("undecodable payload: %v", err)
			if uerr := r.store.Webhooks().Update(ctx, record); uerr != nil {
				return report, uerr
			}
			report.Failed++
			continue
		}

		report.Retried++
		switch r.attempt(ctx, record, event).Outcome {
		case domain.OutcomeApplied:
			report.Applied++
		case domain.OutcomeNoop:
			report.Noop++
		default:
			report.Failed++
		}
	}

	if len(events) > 0 {
		r.logger.InfoContext(ctx, "Webhook retry sweep finished",
			slog.Int("retried", report.Retried),
			slog.Int("applied", report.Applied),
			slog.Int("failed", report.Failed))
	}
	return report, nil
}
