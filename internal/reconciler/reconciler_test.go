package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/audit"
	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/keys"
	"pix_processor/internal/limits"
	"pix_processor/internal/network"
	"pix_processor/internal/processor"
	"pix_processor/internal/repository/memory"
	"pix_processor/pkg/crypto"
)

type fixture struct {
	store  *memory.Store
	sim    *network.Simulator
	ledger *limits.Ledger
	chain  *audit.Chain
	proc   *processor.TransactionProcessor
	rec    *Reconciler
}

func fixedClock() time.Time {
	return time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
}

func pending(req network.SettlementRequest) network.SettlementResult {
	return network.SettlementResult{Success: true, Pending: true}
}

// newFixture wires u1 (1000, alice@example.com) and u2 (500, bob@example.com)
// against a network that answers every order as pending.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.NewStore()}

	for owner, balance := range map[string]int64{"u1": 1000, "u2": 500} {
		if err := f.store.Accounts().Save(ctx, &domain.Account{
			ID: "acc-" + owner, OwnerID: owner, Balance: decimal.NewFromInt(balance),
			Currency: domain.DefaultCurrency, Status: domain.AccountActive,
		}); err != nil {
			t.Fatalf("save account failed: %v", err)
		}
	}

	f.sim = network.NewSimulator(nil, network.WithDecision(pending))
	dir := keys.NewDirectory(f.store, f.sim, nil, keys.WithClock(fixedClock))
	for owner, email := range map[string]string{"u1": "alice@example.com", "u2": "bob@example.com"} {
		if _, err := dir.Create(ctx, owner, domain.KeyEmail, email, true); err != nil {
			t.Fatalf("create key failed: %v", err)
		}
	}

	f.ledger = limits.NewLedger(f.store, nil, limits.WithClock(fixedClock))
	f.chain = audit.NewChain(f.store, crypto.NewSigner("test-secret", nil), nil, audit.WithClock(fixedClock))
	fraud := processor.NewFraudDetector(f.store, nil, processor.WithDetectorClock(fixedClock))
	f.proc = processor.NewTransactionProcessor(processor.Dependencies{
		Store:   f.store,
		Keys:    dir,
		Limits:  f.ledger,
		Fraud:   fraud,
		Audit:   f.chain,
		Network: f.sim,
	}, nil, processor.WithClock(fixedClock))

	opts = append([]Option{WithClock(fixedClock)}, opts...)
	f.rec = NewReconciler(f.store, f.ledger, f.chain, nil, opts...)
	return f
}

func (f *fixture) send(t *testing.T, amount string) *domain.Transfer {
	t.Helper()
	transfer, err := f.proc.SendTransfer(context.Background(), processor.TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "bob@example.com",
		Amount:       decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if transfer.Status != domain.StatusProcessing || !transfer.SenderDebited {
		t.Fatalf("expected debited PROCESSING transfer, got %s debited=%v", transfer.Status, transfer.SenderDebited)
	}
	return transfer
}

func (f *fixture) process(t *testing.T, eventType domain.WebhookEventType, ref string) *domain.WebhookEvent {
	t.Helper()
	record, err := f.rec.Process(context.Background(), domain.SettlementEvent{
		EventType:           eventType,
		ExternalReferenceID: ref,
		Timestamp:           fixedClock(),
	}, nil)
	if err != nil {
		t.Fatalf("process %s failed: %v", eventType, err)
	}
	return record
}

func (f *fixture) expectBalances(t *testing.T, sender, receiver string) {
	t.Helper()
	for id, want := range map[string]string{"acc-u1": sender, "acc-u2": receiver} {
		account, err := f.store.Accounts().GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("load account failed: %v", err)
		}
		if !account.Balance.Equal(decimal.RequireFromString(want)) {
			t.Errorf("expected %s balance %s, got %s", id, want, account.Balance)
		}
	}
}

func (f *fixture) transfer(t *testing.T, id string) *domain.Transfer {
	t.Helper()
	transfer, err := f.store.Transfers().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load transfer failed: %v", err)
	}
	return transfer
}

func TestReconciler_SentConfirmedCompletesOnce(t *testing.T) {
	f := newFixture(t)
	sent := f.send(t, "200")
	f.expectBalances(t, "800", "500")

	first := f.process(t, domain.WebhookSentConfirmed, sent.ExternalReferenceID)
	second := f.process(t, domain.WebhookSentConfirmed, sent.ExternalReferenceID)

	if first.Outcome != domain.OutcomeApplied {
		t.Errorf("expected first delivery applied, got %s", first.Outcome)
	}
	if second.Outcome != domain.OutcomeNoop {
		t.Errorf("expected second delivery to be a no-op, got %s", second.Outcome)
	}
	if got := f.transfer(t, sent.ID); got.Status != domain.StatusCompleted || !got.ReceiverCredited {
		t.Errorf("expected COMPLETED with receiver credited, got %s credited=%v", got.Status, got.ReceiverCredited)
	}
	f.expectBalances(t, "800", "700")
}

func TestReconciler_FailedDeliveredTwiceRefundsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sent := f.send(t, "200")

	first := f.process(t, domain.WebhookFailed, sent.ExternalReferenceID)
	second := f.process(t, domain.WebhookFailed, sent.ExternalReferenceID)

	if first.Outcome != domain.OutcomeApplied || second.Outcome != domain.OutcomeNoop {
		t.Errorf("expected applied then no-op, got %s then %s", first.Outcome, second.Outcome)
	}
	got := f.transfer(t, sent.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	f.expectBalances(t, "1000", "500")

	window, err := f.ledger.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("load limits failed: %v", err)
	}
	if !window.UsedToday.IsZero() {
		t.Errorf("expected limit consumption released, got %s", window.UsedToday)
	}

	entries, _ := f.store.Ledger().ListByTransfer(ctx, sent.ID)
	if len(entries) != 2 {
		t.Errorf("expected debit and reversal entries, got %d", len(entries))
	}
}

func TestReconciler_ReceivedBeforeConfirmation(t *testing.T) {
	f := newFixture(t)
	sent := f.send(t, "150")

	received := f.process(t, domain.WebhookReceived, sent.ExternalReferenceID)
	again := f.process(t, domain.WebhookReceived, sent.ExternalReferenceID)
	confirmed := f.process(t, domain.WebhookSentConfirmed, sent.ExternalReferenceID)

	if received.Outcome != domain.OutcomeApplied || again.Outcome != domain.OutcomeNoop {
		t.Errorf("expected received applied once, got %s and %s", received.Outcome, again.Outcome)
	}
	if confirmed.Outcome != domain.OutcomeApplied {
		t.Errorf("expected confirmation applied, got %s", confirmed.Outcome)
	}
	if got := f.transfer(t, sent.ID); got.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	f.expectBalances(t, "850", "650")
}

func TestReconciler_FailedAfterReceivedReversesCredit(t *testing.T) {
	f := newFixture(t)
	sent := f.send(t, "100")

	f.process(t, domain.WebhookReceived, sent.ExternalReferenceID)
	f.expectBalances(t, "900", "600")

	record := f.process(t, domain.WebhookFailed, sent.ExternalReferenceID)
	if record.Outcome != domain.OutcomeApplied {
		t.Fatalf("expected failure applied, got %s (%s)", record.Outcome, record.LastError)
	}
	f.expectBalances(t, "1000", "500")
}

func TestReconciler_RefundedCompletedTransfer(t *testing.T) {
	f := newFixture(t)
	sent := f.send(t, "300")
	f.process(t, domain.WebhookSentConfirmed, sent.ExternalReferenceID)

	refund := f.process(t, domain.WebhookRefunded, sent.ExternalReferenceID)
	if refund.Outcome != domain.OutcomeApplied {
		t.Fatalf("expected refund applied, got %s", refund.Outcome)
	}
	if got := f.transfer(t, sent.ID); got.Status != domain.StatusRefunded {
		t.Errorf("expected REFUNDED, got %s", got.Status)
	}
	f.expectBalances(t, "1000", "500")

	window, err := f.ledger.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load limits failed: %v", err)
	}
	if !window.UsedToday.IsZero() || !window.UsedThisMonth.IsZero() {
		t.Errorf("expected refunded amount returned to the limits, got today=%s month=%s", window.UsedToday, window.UsedThisMonth)
	}

	late := f.process(t, domain.WebhookFailed, sent.ExternalReferenceID)
	if late.Outcome != domain.OutcomeNoop || late.LastError == "" {
		t.Errorf("expected logged conflict no-op, got %s %q", late.Outcome, late.LastError)
	}
	if got := f.transfer(t, sent.ID); got.Status != domain.StatusRefunded {
		t.Errorf("expected status to stay REFUNDED, got %s", got.Status)
	}
	f.expectBalances(t, "1000", "500")
}

// parked saves a settled transfer whose ledger mutation never happened: no
// debit, the limit already consumed, the network reference recorded.
func (f *fixture) parked(t *testing.T, amount string) *domain.Transfer {
	t.Helper()
	ctx := context.Background()
	value := decimal.RequireFromString(amount)

	transfer := domain.NewTransfer("acc-u1", "u1", value, fixedClock())
	transfer.ReceiverAccountID = "acc-u2"
	transfer.ExternalReferenceID = "E-parked-" + transfer.ID[:8]
	if err := f.store.Transfers().Save(ctx, transfer); err != nil {
		t.Fatalf("save transfer failed: %v", err)
	}
	if err := f.ledger.Consume(ctx, "u1", value); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	return transfer
}

func TestReconciler_ConfirmationDebitsParkedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	transfer := f.parked(t, "300")

	record := f.process(t, domain.WebhookSentConfirmed, transfer.ExternalReferenceID)

	if record.Outcome != domain.OutcomeApplied {
		t.Fatalf("expected applied, got %s", record.Outcome)
	}
	got := f.transfer(t, transfer.ID)
	if got.Status != domain.StatusCompleted || !got.SenderDebited || !got.ReceiverCredited {
		t.Errorf("expected completed with both legs, got %s debited=%v credited=%v", got.Status, got.SenderDebited, got.ReceiverCredited)
	}
	f.expectBalances(t, "700", "800")

	entries, _ := f.store.Ledger().ListByTransfer(ctx, transfer.ID)
	if len(entries) != 2 {
		t.Errorf("expected debit and credit entries, got %d", len(entries))
	}
	window, _ := f.ledger.GetOrCreate(ctx, "u1")
	if !window.UsedToday.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected the limit to stay consumed, got %s", window.UsedToday)
	}
}

func TestReconciler_FailureReleasesParkedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	transfer := f.parked(t, "300")

	record := f.process(t, domain.WebhookFailed, transfer.ExternalReferenceID)

	if record.Outcome != domain.OutcomeApplied {
		t.Fatalf("expected applied, got %s", record.Outcome)
	}
	if got := f.transfer(t, transfer.ID); got.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	f.expectBalances(t, "1000", "500")

	entries, _ := f.store.Ledger().ListByTransfer(ctx, transfer.ID)
	if len(entries) != 0 {
		t.Errorf("expected no ledger entries, got %d", len(entries))
	}
	window, _ := f.ledger.GetOrCreate(ctx, "u1")
	if !window.UsedToday.IsZero() {
		t.Errorf("expected the limit released, got %s", window.UsedToday)
	}
}

func TestReconciler_RefundBeforeCompletionIsConflict(t *testing.T) {
	f := newFixture(t)
	sent := f.send(t, "50")

	record := f.process(t, domain.WebhookRefunded, sent.ExternalReferenceID)

	if record.Outcome != domain.OutcomeNoop {
		t.Errorf("expected no-op, got %s", record.Outcome)
	}
	if got := f.transfer(t, sent.ID); got.Status != domain.StatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}
}

func TestReconciler_AmountMismatchIsConflict(t *testing.T) {
	f := newFixture(t)
	sent := f.send(t, "50")

	record, err := f.rec.Process(context.Background(), domain.SettlementEvent{
		EventType:           domain.WebhookSentConfirmed,
		ExternalReferenceID: sent.ExternalReferenceID,
		Amount:              decimal.NewFromInt(5000),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Outcome != domain.OutcomeNoop {
		t.Errorf("expected no-op, got %s", record.Outcome)
	}
	f.expectBalances(t, "950", "500")
}

func TestReconciler_UnknownReferenceRetriesAreBounded(t *testing.T) {
	f := newFixture(t, WithMaxAttempts(3))
	ctx := context.Background()

	record := f.process(t, domain.WebhookSentConfirmed, "E00000000000000000000000000000000")
	if record.Outcome != domain.OutcomeFailed || record.Attempts != 1 {
		t.Fatalf("expected failed first attempt, got %s/%d", record.Outcome, record.Attempts)
	}

	for i := 0; i < 5; i++ {
		if _, err := f.rec.RetryFailed(ctx); err != nil {
			t.Fatalf("retry failed: %v", err)
		}
	}

	stored, err := f.store.Webhooks().GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("load webhook failed: %v", err)
	}
	if stored.Attempts != 3 {
		t.Errorf("expected attempts to stop at 3, got %d", stored.Attempts)
	}
	if stored.Outcome != domain.OutcomeFailed {
		t.Errorf("expected outcome failed, got %s", stored.Outcome)
	}
}

func TestReconciler_RejectsMalformedEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Process(context.Background(), domain.SettlementEvent{
		EventType:           "settled-maybe",
		ExternalReferenceID: "E1",
	}, nil)
	if !apperrors.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	_, err = f.rec.Process(context.Background(), domain.SettlementEvent{EventType: domain.WebhookFailed}, nil)
	var validationErr *apperrors.ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "external_reference_id" {
		t.Errorf("expected external_reference_id validation error, got %v", err)
	}
}

func TestReconciler_ChainStaysValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.send(t, "100")
	b := f.send(t, "40")
	f.process(t, domain.WebhookSentConfirmed, a.ExternalReferenceID)
	f.process(t, domain.WebhookFailed, b.ExternalReferenceID)
	f.process(t, domain.WebhookRefunded, a.ExternalReferenceID)

	for _, user := range []string{"u1", "u2"} {
		v, err := f.chain.VerifyChain(ctx, user)
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if !v.Valid {
			t.Errorf("expected valid chain for %s, got breaks %+v", user, v.Breaks)
		}
	}
}

func TestReconciler_DeliveredBySimulator(t *testing.T) {
	f := newFixture(t)
	f.sim = network.NewSimulator(nil,
		network.WithDecision(pending),
		network.WithEventSink(f.rec, 10*time.Millisecond))
	dir := keys.NewDirectory(f.store, f.sim, nil)
	f.proc = processor.NewTransactionProcessor(processor.Dependencies{
		Store:   f.store,
		Keys:    dir,
		Limits:  f.ledger,
		Fraud:   processor.NewFraudDetector(f.store, nil, processor.WithDetectorClock(fixedClock)),
		Audit:   f.chain,
		Network: f.sim,
	}, nil, processor.WithClock(fixedClock))

	sent := f.send(t, "75")
	f.sim.Wait()
	// a confirmation that raced ahead of the commit is picked up here
	if _, err := f.rec.RetryFailed(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if got := f.transfer(t, sent.ID); got.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED after simulated confirmation, got %s", got.Status)
	}
	f.expectBalances(t, "925", "575")
}
