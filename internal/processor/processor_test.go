package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/audit"
	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/keys"
	"pix_processor/internal/limits"
	"pix_processor/internal/network"
	"pix_processor/internal/repository/memory"
	"pix_processor/pkg/crypto"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu        sync.Mutex
	transfers []domain.Transfer
	alerts    []domain.Alert
}

func (n *recordingNotifier) NotifyTransfer(ctx context.Context, t *domain.Transfer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transfers = append(n.transfers, *t)
	return nil
}

func (n *recordingNotifier) NotifyAlert(ctx context.Context, alert *domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, *alert)
	return nil
}

type harness struct {
	store    *memory.Store
	sim      *network.Simulator
	clock    *fakeClock
	dir      *keys.Directory
	ledger   *limits.Ledger
	fraud    *FraudDetector
	chain    *audit.Chain
	notifier *recordingNotifier
	proc     *TransactionProcessor
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newHarness seeds u1 (balance 1000, key alice@example.com) and u2 (balance
// 500, key bob@example.com) with the default rules installed.
func newHarness(t *testing.T, simOpts ...network.SimulatorOption) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		store:    memory.NewStore(),
		clock:    &fakeClock{now: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	h.sim = network.NewSimulator(nil, simOpts...)

	for owner, balance := range map[string]string{"u1": "1000", "u2": "500"} {
		err := h.store.Accounts().Save(ctx, &domain.Account{
			ID:        "acc-" + owner,
			OwnerID:   owner,
			OwnerName: "Owner " + owner,
			Balance:   dec(balance),
			Currency:  domain.DefaultCurrency,
			Status:    domain.AccountActive,
		})
		if err != nil {
			t.Fatalf("save account failed: %v", err)
		}
	}
	if _, err := InstallRules(ctx, h.store.Rules(), DefaultRules()); err != nil {
		t.Fatalf("install rules failed: %v", err)
	}

	h.dir = keys.NewDirectory(h.store, h.sim, nil, keys.WithClock(h.clock.Now))
	if _, err := h.dir.Create(ctx, "u1", domain.KeyEmail, "alice@example.com", true); err != nil {
		t.Fatalf("create key failed: %v", err)
	}
	if _, err := h.dir.Create(ctx, "u2", domain.KeyEmail, "bob@example.com", true); err != nil {
		t.Fatalf("create key failed: %v", err)
	}

	h.ledger = limits.NewLedger(h.store, nil, limits.WithClock(h.clock.Now))
	h.fraud = NewFraudDetector(h.store, nil,
		WithDetectorClock(h.clock.Now),
		WithAlertNotifier(h.notifier))
	h.chain = audit.NewChain(h.store, crypto.NewSigner("test-secret", nil), nil, audit.WithClock(h.clock.Now))
	h.proc = h.newProcessor()
	return h
}

func (h *harness) newProcessor(opts ...Option) *TransactionProcessor {
	deps := Dependencies{
		Store:   h.store,
		Keys:    h.dir,
		Limits:  h.ledger,
		Fraud:   h.fraud,
		Audit:   h.chain,
		Network: h.sim,
	}
	opts = append([]Option{WithClock(h.clock.Now), WithTransferNotifier(h.notifier)}, opts...)
	return NewTransactionProcessor(deps, nil, opts...)
}

func (h *harness) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	account, err := h.store.Accounts().GetByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("load account failed: %v", err)
	}
	return account.Balance
}

func (h *harness) send(amount string) (*domain.Transfer, error) {
	return h.proc.SendTransfer(context.Background(), TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "bob@example.com",
		Amount:       dec(amount),
	})
}

func TestTransactionProcessor_InternalTransferSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	transfer, err := h.send("200")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transfer.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", transfer.Status)
	}
	if !transfer.SenderDebited || !transfer.ReceiverCredited {
		t.Errorf("expected both legs applied, got debited=%v credited=%v", transfer.SenderDebited, transfer.ReceiverCredited)
	}
	if transfer.ExternalReferenceID == "" {
		t.Error("expected external reference id")
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("800")) {
		t.Errorf("expected sender balance 800, got %s", got)
	}
	if got := h.balance(t, "acc-u2"); !got.Equal(dec("700")) {
		t.Errorf("expected receiver balance 700, got %s", got)
	}

	window, err := h.ledger.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("load limits failed: %v", err)
	}
	if !window.UsedToday.Equal(dec("200")) || !window.UsedThisMonth.Equal(dec("200")) {
		t.Errorf("expected 200 consumed, got today=%s month=%s", window.UsedToday, window.UsedThisMonth)
	}

	entries, err := h.store.Ledger().ListByTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("list ledger failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}

	for _, user := range []string{"u1", "u2"} {
		v, err := h.chain.VerifyChain(ctx, user)
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if !v.Valid || v.Checked != 1 {
			t.Errorf("expected one valid audit entry for %s, got valid=%v checked=%d", user, v.Valid, v.Checked)
		}
	}

	if len(h.notifier.transfers) != 1 || h.notifier.transfers[0].Status != domain.StatusCompleted {
		t.Errorf("expected one completion notification, got %+v", h.notifier.transfers)
	}
}

func TestTransactionProcessor_InsufficientFundsLeavesBalance(t *testing.T) {
	h := newHarness(t)

	transfer, err := h.send("1500")

	var fundsErr *apperrors.InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !fundsErr.Available.Equal(dec("1000")) {
		t.Errorf("expected available 1000, got %s", fundsErr.Available)
	}
	if transfer != nil {
		t.Errorf("expected no transfer record, got %+v", transfer)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("1000")) {
		t.Errorf("expected balance unchanged, got %s", got)
	}

	listed, err := h.proc.ListTransfers(context.Background(), "u1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected no transfers, got %d", len(listed))
	}
}

func TestTransactionProcessor_PerTransactionLimit(t *testing.T) {
	h := newHarness(t)
	limit := dec("100")
	if _, err := h.ledger.UpdateLimits(context.Background(), "u1", limits.Update{PerTransaction: &limit}); err != nil {
		t.Fatalf("update limits failed: %v", err)
	}

	_, err := h.send("200")

	var limitErr *apperrors.LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Constraint != domain.ConstraintPerTransaction {
		t.Errorf("expected per-transaction constraint, got %s", limitErr.Constraint)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("1000")) {
		t.Errorf("expected balance unchanged, got %s", got)
	}
}

func TestTransactionProcessor_RejectsSelfTransfer(t *testing.T) {
	h := newHarness(t)

	_, err := h.proc.SendTransfer(context.Background(), TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "ALICE@example.com",
		Amount:       dec("10"),
	})

	if !errors.Is(err, apperrors.ErrSelfTransfer) {
		t.Errorf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestTransactionProcessor_RejectsInvalidAmount(t *testing.T) {
	h := newHarness(t)

	_, err := h.send("10.005")

	if !apperrors.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTransactionProcessor_SettlementRejected(t *testing.T) {
	h := newHarness(t, network.WithDecision(func(req network.SettlementRequest) network.SettlementResult {
		return network.SettlementResult{Success: false, FailureReason: "receiver bank unavailable"}
	}))
	ctx := context.Background()

	transfer, err := h.send("200")

	if !apperrors.IsSettlement(err) {
		t.Fatalf("expected settlement error, got %v", err)
	}
	if transfer == nil || transfer.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED transfer, got %+v", transfer)
	}
	if !strings.Contains(transfer.FailureReason, "receiver bank unavailable") {
		t.Errorf("unexpected failure reason %q", transfer.FailureReason)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("1000")) {
		t.Errorf("expected sender balance unchanged, got %s", got)
	}
	if got := h.balance(t, "acc-u2"); !got.Equal(dec("500")) {
		t.Errorf("expected receiver balance unchanged, got %s", got)
	}

	window, _ := h.ledger.GetOrCreate(ctx, "u1")
	if !window.UsedToday.IsZero() {
		t.Errorf("expected no limit consumption, got %s", window.UsedToday)
	}
	if got := h.proc.Reserved("acc-u1"); !got.IsZero() {
		t.Errorf("expected reservation released, got %s", got)
	}
}

func TestTransactionProcessor_SettlementTimeout(t *testing.T) {
	h := newHarness(t, network.WithLatency(500*time.Millisecond))
	h.proc = h.newProcessor(WithSettlementTimeout(20 * time.Millisecond))

	transfer, err := h.send("200")

	var settlementErr *apperrors.SettlementError
	if !errors.As(err, &settlementErr) || !settlementErr.Timeout {
		t.Fatalf("expected settlement timeout, got %v", err)
	}
	if transfer.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", transfer.Status)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("1000")) {
		t.Errorf("expected balance unchanged, got %s", got)
	}
}

func TestTransactionProcessor_ConcurrentTransfersShareDailyLimit(t *testing.T) {
	var settled atomic.Int32
	h := newHarness(t,
		network.WithLatency(50*time.Millisecond),
		network.WithDecision(func(req network.SettlementRequest) network.SettlementResult {
			settled.Add(1)
			return network.SettlementResult{Success: true}
		}))
	ctx := context.Background()
	daily := dec("500")
	if _, err := h.ledger.UpdateLimits(ctx, "u1", limits.Update{Daily: &daily, Nightly: &daily}); err != nil {
		t.Fatalf("update limits failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.send("300")
		}()
	}
	wg.Wait()

	completed, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case apperrors.IsLimitExceeded(err):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if completed != 1 || rejected != 1 {
		t.Fatalf("expected one completion and one limit rejection, got %d and %d", completed, rejected)
	}
	if got := settled.Load(); got != 1 {
		t.Errorf("expected the network to settle once, settled %d", got)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("700")) {
		t.Errorf("expected sender balance 700, got %s", got)
	}

	window, _ := h.ledger.GetOrCreate(ctx, "u1")
	if !window.UsedToday.Equal(dec("300")) {
		t.Errorf("expected 300 used today, got %s", window.UsedToday)
	}
}

func TestTransactionProcessor_SettledTransferKeptForReconciliation(t *testing.T) {
	var h *harness
	h = newHarness(t, network.WithDecision(func(req network.SettlementRequest) network.SettlementResult {
		// The sender's funds disappear while the order is at the network.
		if err := h.store.Accounts().UpdateBalance(context.Background(), "acc-u1", decimal.Zero); err != nil {
			t.Errorf("drain balance failed: %v", err)
		}
		return network.SettlementResult{Success: true}
	}))
	ctx := context.Background()

	transfer, err := h.send("300")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transfer.Status != domain.StatusProcessing || transfer.SenderDebited {
		t.Errorf("expected undebited PROCESSING transfer, got %s debited=%v", transfer.Status, transfer.SenderDebited)
	}
	if transfer.ExternalReferenceID == "" {
		t.Error("expected the network reference to be stored")
	}
	stored, err := h.store.Transfers().GetByExternalReference(ctx, transfer.ExternalReferenceID)
	if err != nil || stored.ID != transfer.ID {
		t.Errorf("expected the transfer to be found by its reference, got %v", err)
	}
	if got := h.balance(t, "acc-u2"); !got.Equal(dec("500")) {
		t.Errorf("expected receiver untouched, got %s", got)
	}

	window, _ := h.ledger.GetOrCreate(ctx, "u1")
	if !window.UsedToday.Equal(dec("300")) {
		t.Errorf("expected the settled amount to stay consumed, got %s", window.UsedToday)
	}
	if got := h.proc.Reserved("acc-u1"); !got.IsZero() {
		t.Errorf("expected reservation released, got %s", got)
	}
}

func TestTransactionProcessor_PendingSettlementDefersCredit(t *testing.T) {
	h := newHarness(t, network.WithDecision(func(req network.SettlementRequest) network.SettlementResult {
		return network.SettlementResult{Success: true, Pending: true}
	}))

	transfer, err := h.send("200")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transfer.Status != domain.StatusProcessing {
		t.Errorf("expected PROCESSING, got %s", transfer.Status)
	}
	if !transfer.SenderDebited || transfer.ReceiverCredited {
		t.Errorf("expected only the debit leg, got debited=%v credited=%v", transfer.SenderDebited, transfer.ReceiverCredited)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("800")) {
		t.Errorf("expected sender debited to 800, got %s", got)
	}
	if got := h.balance(t, "acc-u2"); !got.Equal(dec("500")) {
		t.Errorf("expected receiver untouched, got %s", got)
	}
}

func TestTransactionProcessor_ExternalReceiver(t *testing.T) {
	h := newHarness(t)
	h.sim.RegisterExternalKey("carol@otherbank.com", "Carol", "Other Bank")

	transfer, err := h.proc.SendTransfer(context.Background(), TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "carol@otherbank.com",
		Amount:       dec("150"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if transfer.IsInternal() {
		t.Error("expected external transfer")
	}
	if transfer.ExternalReceiverKey != "carol@otherbank.com" {
		t.Errorf("unexpected receiver key %q", transfer.ExternalReceiverKey)
	}
	if transfer.ReceiverCredited {
		t.Error("expected no internal credit")
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("850")) {
		t.Errorf("expected 850, got %s", got)
	}
}

func TestTransactionProcessor_BlockedUserDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.fraud.Block(ctx, "u1", "chargeback investigation"); err != nil {
		t.Fatalf("block failed: %v", err)
	}

	transfer, err := h.send("50")

	var fraudErr *apperrors.FraudBlockedError
	if !errors.As(err, &fraudErr) {
		t.Fatalf("expected FraudBlockedError, got %v", err)
	}
	if fraudErr.RequiresAuth {
		t.Error("expected a hard block")
	}
	if transfer.Status != domain.StatusFailed || transfer.RiskScore != domain.MaxRiskScore {
		t.Errorf("expected FAILED with score 100, got %s/%d", transfer.Status, transfer.RiskScore)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("1000")) {
		t.Errorf("expected balance unchanged, got %s", got)
	}

	alerts, err := h.fraud.ListAlerts(ctx, "u1")
	if err != nil {
		t.Fatalf("list alerts failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("expected one critical alert, got %+v", alerts)
	}
}

func TestTransactionProcessor_ExtraAuthRequired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.fraud.SetBaseScore(ctx, "u1", 60); err != nil {
		t.Fatalf("set score failed: %v", err)
	}

	transfer, err := h.send("50")

	var fraudErr *apperrors.FraudBlockedError
	if !errors.As(err, &fraudErr) || !fraudErr.RequiresAuth {
		t.Fatalf("expected extra authentication error, got %v", err)
	}
	if transfer.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", transfer.Status)
	}

	verified, err := h.proc.SendTransfer(ctx, TransferRequest{
		SenderUserID:   "u1",
		ReceiverKey:    "bob@example.com",
		Amount:         dec("50"),
		StepUpVerified: true,
	})
	if err != nil {
		t.Fatalf("unexpected error after step-up: %v", err)
	}
	if verified.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", verified.Status)
	}
}

func TestTransactionProcessor_ConservesMoney(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	total := h.balance(t, "acc-u1").Add(h.balance(t, "acc-u2"))

	for _, amount := range []string{"10.50", "99.99", "0.01", "300"} {
		if _, err := h.send(amount); err != nil {
			t.Fatalf("send %s failed: %v", amount, err)
		}
	}
	if _, err := h.proc.SendTransfer(ctx, TransferRequest{
		SenderUserID: "u2",
		ReceiverKey:  "alice@example.com",
		Amount:       dec("42.42"),
	}); err != nil {
		t.Fatalf("reverse send failed: %v", err)
	}

	after := h.balance(t, "acc-u1").Add(h.balance(t, "acc-u2"))
	if !after.Equal(total) {
		t.Errorf("expected total %s preserved, got %s", total, after)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("631.92")) {
		t.Errorf("expected sender balance 631.92, got %s", got)
	}
}

func TestTransactionProcessor_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.send("100"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded == 0 || succeeded > 10 {
		t.Fatalf("expected between 1 and 10 successes, got %d", succeeded)
	}
	sender := h.balance(t, "acc-u1")
	if sender.IsNegative() {
		t.Fatalf("sender balance went negative: %s", sender)
	}
	expected := dec("1000").Sub(dec("100").Mul(decimal.NewFromInt(int64(succeeded))))
	if !sender.Equal(expected) {
		t.Errorf("expected sender balance %s, got %s", expected, sender)
	}
	if total := sender.Add(h.balance(t, "acc-u2")); !total.Equal(dec("1500")) {
		t.Errorf("expected total 1500, got %s", total)
	}
}

func TestTransactionProcessor_ScheduledTransferRunsWhenDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	when := h.clock.Now().Add(time.Hour)

	scheduled, err := h.proc.SendTransfer(ctx, TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "bob@example.com",
		Amount:       dec("120"),
		ScheduledFor: &when,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scheduled.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", scheduled.Status)
	}
	if got := h.balance(t, "acc-u1"); !got.Equal(dec("1000")) {
		t.Errorf("expected balance untouched before execution, got %s", got)
	}

	report, err := h.proc.RunDueScheduled(ctx, 10)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 0 {
		t.Errorf("expected nothing due yet, got %+v", report)
	}

	h.clock.Advance(2 * time.Hour)
	report, err = h.proc.RunDueScheduled(ctx, 10)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Due != 1 || report.Completed != 1 {
		t.Errorf("expected one completed transfer, got %+v", report)
	}

	done, err := h.proc.GetTransfer(ctx, "u1", scheduled.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", done.Status)
	}
	if got := h.balance(t, "acc-u2"); !got.Equal(dec("620")) {
		t.Errorf("expected receiver 620, got %s", got)
	}
}

func TestTransactionProcessor_ScheduledFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	when := h.clock.Now().Add(time.Hour)

	scheduled, err := h.proc.SendTransfer(ctx, TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "bob@example.com",
		Amount:       dec("900"),
		ScheduledFor: &when,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.send("200"); err != nil {
		t.Fatalf("immediate send failed: %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	transfer, err := h.proc.ExecuteScheduled(ctx, scheduled.ID)

	if !apperrors.IsInsufficientFunds(err) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if transfer.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", transfer.Status)
	}
}

func TestTransactionProcessor_CancelScheduled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	when := h.clock.Now().Add(24 * time.Hour)

	scheduled, err := h.proc.SendTransfer(ctx, TransferRequest{
		SenderUserID: "u1",
		ReceiverKey:  "bob@example.com",
		Amount:       dec("10"),
		ScheduledFor: &when,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := h.proc.CancelScheduled(ctx, "u2", scheduled.ID); !errors.Is(err, apperrors.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound for another user, got %v", err)
	}

	cancelled, err := h.proc.CancelScheduled(ctx, "u1", scheduled.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}

	if _, err := h.proc.CancelScheduled(ctx, "u1", scheduled.ID); !errors.Is(err, apperrors.ErrNotCancellable) {
		t.Errorf("expected ErrNotCancellable, got %v", err)
	}

	immediate, err := h.send("10")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := h.proc.CancelScheduled(ctx, "u1", immediate.ID); !errors.Is(err, apperrors.ErrNotCancellable) {
		t.Errorf("expected completed transfer not cancellable, got %v", err)
	}
}

func TestTransactionProcessor_GetTransferVisibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.Accounts().Save(ctx, &domain.Account{
		ID: "acc-u3", OwnerID: "u3", Balance: decimal.Zero,
		Currency: domain.DefaultCurrency, Status: domain.AccountActive,
	}); err != nil {
		t.Fatalf("save account failed: %v", err)
	}

	transfer, err := h.send("25")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if _, err := h.proc.GetTransfer(ctx, "u2", transfer.ID); err != nil {
		t.Errorf("expected receiver to see the transfer, got %v", err)
	}
	if _, err := h.proc.GetTransfer(ctx, "u3", transfer.ID); !errors.Is(err, apperrors.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound for a third party, got %v", err)
	}
}

func TestFraudDetector_ScoreIsCapped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.fraud.SetBaseScore(ctx, "u1", 90); err != nil {
		t.Fatalf("set score failed: %v", err)
	}
	set, _ := h.store.Rules().Snapshot(ctx)

	analysis, err := h.fraud.Analyze(ctx, set, AnalysisContext{
		UserID:    "u1",
		AccountID: "acc-u1",
		Amount:    dec("6000"),
		Timestamp: h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if analysis.Score != domain.MaxRiskScore {
		t.Errorf("expected score capped at 100, got %d", analysis.Score)
	}
	if analysis.Decision != domain.DecisionDeny {
		t.Errorf("expected DENY, got %s", analysis.Decision)
	}
	if analysis.RuleSetVersion != set.Version {
		t.Errorf("expected rule set version %d, got %d", set.Version, analysis.RuleSetVersion)
	}
}

func TestFraudDetector_AlertAtThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.fraud.SetBaseScore(ctx, "u1", 40); err != nil {
		t.Fatalf("set score failed: %v", err)
	}
	set, _ := h.store.Rules().Snapshot(ctx)

	analysis, err := h.fraud.Analyze(ctx, set, AnalysisContext{
		UserID:    "u1",
		AccountID: "acc-u1",
		Amount:    dec("10"),
		Timestamp: h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !analysis.Allowed() {
		t.Errorf("expected ALLOW at score 40, got %s", analysis.Decision)
	}
	if analysis.Alert == nil || analysis.Alert.Severity != domain.SeverityMedium {
		t.Fatalf("expected a MEDIUM alert, got %+v", analysis.Alert)
	}
	profile, _ := h.fraud.GetProfile(ctx, "u1")
	if profile.FlagCount != 1 {
		t.Errorf("expected flag count 1, got %d", profile.FlagCount)
	}
	if len(h.notifier.alerts) != 1 {
		t.Errorf("expected alert notification, got %d", len(h.notifier.alerts))
	}

	updated, err := h.fraud.UpdateAlertStatus(ctx, analysis.Alert.ID, domain.AlertResolved)
	if err != nil {
		t.Fatalf("update alert failed: %v", err)
	}
	if updated.Status != domain.AlertResolved {
		t.Errorf("expected RESOLVED, got %s", updated.Status)
	}
	if _, err := h.fraud.UpdateAlertStatus(ctx, analysis.Alert.ID, domain.AlertOpen); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestFraudDetector_UpdateProfileAverages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, amount := range []string{"100", "300", "50.05"} {
		err := h.fraud.UpdateProfile(ctx, AnalysisContext{
			UserID:            "u1",
			AccountID:         "acc-u1",
			Amount:            dec(amount),
			DeviceFingerprint: "device-a",
			Timestamp:         h.clock.Now(),
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	profile, err := h.fraud.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile failed: %v", err)
	}
	if want := dec("450.05").Div(dec("3")); !profile.AverageTransactionAmount.Equal(want) {
		t.Errorf("expected unrounded average %s, got %s", want, profile.AverageTransactionAmount)
	}
	if profile.TransferCount != 3 {
		t.Errorf("expected 3 transfers, got %d", profile.TransferCount)
	}
	if !profile.KnowsDevice("device-a") || len(profile.KnownDevices) != 1 {
		t.Errorf("expected one known device, got %v", profile.KnownDevices)
	}
	if profile.TypicalHours[14] != 1 {
		t.Errorf("expected current transfer counted at hour 14, got %v", profile.TypicalHours)
	}
}

func TestRuleEngine_VelocityExcludesCurrentTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.send("1"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	set := domain.NewRuleSet(1, []domain.FraudRule{{
		ID: "velocity", Type: domain.RuleVelocity, Score: 30, IsActive: true,
		Conditions: domain.RuleConditions{WindowMinutes: 10, MaxTransactions: 5},
	}})
	engine := NewRuleEngine(h.store.Transfers(), time.UTC, nil)
	profile := domain.NewRiskProfile("u1", h.clock.Now())

	results, evaluated, err := engine.EvaluateRules(ctx, set, AnalysisContext{
		UserID: "u1", AccountID: "acc-u1", Amount: dec("1"), Timestamp: h.clock.Now(),
	}, profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evaluated != 1 || len(results) != 1 {
		t.Fatalf("expected velocity to trigger with 5 prior transfers, got %d results", len(results))
	}

	results, _, _ = engine.EvaluateRules(ctx, set, AnalysisContext{
		TransferID: "already-recorded", UserID: "u1", AccountID: "acc-u1", Amount: dec("1"), Timestamp: h.clock.Now(),
	}, profile)
	if len(results) != 0 {
		t.Errorf("expected recorded transfer to be excluded from its own count, got %d results", len(results))
	}
}

func TestRuleEngine_ConditionBoundaries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()

	prior, err := h.send("400")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	known := domain.NewRiskProfile("u1", now)
	known.KnownDevices = []string{"device-a"}
	known.AverageTransactionAmount = dec("100")
	fresh := domain.NewRiskProfile("u1", now)

	threshold := domain.FraudRule{ID: "threshold", Type: domain.RuleAmountThreshold, Score: 25, IsActive: true,
		Conditions: domain.RuleConditions{MaxAmount: amountPtr("1000")}}
	device := domain.FraudRule{ID: "device", Type: domain.RuleNewDevice, Score: 15, IsActive: true}
	deviation := domain.FraudRule{ID: "deviation", Type: domain.RuleAmountDeviation, Score: 20, IsActive: true,
		Conditions: domain.RuleConditions{MaxDeviation: 3}}
	recipient := domain.FraudRule{ID: "recipient", Type: domain.RuleNewRecipient, Score: 20, IsActive: true,
		Conditions: domain.RuleConditions{ThresholdForNew: amountPtr("1000")}}
	cumulative := domain.FraudRule{ID: "cumulative", Type: domain.RuleCumulativeDaily, Score: 30, IsActive: true,
		Conditions: domain.RuleConditions{MaxDaily: amountPtr("1000")}}

	tests := []struct {
		name      string
		rule      domain.FraudRule
		amount    string
		device    string
		recipient string
		profile   *domain.RiskProfile
		want      bool
	}{
		{"amount at threshold", threshold, "1000", "", "", known, false},
		{"amount above threshold", threshold, "1000.01", "", "", known, true},
		{"known device", device, "10", "device-a", "", known, false},
		{"unseen device", device, "10", "device-b", "", known, true},
		{"no fingerprint", device, "10", "", "", known, false},
		{"deviation at ratio", deviation, "300", "", "", known, false},
		{"deviation above ratio", deviation, "300.01", "", "", known, true},
		{"deviation without history", deviation, "5000", "", "", fresh, false},
		{"new recipient at threshold", recipient, "1000", "", "carol@example.com", known, false},
		{"new recipient above threshold", recipient, "1000.01", "", "carol@example.com", known, true},
		{"known recipient above threshold", recipient, "2000", "", prior.RecipientKey(), known, false},
		{"daily total at cap", cumulative, "600", "", "", known, false},
		{"daily total above cap", cumulative, "600.01", "", "", known, true},
	}

	engine := NewRuleEngine(h.store.Transfers(), time.UTC, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, _, err := engine.EvaluateRules(ctx, domain.NewRuleSet(1, []domain.FraudRule{tt.rule}), AnalysisContext{
				UserID:            "u1",
				AccountID:         "acc-u1",
				Amount:            dec(tt.amount),
				RecipientKey:      tt.recipient,
				DeviceFingerprint: tt.device,
				Timestamp:         now,
			}, tt.profile)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(results) == 1; got != tt.want {
				t.Errorf("expected triggered=%v, got %+v", tt.want, results)
			}
		})
	}
}

func TestFraudDetector_DecisionBoundaries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	empty := domain.NewRuleSet(1, nil)

	tests := []struct {
		score    int
		decision domain.Decision
		severity domain.Severity
		alert    bool
	}{
		{39, domain.DecisionAllow, domain.SeverityLow, false},
		{40, domain.DecisionAllow, domain.SeverityMedium, true},
		{59, domain.DecisionAllow, domain.SeverityMedium, true},
		{60, domain.DecisionRequireExtraAuth, domain.SeverityHigh, true},
		{79, domain.DecisionRequireExtraAuth, domain.SeverityHigh, true},
		{80, domain.DecisionRequireExtraAuth, domain.SeverityCritical, true},
		{89, domain.DecisionRequireExtraAuth, domain.SeverityCritical, true},
		{90, domain.DecisionDeny, domain.SeverityCritical, true},
	}

	for _, tt := range tests {
		if err := h.fraud.SetBaseScore(ctx, "u1", tt.score); err != nil {
			t.Fatalf("set score failed: %v", err)
		}
		analysis, err := h.fraud.Analyze(ctx, empty, AnalysisContext{
			UserID:    "u1",
			AccountID: "acc-u1",
			Amount:    dec("10"),
			Timestamp: h.clock.Now(),
		})
		if err != nil {
			t.Fatalf("score %d: unexpected error: %v", tt.score, err)
		}
		if analysis.Decision != tt.decision || analysis.Severity != tt.severity {
			t.Errorf("score %d: expected %s/%s, got %s/%s", tt.score, tt.decision, tt.severity, analysis.Decision, analysis.Severity)
		}
		if got := analysis.Alert != nil; got != tt.alert {
			t.Errorf("score %d: expected alert=%v, got %v", tt.score, tt.alert, got)
		}
	}
}

func TestRuleEngine_SkipsMisconfiguredRule(t *testing.T) {
	engine := NewRuleEngine(memory.NewStore().Transfers(), time.UTC, nil)
	set := domain.NewRuleSet(1, []domain.FraudRule{
		{ID: "broken", Type: domain.RuleAmountThreshold, Score: 50, Priority: 10, IsActive: true},
		{ID: "late", Type: domain.RuleTimeBased, Score: 10, Priority: 5, IsActive: true,
			Conditions: domain.RuleConditions{SuspiciousHours: []int{3}}},
	})

	results, evaluated, err := engine.EvaluateRules(context.Background(), set, AnalysisContext{
		Amount:    dec("10"),
		Timestamp: time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC),
	}, domain.NewRiskProfile("u1", time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evaluated != 2 {
		t.Errorf("expected 2 rules evaluated, got %d", evaluated)
	}
	if len(results) != 1 || results[0].RuleID != "late" {
		t.Errorf("expected only the time rule to trigger, got %+v", results)
	}
}

func TestLoadRuleSet(t *testing.T) {
	set, err := LoadRuleSet(strings.NewReader(`
version: 3
rules:
  - id: big
    name: Big transfer
    type: AMOUNT_THRESHOLD
    score: 25
    priority: 10
    conditions:
      max_amount: "2500.00"
  - id: nightly
    name: Night owl
    type: TIME_BASED
    score: 10
    priority: 20
    conditions:
      suspicious_hours: [1, 2]
  - id: disabled
    name: Disabled
    type: NEW_DEVICE
    score: 5
    active: false
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if set.Version != 3 {
		t.Errorf("expected version 3, got %d", set.Version)
	}
	if len(set.Rules) != 2 {
		t.Fatalf("expected 2 active rules, got %d", len(set.Rules))
	}
	if set.Rules[0].ID != "nightly" {
		t.Errorf("expected highest priority first, got %s", set.Rules[0].ID)
	}
	if !set.Rules[1].Conditions.MaxAmount.Equal(dec("2500")) {
		t.Errorf("unexpected max amount %s", set.Rules[1].Conditions.MaxAmount)
	}
}

func TestLoadRuleSet_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate id", "rules:\n  - {id: a, name: A, type: NEW_DEVICE, score: 5}\n  - {id: a, name: B, type: NEW_DEVICE, score: 5}\n"},
		{"unknown field", "rules:\n  - {id: a, name: A, type: NEW_DEVICE, score: 5, weight: 3}\n"},
		{"unknown type", "rules:\n  - {id: a, name: A, type: MOON_PHASE, score: 5}\n"},
		{"missing condition", "rules:\n  - {id: a, name: A, type: VELOCITY, score: 5}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRuleSet(strings.NewReader(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
