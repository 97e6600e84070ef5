package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/audit"
	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/keys"
	"pix_processor/internal/limits"
	"pix_processor/internal/network"
	"pix_processor/internal/repository"
	"pix_processor/pkg/metrics"
	"pix_processor/pkg/validator"
)

const (
	DefaultSettlementTimeout = 10 * time.Second
	defaultSweepBatch        = 100
	transferKind             = "PIX"
)

// TransferRequest is a send-money instruction from a user.
type TransferRequest struct {
	SenderUserID      string
	SenderKeyID       string
	ReceiverKey       string
	Amount            decimal.Decimal
	Description       string
	ScheduledFor      *time.Time
	DeviceFingerprint string
	StepUpVerified    bool
}

type TransferNotifier interface {
	NotifyTransfer(ctx context.Context, t *domain.Transfer) error
}

type Dependencies struct {
	Store   repository.Store
	Keys    *keys.Directory
	Limits  *limits.Ledger
	Fraud   *FraudDetector
	Audit   *audit.Chain
	Network network.Adapter
}

type TransactionProcessor struct {
	store             repository.Store
	directory         *keys.Directory
	limits            *limits.Ledger
	fraud             *FraudDetector
	network           network.Adapter
	poster            *Poster
	validator         *validator.TransactionValidator
	reservations      *reservationTable
	notifier          TransferNotifier
	metrics           *metrics.MetricsCollector
	settlementTimeout time.Duration
	now               func() time.Time
	logger            *slog.Logger
}

type Option func(*TransactionProcessor)

func WithTransferNotifier(n TransferNotifier) Option {
	return func(p *TransactionProcessor) { p.notifier = n }
}

func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(p *TransactionProcessor) { p.metrics = m }
}

func WithSettlementTimeout(d time.Duration) Option {
	return func(p *TransactionProcessor) { p.settlementTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *TransactionProcessor) { p.now = now }
}

func NewTransactionProcessor(deps Dependencies, logger *slog.Logger, opts ...Option) *TransactionProcessor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &TransactionProcessor{
		store:             deps.Store,
		directory:         deps.Keys,
		limits:            deps.Limits,
		fraud:             deps.Fraud,
		network:           deps.Network,
		reservations:      newReservationTable(),
		settlementTimeout: DefaultSettlementTimeout,
		now:               time.Now,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.poster = NewPoster(deps.Audit, p.now)
	p.validator = validator.NewTransactionValidator(p.now)
	return p
}

// SendTransfer runs an immediate transfer to completion or schedules it.
// When a transfer record exists the returned transfer is non-nil even on
// error, and carries the final status.
func (p *TransactionProcessor) SendTransfer(ctx context.Context, req TransferRequest) (*domain.Transfer, error) {
	start := p.now()

	if err := p.validator.ValidateTransfer(validator.TransferInput{
		SenderUserID: req.SenderUserID,
		ReceiverKey:  req.ReceiverKey,
		Amount:       req.Amount,
		Description:  req.Description,
		ScheduledFor: req.ScheduledFor,
	}); err != nil {
		return nil, err
	}

	account, err := p.senderAccount(ctx, req.SenderUserID)
	if err != nil {
		return nil, err
	}

	var transfer *domain.Transfer
	if req.ScheduledFor != nil {
		transfer, err = p.schedule(ctx, account, req)
	} else {
		transfer, err = p.execute(ctx, account, req, nil)
	}
	p.finish(ctx, transfer, err, start)
	return transfer, err
}

func (p *TransactionProcessor) senderAccount(ctx context.Context, userID string) (*domain.Account, error) {
	account, err := p.store.Accounts().GetByOwnerID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, err
	}
	if account.Status != domain.AccountActive {
		return nil, apperrors.NewValidationError("sender", "account is not active")
	}
	return account, nil
}

func (p *TransactionProcessor) schedule(ctx context.Context, account *domain.Account, req TransferRequest) (*domain.Transfer, error) {
	senderKey, err := p.directory.SenderKey(ctx, req.SenderUserID, req.SenderKeyID)
	if err != nil {
		return nil, err
	}
	receiver, err := p.resolveReceiver(ctx, account, senderKey, req.ReceiverKey)
	if err != nil {
		return nil, err
	}

	transfer := p.newTransfer(account, senderKey, receiver, req)
	transfer.Status = domain.StatusPending
	scheduledFor := req.ScheduledFor.UTC()
	transfer.ScheduledFor = &scheduledFor

	if err := p.store.Transfers().Save(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to save scheduled transfer: %w", err)
	}

	p.logger.InfoContext(ctx, "Transfer scheduled",
		slog.String("transfer_id", transfer.ID),
		slog.String("user_id", transfer.SenderUserID),
		slog.Time("scheduled_for", scheduledFor))
	return transfer, nil
}

func (p *TransactionProcessor) newTransfer(account *domain.Account, senderKey *domain.TransferKey, receiver *keys.Resolution, req TransferRequest) *domain.Transfer {
	transfer := domain.NewTransfer(account.ID, req.SenderUserID, req.Amount, p.now())
	p.applyRouting(transfer, senderKey, receiver)
	transfer.Description = req.Description
	transfer.DeviceFingerprint = req.DeviceFingerprint
	return transfer
}

func (p *TransactionProcessor) applyRouting(transfer *domain.Transfer, senderKey *domain.TransferKey, receiver *keys.Resolution) {
	transfer.SenderKeyID = senderKey.ID
	if receiver.Internal {
		transfer.ReceiverKeyID = receiver.KeyID
		transfer.ReceiverAccountID = receiver.AccountID
		transfer.ExternalReceiverKey = ""
		return
	}
	transfer.ReceiverKeyID = ""
	transfer.ReceiverAccountID = ""
	transfer.ExternalReceiverKey = receiver.Value
}

func (p *TransactionProcessor) resolveReceiver(ctx context.Context, account *domain.Account, senderKey *domain.TransferKey, value string) (*keys.Resolution, error) {
	receiver, err := p.directory.Resolve(ctx, value)
	if err != nil {
		return nil, err
	}
	if receiver.Internal && (receiver.KeyID == senderKey.ID || receiver.AccountID == account.ID) {
		return nil, apperrors.ErrSelfTransfer
	}
	return receiver, nil
}

// execute runs the transfer sequence. existing is the claimed row of a
// scheduled transfer, or nil for an immediate one.
func (p *TransactionProcessor) execute(ctx context.Context, account *domain.Account, req TransferRequest, existing *domain.Transfer) (*domain.Transfer, error) {
	available, ok := p.reservations.reserve(account.ID, account.Balance, req.Amount)
	if !ok {
		if available.IsNegative() {
			available = decimal.Zero
		}
		return p.reject(ctx, existing, &apperrors.InsufficientFundsError{Available: available, Requested: req.Amount})
	}
	defer p.reservations.release(account.ID, req.Amount)

	senderKey, err := p.directory.SenderKey(ctx, req.SenderUserID, req.SenderKeyID)
	if err != nil {
		return p.reject(ctx, existing, err)
	}

	now := p.now()
	if err := p.limits.Hold(ctx, req.SenderUserID, req.Amount, p.limits.IsNightWindow(now)); err != nil {
		p.recordLimitRejection(err)
		return p.reject(ctx, existing, err)
	}
	held := true
	defer func() {
		if held {
			p.releaseLimit(ctx, req.SenderUserID, req.Amount)
		}
	}()

	receiver, err := p.resolveReceiver(ctx, account, senderKey, req.ReceiverKey)
	if err != nil {
		return p.reject(ctx, existing, err)
	}

	transfer, err := p.record(ctx, existing, account, senderKey, receiver, req)
	if err != nil {
		return p.reject(ctx, existing, err)
	}

	ac := AnalysisContext{
		TransferID:        transfer.ID,
		UserID:            req.SenderUserID,
		AccountID:         account.ID,
		Amount:            req.Amount,
		Type:              transferKind,
		RecipientKey:      transfer.RecipientKey(),
		DeviceFingerprint: req.DeviceFingerprint,
		Timestamp:         now,
	}
	if err := p.screen(ctx, transfer, ac, req.StepUpVerified); err != nil {
		return p.fail(ctx, transfer, err)
	}

	result, err := p.settle(ctx, transfer, senderKey, receiver)
	if err != nil {
		return p.fail(ctx, transfer, err)
	}

	// The network has moved the money, so the held limit stays consumed
	// whatever happens to the ledger mutation.
	held = false
	if err := p.commit(ctx, transfer, result); err != nil {
		p.park(ctx, transfer, result, err)
		return transfer, nil
	}

	if err := p.fraud.UpdateProfile(ctx, ac); err != nil {
		p.logger.ErrorContext(ctx, "Failed to update risk profile",
			slog.String("user_id", ac.UserID),
			slog.String("error", err.Error()))
	}
	return transfer, nil
}

// record creates the PROCESSING row of an immediate transfer, or refreshes
// the routing of a claimed scheduled one.
func (p *TransactionProcessor) record(ctx context.Context, existing *domain.Transfer, account *domain.Account, senderKey *domain.TransferKey, receiver *keys.Resolution, req TransferRequest) (*domain.Transfer, error) {
	if existing != nil {
		p.applyRouting(existing, senderKey, receiver)
		existing.UpdatedAt = p.now()
		if err := p.store.Transfers().Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update transfer: %w", err)
		}
		return existing, nil
	}

	transfer := p.newTransfer(account, senderKey, receiver, req)
	if err := p.store.Transfers().Save(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to save transfer: %w", err)
	}
	return transfer, nil
}

func (p *TransactionProcessor) screen(ctx context.Context, transfer *domain.Transfer, ac AnalysisContext, stepUpVerified bool) error {
	set, err := p.store.Rules().Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load fraud rules: %w", err)
	}

	analysis, err := p.fraud.Analyze(ctx, set, ac)
	if err != nil {
		return err
	}
	transfer.RiskScore = analysis.Score
	transfer.TriggeredRules = analysis.TriggeredRules

	blocked := &apperrors.FraudBlockedError{
		Score:    analysis.Score,
		Severity: analysis.Severity,
		Rules:    analysis.TriggeredRules,
		Reason:   analysis.BlockedReason,
	}
	switch analysis.Decision {
	case domain.DecisionDeny:
		return blocked
	case domain.DecisionRequireExtraAuth:
		if !stepUpVerified {
			blocked.RequiresAuth = true
			return blocked
		}
	}
	return nil
}

func (p *TransactionProcessor) settle(ctx context.Context, transfer *domain.Transfer, senderKey *domain.TransferKey, receiver *keys.Resolution) (network.SettlementResult, error) {
	settleCtx, cancel := context.WithTimeout(ctx, p.settlementTimeout)
	defer cancel()

	started := time.Now()
	result, err := p.network.ExecuteTransfer(settleCtx, network.SettlementRequest{
		SenderKey:      senderKey.Value,
		ReceiverKey:    receiver.Value,
		Amount:         transfer.Amount,
		Description:    transfer.Description,
		IdempotencyKey: transfer.ID,
	})
	elapsed := time.Since(started)

	switch {
	case err != nil && errors.Is(settleCtx.Err(), context.DeadlineExceeded):
		p.metrics.RecordSettlement("timeout", elapsed)
		return result, &apperrors.SettlementError{Reason: "timeout", Timeout: true, Cause: err}
	case err != nil:
		p.metrics.RecordSettlement("error", elapsed)
		return result, &apperrors.SettlementError{Reason: err.Error(), Cause: err}
	case !result.Success:
		p.metrics.RecordSettlement("rejected", elapsed)
		reason := result.FailureReason
		if reason == "" {
			reason = "rejected by payment network"
		}
		return result, &apperrors.SettlementError{Reason: reason}
	case result.Pending:
		p.metrics.RecordSettlement("pending", elapsed)
	default:
		p.metrics.RecordSettlement("settled", elapsed)
	}
	return result, nil
}

// commit is the atomic group: debit, internal credit, audit links and the
// status change commit together or not at all. The limit was consumed by
// Hold before settlement.
func (p *TransactionProcessor) commit(ctx context.Context, transfer *domain.Transfer, result network.SettlementResult) error {
	ctx = context.WithoutCancel(ctx)

	var committed *domain.Transfer
	var balances []*domain.Account
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		current, err := tx.Transfers().GetForUpdate(ctx, transfer.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusProcessing || current.SenderDebited {
			return fmt.Errorf("%w: transfer %s is %s", apperrors.ErrInvalidTransition, current.ID, current.Status)
		}

		creditNow := current.IsInternal() && !result.Pending && !current.ReceiverCredited
		ids := []string{current.SenderAccountID}
		if creditNow {
			ids = append(ids, current.ReceiverAccountID)
		}
		if _, err := LockAccounts(ctx, tx, ids...); err != nil {
			return err
		}

		payload := TransferPayload{
			TransferID:          current.ID,
			ExternalReferenceID: result.ExternalReferenceID,
			Direction:           "outbound",
		}
		sender, err := p.poster.Post(ctx, tx, Posting{
			AccountID:  current.SenderAccountID,
			TransferID: current.ID,
			Kind:       domain.LedgerDebit,
			Delta:      current.Amount.Neg(),
			Event:      domain.AuditTransferDebit,
			Payload:    payload,
		})
		if err != nil {
			return err
		}
		balances = append(balances, sender)
		current.SenderDebited = true

		if creditNow {
			payload.Direction = "inbound"
			receiver, err := p.poster.Post(ctx, tx, Posting{
				AccountID:  current.ReceiverAccountID,
				TransferID: current.ID,
				Kind:       domain.LedgerCredit,
				Delta:      current.Amount,
				Event:      domain.AuditTransferCredit,
				Payload:    payload,
			})
			if err != nil {
				return err
			}
			balances = append(balances, receiver)
			current.ReceiverCredited = true
		}

		current.ExternalReferenceID = result.ExternalReferenceID
		current.RiskScore = transfer.RiskScore
		current.TriggeredRules = transfer.TriggeredRules
		if result.Pending {
			current.UpdatedAt = p.now()
		} else {
			current.MarkCompleted(p.now())
		}
		if err := tx.Transfers().Update(ctx, current); err != nil {
			return err
		}
		committed = current
		return nil
	})
	if err != nil {
		return err
	}

	*transfer = *committed
	for _, account := range balances {
		p.metrics.UpdateAccountBalance(account.ID, account.Currency, account.Balance.InexactFloat64())
	}
	return nil
}

// park keeps a settled transfer PROCESSING with its network reference when
// the ledger mutation could not be applied. The reconciler debits the sender
// when the network confirms the reference.
func (p *TransactionProcessor) park(ctx context.Context, transfer *domain.Transfer, result network.SettlementResult, cause error) {
	ctx = context.WithoutCancel(ctx)

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		current, err := tx.Transfers().GetForUpdate(ctx, transfer.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusProcessing {
			*transfer = *current
			return nil
		}
		current.ExternalReferenceID = result.ExternalReferenceID
		current.RiskScore = transfer.RiskScore
		current.TriggeredRules = transfer.TriggeredRules
		current.UpdatedAt = p.now()
		if err := tx.Transfers().Update(ctx, current); err != nil {
			return err
		}
		*transfer = *current
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to record settlement reference",
			slog.String("transfer_id", transfer.ID),
			slog.String("external_reference_id", result.ExternalReferenceID),
			slog.String("error", err.Error()))
	}

	p.logger.ErrorContext(ctx, "Settled transfer awaiting reconciliation",
		slog.String("transfer_id", transfer.ID),
		slog.String("user_id", transfer.SenderUserID),
		slog.String("external_reference_id", result.ExternalReferenceID),
		slog.String("error", cause.Error()))
}

func (p *TransactionProcessor) releaseLimit(ctx context.Context, userID string, amount decimal.Decimal) {
	if err := p.limits.Release(context.WithoutCancel(ctx), userID, amount); err != nil {
		p.logger.ErrorContext(ctx, "Failed to release held limit",
			slog.String("user_id", userID),
			slog.String("amount", amount.StringFixed(2)),
			slog.String("error", err.Error()))
	}
}

// fail moves a recorded transfer to FAILED and returns cause unchanged.
func (p *TransactionProcessor) fail(ctx context.Context, transfer *domain.Transfer, cause error) (*domain.Transfer, error) {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		current, err := tx.Transfers().GetForUpdate(ctx, transfer.ID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(domain.StatusFailed) {
			*transfer = *current
			return nil
		}
		current.RiskScore = transfer.RiskScore
		current.TriggeredRules = transfer.TriggeredRules
		current.MarkFailed(reason, p.now())
		if err := tx.Transfers().Update(ctx, current); err != nil {
			return err
		}
		*transfer = *current
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark transfer failed",
			slog.String("transfer_id", transfer.ID),
			slog.String("error", err.Error()))
	}

	p.logger.WarnContext(ctx, "Transfer failed",
		slog.String("transfer_id", transfer.ID),
		slog.String("user_id", transfer.SenderUserID),
		slog.String("reason", reason))
	return transfer, cause
}

func (p *TransactionProcessor) reject(ctx context.Context, existing *domain.Transfer, cause error) (*domain.Transfer, error) {
	if existing != nil {
		return p.fail(ctx, existing, cause)
	}
	p.logger.WarnContext(ctx, "Transfer rejected", slog.String("error", cause.Error()))
	return nil, cause
}

func (p *TransactionProcessor) recordLimitRejection(err error) {
	var limitErr *apperrors.LimitExceededError
	if errors.As(err, &limitErr) {
		p.metrics.RecordLimitRejection(string(limitErr.Constraint))
	}
}

func (p *TransactionProcessor) finish(ctx context.Context, transfer *domain.Transfer, err error, start time.Time) {
	status := "REJECTED"
	if transfer != nil {
		status = string(transfer.Status)
	}
	p.metrics.RecordTransfer(status, p.now().Sub(start))

	if transfer == nil {
		return
	}
	if err == nil {
		p.logger.InfoContext(ctx, "Transfer processed",
			slog.String("transfer_id", transfer.ID),
			slog.String("status", string(transfer.Status)),
			slog.String("amount", transfer.Amount.StringFixed(2)))
	}
	if p.notifier != nil {
		if nerr := p.notifier.NotifyTransfer(ctx, transfer); nerr != nil {
			p.logger.ErrorContext(ctx, "Failed to queue transfer notification",
				slog.String("transfer_id", transfer.ID),
				slog.String("error", nerr.Error()))
		}
	}
}

// CancelScheduled cancels a scheduled transfer that has not started yet.
func (p *TransactionProcessor) CancelScheduled(ctx context.Context, userID, transferID string) (*domain.Transfer, error) {
	var cancelled *domain.Transfer
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		transfer, err := p.ownedTransfer(ctx, tx, userID, transferID, false)
		if err != nil {
			return err
		}
		if transfer.Status != domain.StatusPending || transfer.ScheduledFor == nil {
			return apperrors.ErrNotCancellable
		}
		transfer.Status = domain.StatusCancelled
		transfer.UpdatedAt = p.now()
		if err := tx.Transfers().Update(ctx, transfer); err != nil {
			return err
		}
		cancelled = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "Scheduled transfer cancelled",
		slog.String("transfer_id", transferID),
		slog.String("user_id", userID))
	return cancelled, nil
}

// ExecuteScheduled claims a due scheduled transfer and runs it. Any failure
// from that point marks the row FAILED.
func (p *TransactionProcessor) ExecuteScheduled(ctx context.Context, transferID string) (*domain.Transfer, error) {
	start := p.now()

	var claimed *domain.Transfer
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		transfer, err := tx.Transfers().GetForUpdate(ctx, transferID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrTransferNotFound
			}
			return err
		}
		if transfer.Status != domain.StatusPending || transfer.ScheduledFor == nil {
			return fmt.Errorf("%w: transfer %s is %s", apperrors.ErrInvalidTransition, transfer.ID, transfer.Status)
		}
		if transfer.ScheduledFor.After(start) {
			return apperrors.NewValidationError("scheduled_for", "transfer is not due yet")
		}
		transfer.Status = domain.StatusProcessing
		transfer.UpdatedAt = start
		if err := tx.Transfers().Update(ctx, transfer); err != nil {
			return err
		}
		claimed = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}

	req, err := p.requestFromScheduled(ctx, claimed)
	if err != nil {
		transfer, err := p.fail(ctx, claimed, err)
		p.finish(ctx, transfer, err, start)
		return transfer, err
	}

	var transfer *domain.Transfer
	account, err := p.store.Accounts().GetByID(ctx, claimed.SenderAccountID)
	if err == nil && account.Status != domain.AccountActive {
		err = apperrors.NewValidationError("sender", "account is not active")
	}
	if err != nil {
		transfer, err = p.fail(ctx, claimed, err)
	} else {
		transfer, err = p.execute(ctx, account, req, claimed)
	}
	p.finish(ctx, transfer, err, start)
	return transfer, err
}

func (p *TransactionProcessor) requestFromScheduled(ctx context.Context, t *domain.Transfer) (TransferRequest, error) {
	receiverKey := t.ExternalReceiverKey
	if t.ReceiverKeyID != "" {
		key, err := p.store.Keys().GetByID(ctx, t.ReceiverKeyID)
		if err != nil {
			return TransferRequest{}, apperrors.ErrKeyNotFound
		}
		receiverKey = key.Value
	}
	return TransferRequest{
		SenderUserID:      t.SenderUserID,
		SenderKeyID:       t.SenderKeyID,
		ReceiverKey:       receiverKey,
		Amount:            t.Amount,
		Description:       t.Description,
		DeviceFingerprint: t.DeviceFingerprint,
	}, nil
}

type SweepReport struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunDueScheduled executes every scheduled transfer whose time has come.
func (p *TransactionProcessor) RunDueScheduled(ctx context.Context, limit int) (SweepReport, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}

	due, err := p.store.Transfers().ListDueScheduled(ctx, p.now(), limit)
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to list scheduled transfers: %w", err)
	}

	report := SweepReport{Due: len(due)}
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		transfer, err := p.ExecuteScheduled(ctx, t.ID)
		switch {
		case transfer == nil:
			report.Skipped++
		case err != nil || transfer.Status == domain.StatusFailed:
			report.Failed++
		case transfer.Status == domain.StatusCompleted:
			report.Completed++
		default:
			report.Pending++
		}
	}

	p.logger.InfoContext(ctx, "Scheduled sweep finished",
		slog.Int("due", report.Due),
		slog.Int("completed", report.Completed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped))
	return report, nil
}

// GetTransfer returns a transfer the user sent or received.
func (p *TransactionProcessor) GetTransfer(ctx context.Context, userID, transferID string) (*domain.Transfer, error) {
	return p.ownedTransfer(ctx, p.store, userID, transferID, true)
}

func (p *TransactionProcessor) ListTransfers(ctx context.Context, userID string, limit, offset int) ([]*domain.Transfer, error) {
	account, err := p.store.Accounts().GetByOwnerID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return p.store.Transfers().ListByAccount(ctx, account.ID, limit, offset)
}

func (p *TransactionProcessor) ownedTransfer(ctx context.Context, repos repository.Repositories, userID, transferID string, allowReceiver bool) (*domain.Transfer, error) {
	transfer, err := repos.Transfers().GetForUpdate(ctx, transferID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrTransferNotFound
		}
		return nil, err
	}
	if transfer.SenderUserID == userID {
		return transfer, nil
	}
	if allowReceiver && transfer.ReceiverAccountID != "" {
		account, err := repos.Accounts().GetByOwnerID(ctx, userID)
		if err == nil && account.ID == transfer.ReceiverAccountID {
			return transfer, nil
		}
	}
	return nil, apperrors.ErrTransferNotFound
}

// Reserved reports the amount held by in-flight transfers of an account.
func (p *TransactionProcessor) Reserved(accountID string) decimal.Decimal {
	return p.reservations.reserved(accountID)
}
