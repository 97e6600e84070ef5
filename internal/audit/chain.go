// Package audit keeps a per-user append-only log of balance-affecting
// events. Each entry embeds the hash of the one before it and is signed
// with an injected key.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/repository"
	"pix_processor/pkg/crypto"
)

// Signer produces the keyed signature stored next to each entry hash.
type Signer interface {
	Sign(data []byte) string
}

// Event is what callers record; the chain fills in linkage and signature.
type Event struct {
	UserID        string
	Type          domain.AuditEventType
	Payload       any
	Amount        *decimal.Decimal
	BalanceBefore *decimal.Decimal
	BalanceAfter  *decimal.Decimal
}

type Chain struct {
	store  repository.Store
	signer Signer
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Chain)

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

func NewChain(store repository.Store, signer Signer, logger *slog.Logger, opts ...Option) *Chain {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Chain{
		store:  store,
		signer: signer,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Append(ctx context.Context, event Event) (*domain.AuditEntry, error) {
	var entry *domain.AuditEntry
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		var err error
		entry, err = c.AppendTx(ctx, tx, event)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendTx links event to the user's latest entry inside an open transaction,
// so the entry commits together with the balance change it describes.
func (c *Chain) AppendTx(ctx context.Context, tx repository.Repositories, event Event) (*domain.AuditEntry, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload: %w", err)
	}

	var previousHash *string
	last, err := tx.Audit().Last(ctx, event.UserID)
	switch {
	case err == nil:
		h := last.Hash
		previousHash = &h
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}

	entry := &domain.AuditEntry{
		ID:            uuid.NewString(),
		UserID:        event.UserID,
		EventType:     event.Type,
		Payload:       payload,
		Amount:        event.Amount,
		BalanceBefore: event.BalanceBefore,
		BalanceAfter:  event.BalanceAfter,
		PreviousHash:  previousHash,
		CreatedAt:     c.now().UTC().Truncate(time.Microsecond),
	}
	entry.Hash = ComputeHash(entry)
	entry.Signature = c.signer.Sign([]byte(entry.Hash))

	if err := tx.Audit().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	c.logger.DebugContext(ctx, "Audit entry appended",
		slog.String("user_id", entry.UserID),
		slog.String("event_type", string(entry.EventType)),
		slog.Int64("sequence", entry.Sequence))
	return entry, nil
}

// ComputeHash derives an entry's hash from its content and its link to the
// previous entry. The stored hash and signature are not inputs.
func ComputeHash(e *domain.AuditEntry) string {
	previous := ""
	if e.PreviousHash != nil {
		previous = *e.PreviousHash
	}
	return crypto.Digest(
		e.UserID,
		string(e.EventType),
		string(e.Payload),
		money(e.Amount),
		money(e.BalanceBefore),
		money(e.BalanceAfter),
		previous,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
}

func money(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

type Verification struct {
	UserID  string                 `json:"user_id"`
	Valid   bool                   `json:"valid"`
	Checked int                    `json:"checked"`
	Breaks  []apperrors.ChainBreak `json:"breaks,omitempty"`
}

// Err returns a ChainIntegrityError when any break was found.
func (v *Verification) Err() error {
	if v.Valid {
		return nil
	}
	return &apperrors.ChainIntegrityError{UserID: v.UserID, Breaks: v.Breaks}
}

// VerifyChain replays the user's entries in order. An entry whose previous
// hash does not match its predecessor is a link break; an entry whose hash
// or signature no longer matches its content is a content break.
func (c *Chain) VerifyChain(ctx context.Context, userID string) (*Verification, error) {
	entries, err := c.store.Audit().ListByUser(ctx, userID, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	result := &Verification{UserID: userID, Checked: len(entries)}
	var previous *string
	for _, entry := range entries {
		if kind, broken := c.check(entry, previous); broken {
			result.Breaks = append(result.Breaks, apperrors.ChainBreak{
				EntryID:  entry.ID,
				Sequence: entry.Sequence,
				Kind:     kind,
			})
		}
		h := entry.Hash
		previous = &h
	}
	result.Valid = len(result.Breaks) == 0

	if !result.Valid {
		c.logger.WarnContext(ctx, "Audit chain integrity failure",
			slog.String("user_id", userID),
			slog.Int("breaks", len(result.Breaks)),
			slog.Int64("first_sequence", result.Breaks[0].Sequence))
	}
	return result, nil
}

func (c *Chain) check(entry *domain.AuditEntry, expectedPrevious *string) (apperrors.ChainBreakKind, bool) {
	switch {
	case expectedPrevious == nil && entry.PreviousHash != nil,
		expectedPrevious != nil && (entry.PreviousHash == nil || *entry.PreviousHash != *expectedPrevious):
		return apperrors.BreakLink, true
	case ComputeHash(entry) != entry.Hash,
		c.signer.Sign([]byte(entry.Hash)) != entry.Signature:
		return apperrors.BreakContent, true
	}
	return "", false
}

// ExportRecord is the flattened form of an entry handed to auditors.
type ExportRecord struct {
	Sequence      int64           `json:"sequence"`
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Amount        string          `json:"amount,omitempty"`
	BalanceBefore string          `json:"balance_before,omitempty"`
	BalanceAfter  string          `json:"balance_after,omitempty"`
	Hash          string          `json:"hash"`
	PreviousHash  string          `json:"previous_hash,omitempty"`
	Signature     string          `json:"signature"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Export is a date-bounded slice of a chain. AnchorHash is the previous hash
// of the first record, which lets the range be checked without the entries
// before it.
type Export struct {
	UserID     string         `json:"user_id"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	AnchorHash string         `json:"anchor_hash,omitempty"`
	Linked     bool           `json:"linked"`
	Records    []ExportRecord `json:"records"`
}

func (c *Chain) ExportChain(ctx context.Context, userID string, from, to time.Time) (*Export, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, apperrors.NewValidationError("to", "end of range is before its start")
	}

	entries, err := c.store.Audit().ListByUser(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	export := &Export{
		UserID:  userID,
		From:    from,
		To:      to,
		Linked:  true,
		Records: make([]ExportRecord, 0, len(entries)),
	}
	for i, entry := range entries {
		record := ExportRecord{
			Sequence:      entry.Sequence,
			ID:            entry.ID,
			EventType:     string(entry.EventType),
			Payload:       entry.Payload,
			Amount:        money(entry.Amount),
			BalanceBefore: money(entry.BalanceBefore),
			BalanceAfter:  money(entry.BalanceAfter),
			Hash:          entry.Hash,
			Signature:     entry.Signature,
			CreatedAt:     entry.CreatedAt,
		}
		if entry.PreviousHash != nil {
			record.PreviousHash = *entry.PreviousHash
		}
		if i == 0 {
			export.AnchorHash = record.PreviousHash
		} else if record.PreviousHash != export.Records[i-1].Hash {
			export.Linked = false
		}
		export.Records = append(export.Records, record)
	}
	return export, nil
}
