package audit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
	"pix_processor/internal/repository/memory"
	"pix_processor/pkg/crypto"
)

func newChain(t *testing.T) (*Chain, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	current := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		current = current.Add(time.Minute)
		return current
	}
	return NewChain(store, crypto.NewSigner("audit-secret", nil), nil, WithClock(clock)), store
}

func appendN(t *testing.T, c *Chain, userID string, n int) []*domain.AuditEntry {
	t.Helper()
	balance := decimal.NewFromInt(1000)
	var entries []*domain.AuditEntry
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(10 * (i + 1)))
		after := balance.Sub(amount)
		entry, err := c.Append(context.Background(), Event{
			UserID:        userID,
			Type:          domain.AuditTransferDebit,
			Payload:       map[string]any{"transfer_id": i},
			Amount:        &amount,
			BalanceBefore: &balance,
			BalanceAfter:  &after,
		})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		entries = append(entries, entry)
		balance = after
	}
	return entries
}

func TestChain_AppendLinksEntries(t *testing.T) {
	chain, _ := newChain(t)

	entries := appendN(t, chain, "u1", 3)

	if entries[0].PreviousHash != nil {
		t.Error("expected first entry to have no previous hash")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash == nil || *entries[i].PreviousHash != entries[i-1].Hash {
			t.Errorf("entry %d is not linked to its predecessor", i)
		}
	}
	if entries[2].Sequence != 3 {
		t.Errorf("expected sequence 3, got %d", entries[2].Sequence)
	}
}

func TestChain_ChainsAreIndependentPerUser(t *testing.T) {
	chain, _ := newChain(t)
	appendN(t, chain, "u1", 2)

	other := appendN(t, chain, "u2", 1)

	if other[0].PreviousHash != nil {
		t.Error("expected a new user's chain to start without a previous hash")
	}
}

func TestChain_VerifyUntouchedChain(t *testing.T) {
	chain, _ := newChain(t)
	appendN(t, chain, "u1", 4)

	result, err := chain.VerifyChain(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Valid || result.Checked != 4 || len(result.Breaks) != 0 {
		t.Errorf("expected valid chain of 4, got %+v", result)
	}
	if result.Err() != nil {
		t.Errorf("expected no integrity error, got %v", result.Err())
	}
}

func TestChain_VerifyReportsAlteredLink(t *testing.T) {
	chain, store := newChain(t)
	appendN(t, chain, "u1", 4)

	store.Tamper("u1", 3, func(e *domain.AuditEntry) {
		forged := "deadbeef"
		e.PreviousHash = &forged
	})

	result, err := chain.VerifyChain(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Valid || len(result.Breaks) == 0 {
		t.Fatalf("expected a break, got %+v", result)
	}
	first := result.Breaks[0]
	if first.Sequence != 3 || first.Kind != apperrors.BreakLink {
		t.Errorf("expected link break at sequence 3, got %+v", first)
	}
	if !apperrors.IsChainIntegrity(result.Err()) {
		t.Errorf("expected ChainIntegrityError, got %v", result.Err())
	}
}

func TestChain_VerifyReportsContentTamper(t *testing.T) {
	chain, store := newChain(t)
	appendN(t, chain, "u1", 3)

	store.Tamper("u1", 2, func(e *domain.AuditEntry) {
		inflated := decimal.NewFromInt(999999)
		e.BalanceAfter = &inflated
	})

	result, _ := chain.VerifyChain(context.Background(), "u1")

	if len(result.Breaks) != 1 {
		t.Fatalf("expected exactly one break, got %+v", result.Breaks)
	}
	if result.Breaks[0].Sequence != 2 || result.Breaks[0].Kind != apperrors.BreakContent {
		t.Errorf("expected content break at sequence 2, got %+v", result.Breaks[0])
	}
}

func TestChain_VerifyRejectsForeignSignature(t *testing.T) {
	chain, store := newChain(t)
	appendN(t, chain, "u1", 2)

	forger := NewChain(store, crypto.NewSigner("other-secret", nil), nil)
	result, _ := forger.VerifyChain(context.Background(), "u1")

	if result.Valid {
		t.Error("expected signatures from another key to be rejected")
	}
}

func TestChain_ExportRange(t *testing.T) {
	chain, _ := newChain(t)
	entries := appendN(t, chain, "u1", 5)

	export, err := chain.ExportChain(context.Background(), "u1", entries[1].CreatedAt, entries[3].CreatedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(export.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(export.Records))
	}
	if export.AnchorHash != entries[0].Hash {
		t.Errorf("expected anchor to be the hash before the range")
	}
	if !export.Linked {
		t.Error("expected exported records to be linked")
	}
	if export.Records[0].Amount != "20.00" {
		t.Errorf("expected flattened amount 20.00, got %s", export.Records[0].Amount)
	}

	if _, err := chain.ExportChain(context.Background(), "u1", entries[3].CreatedAt, entries[1].CreatedAt); !apperrors.IsValidationError(err) {
		t.Errorf("expected validation error for inverted range, got %v", err)
	}
}
