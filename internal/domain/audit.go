package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type AuditEventType string

const (
	AuditTransferDebit     AuditEventType = "TRANSFER_DEBIT"
	AuditTransferCredit    AuditEventType = "TRANSFER_CREDIT"
	AuditTransferRefund    AuditEventType = "TRANSFER_REFUND"
	AuditTransferReversal  AuditEventType = "TRANSFER_REVERSAL"
	AuditSettlementConfirm AuditEventType = "SETTLEMENT_CONFIRMED"
)

// AuditEntry is one link of a per-user hash chain. Entries are append-only.
type AuditEntry struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	EventType     AuditEventType   `json:"event_type"`
	Payload       json.RawMessage  `json:"payload"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	BalanceBefore *decimal.Decimal `json:"balance_before,omitempty"`
	BalanceAfter  *decimal.Decimal `json:"balance_after,omitempty"`
	Hash          string           `json:"hash"`
	PreviousHash  *string          `json:"previous_hash"`
	Signature     string           `json:"signature"`
	Sequence      int64            `json:"sequence"`
	CreatedAt     time.Time        `json:"created_at"`
}
