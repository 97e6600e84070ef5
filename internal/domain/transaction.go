package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	StatusPending    TransferStatus = "PENDING"
	StatusProcessing TransferStatus = "PROCESSING"
	StatusCompleted  TransferStatus = "COMPLETED"
	StatusFailed     TransferStatus = "FAILED"
	StatusCancelled  TransferStatus = "CANCELLED"
	StatusRefunded   TransferStatus = "REFUNDED"
)

var transitions = map[TransferStatus][]TransferStatus{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
}

func (s TransferStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Transfer struct {
	ID                  string          `json:"id"`
	SenderAccountID     string          `json:"sender_account_id"`
	SenderUserID        string          `json:"sender_user_id"`
	SenderKeyID         string          `json:"sender_key_id"`
	ReceiverKeyID       string          `json:"receiver_key_id,omitempty"`
	ReceiverAccountID   string          `json:"receiver_account_id,omitempty"`
	ExternalReceiverKey string          `json:"external_receiver_key,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description,omitempty"`
	Status              TransferStatus  `json:"status"`
	ExternalReferenceID string          `json:"external_reference_id,omitempty"`
	ScheduledFor        *time.Time      `json:"scheduled_for,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	RiskScore           int             `json:"risk_score"`
	TriggeredRules      []string        `json:"triggered_rules,omitempty"`
	DeviceFingerprint   string          `json:"device_fingerprint,omitempty"`
	SenderDebited       bool            `json:"sender_debited"`
	ReceiverCredited    bool            `json:"receiver_credited"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

func NewTransfer(senderAccountID, senderUserID string, amount decimal.Decimal, now time.Time) *Transfer {
	return &Transfer{
		ID:              uuid.NewString(),
		SenderAccountID: senderAccountID,
		SenderUserID:    senderUserID,
		Amount:          amount,
		Status:          StatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (t *Transfer) IsInternal() bool {
	return t.ReceiverAccountID != ""
}

func (t *Transfer) IsScheduled() bool {
	return t.ScheduledFor != nil
}

// RecipientKey is the identity used for "new recipient" checks: the internal
// key id when the receiver is ours, the raw external key otherwise.
func (t *Transfer) RecipientKey() string {
	if t.ReceiverKeyID != "" {
		return t.ReceiverKeyID
	}
	return t.ExternalReceiverKey
}

func (t *Transfer) MarkFailed(reason string, now time.Time) {
	t.Status = StatusFailed
	t.FailureReason = reason
	t.UpdatedAt = now
}

func (t *Transfer) MarkCompleted(now time.Time) {
	t.Status = StatusCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
}
