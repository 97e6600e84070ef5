package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type WebhookEventType string

const (
	WebhookReceived      WebhookEventType = "received"
	WebhookSentConfirmed WebhookEventType = "sent-confirmed"
	WebhookFailed        WebhookEventType = "failed"
	WebhookRefunded      WebhookEventType = "refunded"
)

func (t WebhookEventType) Valid() bool {
	switch t {
	case WebhookReceived, WebhookSentConfirmed, WebhookFailed, WebhookRefunded:
		return true
	}
	return false
}

type WebhookOutcome string

const (
	OutcomePending WebhookOutcome = "pending"
	OutcomeApplied WebhookOutcome = "applied"
	OutcomeNoop    WebhookOutcome = "noop"
	OutcomeFailed  WebhookOutcome = "failed"
)

// SettlementEvent is the payload delivered by the payment network.
type SettlementEvent struct {
	EventType           WebhookEventType `json:"event_type"`
	ExternalReferenceID string           `json:"external_reference_id"`
	Amount              decimal.Decimal  `json:"amount"`
	Status              string           `json:"status"`
	Reason              string           `json:"reason,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

// WebhookEvent is the persisted record of one delivery.
type WebhookEvent struct {
	ID                  string           `json:"id"`
	EventType           WebhookEventType `json:"event_type"`
	ExternalReferenceID string           `json:"external_reference_id"`
	RawPayload          json.RawMessage  `json:"raw_payload"`
	Outcome             WebhookOutcome   `json:"outcome"`
	Attempts            int              `json:"attempts"`
	LastError           string           `json:"last_error,omitempty"`
	ReceivedAt          time.Time        `json:"received_at"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
}
