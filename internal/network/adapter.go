// Package network is the boundary to the external instant-payment network:
// synchronous settlement, directory lookups for keys held at other banks,
// and the simulator used in development and tests.
package network

import (
	"context"

	"github.com/shopspring/decimal"
)

type SettlementRequest struct {
	SenderKey      string          `json:"sender_key"`
	ReceiverKey    string          `json:"receiver_key"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// SettlementResult reports the network's answer. Pending means the network
// accepted the order and will confirm or reject it through a webhook.
type SettlementResult struct {
	Success             bool   `json:"success"`
	Pending             bool   `json:"pending"`
	ExternalReferenceID string `json:"external_reference_id"`
	FailureReason       string `json:"failure_reason,omitempty"`
}

type Adapter interface {
	ExecuteTransfer(ctx context.Context, req SettlementRequest) (SettlementResult, error)
}

type LookupResult struct {
	Found     bool   `json:"found"`
	OwnerName string `json:"owner_name"`
	BankName  string `json:"bank_name"`
}

type KeyLookup interface {
	Lookup(ctx context.Context, keyValue string) (LookupResult, error)
}
