package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

const DefaultCurrency = "BRL"

type Account struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	OwnerName string          `json:"owner_name"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    AccountStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

type LedgerEntryKind string

const (
	LedgerDebit    LedgerEntryKind = "debit"
	LedgerCredit   LedgerEntryKind = "credit"
	LedgerReversal LedgerEntryKind = "reversal"
)

// LedgerEntry records a single balance movement. Entries belonging to one
// transfer are written in the same atomic group as the balance change.
type LedgerEntry struct {
	ID           string          `json:"id"`
	TransferID   string          `json:"transfer_id"`
	AccountID    string          `json:"account_id"`
	Kind         LedgerEntryKind `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}
