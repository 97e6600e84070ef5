package domain

import "time"

type KeyType string

const (
	KeyNationalID KeyType = "NATIONAL_ID"
	KeyBusinessID KeyType = "BUSINESS_ID"
	KeyEmail      KeyType = "EMAIL"
	KeyPhone      KeyType = "PHONE"
	KeyRandom     KeyType = "RANDOM"
)

func (t KeyType) Valid() bool {
	switch t {
	case KeyNationalID, KeyBusinessID, KeyEmail, KeyPhone, KeyRandom:
		return true
	}
	return false
}

type KeyState string

const (
	KeyStateActive   KeyState = "active"
	KeyStateInactive KeyState = "inactive"
)

// TransferKey is an alias that routes transfers to its owner's account.
// Inactive keys are kept for history and their value is never reassigned.
type TransferKey struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	OwnerAccountID string     `json:"owner_account_id"`
	Type           KeyType    `json:"type"`
	Value          string     `json:"value"`
	IsPrimary      bool       `json:"is_primary"`
	State          KeyState   `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`
}

func (k *TransferKey) IsActive() bool {
	return k.State == KeyStateActive
}

func (k *TransferKey) Deactivate(now time.Time) {
	k.State = KeyStateInactive
	k.IsPrimary = false
	k.DeactivatedAt = &now
}
