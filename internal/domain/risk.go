package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Decision string

const (
	DecisionAllow            Decision = "ALLOW"
	DecisionRequireExtraAuth Decision = "REQUIRE_EXTRA_AUTH"
	DecisionDeny             Decision = "DENY"
)

const (
	MaxRiskScore          = 100
	AlertScoreThreshold   = 40
	ExtraAuthThreshold    = 60
	BlockScoreThreshold   = 90
	criticalSeverityFloor = 80
)

func SeverityFor(score int) Severity {
	switch {
	case score >= criticalSeverityFloor:
		return SeverityCritical
	case score >= ExtraAuthThreshold:
		return SeverityHigh
	case score >= AlertScoreThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func DecisionFor(score int) Decision {
	switch {
	case score >= BlockScoreThreshold:
		return DecisionDeny
	case score >= ExtraAuthThreshold:
		return DecisionRequireExtraAuth
	default:
		return DecisionAllow
	}
}

type RiskProfile struct {
	UserID                   string          `json:"user_id"`
	Score                    int             `json:"score"`
	AverageTransactionAmount decimal.Decimal `json:"average_transaction_amount"`
	TransferCount            int             `json:"transfer_count"`
	TypicalHours             [24]int         `json:"typical_hours"`
	FlagCount                int             `json:"flag_count"`
	IsBlocked                bool            `json:"is_blocked"`
	BlockedReason            string          `json:"blocked_reason,omitempty"`
	KnownDevices             []string        `json:"known_devices,omitempty"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

func NewRiskProfile(userID string, now time.Time) *RiskProfile {
	return &RiskProfile{
		UserID:                   userID,
		AverageTransactionAmount: decimal.Zero,
		UpdatedAt:                now,
	}
}

func (p *RiskProfile) KnowsDevice(fingerprint string) bool {
	for _, d := range p.KnownDevices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

type AlertStatus string

const (
	AlertOpen          AlertStatus = "OPEN"
	AlertInvestigating AlertStatus = "INVESTIGATING"
	AlertResolved      AlertStatus = "RESOLVED"
	AlertDismissed     AlertStatus = "DISMISSED"
)

func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertOpen:
		return next == AlertInvestigating || next == AlertResolved || next == AlertDismissed
	case AlertInvestigating:
		return next == AlertResolved || next == AlertDismissed
	}
	return false
}

type Alert struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	TransferID     string      `json:"transfer_id,omitempty"`
	Severity       Severity    `json:"severity"`
	Score          int         `json:"score"`
	TriggeredRules []string    `json:"triggered_rules"`
	Status         AlertStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
