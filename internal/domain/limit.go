package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LimitConstraint string

const (
	ConstraintPerTransaction LimitConstraint = "per_transaction"
	ConstraintDaily          LimitConstraint = "daily"
	ConstraintNightly        LimitConstraint = "nightly"
	ConstraintMonthly        LimitConstraint = "monthly"
)

type LimitWindow struct {
	UserID              string          `json:"user_id"`
	DailyLimit          decimal.Decimal `json:"daily_limit"`
	NightlyLimit        decimal.Decimal `json:"nightly_limit"`
	PerTransactionLimit decimal.Decimal `json:"per_transaction_limit"`
	MonthlyLimit        decimal.Decimal `json:"monthly_limit"`
	UsedToday           decimal.Decimal `json:"used_today"`
	UsedThisMonth       decimal.Decimal `json:"used_this_month"`
	LastResetAt         time.Time       `json:"last_reset_at"`
}
