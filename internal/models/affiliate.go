package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission statuses. Monotonic: pending -> approved -> paid, or
// pending -> rejected. Never regresses.
const (
	CommissionStatusPending  = "pending"
	CommissionStatusApproved = "approved"
	CommissionStatusPaid     = "paid"
	CommissionStatusRejected = "rejected"
)

// AffiliateCommission is the affiliate's earned share of a referred user's
// subscription. Created exactly once per subscription creation.
type AffiliateCommission struct {
	Id             string          `db:"id"`
	AffiliateId    string          `db:"affiliate_id"`
	ReferredUserId string          `db:"referred_user_id"`
	SubscriptionId string          `db:"subscription_id"`
	Amount         decimal.Decimal `db:"amount"`
	Rate           decimal.Decimal `db:"rate"`
	Status         string          `db:"status"`
	PayoutId       string          `db:"payout_id"`
	CreatedAt      time.Time       `db:"created_at"`
	PaidAt         *time.Time      `db:"paid_at"`
}

// AffiliatePayout is a batched settlement of approved commissions. Created
// atomically with the commissions' transition to paid.
type AffiliatePayout struct {
	Id          string          `db:"id"`
	AffiliateId string          `db:"affiliate_id"`
	Amount      decimal.Decimal `db:"amount"`
	Method      string          `db:"method"`
	ProcessedBy string          `db:"processed_by"`
	CreatedAt   time.Time       `db:"created_at"`

	CommissionIds []string `db:"-"`
}
