package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses. Transitions happen only in the webhook processor.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment kinds.
const (
	PaymentKindPrepaid      = "prepaid"
	PaymentKindSubscription = "subscription"
)

// Payment is created once per intake call, pending until the gateway
// confirms or fails it asynchronously.
type Payment struct {
	Id         string          `db:"id"`
	UserId     string          `db:"user_id"`
	Kind       string          `db:"kind"`
	Amount     decimal.Decimal `db:"amount"`
	Currency   string          `db:"currency"`
	Status     string          `db:"status"`
	Method     string          `db:"method"`
	GatewayRef string          `db:"gateway_ref"`
	PlanId     string          `db:"plan_id"`
	FailReason string          `db:"fail_reason"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// Subscription statuses.
const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusEnded    = "ended"
)

// Subscription mirrors the gateway's subscription object. After creation it
// is updated only by webhook events, never by direct user action.
type Subscription struct {
	Id                    string    `db:"id"`
	UserId                string    `db:"user_id"`
	PlanId                string    `db:"plan_id"`
	Status                string    `db:"status"`
	CurrentPeriodStart    time.Time `db:"current_period_start"`
	CurrentPeriodEnd      time.Time `db:"current_period_end"`
	GatewaySubscriptionId string    `db:"gateway_subscription_id"`
	RetryFlagged          bool      `db:"retry_flagged"`
	CancelRequested       bool      `db:"cancel_requested"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}
