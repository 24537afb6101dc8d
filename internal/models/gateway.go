package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentIntent is the gateway's client-facing handle for a payment attempt.
// The ClientSecret is handed back to the caller to complete confirmation.
type PaymentIntent struct {
	Id           string
	ClientSecret string
	Status       string
	Amount       decimal.Decimal
	Currency     string
}

// GatewayPayment is the gateway's own record of a payment, fetched during
// reconciliation. Fee may be zero when the gateway does not report one.
type GatewayPayment struct {
	Ref       string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Currency  string
	Status    string
	CreatedAt time.Time
}

// GatewaySubscription is the gateway's record of a subscription.
// FirstPaymentRef identifies the first invoice's payment so intake can link
// it to the pending payment row before the success event arrives.
type GatewaySubscription struct {
	Id              string
	Status          string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	PlanRef         string
	FirstPaymentRef string
}
