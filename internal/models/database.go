package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a user referenced by the ledger and commission components.
// Identity itself is owned externally; only the referring-affiliate link
// matters here.
type User struct {
	Id         string    `db:"id"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	Role       string    `db:"role"`
	ReferrerId string    `db:"referrer_id"` // affiliate who referred this user, empty if none
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Plan is a billing plan a subscription is created against.
type Plan struct {
	Id              string          `db:"id"`
	Name            string          `db:"name"`
	Price           decimal.Decimal `db:"price"`
	Currency        string          `db:"currency"`
	IntervalMonths  int             `db:"interval_months"`
	CommissionRate  decimal.Decimal `db:"commission_rate"`
}

// AccountBalance represents current balance state per (user, currency).
// The version column serializes concurrent writers.
type AccountBalance struct {
	Id                string          `db:"id"`
	UserId            string          `db:"user_id"`
	Currency          string          `db:"currency"`
	Balance           decimal.Decimal `db:"balance"`
	LastTransactionId string          `db:"last_transaction_id"`
	Version           int64           `db:"version"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// PrepaidTransaction is one immutable row of the append-only ledger.
// The balance invariant is balance(user, currency) == sum of Delta.
type PrepaidTransaction struct {
	Id               string          `db:"id"`
	UserId           string          `db:"user_id"`
	Currency         string          `db:"currency"`
	Delta            decimal.Decimal `db:"delta"`
	ResultingBalance decimal.Decimal `db:"resulting_balance"`
	Kind             string          `db:"kind"` // credit | debit
	ReferenceId      string          `db:"reference_id"`
	IdempotencyKey   string          `db:"idempotency_key"`
	CreatedAt        time.Time       `db:"created_at"`
}
