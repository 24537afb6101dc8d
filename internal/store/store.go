/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import (
	"context"
	"errors"
	"time"

	"billing-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all components. Callers branch with errors.Is.
var (
	// ErrValidation covers rejected input: bad amounts, unsupported
	// currencies, payouts over non-approved commissions, missing notes.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned by debits that would take a balance
	// negative without an admin override.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateEvent marks a webhook event id that was already applied.
	// Treated as a successful no-op by the processor.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrDuplicateTransaction marks a ledger idempotency-key replay.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrSignatureVerification is returned for webhook payloads whose
	// signature does not match. No state change, no retry.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrGateway wraps upstream gateway failures. Retryable.
	ErrGateway = errors.New("gateway error")

	// ErrDiscrepancy marks a reconciliation mismatch awaiting manual
	// resolution.
	ErrDiscrepancy = errors.New("reconciliation discrepancy")

	// ErrConcurrentModification signals an optimistic-lock conflict on a
	// balance row. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// LedgerEntryParams describes one balance-affecting entry. Delta is signed:
// positive for credits, negative for debits.
type LedgerEntryParams struct {
	UserId         string
	Currency       string
	Delta          decimal.Decimal
	Kind           string // "credit" or "debit"
	ReferenceId    string
	IdempotencyKey string
	AllowNegative  bool // admin override for debits
}

// CreatePaymentParams describes a new pending payment row written by intake
// before the gateway is called.
type CreatePaymentParams struct {
	UserId     string
	Kind       string // "prepaid" or "subscription"
	Amount     decimal.Decimal
	Currency   string
	Method     string
	GatewayRef string
	PlanId     string
}

// PrepaidSucceededParams carries everything the payment_succeeded (prepaid)
// handler applies in one transaction: payment status, ledger credit with
// bonus, and the initial reconciliation record.
type PrepaidSucceededParams struct {
	EventId        string
	PaymentId      string
	GatewayAmount  decimal.Decimal
	BonusAmount    decimal.Decimal
	IdempotencyKey string
	// ReconStatus is the initial classification ("matched" or
	// "discrepancy") computed by the processor from the event's reported
	// amount; batch reconciliation revisits anything not matched.
	ReconStatus string
	ReconNotes  string
}

// InvoicePaidParams carries the payment_succeeded (subscription invoice)
// handler inputs: the payment to mark succeeded and the subscription whose
// pending commission (if any) is approved.
type InvoicePaidParams struct {
	EventId               string
	PaymentId             string
	GatewaySubscriptionId string
	PeriodStart           time.Time
	PeriodEnd             time.Time
}

// SubscriptionStateParams applies a subscription_updated/deleted event.
// Stale events (older period start than what is stored) must be ignored.
type SubscriptionStateParams struct {
	EventId               string
	GatewaySubscriptionId string
	Status                string
	PeriodStart           time.Time
	PeriodEnd             time.Time
}

// PayoutParams settles a set of approved commissions into one payout row.
type PayoutParams struct {
	AffiliateId   string
	CommissionIds []string
	Method        string
	ProcessedBy   string
}

// ReconcileUpsertParams persists the outcome of one gateway comparison.
type ReconcileUpsertParams struct {
	PaymentId      string
	GatewayAmount  decimal.Decimal
	InternalAmount decimal.Decimal
	Status         string // "matched" or "discrepancy"
	Notes          string
}

// AuditEntryParams records one append-only audit entry.
type AuditEntryParams struct {
	ActorId    string
	Action     string
	EntityKind string
	EntityId   string
	Detail     string
}

// Store defines the persistence contract the engines are written against.
type Store interface {
	// --- Users & plans ---
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, userId, name, email, referrerId string) (*models.User, error)
	GetPlanById(ctx context.Context, planId string) (*models.Plan, error)
	UpsertPlan(ctx context.Context, plan models.Plan) error

	// --- Ledger ---
	ApplyLedgerEntry(ctx context.Context, params LedgerEntryParams) (*models.PrepaidTransaction, error)
	GetBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error)
	GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error)
	GetTransactionHistory(ctx context.Context, userId, currency string, limit, offset int) ([]models.PrepaidTransaction, error)

	// --- Payments ---
	CreatePayment(ctx context.Context, params CreatePaymentParams) (*models.Payment, error)
	SetPaymentGatewayRef(ctx context.Context, paymentId, gatewayRef string) error
	GetPaymentById(ctx context.Context, paymentId string) (*models.Payment, error)
	GetPaymentByGatewayRef(ctx context.Context, gatewayRef string) (*models.Payment, error)
	ListSucceededPaymentsWithoutMatch(ctx context.Context, from, to time.Time) ([]models.Payment, error)
	CountStalePendingPayments(ctx context.Context, olderThan time.Time) (int, error)

	// --- Subscriptions ---
	CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error)
	GetSubscriptionById(ctx context.Context, subscriptionId string) (*models.Subscription, error)
	GetSubscriptionByGatewayId(ctx context.Context, gatewaySubscriptionId string) (*models.Subscription, error)
	MarkSubscriptionCancelRequested(ctx context.Context, subscriptionId string) error

	// --- Webhook event handlers (one SQL transaction each) ---
	ApplyPrepaidPaymentSucceeded(ctx context.Context, params PrepaidSucceededParams) (*models.PrepaidTransaction, error)
	ApplyInvoicePaid(ctx context.Context, params InvoicePaidParams) error
	ApplyPaymentFailed(ctx context.Context, eventId, paymentId, reason string) error
	ApplySubscriptionState(ctx context.Context, params SubscriptionStateParams) error
	ApplyInvoicePaymentFailed(ctx context.Context, eventId, gatewaySubscriptionId string) error
	IsEventProcessed(ctx context.Context, eventId string) (bool, error)

	// --- Commissions & payouts ---
	CreateCommission(ctx context.Context, commission models.AffiliateCommission) (*models.AffiliateCommission, error)
	GetCommissionsByIds(ctx context.Context, commissionIds []string) ([]models.AffiliateCommission, error)
	ListCommissionsByAffiliate(ctx context.Context, affiliateId, status string) ([]models.AffiliateCommission, error)
	SettlePayout(ctx context.Context, params PayoutParams, total decimal.Decimal) (*models.AffiliatePayout, error)

	// --- Reconciliation ---
	UpsertReconciliationRecord(ctx context.Context, params ReconcileUpsertParams) (*models.ReconciliationRecord, error)
	GetReconciliationRecord(ctx context.Context, recordId string) (*models.ReconciliationRecord, error)
	ListDiscrepancies(ctx context.Context, limit, offset int) ([]models.ReconciliationRecord, error)
	ResolveDiscrepancy(ctx context.Context, recordId, resolution, notes, adminId string) (*models.ReconciliationRecord, error)

	// --- Audit ---
	AppendAuditEntry(ctx context.Context, params AuditEntryParams) error

	// --- Lifecycle ---
	HealthCheck(ctx context.Context) error
	Close()
}
