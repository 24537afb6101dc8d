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

package api

import (
	"context"
	"fmt"
	"time"

	"billing-ledger-go/internal/commission"
	"billing-ledger-go/internal/gateway"
	"billing-ledger-go/internal/metrics"
	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/recon"
	"billing-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the application surface behind the HTTP handlers and CLIs.
// Payment intake always persists a pending row before touching the gateway
// so a crash mid-call leaves a record reconciliation can find.
type Service struct {
	store       store.Store
	gateway     gateway.Client
	commissions *commission.Engine
	recon       *recon.Engine
	billing     *models.BillingConfig
}

func NewService(st store.Store, client gateway.Client, commissions *commission.Engine, reconEngine *recon.Engine, billing *models.BillingConfig) *Service {
	if billing == nil {
		billing = &models.BillingConfig{}
	}
	return &Service{
		store:       st,
		gateway:     client,
		commissions: commissions,
		recon:       reconEngine,
		billing:     billing,
	}
}

// PrepaidPaymentParams starts a prepaid top-up.
type PrepaidPaymentParams struct {
	UserId   string
	Amount   decimal.Decimal
	Currency string
	Method   string
}

// SubscriptionPaymentParams starts a subscription for a plan.
type SubscriptionPaymentParams struct {
	UserId string
	PlanId string
	Method string
}

// PaymentIntentResult pairs the internal payment row with the gateway's
// client-facing intent.
type PaymentIntentResult struct {
	Payment *models.Payment
	Intent  *models.PaymentIntent
}

func (s *Service) validateIntake(ctx context.Context, userId string, amount decimal.Decimal, currency string) error {
	if userId == "" {
		return fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", store.ErrValidation, amount.String())
	}
	if !s.billing.SupportsCurrency(currency) {
		return fmt.Errorf("%w: unsupported currency %q", store.ErrValidation, currency)
	}
	if _, err := s.store.GetUserById(ctx, userId); err != nil {
		return err
	}
	return nil
}

// CreatePrepaidPayment validates the request, writes the pending payment,
// then asks the gateway for an intent. The gateway reference is attached
// once known; credit happens only when the success event arrives.
func (s *Service) CreatePrepaidPayment(ctx context.Context, params PrepaidPaymentParams) (*PaymentIntentResult, error) {
	if err := s.validateIntake(ctx, params.UserId, params.Amount, params.Currency); err != nil {
		return nil, err
	}

	payment, err := s.store.CreatePayment(ctx, store.CreatePaymentParams{
		UserId:   params.UserId,
		Kind:     models.PaymentKindPrepaid,
		Amount:   params.Amount,
		Currency: params.Currency,
		Method:   params.Method,
	})
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.IntentParams{
		Amount:         params.Amount,
		Currency:       params.Currency,
		Method:         params.Method,
		ReferenceId:    payment.Id,
		IdempotencyKey: "pay:" + payment.Id,
	})
	if err != nil {
		zap.L().Error("Gateway intent creation failed, payment left pending",
			zap.String("payment_id", payment.Id), zap.Error(err))
		return nil, err
	}

	if err := s.store.SetPaymentGatewayRef(ctx, payment.Id, intent.Id); err != nil {
		return nil, err
	}
	payment.GatewayRef = intent.Id

	zap.L().Info("Prepaid payment initiated",
		zap.String("payment_id", payment.Id),
		zap.String("user_id", params.UserId),
		zap.String("amount", params.Amount.String()))
	return &PaymentIntentResult{Payment: payment, Intent: intent}, nil
}

// SubscriptionResult is the full outcome of a subscription intake:
// the pending payment, the local subscription row and the referrer's
// commission when one applies.
type SubscriptionResult struct {
	Payment      *models.Payment
	Subscription *models.Subscription
	Commission   *models.AffiliateCommission
}

// CreateSubscriptionPayment creates the gateway subscription and mirrors it
// locally, then creates the referrer's pending commission. The first
// invoice arrives as a webhook event like any other payment.
func (s *Service) CreateSubscriptionPayment(ctx context.Context, params SubscriptionPaymentParams) (*SubscriptionResult, error) {
	plan, err := s.store.GetPlanById(ctx, params.PlanId)
	if err != nil {
		return nil, err
	}
	if err := s.validateIntake(ctx, params.UserId, plan.Price, plan.Currency); err != nil {
		return nil, err
	}

	payment, err := s.store.CreatePayment(ctx, store.CreatePaymentParams{
		UserId:   params.UserId,
		Kind:     models.PaymentKindSubscription,
		Amount:   plan.Price,
		Currency: plan.Currency,
		Method:   params.Method,
		PlanId:   plan.Id,
	})
	if err != nil {
		return nil, err
	}

	gwSub, err := s.gateway.CreateSubscription(ctx, gateway.SubscribeParams{
		UserRef:        params.UserId,
		PlanRef:        plan.Id,
		Method:         params.Method,
		IdempotencyKey: "sub:" + payment.Id,
	})
	if err != nil {
		zap.L().Error("Gateway subscription creation failed, payment left pending",
			zap.String("payment_id", payment.Id), zap.Error(err))
		return nil, err
	}

	if gwSub.FirstPaymentRef != "" {
		if err := s.store.SetPaymentGatewayRef(ctx, payment.Id, gwSub.FirstPaymentRef); err != nil {
			return nil, err
		}
		payment.GatewayRef = gwSub.FirstPaymentRef
	}

	sub, err := s.store.CreateSubscription(ctx, models.Subscription{
		UserId:                params.UserId,
		PlanId:                plan.Id,
		Status:                gwSub.Status,
		CurrentPeriodStart:    gwSub.PeriodStart,
		CurrentPeriodEnd:      gwSub.PeriodEnd,
		GatewaySubscriptionId: gwSub.Id,
	})
	if err != nil {
		return nil, err
	}

	comm, err := s.commissions.OnSubscriptionCreated(ctx, sub)
	if err != nil {
		zap.L().Error("Commission creation failed",
			zap.String("subscription_id", sub.Id), zap.Error(err))
	}

	zap.L().Info("Subscription created",
		zap.String("subscription_id", sub.Id),
		zap.String("user_id", params.UserId),
		zap.String("plan_id", plan.Id))
	return &SubscriptionResult{Payment: payment, Subscription: sub, Commission: comm}, nil
}

// ConfirmPrepaidPayment manually replays the gateway confirmation for a
// pending prepaid payment, for when the success event was never delivered.
// The credit is keyed by payment id, so a late delivery of the real event
// cannot credit twice.
func (s *Service) ConfirmPrepaidPayment(ctx context.Context, paymentId, adminId string) (*models.PrepaidTransaction, error) {
	payment, err := s.store.GetPaymentById(ctx, paymentId)
	if err != nil {
		return nil, err
	}
	if payment.Kind != models.PaymentKindPrepaid {
		return nil, fmt.Errorf("%w: payment %s is not a prepaid payment", store.ErrValidation, paymentId)
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: payment %s is already %s", store.ErrValidation, paymentId, payment.Status)
	}
	if payment.GatewayRef == "" {
		return nil, fmt.Errorf("%w: payment %s has no gateway reference", store.ErrValidation, paymentId)
	}

	gwPayment, err := s.gateway.GetPayment(ctx, payment.GatewayRef)
	if err != nil {
		return nil, err
	}
	if gwPayment.Status != "succeeded" {
		return nil, fmt.Errorf("%w: gateway reports %q for payment %s", store.ErrValidation, gwPayment.Status, paymentId)
	}

	status, notes := s.recon.ClassifyAmounts(payment.Amount, gwPayment.Amount)
	tx, err := s.store.ApplyPrepaidPaymentSucceeded(ctx, store.PrepaidSucceededParams{
		EventId:        "confirm:" + payment.Id,
		PaymentId:      payment.Id,
		GatewayAmount:  gwPayment.Amount,
		BonusAmount:    s.billing.BonusFor(payment.Amount),
		IdempotencyKey: "pay-credit:" + payment.Id,
		ReconStatus:    status,
		ReconNotes:     notes,
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerEntriesTotal.WithLabelValues("credit").Inc()

	if adminId != "" {
		if err := s.store.AppendAuditEntry(ctx, store.AuditEntryParams{
			ActorId:    adminId,
			Action:     "payment_confirmed",
			EntityKind: "payment",
			EntityId:   payment.Id,
			Detail:     "manual replay of gateway confirmation",
		}); err != nil {
			zap.L().Warn("Audit entry failed for confirmation", zap.String("payment_id", payment.Id), zap.Error(err))
		}
	}

	zap.L().Info("Prepaid payment manually confirmed",
		zap.String("payment_id", payment.Id),
		zap.String("admin_id", adminId),
		zap.String("new_balance", tx.ResultingBalance.String()))
	return tx, nil
}

// CancelSubscription requests cancellation at the gateway. The local row
// flips to canceled only when the gateway's event confirms it.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionId string) error {
	sub, err := s.store.GetSubscriptionById(ctx, subscriptionId)
	if err != nil {
		return err
	}
	if sub.Status == models.SubscriptionStatusCanceled || sub.Status == models.SubscriptionStatusEnded {
		return fmt.Errorf("%w: subscription %s is already %s", store.ErrValidation, subscriptionId, sub.Status)
	}
	if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionId); err != nil {
		return err
	}
	return s.store.MarkSubscriptionCancelRequested(ctx, subscriptionId)
}

// GetBalance returns the user's balance in one currency, zero if the user
// has never transacted in it.
func (s *Service) GetBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error) {
	if _, err := s.store.GetUserById(ctx, userId); err != nil {
		return decimal.Zero, err
	}
	return s.store.GetBalance(ctx, userId, currency)
}

// GetAllBalances returns every currency balance the user holds.
func (s *Service) GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	if _, err := s.store.GetUserById(ctx, userId); err != nil {
		return nil, err
	}
	return s.store.GetAllBalances(ctx, userId)
}

// ListTransactions pages through a user's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userId, currency string, limit, offset int) ([]models.PrepaidTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.GetTransactionHistory(ctx, userId, currency, limit, offset)
}

// DebitParams is an operator-initiated balance debit (service consumption,
// manual correction).
type DebitParams struct {
	UserId        string
	Currency      string
	Amount        decimal.Decimal
	ReferenceId   string
	AdminId       string
	AllowNegative bool
	Reason        string
}

// DebitBalance appends a debit entry. Without AllowNegative the debit fails
// when it would overdraw the balance. Admin-initiated debits are audited.
func (s *Service) DebitBalance(ctx context.Context, params DebitParams) (*models.PrepaidTransaction, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: debit amount must be positive, got %s", store.ErrValidation, params.Amount.String())
	}
	key := params.ReferenceId
	if key == "" {
		key = "debit:" + uuid.New().String()
	}

	tx, err := s.store.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
		UserId:         params.UserId,
		Currency:       params.Currency,
		Delta:          params.Amount.Neg(),
		Kind:           "debit",
		ReferenceId:    params.ReferenceId,
		IdempotencyKey: key,
		AllowNegative:  params.AllowNegative,
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerEntriesTotal.WithLabelValues("debit").Inc()

	if params.AdminId != "" {
		if err := s.store.AppendAuditEntry(ctx, store.AuditEntryParams{
			ActorId:    params.AdminId,
			Action:     "balance_debited",
			EntityKind: "prepaid_transaction",
			EntityId:   tx.Id,
			Detail:     params.Reason,
		}); err != nil {
			zap.L().Warn("Audit entry failed for debit", zap.String("transaction_id", tx.Id), zap.Error(err))
		}
	}
	return tx, nil
}

// RunReconciliation runs a batch reconciliation over the window ending now.
func (s *Service) RunReconciliation(ctx context.Context, window time.Duration) (*models.BatchReconcileSummary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	to := time.Now().UTC()
	return s.recon.BatchReconcile(ctx, to.Add(-window), to)
}

// ReconcilePayment reconciles a single payment on demand.
func (s *Service) ReconcilePayment(ctx context.Context, paymentId string) (*models.ReconciliationRecord, error) {
	return s.recon.ReconcilePayment(ctx, paymentId)
}

// ListDiscrepancies pages through open discrepancies.
func (s *Service) ListDiscrepancies(ctx context.Context, limit, offset int) ([]models.ReconciliationRecord, error) {
	return s.recon.ListDiscrepancies(ctx, limit, offset)
}

// ResolveDiscrepancy closes a discrepancy with the admin's explanation.
func (s *Service) ResolveDiscrepancy(ctx context.Context, recordId, resolution, notes, adminId string) (*models.ReconciliationRecord, error) {
	return s.recon.ResolveDiscrepancy(ctx, recordId, resolution, notes, adminId)
}

// ListCommissions returns an affiliate's commissions.
func (s *Service) ListCommissions(ctx context.Context, affiliateId, status string) ([]models.AffiliateCommission, error) {
	return s.commissions.ListForAffiliate(ctx, affiliateId, status)
}

// ProcessPayout settles approved commissions into one payout.
func (s *Service) ProcessPayout(ctx context.Context, params store.PayoutParams) (*models.AffiliatePayout, error) {
	return s.commissions.Payout(ctx, params)
}

// GetPayment returns one payment row.
func (s *Service) GetPayment(ctx context.Context, paymentId string) (*models.Payment, error) {
	return s.store.GetPaymentById(ctx, paymentId)
}
