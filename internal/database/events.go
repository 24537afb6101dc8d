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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Each Apply* method below is one webhook event handler: the processed-event
// registry row and every effect commit in a single SQL transaction, so an
// event is either fully applied or not at all. A repeated event id surfaces
// ErrDuplicateEvent before any effect.

// IsEventProcessed reports whether the event id is already on file. The
// processor uses it as a cheap pre-check; the authoritative guard is the
// registry insert inside each handler's transaction.
func (s *Service) IsEventProcessed(ctx context.Context, eventId string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, queryCheckEventProcessed, eventId).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event registry: %w", err)
	}
	return true, nil
}

// registerEventTx inserts the event into the processed registry, failing
// with ErrDuplicateEvent when the id is already present.
func (s *Service) registerEventTx(ctx context.Context, tx *sql.Tx, eventId, eventType string) error {
	var one int
	err := tx.QueryRowContext(ctx, queryCheckEventProcessed, eventId).Scan(&one)
	if err == nil {
		return fmt.Errorf("%w: event %s", store.ErrDuplicateEvent, eventId)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check event registry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryInsertWebhookEvent, eventId, eventType); err != nil {
		return fmt.Errorf("failed to register event: %w", err)
	}
	return nil
}

// ApplyPrepaidPaymentSucceeded marks the payment succeeded, credits the
// ledger with amount plus bonus, and seeds the reconciliation record.
func (s *Service) ApplyPrepaidPaymentSucceeded(ctx context.Context, params store.PrepaidSucceededParams) (*models.PrepaidTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.registerEventTx(ctx, tx, params.EventId, "payment_succeeded"); err != nil {
		return nil, err
	}

	payment, err := scanPayment(tx.QueryRowContext(ctx, queryGetPaymentById, params.PaymentId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, params.PaymentId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryMarkPaymentSucceeded, params.PaymentId); err != nil {
		return nil, fmt.Errorf("failed to mark payment succeeded: %w", err)
	}

	entry, _, err := s.applyLedgerEntryTx(ctx, tx, store.LedgerEntryParams{
		UserId:         payment.UserId,
		Currency:       payment.Currency,
		Delta:          payment.Amount.Add(params.BonusAmount),
		Kind:           "credit",
		ReferenceId:    payment.Id,
		IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if err := s.upsertReconciliationTx(ctx, tx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  params.GatewayAmount,
		InternalAmount: payment.Amount,
		Status:         params.ReconStatus,
		Notes:          params.ReconNotes,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Prepaid payment confirmed",
		zap.String("event_id", params.EventId),
		zap.String("payment_id", payment.Id),
		zap.String("credited", payment.Amount.Add(params.BonusAmount).String()),
		zap.String("bonus", params.BonusAmount.String()),
		zap.String("new_balance", entry.ResultingBalance.String()))

	return entry, nil
}

// ApplyInvoicePaid marks the invoice payment succeeded, advances the
// subscription period if the event is not stale, and approves the pending
// commission for that cycle, if any.
func (s *Service) ApplyInvoicePaid(ctx context.Context, params store.InvoicePaidParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.registerEventTx(ctx, tx, params.EventId, "payment_succeeded"); err != nil {
		return err
	}

	if params.PaymentId != "" {
		if _, err := tx.ExecContext(ctx, queryMarkPaymentSucceeded, params.PaymentId); err != nil {
			return fmt.Errorf("failed to mark payment succeeded: %w", err)
		}
	}

	sub, err := scanSubscription(tx.QueryRowContext(ctx, queryGetSubscriptionByGatewayId, params.GatewaySubscriptionId))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: subscription with gateway id %s", store.ErrNotFound, params.GatewaySubscriptionId)
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryAdvanceSubscriptionPeriod,
		params.PeriodStart, params.PeriodEnd, params.GatewaySubscriptionId, params.PeriodStart)
	if err != nil {
		return fmt.Errorf("failed to advance subscription period: %w", err)
	}
	advanced, _ := result.RowsAffected()

	// A stale invoice event (older period than what is stored) must not
	// approve anything the current cycle has not earned.
	var approved int64
	if advanced > 0 {
		result, err := tx.ExecContext(ctx, queryApprovePendingCommission, sub.Id)
		if err != nil {
			return fmt.Errorf("failed to approve commission: %w", err)
		}
		approved, _ = result.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if advanced == 0 {
		zap.L().Info("Stale invoice event ignored",
			zap.String("event_id", params.EventId),
			zap.String("subscription_id", sub.Id),
			zap.Time("period_start", params.PeriodStart))
		return nil
	}

	zap.L().Info("Invoice payment applied",
		zap.String("event_id", params.EventId),
		zap.String("subscription_id", sub.Id),
		zap.Int64("commissions_approved", approved))

	return nil
}

// ApplyPaymentFailed marks a pending payment failed. Commissions and
// balances are untouched.
func (s *Service) ApplyPaymentFailed(ctx context.Context, eventId, paymentId, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.registerEventTx(ctx, tx, eventId, "payment_failed"); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, queryMarkPaymentFailed, reason, paymentId)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Already terminal; still record the event so replays stay no-ops.
		zap.L().Warn("payment_failed for non-pending payment",
			zap.String("event_id", eventId),
			zap.String("payment_id", paymentId))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ApplySubscriptionState applies a subscription_updated/deleted event.
// Gateways do not guarantee delivery order: the update is applied only when
// the event's period start is not older than what is stored, so a stale
// "canceled" arriving after a newer "active" is ignored (while the event id
// is still registered).
func (s *Service) ApplySubscriptionState(ctx context.Context, params store.SubscriptionStateParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.registerEventTx(ctx, tx, params.EventId, "subscription_state"); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, queryApplySubscriptionState,
		params.Status, params.PeriodStart, params.PeriodEnd,
		params.GatewaySubscriptionId, params.PeriodStart)
	if err != nil {
		return fmt.Errorf("failed to apply subscription state: %w", err)
	}
	applied, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if applied == 0 {
		zap.L().Info("Stale subscription event ignored",
			zap.String("event_id", params.EventId),
			zap.String("gateway_subscription_id", params.GatewaySubscriptionId),
			zap.String("status", params.Status),
			zap.Time("period_start", params.PeriodStart))
	}
	return nil
}

// ApplyInvoicePaymentFailed flags the subscription for retry. Any pending
// commission is left pending: never approved speculatively, never rejected
// while the gateway may still retry.
func (s *Service) ApplyInvoicePaymentFailed(ctx context.Context, eventId, gatewaySubscriptionId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.registerEventTx(ctx, tx, eventId, "invoice_payment_failed"); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, queryFlagSubscriptionRetry, gatewaySubscriptionId)
	if err != nil {
		return fmt.Errorf("failed to flag subscription for retry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: subscription with gateway id %s", store.ErrNotFound, gatewaySubscriptionId)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AppendAuditEntry writes one append-only audit row.
func (s *Service) AppendAuditEntry(ctx context.Context, params store.AuditEntryParams) error {
	_, err := s.db.ExecContext(ctx, queryInsertAuditEntry,
		uuid.New().String(), params.ActorId, params.Action,
		params.EntityKind, params.EntityId, params.Detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
