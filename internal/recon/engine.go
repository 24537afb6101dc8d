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

package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-ledger-go/internal/gateway"
	"billing-ledger-go/internal/metrics"
	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine compares internal payment records against gateway records and
// maintains one reconciliation record per payment. Gateway lookups happen
// outside database transactions; only the classified outcome is written.
type Engine struct {
	store           store.Store
	gateway         gateway.Client
	epsilon         decimal.Decimal
	stalePendingAge time.Duration
}

func NewEngine(st store.Store, client gateway.Client, epsilon decimal.Decimal, stalePendingAge time.Duration) *Engine {
	if stalePendingAge <= 0 {
		stalePendingAge = 24 * time.Hour
	}
	return &Engine{store: st, gateway: client, epsilon: epsilon, stalePendingAge: stalePendingAge}
}

// ReconcilePayment fetches the gateway's record for one payment, classifies
// the comparison and upserts the reconciliation record. A record already
// resolved is left untouched by the store.
func (e *Engine) ReconcilePayment(ctx context.Context, paymentId string) (*models.ReconciliationRecord, error) {
	payment, err := e.store.GetPaymentById(ctx, paymentId)
	if err != nil {
		return nil, err
	}
	if payment.GatewayRef == "" {
		return nil, fmt.Errorf("%w: payment %s has no gateway reference", store.ErrValidation, paymentId)
	}

	gwPayment, err := e.gateway.GetPayment(ctx, payment.GatewayRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.upsert(ctx, payment, decimal.Zero,
				models.ReconStatusDiscrepancy, "gateway has no record of this payment")
		}
		return nil, fmt.Errorf("gateway lookup for %s: %w", payment.GatewayRef, err)
	}

	status, notes := e.classify(payment, gwPayment)
	return e.upsert(ctx, payment, gwPayment.Amount, status, notes)
}

// ClassifyAmounts compares an internal amount against the gateway's
// reported amount under the engine's tolerance.
func (e *Engine) ClassifyAmounts(internal, reported decimal.Decimal) (string, string) {
	if internal.Sub(reported).Abs().GreaterThan(e.epsilon) {
		return models.ReconStatusDiscrepancy,
			fmt.Sprintf("amount mismatch: internal %s, gateway %s", internal.String(), reported.String())
	}
	return models.ReconStatusMatched, ""
}

func (e *Engine) classify(payment *models.Payment, gwPayment *models.GatewayPayment) (string, string) {
	if payment.Status == models.PaymentStatusSucceeded && gwPayment.Status != "succeeded" {
		return models.ReconStatusDiscrepancy,
			fmt.Sprintf("status mismatch: internal succeeded, gateway %s", gwPayment.Status)
	}
	diff := payment.Amount.Sub(gwPayment.Amount).Abs()
	if diff.GreaterThan(e.epsilon) {
		return models.ReconStatusDiscrepancy,
			fmt.Sprintf("amount mismatch: internal %s, gateway %s", payment.Amount.String(), gwPayment.Amount.String())
	}
	return models.ReconStatusMatched, ""
}

func (e *Engine) upsert(ctx context.Context, payment *models.Payment, gatewayAmount decimal.Decimal, status, notes string) (*models.ReconciliationRecord, error) {
	record, err := e.store.UpsertReconciliationRecord(ctx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  gatewayAmount,
		InternalAmount: payment.Amount,
		Status:         status,
		Notes:          notes,
	})
	if err != nil {
		return nil, err
	}
	metrics.ReconciliationTotal.WithLabelValues(record.Status).Inc()
	if record.Status == models.ReconStatusDiscrepancy {
		zap.L().Warn("Reconciliation discrepancy",
			zap.String("payment_id", payment.Id),
			zap.String("notes", record.Notes))
	}
	return record, nil
}

// BatchReconcile reconciles every succeeded payment in the window that does
// not yet have a matched or resolved record, and counts payments stuck in
// pending longer than the configured age. The run stops cleanly when the
// context is cancelled, returning the partial summary alongside the error.
func (e *Engine) BatchReconcile(ctx context.Context, from, to time.Time) (*models.BatchReconcileSummary, error) {
	summary := &models.BatchReconcileSummary{TotalAmountDiff: decimal.Zero}

	payments, err := e.store.ListSucceededPaymentsWithoutMatch(ctx, from, to)
	if err != nil {
		return summary, err
	}

	for _, payment := range payments {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("Batch reconciliation cancelled",
				zap.Int("scanned", summary.Scanned),
				zap.Int("remaining", len(payments)-summary.Scanned))
			return summary, err
		}

		record, err := e.ReconcilePayment(ctx, payment.Id)
		if err != nil {
			zap.L().Error("Reconciliation failed for payment",
				zap.String("payment_id", payment.Id), zap.Error(err))
			continue
		}
		summary.Scanned++
		switch record.Status {
		case models.ReconStatusMatched:
			summary.Matched++
		case models.ReconStatusDiscrepancy:
			summary.Discrepancies++
			summary.TotalAmountDiff = summary.TotalAmountDiff.Add(
				record.InternalAmount.Sub(record.GatewayAmount).Abs())
		}
	}

	stale, err := e.store.CountStalePendingPayments(ctx, time.Now().UTC().Add(-e.stalePendingAge))
	if err != nil {
		return summary, err
	}
	summary.StalePending = stale
	if stale > 0 {
		zap.L().Warn("Stale pending payments detected", zap.Int("count", stale))
	}

	zap.L().Info("Batch reconciliation complete",
		zap.Int("scanned", summary.Scanned),
		zap.Int("matched", summary.Matched),
		zap.Int("discrepancies", summary.Discrepancies),
		zap.String("total_diff", summary.TotalAmountDiff.String()))
	return summary, nil
}

// ListDiscrepancies pages through open discrepancies, newest first.
func (e *Engine) ListDiscrepancies(ctx context.Context, limit, offset int) ([]models.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.ListDiscrepancies(ctx, limit, offset)
}

// ResolveDiscrepancy closes an open discrepancy with a mandatory
// explanation. Resolved records never reopen.
func (e *Engine) ResolveDiscrepancy(ctx context.Context, recordId, resolution, notes, adminId string) (*models.ReconciliationRecord, error) {
	if notes == "" {
		return nil, fmt.Errorf("%w: resolution notes are required", store.ErrValidation)
	}
	if resolution == "" {
		return nil, fmt.Errorf("%w: resolution is required", store.ErrValidation)
	}
	return e.store.ResolveDiscrepancy(ctx, recordId, resolution, notes, adminId)
}
