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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreatePayment persists a pending payment row. Intake calls this before
// the outbound gateway call so an orphaned attempt still has a local record.
func (s *Service) CreatePayment(ctx context.Context, params store.CreatePaymentParams) (*models.Payment, error) {
	now := time.Now().UTC()
	payment := &models.Payment{
		Id:         uuid.New().String(),
		UserId:     params.UserId,
		Kind:       params.Kind,
		Amount:     params.Amount,
		Currency:   params.Currency,
		Status:     models.PaymentStatusPending,
		Method:     params.Method,
		GatewayRef: params.GatewayRef,
		PlanId:     params.PlanId,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx, queryInsertPayment,
		payment.Id, payment.UserId, payment.Kind, payment.Amount.String(), payment.Currency,
		payment.Method, payment.GatewayRef, payment.PlanId, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	zap.L().Info("Payment created",
		zap.String("payment_id", payment.Id),
		zap.String("user_id", payment.UserId),
		zap.String("kind", payment.Kind),
		zap.String("amount", payment.Amount.String()),
		zap.String("currency", payment.Currency))

	return payment, nil
}

// SetPaymentGatewayRef records the gateway's reference after intent creation.
func (s *Service) SetPaymentGatewayRef(ctx context.Context, paymentId, gatewayRef string) error {
	result, err := s.db.ExecContext(ctx, querySetPaymentGatewayRef, gatewayRef, paymentId)
	if err != nil {
		return fmt.Errorf("failed to set gateway ref: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: payment %s", store.ErrNotFound, paymentId)
	}
	return nil
}

func (s *Service) GetPaymentById(ctx context.Context, paymentId string) (*models.Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(ctx, queryGetPaymentById, paymentId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, paymentId)
	}
	return payment, err
}

func (s *Service) GetPaymentByGatewayRef(ctx context.Context, gatewayRef string) (*models.Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(ctx, queryGetPaymentByGatewayRef, gatewayRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment with gateway ref %s", store.ErrNotFound, gatewayRef)
	}
	return payment, err
}

// ListSucceededPaymentsWithoutMatch returns succeeded payments in [from, to)
// that do not yet have a matched or resolved reconciliation record.
func (s *Service) ListSucceededPaymentsWithoutMatch(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, queryListSucceededWithoutMatch, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled payments: %w", err)
	}
	defer closeRows(rows)

	var payments []models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment rows: %w", err)
	}
	return payments, nil
}

// CountStalePendingPayments counts pending payments created before the
// cutoff: attempts whose gateway confirmation never arrived.
func (s *Service) CountStalePendingPayments(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryCountStalePending, olderThan).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stale pending payments: %w", err)
	}
	return count, nil
}

func scanPayment(scanner rowScanner) (*models.Payment, error) {
	var p models.Payment
	var amountStr string
	err := scanner.Scan(&p.Id, &p.UserId, &p.Kind, &amountStr, &p.Currency, &p.Status,
		&p.Method, &p.GatewayRef, &p.PlanId, &p.FailReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment amount '%s': %w", amountStr, err)
	}
	return &p, nil
}
