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
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateCommission inserts a pending commission. The UNIQUE subscription_id
// constraint guarantees at most one commission per subscription creation.
func (s *Service) CreateCommission(ctx context.Context, commission models.AffiliateCommission) (*models.AffiliateCommission, error) {
	if commission.Id == "" {
		commission.Id = uuid.New().String()
	}
	commission.Status = models.CommissionStatusPending
	commission.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, queryInsertCommission,
		commission.Id, commission.AffiliateId, commission.ReferredUserId,
		commission.SubscriptionId, commission.Amount.String(), commission.Rate.String(),
		commission.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: commission for subscription %s already exists",
				store.ErrDuplicateTransaction, commission.SubscriptionId)
		}
		return nil, fmt.Errorf("failed to insert commission: %w", err)
	}
	return &commission, nil
}

func (s *Service) GetCommissionsByIds(ctx context.Context, commissionIds []string) ([]models.AffiliateCommission, error) {
	commissions := make([]models.AffiliateCommission, 0, len(commissionIds))
	for _, id := range commissionIds {
		commission, err := scanCommission(s.db.QueryRowContext(ctx, queryGetCommissionById, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: commission %s", store.ErrNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, *commission)
	}
	return commissions, nil
}

func (s *Service) ListCommissionsByAffiliate(ctx context.Context, affiliateId, status string) ([]models.AffiliateCommission, error) {
	rows, err := s.db.QueryContext(ctx, queryListCommissionsByAffiliate, affiliateId, status, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer closeRows(rows)

	var commissions []models.AffiliateCommission
	for rows.Next() {
		commission, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, *commission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commission rows: %w", err)
	}
	return commissions, nil
}

// SettlePayout transitions every referenced commission approved->paid and
// inserts the payout aggregate, all in one transaction. Any commission that
// is missing, foreign, or not approved aborts the whole settlement.
func (s *Service) SettlePayout(ctx context.Context, params store.PayoutParams, total decimal.Decimal) (*models.AffiliatePayout, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	payout := &models.AffiliatePayout{
		Id:            uuid.New().String(),
		AffiliateId:   params.AffiliateId,
		Amount:        total,
		Method:        params.Method,
		ProcessedBy:   params.ProcessedBy,
		CreatedAt:     now,
		CommissionIds: params.CommissionIds,
	}

	for _, commissionId := range params.CommissionIds {
		result, err := tx.ExecContext(ctx, queryMarkCommissionPaid,
			payout.Id, now, commissionId, params.AffiliateId)
		if err != nil {
			return nil, fmt.Errorf("failed to mark commission paid: %w", err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("%w: commission %s is not approved for affiliate %s",
				store.ErrValidation, commissionId, params.AffiliateId)
		}
	}

	_, err = tx.ExecContext(ctx, queryInsertPayout,
		payout.Id, payout.AffiliateId, payout.Amount.String(),
		payout.Method, payout.ProcessedBy, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Payout settled",
		zap.String("payout_id", payout.Id),
		zap.String("affiliate_id", payout.AffiliateId),
		zap.String("amount", payout.Amount.String()),
		zap.Int("commissions", len(params.CommissionIds)))

	return payout, nil
}

func scanCommission(scanner rowScanner) (*models.AffiliateCommission, error) {
	var c models.AffiliateCommission
	var amountStr, rateStr string
	var paidAt sql.NullTime
	err := scanner.Scan(&c.Id, &c.AffiliateId, &c.ReferredUserId, &c.SubscriptionId,
		&amountStr, &rateStr, &c.Status, &c.PayoutId, &c.CreatedAt, &paidAt)
	if err != nil {
		return nil, err
	}
	c.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commission amount '%s': %w", amountStr, err)
	}
	c.Rate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commission rate '%s': %w", rateStr, err)
	}
	if paidAt.Valid {
		c.PaidAt = &paidAt.Time
	}
	return &c, nil
}
