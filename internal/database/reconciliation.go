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

// UpsertReconciliationRecord persists one comparison outcome, keyed by
// payment id. Re-running reconciliation updates in place; resolved records
// are never reopened.
func (s *Service) UpsertReconciliationRecord(ctx context.Context, params store.ReconcileUpsertParams) (*models.ReconciliationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertReconciliationTx(ctx, tx, params); err != nil {
		return nil, err
	}

	record, err := scanReconciliation(tx.QueryRowContext(ctx, queryGetReconciliationByPayment, params.PaymentId))
	if err != nil {
		return nil, fmt.Errorf("failed to read back reconciliation record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return record, nil
}

func (s *Service) upsertReconciliationTx(ctx context.Context, tx *sql.Tx, params store.ReconcileUpsertParams) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, queryUpsertReconciliation,
		uuid.New().String(), params.PaymentId,
		params.GatewayAmount.String(), params.InternalAmount.String(),
		params.Status, params.Notes, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert reconciliation record: %w", err)
	}
	return nil
}

func (s *Service) GetReconciliationRecord(ctx context.Context, recordId string) (*models.ReconciliationRecord, error) {
	record, err := scanReconciliation(s.db.QueryRowContext(ctx, queryGetReconciliationById, recordId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reconciliation record %s", store.ErrNotFound, recordId)
	}
	return record, err
}

func (s *Service) ListDiscrepancies(ctx context.Context, limit, offset int) ([]models.ReconciliationRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListDiscrepancies, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list discrepancies: %w", err)
	}
	defer closeRows(rows)

	var records []models.ReconciliationRecord
	for rows.Next() {
		record, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation rows: %w", err)
	}
	return records, nil
}

// ResolveDiscrepancy transitions discrepancy->resolved and writes the audit
// entry in the same transaction.
func (s *Service) ResolveDiscrepancy(ctx context.Context, recordId, resolution, notes, adminId string) (*models.ReconciliationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryResolveDiscrepancy, notes, adminId, recordId)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve discrepancy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Distinguish missing record from wrong state.
		_, err := scanReconciliation(tx.QueryRowContext(ctx, queryGetReconciliationById, recordId))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: reconciliation record %s", store.ErrNotFound, recordId)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: record %s is not an open discrepancy", store.ErrValidation, recordId)
	}

	_, err = tx.ExecContext(ctx, queryInsertAuditEntry,
		uuid.New().String(), adminId, "discrepancy_resolved",
		"reconciliation_record", recordId,
		fmt.Sprintf("resolution=%s notes=%s", resolution, notes), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to write audit entry: %w", err)
	}

	record, err := scanReconciliation(tx.QueryRowContext(ctx, queryGetReconciliationById, recordId))
	if err != nil {
		return nil, fmt.Errorf("failed to read back reconciliation record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Discrepancy resolved",
		zap.String("record_id", recordId),
		zap.String("payment_id", record.PaymentId),
		zap.String("resolution", resolution),
		zap.String("resolved_by", adminId))

	return record, nil
}

func scanReconciliation(scanner rowScanner) (*models.ReconciliationRecord, error) {
	var r models.ReconciliationRecord
	var gatewayStr, internalStr string
	err := scanner.Scan(&r.Id, &r.PaymentId, &gatewayStr, &internalStr,
		&r.Status, &r.Notes, &r.ResolvedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.GatewayAmount, err = decimal.NewFromString(gatewayStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway amount '%s': %w", gatewayStr, err)
	}
	r.InternalAmount, err = decimal.NewFromString(internalStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse internal amount '%s': %w", internalStr, err)
	}
	return &r, nil
}
