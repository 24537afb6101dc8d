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

// ApplyLedgerEntry atomically updates the balance and appends one
// prepaid_transactions row. A retry with an idempotency key already on file
// is a no-op that returns the previously written row.
func (s *Service) ApplyLedgerEntry(ctx context.Context, params store.LedgerEntryParams) (*models.PrepaidTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, replayed, err := s.applyLedgerEntryTx(ctx, tx, params)
	if err != nil {
		return nil, err
	}
	if replayed {
		// Nothing written; no commit needed, but committing the read-only
		// transaction is harmless and keeps the path uniform.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return entry, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry applied",
		zap.String("transaction_id", entry.Id),
		zap.String("user_id", params.UserId),
		zap.String("currency", params.Currency),
		zap.String("kind", params.Kind),
		zap.String("delta", params.Delta.String()),
		zap.String("new_balance", entry.ResultingBalance.String()))

	return entry, nil
}

// applyLedgerEntryTx is the single write path for balance changes. It runs
// inside the caller's transaction so webhook handlers can combine it with
// payment/commission updates atomically. The bool result reports an
// idempotency-key replay (no row written).
func (s *Service) applyLedgerEntryTx(ctx context.Context, tx *sql.Tx, params store.LedgerEntryParams) (*models.PrepaidTransaction, bool, error) {
	if params.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: idempotency key is required", store.ErrValidation)
	}
	if params.Delta.IsZero() {
		return nil, false, fmt.Errorf("%w: delta must be non-zero", store.ErrValidation)
	}

	// Idempotency check inside the transaction.
	existing, err := scanLedgerRow(tx.QueryRowContext(ctx, queryCheckIdempotencyKey, params.IdempotencyKey))
	if err == nil {
		zap.L().Warn("Duplicate idempotency key, returning prior entry",
			zap.String("idempotency_key", params.IdempotencyKey),
			zap.String("existing_transaction_id", existing.Id))
		return existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	// Current balance, creating the row on first use.
	var accountId, currentBalanceStr string
	var version int64
	err = tx.QueryRowContext(ctx, queryGetAccountBalance, params.UserId, params.Currency).
		Scan(&accountId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if errors.Is(err, sql.ErrNoRows) {
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1
		if _, err := tx.ExecContext(ctx, queryInsertAccountBalance, accountId, params.UserId, params.Currency, "0", 1); err != nil {
			return nil, false, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, false, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.Delta)
	if newBalance.IsNegative() && !params.AllowNegative {
		return nil, false, fmt.Errorf("%w: balance %s, debit %s", store.ErrInsufficientFunds,
			currentBalance.String(), params.Delta.Neg().String())
	}

	entry := &models.PrepaidTransaction{
		Id:               uuid.New().String(),
		UserId:           params.UserId,
		Currency:         params.Currency,
		Delta:            params.Delta,
		ResultingBalance: newBalance,
		Kind:             params.Kind,
		ReferenceId:      params.ReferenceId,
		IdempotencyKey:   params.IdempotencyKey,
		CreatedAt:        time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, queryInsertLedgerTransaction,
		entry.Id, entry.UserId, entry.Currency,
		entry.Delta.String(), entry.ResultingBalance.String(),
		entry.Kind, entry.ReferenceId, entry.IdempotencyKey, entry.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert ledger transaction: %w", err)
	}

	// Optimistic lock on the balance row serializes concurrent writers.
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance,
		newBalance.String(), entry.Id, params.UserId, params.Currency, version)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, false, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	return entry, false, nil
}

func (s *Service) GetBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId, currency).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return balance, nil
}

func (s *Service) GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllBalances, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer closeRows(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		var b models.AccountBalance
		var balanceStr string
		if err := rows.Scan(&b.Id, &b.UserId, &b.Currency, &balanceStr, &b.LastTransactionId, &b.Version, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

// GetTransactionHistory returns paginated ledger history for a user.
func (s *Service) GetTransactionHistory(ctx context.Context, userId, currency string, limit, offset int) ([]models.PrepaidTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, currency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer closeRows(rows)

	var entries []models.PrepaidTransaction
	for rows.Next() {
		entry, err := scanLedgerRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(scanner rowScanner) (*models.PrepaidTransaction, error) {
	var entry models.PrepaidTransaction
	var deltaStr, balanceStr string
	err := scanner.Scan(&entry.Id, &entry.UserId, &entry.Currency, &deltaStr, &balanceStr,
		&entry.Kind, &entry.ReferenceId, &entry.IdempotencyKey, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.Delta, err = decimal.NewFromString(deltaStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse delta '%s': %w", deltaStr, err)
	}
	entry.ResultingBalance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resulting balance '%s': %w", balanceStr, err)
	}
	return &entry, nil
}

func scanLedgerRow(row *sql.Row) (*models.PrepaidTransaction, error) {
	return scanLedgerEntry(row)
}

func scanLedgerRows(rows *sql.Rows) (*models.PrepaidTransaction, error) {
	entry, err := scanLedgerEntry(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return entry, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}
