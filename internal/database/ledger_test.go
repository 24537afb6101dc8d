package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"billing-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// One connection so every sql.Tx sees the same in-memory database.
	db.SetMaxOpenConns(1)

	service := NewServiceFromDB(db)
	if err := service.InitSchema(false); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}
	return service, cleanup
}

func createTestUser(t *testing.T, service *Service, id, referrerId string) {
	t.Helper()
	_, err := service.CreateUser(context.Background(), id, "User "+id, id+"@example.com", referrerId)
	if err != nil {
		t.Fatalf("Failed to create test user %s: %v", id, err)
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestApplyLedgerEntry_CreditUpdatesBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")

	entry, err := service.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          mustDecimal(t, "100.50"),
		Kind:           "credit",
		ReferenceId:    "pay-1",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("ApplyLedgerEntry failed: %v", err)
	}
	if !entry.ResultingBalance.Equal(mustDecimal(t, "100.50")) {
		t.Errorf("Expected resulting balance 100.50, got %s", entry.ResultingBalance.String())
	}

	balance, err := service.GetBalance(ctx, "user1", "USD")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(mustDecimal(t, "100.50")) {
		t.Errorf("Expected balance 100.50, got %s", balance.String())
	}
}

func TestApplyLedgerEntry_DuplicateKeyReturnsOriginal(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")

	params := store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          mustDecimal(t, "25"),
		Kind:           "credit",
		IdempotencyKey: "dup-key",
	}

	first, err := service.ApplyLedgerEntry(ctx, params)
	if err != nil {
		t.Fatalf("first ApplyLedgerEntry failed: %v", err)
	}
	second, err := service.ApplyLedgerEntry(ctx, params)
	if err != nil {
		t.Fatalf("replayed ApplyLedgerEntry failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected replay to return original entry %s, got %s", first.Id, second.Id)
	}

	balance, err := service.GetBalance(ctx, "user1", "USD")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(mustDecimal(t, "25")) {
		t.Errorf("Expected balance 25 after replay, got %s", balance.String())
	}
}

func TestApplyLedgerEntry_InsufficientFunds(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")

	_, err := service.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          mustDecimal(t, "10"),
		Kind:           "credit",
		IdempotencyKey: "credit-10",
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	_, err = service.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          mustDecimal(t, "-10.01"),
		Kind:           "debit",
		IdempotencyKey: "debit-too-much",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	// The failed debit must leave no trace.
	balance, err := service.GetBalance(ctx, "user1", "USD")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(mustDecimal(t, "10")) {
		t.Errorf("Expected balance 10 after failed debit, got %s", balance.String())
	}
	history, err := service.GetTransactionHistory(ctx, "user1", "USD", 10, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", len(history))
	}
}

func TestApplyLedgerEntry_AllowNegativeOverride(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")

	entry, err := service.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          mustDecimal(t, "-5"),
		Kind:           "debit",
		IdempotencyKey: "admin-debit",
		AllowNegative:  true,
	})
	if err != nil {
		t.Fatalf("ApplyLedgerEntry with AllowNegative failed: %v", err)
	}
	if !entry.ResultingBalance.Equal(mustDecimal(t, "-5")) {
		t.Errorf("Expected balance -5, got %s", entry.ResultingBalance.String())
	}
}

func TestApplyLedgerEntry_ZeroDeltaRejected(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUser(t, service, "user1", "")

	_, err := service.ApplyLedgerEntry(context.Background(), store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          decimal.Zero,
		Kind:           "credit",
		IdempotencyKey: "zero",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation for zero delta, got %v", err)
	}
}

func TestApplyLedgerEntry_MissingIdempotencyKeyRejected(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUser(t, service, "user1", "")

	_, err := service.ApplyLedgerEntry(context.Background(), store.LedgerEntryParams{
		UserId:   "user1",
		Currency: "USD",
		Delta:    mustDecimal(t, "1"),
		Kind:     "credit",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation for missing idempotency key, got %v", err)
	}
}

func TestBalanceEqualsSumOfDeltas(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")

	deltas := []string{"100", "-30.25", "7.75", "-0.50", "42"}
	for i, d := range deltas {
		kind := "credit"
		delta := mustDecimal(t, d)
		if delta.IsNegative() {
			kind = "debit"
		}
		_, err := service.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
			UserId:         "user1",
			Currency:       "USD",
			Delta:          delta,
			Kind:           kind,
			IdempotencyKey: "entry-" + string(rune('a'+i)),
		})
		if err != nil {
			t.Fatalf("entry %d failed: %v", i, err)
		}
	}

	history, err := service.GetTransactionHistory(ctx, "user1", "USD", 100, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	sum := decimal.Zero
	for _, tx := range history {
		sum = sum.Add(tx.Delta)
	}

	balance, err := service.GetBalance(ctx, "user1", "USD")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(sum) {
		t.Errorf("Balance %s does not equal sum of deltas %s", balance.String(), sum.String())
	}
	if !balance.Equal(mustDecimal(t, "119")) {
		t.Errorf("Expected balance 119, got %s", balance.String())
	}
}

func TestGetBalance_UnknownCurrencyIsZero(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUser(t, service, "user1", "")

	balance, err := service.GetBalance(context.Background(), "user1", "EUR")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Expected zero balance, got %s", balance.String())
	}
}
