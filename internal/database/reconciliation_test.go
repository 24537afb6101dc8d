package database

import (
	"context"
	"errors"
	"testing"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"
)

func TestUpsertReconciliationRecord_OneRowPerPayment(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")
	payment := createTestPayment(t, service, "user1", models.PaymentKindPrepaid, "100", "gw-pay-1")

	first, err := service.UpsertReconciliationRecord(ctx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  mustDecimal(t, "90"),
		InternalAmount: mustDecimal(t, "100"),
		Status:         models.ReconStatusDiscrepancy,
		Notes:          "amount mismatch",
	})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second, err := service.UpsertReconciliationRecord(ctx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  mustDecimal(t, "100"),
		InternalAmount: mustDecimal(t, "100"),
		Status:         models.ReconStatusMatched,
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected upsert to reuse record %s, got %s", first.Id, second.Id)
	}
	if second.Status != models.ReconStatusMatched {
		t.Errorf("Expected matched after re-run, got %s", second.Status)
	}

	discrepancies, err := service.ListDiscrepancies(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDiscrepancies failed: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Errorf("Expected no open discrepancies, got %d", len(discrepancies))
	}
}

func TestResolveDiscrepancy(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")
	payment := createTestPayment(t, service, "user1", models.PaymentKindPrepaid, "100", "gw-pay-1")

	record, err := service.UpsertReconciliationRecord(ctx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  mustDecimal(t, "90"),
		InternalAmount: mustDecimal(t, "100"),
		Status:         models.ReconStatusDiscrepancy,
		Notes:          "amount mismatch",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	resolved, err := service.ResolveDiscrepancy(ctx, record.Id, "refund_issued", "partial refund confirmed with gateway", "admin1")
	if err != nil {
		t.Fatalf("ResolveDiscrepancy failed: %v", err)
	}
	if resolved.Status != models.ReconStatusResolved {
		t.Errorf("Expected resolved, got %s", resolved.Status)
	}
	if resolved.ResolvedBy != "admin1" {
		t.Errorf("Expected resolved_by admin1, got %s", resolved.ResolvedBy)
	}

	// Resolving again is rejected: the record is no longer an open discrepancy.
	if _, err := service.ResolveDiscrepancy(ctx, record.Id, "refund_issued", "again", "admin1"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation on double resolve, got %v", err)
	}
}

func TestResolvedRecordNeverReopens(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "user1", "")
	payment := createTestPayment(t, service, "user1", models.PaymentKindPrepaid, "100", "gw-pay-1")

	record, err := service.UpsertReconciliationRecord(ctx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  mustDecimal(t, "90"),
		InternalAmount: mustDecimal(t, "100"),
		Status:         models.ReconStatusDiscrepancy,
		Notes:          "amount mismatch",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := service.ResolveDiscrepancy(ctx, record.Id, "writeoff", "accepted the difference", "admin1"); err != nil {
		t.Fatalf("ResolveDiscrepancy failed: %v", err)
	}

	// A later reconciliation run against the same payment must not reopen it.
	after, err := service.UpsertReconciliationRecord(ctx, store.ReconcileUpsertParams{
		PaymentId:      payment.Id,
		GatewayAmount:  mustDecimal(t, "90"),
		InternalAmount: mustDecimal(t, "100"),
		Status:         models.ReconStatusDiscrepancy,
		Notes:          "amount mismatch",
	})
	if err != nil {
		t.Fatalf("upsert after resolve failed: %v", err)
	}
	if after.Status != models.ReconStatusResolved {
		t.Errorf("Resolved record reopened to %s", after.Status)
	}
}

func TestResolveDiscrepancy_UnknownRecord(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.ResolveDiscrepancy(context.Background(), "missing", "writeoff", "notes", "admin1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
