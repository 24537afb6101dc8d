package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"
)

func createApprovedCommission(t *testing.T, service *Service, affiliateId, subId, amount string) *models.AffiliateCommission {
	t.Helper()
	ctx := context.Background()
	commission, err := service.CreateCommission(ctx, models.AffiliateCommission{
		AffiliateId:    affiliateId,
		ReferredUserId: "user1",
		SubscriptionId: subId,
		Amount:         mustDecimal(t, amount),
		Rate:           mustDecimal(t, "0.10"),
	})
	if err != nil {
		t.Fatalf("CreateCommission failed: %v", err)
	}
	if _, err := service.db.Exec(queryApprovePendingCommission, subId); err != nil {
		t.Fatalf("Failed to approve commission: %v", err)
	}
	return commission
}

func TestCreateCommission_AlwaysStartsPending(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUser(t, service, "affiliate1", "")
	createTestUser(t, service, "user1", "affiliate1")
	sub := createTestSubscription(t, service, "user1", "gw-sub-1", time.Now().UTC())

	commission, err := service.CreateCommission(context.Background(), models.AffiliateCommission{
		AffiliateId:    "affiliate1",
		ReferredUserId: "user1",
		SubscriptionId: sub.Id,
		Amount:         mustDecimal(t, "0.99"),
		Rate:           mustDecimal(t, "0.10"),
		Status:         models.CommissionStatusPaid, // ignored
	})
	if err != nil {
		t.Fatalf("CreateCommission failed: %v", err)
	}
	if commission.Status != models.CommissionStatusPending {
		t.Errorf("Expected pending, got %s", commission.Status)
	}
}

func TestCreateCommission_DuplicateSubscriptionRejected(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUser(t, service, "affiliate1", "")
	createTestUser(t, service, "user1", "affiliate1")
	sub := createTestSubscription(t, service, "user1", "gw-sub-1", time.Now().UTC())

	base := models.AffiliateCommission{
		AffiliateId:    "affiliate1",
		ReferredUserId: "user1",
		SubscriptionId: sub.Id,
		Amount:         mustDecimal(t, "0.99"),
		Rate:           mustDecimal(t, "0.10"),
	}
	if _, err := service.CreateCommission(context.Background(), base); err != nil {
		t.Fatalf("first CreateCommission failed: %v", err)
	}
	_, err := service.CreateCommission(context.Background(), base)
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestSettlePayout_MarksCommissionsPaid(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "affiliate1", "")
	createTestUser(t, service, "user1", "affiliate1")
	sub1 := createTestSubscription(t, service, "user1", "gw-sub-1", time.Now().UTC())
	sub2 := createTestSubscription(t, service, "user1", "gw-sub-2", time.Now().UTC())

	c1 := createApprovedCommission(t, service, "affiliate1", sub1.Id, "1.00")
	c2 := createApprovedCommission(t, service, "affiliate1", sub2.Id, "2.50")

	payout, err := service.SettlePayout(ctx, store.PayoutParams{
		AffiliateId:   "affiliate1",
		CommissionIds: []string{c1.Id, c2.Id},
		Method:        "bank_transfer",
		ProcessedBy:   "admin1",
	}, mustDecimal(t, "3.50"))
	if err != nil {
		t.Fatalf("SettlePayout failed: %v", err)
	}
	if !payout.Amount.Equal(mustDecimal(t, "3.50")) {
		t.Errorf("Expected payout amount 3.50, got %s", payout.Amount.String())
	}

	paid, err := service.GetCommissionsByIds(ctx, []string{c1.Id, c2.Id})
	if err != nil {
		t.Fatalf("GetCommissionsByIds failed: %v", err)
	}
	for _, c := range paid {
		if c.Status != models.CommissionStatusPaid {
			t.Errorf("Commission %s expected paid, got %s", c.Id, c.Status)
		}
		if c.PayoutId != payout.Id {
			t.Errorf("Commission %s not linked to payout", c.Id)
		}
		if c.PaidAt == nil {
			t.Errorf("Commission %s has no paid_at", c.Id)
		}
	}
}

func TestSettlePayout_NonApprovedFailsWholeBatch(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "affiliate1", "")
	createTestUser(t, service, "user1", "affiliate1")
	sub1 := createTestSubscription(t, service, "user1", "gw-sub-1", time.Now().UTC())
	sub2 := createTestSubscription(t, service, "user1", "gw-sub-2", time.Now().UTC())

	approved := createApprovedCommission(t, service, "affiliate1", sub1.Id, "1.00")
	pending, err := service.CreateCommission(ctx, models.AffiliateCommission{
		AffiliateId:    "affiliate1",
		ReferredUserId: "user1",
		SubscriptionId: sub2.Id,
		Amount:         mustDecimal(t, "2.00"),
		Rate:           mustDecimal(t, "0.10"),
	})
	if err != nil {
		t.Fatalf("CreateCommission failed: %v", err)
	}

	_, err = service.SettlePayout(ctx, store.PayoutParams{
		AffiliateId:   "affiliate1",
		CommissionIds: []string{approved.Id, pending.Id},
		Method:        "bank_transfer",
		ProcessedBy:   "admin1",
	}, mustDecimal(t, "3.00"))
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}

	// The approved commission must not have been marked paid.
	got, err := service.GetCommissionsByIds(ctx, []string{approved.Id})
	if err != nil {
		t.Fatalf("GetCommissionsByIds failed: %v", err)
	}
	if got[0].Status != models.CommissionStatusApproved {
		t.Errorf("Expected approved after failed batch, got %s", got[0].Status)
	}
}

func TestListCommissionsByAffiliate_StatusFilter(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()
	createTestUser(t, service, "affiliate1", "")
	createTestUser(t, service, "user1", "affiliate1")
	sub1 := createTestSubscription(t, service, "user1", "gw-sub-1", time.Now().UTC())
	sub2 := createTestSubscription(t, service, "user1", "gw-sub-2", time.Now().UTC())

	createApprovedCommission(t, service, "affiliate1", sub1.Id, "1.00")
	if _, err := service.CreateCommission(ctx, models.AffiliateCommission{
		AffiliateId:    "affiliate1",
		ReferredUserId: "user1",
		SubscriptionId: sub2.Id,
		Amount:         mustDecimal(t, "2.00"),
		Rate:           mustDecimal(t, "0.10"),
	}); err != nil {
		t.Fatalf("CreateCommission failed: %v", err)
	}

	all, err := service.ListCommissionsByAffiliate(ctx, "affiliate1", "")
	if err != nil {
		t.Fatalf("ListCommissionsByAffiliate failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 commissions, got %d", len(all))
	}

	approved, err := service.ListCommissionsByAffiliate(ctx, "affiliate1", models.CommissionStatusApproved)
	if err != nil {
		t.Fatalf("ListCommissionsByAffiliate failed: %v", err)
	}
	if len(approved) != 1 {
		t.Errorf("Expected 1 approved commission, got %d", len(approved))
	}
}
