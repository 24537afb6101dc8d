package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"billing-ledger-go/internal/commission"
	"billing-ledger-go/internal/database"
	"billing-ledger-go/internal/gateway"
	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/recon"
	"billing-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// fakeGateway lets tests force failures and inspect what the service sent.
type fakeGateway struct {
	failNext    bool
	lastIntent  gateway.IntentParams
	lastSub     gateway.SubscribeParams
	cancelCalls int
	payments    map[string]models.GatewayPayment
}

var _ gateway.Client = (*fakeGateway)(nil)

func (f *fakeGateway) CreatePaymentIntent(ctx context.Context, params gateway.IntentParams) (*models.PaymentIntent, error) {
	if f.failNext {
		return nil, fmt.Errorf("%w: gateway unavailable", store.ErrGateway)
	}
	f.lastIntent = params
	return &models.PaymentIntent{
		Id:           "intent-" + params.ReferenceId,
		ClientSecret: "cs_test",
		Status:       "requires_payment",
		Amount:       params.Amount,
		Currency:     params.Currency,
	}, nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, params gateway.SubscribeParams) (*models.GatewaySubscription, error) {
	if f.failNext {
		return nil, fmt.Errorf("%w: gateway unavailable", store.ErrGateway)
	}
	f.lastSub = params
	now := time.Now().UTC()
	return &models.GatewaySubscription{
		Id:              "gw-sub-1",
		Status:          models.SubscriptionStatusActive,
		PeriodStart:     now,
		PeriodEnd:       now.AddDate(0, 1, 0),
		PlanRef:         params.PlanRef,
		FirstPaymentRef: "gw-inv-1",
	}, nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, gatewaySubscriptionId string) error {
	if f.failNext {
		return fmt.Errorf("%w: gateway unavailable", store.ErrGateway)
	}
	f.cancelCalls++
	return nil
}

func (f *fakeGateway) GetPayment(ctx context.Context, gatewayRef string) (*models.GatewayPayment, error) {
	if p, ok := f.payments[gatewayRef]; ok {
		return &p, nil
	}
	return nil, fmt.Errorf("%w: no payment %s", store.ErrNotFound, gatewayRef)
}

func (f *fakeGateway) GetSubscription(ctx context.Context, gatewaySubscriptionId string) (*models.GatewaySubscription, error) {
	return nil, fmt.Errorf("%w: no subscription %s", store.ErrNotFound, gatewaySubscriptionId)
}

func setupService(t *testing.T) (*Service, *database.Service, *fakeGateway, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	dbService := database.NewServiceFromDB(db)
	if err := dbService.InitSchema(false); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	ctx := context.Background()
	if _, err := dbService.CreateUser(ctx, "user1", "Test User", "test@example.com", ""); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := dbService.UpsertPlan(ctx, models.Plan{
		Id:             "plan-basic",
		Name:           "Basic",
		Price:          decimal.RequireFromString("9.99"),
		Currency:       "USD",
		IntervalMonths: 1,
		CommissionRate: decimal.RequireFromString("0.10"),
	}); err != nil {
		t.Fatalf("Failed to seed plan: %v", err)
	}

	billing := &models.BillingConfig{Currencies: []string{"USD", "EUR"}}
	gw := &fakeGateway{payments: make(map[string]models.GatewayPayment)}
	epsilon := decimal.RequireFromString("0.01")
	commissions := commission.NewEngine(dbService, nil)
	reconEngine := recon.NewEngine(dbService, gw, epsilon, 24*time.Hour)
	service := NewService(dbService, gw, commissions, reconEngine, billing)

	cleanup := func() {
		db.Close()
	}
	return service, dbService, gw, cleanup
}

func TestCreatePrepaidPayment(t *testing.T) {
	service, dbService, gw, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	result, err := service.CreatePrepaidPayment(ctx, PrepaidPaymentParams{
		UserId:   "user1",
		Amount:   decimal.RequireFromString("100"),
		Currency: "USD",
		Method:   "card",
	})
	if err != nil {
		t.Fatalf("CreatePrepaidPayment failed: %v", err)
	}
	if result.Payment.Status != models.PaymentStatusPending {
		t.Errorf("Expected pending, got %s", result.Payment.Status)
	}
	if result.Payment.GatewayRef != result.Intent.Id {
		t.Errorf("Gateway ref %s not linked to intent %s", result.Payment.GatewayRef, result.Intent.Id)
	}
	if gw.lastIntent.IdempotencyKey == "" {
		t.Error("Expected idempotency key on gateway call")
	}

	// The balance is untouched until the success event arrives.
	balance, err := dbService.GetBalance(ctx, "user1", "USD")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Expected zero balance before confirmation, got %s", balance.String())
	}
}

func TestCreatePrepaidPayment_Validation(t *testing.T) {
	service, _, _, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	cases := []struct {
		name   string
		params PrepaidPaymentParams
	}{
		{"zero amount", PrepaidPaymentParams{UserId: "user1", Amount: decimal.Zero, Currency: "USD"}},
		{"negative amount", PrepaidPaymentParams{UserId: "user1", Amount: decimal.RequireFromString("-5"), Currency: "USD"}},
		{"unsupported currency", PrepaidPaymentParams{UserId: "user1", Amount: decimal.RequireFromString("10"), Currency: "XAU"}},
		{"missing user", PrepaidPaymentParams{Amount: decimal.RequireFromString("10"), Currency: "USD"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreatePrepaidPayment(ctx, tc.params)
			if !errors.Is(err, store.ErrValidation) {
				t.Fatalf("Expected ErrValidation, got %v", err)
			}
		})
	}

	_, err := service.CreatePrepaidPayment(ctx, PrepaidPaymentParams{
		UserId: "ghost", Amount: decimal.RequireFromString("10"), Currency: "USD",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestCreatePrepaidPayment_GatewayFailureLeavesPendingRecord(t *testing.T) {
	service, dbService, gw, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()
	gw.failNext = true

	_, err := service.CreatePrepaidPayment(ctx, PrepaidPaymentParams{
		UserId:   "user1",
		Amount:   decimal.RequireFromString("100"),
		Currency: "USD",
	})
	if !errors.Is(err, store.ErrGateway) {
		t.Fatalf("Expected ErrGateway, got %v", err)
	}

	// The pending row written before the gateway call survives, so
	// reconciliation can find it later.
	stale, err := dbService.CountStalePendingPayments(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("CountStalePendingPayments failed: %v", err)
	}
	if stale != 1 {
		t.Errorf("Expected 1 orphaned pending payment, got %d", stale)
	}
}

func TestCreateSubscriptionPayment_CreatesCommissionForReferred(t *testing.T) {
	service, dbService, _, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()
	if _, err := dbService.CreateUser(ctx, "referred1", "Referred", "ref@example.com", "user1"); err != nil {
		t.Fatalf("Failed to create referred user: %v", err)
	}

	result, err := service.CreateSubscriptionPayment(ctx, SubscriptionPaymentParams{
		UserId: "referred1",
		PlanId: "plan-basic",
		Method: "card",
	})
	if err != nil {
		t.Fatalf("CreateSubscriptionPayment failed: %v", err)
	}
	if result.Subscription.GatewaySubscriptionId != "gw-sub-1" {
		t.Errorf("Subscription not linked to gateway: %s", result.Subscription.GatewaySubscriptionId)
	}
	if result.Payment.GatewayRef != "gw-inv-1" {
		t.Errorf("Payment not linked to first invoice: %s", result.Payment.GatewayRef)
	}
	if result.Commission == nil {
		t.Fatal("Expected commission for referred user")
	}
	if result.Commission.AffiliateId != "user1" {
		t.Errorf("Expected affiliate user1, got %s", result.Commission.AffiliateId)
	}
}

func TestConfirmPrepaidPayment(t *testing.T) {
	service, dbService, gw, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	result, err := service.CreatePrepaidPayment(ctx, PrepaidPaymentParams{
		UserId:   "user1",
		Amount:   decimal.RequireFromString("100"),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreatePrepaidPayment failed: %v", err)
	}
	ref := result.Payment.GatewayRef

	// Gateway still shows the payment in flight.
	gw.payments[ref] = models.GatewayPayment{Ref: ref, Amount: decimal.RequireFromString("100"), Status: "processing"}
	_, err = service.ConfirmPrepaidPayment(ctx, result.Payment.Id, "admin1")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation while gateway shows processing, got %v", err)
	}

	gw.payments[ref] = models.GatewayPayment{Ref: ref, Amount: decimal.RequireFromString("100"), Status: "succeeded"}
	tx, err := service.ConfirmPrepaidPayment(ctx, result.Payment.Id, "admin1")
	if err != nil {
		t.Fatalf("ConfirmPrepaidPayment failed: %v", err)
	}
	if !tx.ResultingBalance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance 100, got %s", tx.ResultingBalance.String())
	}

	payment, err := service.GetPayment(ctx, result.Payment.Id)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if payment.Status != models.PaymentStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", payment.Status)
	}

	// A repeat confirmation is rejected, and the balance stays put.
	_, err = service.ConfirmPrepaidPayment(ctx, result.Payment.Id, "admin1")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation on repeat confirmation, got %v", err)
	}
	balance, err := dbService.GetBalance(ctx, "user1", "USD")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance 100 after repeat, got %s", balance.String())
	}
}

func TestCancelSubscription(t *testing.T) {
	service, _, gw, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	result, err := service.CreateSubscriptionPayment(ctx, SubscriptionPaymentParams{
		UserId: "user1",
		PlanId: "plan-basic",
	})
	if err != nil {
		t.Fatalf("CreateSubscriptionPayment failed: %v", err)
	}

	if err := service.CancelSubscription(ctx, result.Subscription.Id); err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}
	if gw.cancelCalls != 1 {
		t.Errorf("Expected 1 gateway cancel call, got %d", gw.cancelCalls)
	}

	// Local status still active; the gateway's event flips it.
	sub, err := service.store.GetSubscriptionById(ctx, result.Subscription.Id)
	if err != nil {
		t.Fatalf("GetSubscriptionById failed: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Errorf("Expected active until event arrives, got %s", sub.Status)
	}
	if !sub.CancelRequested {
		t.Error("Expected cancel_requested flag")
	}
}

func TestDebitBalance(t *testing.T) {
	service, dbService, _, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := dbService.ApplyLedgerEntry(ctx, store.LedgerEntryParams{
		UserId:         "user1",
		Currency:       "USD",
		Delta:          decimal.RequireFromString("100"),
		Kind:           "credit",
		IdempotencyKey: "seed",
	}); err != nil {
		t.Fatalf("seed credit failed: %v", err)
	}

	tx, err := service.DebitBalance(ctx, DebitParams{
		UserId:   "user1",
		Currency: "USD",
		Amount:   decimal.RequireFromString("30"),
		AdminId:  "admin1",
		Reason:   "service usage",
	})
	if err != nil {
		t.Fatalf("DebitBalance failed: %v", err)
	}
	if !tx.ResultingBalance.Equal(decimal.RequireFromString("70")) {
		t.Errorf("Expected balance 70, got %s", tx.ResultingBalance.String())
	}

	_, err = service.DebitBalance(ctx, DebitParams{
		UserId:   "user1",
		Currency: "USD",
		Amount:   decimal.RequireFromString("1000"),
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	_, err = service.DebitBalance(ctx, DebitParams{
		UserId:   "user1",
		Currency: "USD",
		Amount:   decimal.RequireFromString("-3"),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation for negative amount, got %v", err)
	}
}
