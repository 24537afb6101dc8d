package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func testService(t *testing.T, baseURL string, maxAttempts int) *Service {
	t.Helper()
	service, err := NewService(models.GatewayConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return service
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, time.Second},
		{4, 2 * time.Second},
		{5, 2 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := policy.Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestGetPayment_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"id": "gw-pay-1", "amount": "100.50", "currency": "USD", "status": "succeeded"}`)
	}))
	defer srv.Close()

	service := testService(t, srv.URL, 3)
	payment, err := service.GetPayment(context.Background(), "gw-pay-1")
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if !payment.Amount.Equal(decimal.NewFromFloat(100.50)) {
		t.Errorf("Expected amount 100.5, got %s", payment.Amount.String())
	}
}

func TestGetPayment_ExhaustsAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	service := testService(t, srv.URL, 3)
	_, err := service.GetPayment(context.Background(), "gw-pay-1")
	if !errors.Is(err, store.ErrGateway) {
		t.Fatalf("Expected ErrGateway, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestGetPayment_NotFoundIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	service := testService(t, srv.URL, 3)
	_, err := service.GetPayment(context.Background(), "gw-pay-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected 1 attempt for 404, got %d", calls)
	}
}

func TestCreatePaymentIntent_SendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id": "intent-1", "client_secret": "cs_123", "status": "requires_payment", "amount": "100", "currency": "USD"}`)
	}))
	defer srv.Close()

	service := testService(t, srv.URL, 3)
	intent, err := service.CreatePaymentIntent(context.Background(), IntentParams{
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		Method:         "card",
		ReferenceId:    "pay-1",
		IdempotencyKey: "pay:pay-1",
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent failed: %v", err)
	}
	if gotKey != "pay:pay-1" {
		t.Errorf("Expected Idempotency-Key pay:pay-1, got %q", gotKey)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if intent.Id != "intent-1" {
		t.Errorf("Expected intent-1, got %s", intent.Id)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	service, err := NewService(models.GatewayConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 5 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: time.Hour, // next retry would wait an hour
		MaxBackoff:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = service.GetPayment(ctx, "gw-pay-1")
	if !errors.Is(err, store.ErrGateway) {
		t.Fatalf("Expected ErrGateway after cancellation, got %v", err)
	}
}
