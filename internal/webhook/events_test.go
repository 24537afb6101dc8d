package webhook

import (
	"errors"
	"testing"

	"billing-ledger-go/internal/store"
)

func TestParseEvent_PrepaidSucceeded(t *testing.T) {
	raw := []byte(`{
		"id": "evt-1",
		"type": "payment_succeeded",
		"data": {"payment_ref": "gw-pay-1", "amount": "100.50", "currency": "USD"}
	}`)

	event, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if event.Type != EventPaymentSucceeded {
		t.Errorf("Expected payment_succeeded, got %s", event.Type)
	}
	if event.PaymentRef != "gw-pay-1" {
		t.Errorf("Expected payment_ref gw-pay-1, got %s", event.PaymentRef)
	}
	if event.Amount.String() != "100.5" {
		t.Errorf("Expected amount 100.5, got %s", event.Amount.String())
	}
}

func TestParseEvent_SubscriptionUpdated(t *testing.T) {
	raw := []byte(`{
		"id": "evt-2",
		"type": "subscription_updated",
		"data": {
			"subscription_ref": "gw-sub-1",
			"status": "past_due",
			"period_start": "2026-08-01T00:00:00Z",
			"period_end": "2026-09-01T00:00:00Z"
		}
	}`)

	event, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if event.SubscriptionRef != "gw-sub-1" {
		t.Errorf("Expected subscription_ref gw-sub-1, got %s", event.SubscriptionRef)
	}
	if event.Status != "past_due" {
		t.Errorf("Expected status past_due, got %s", event.Status)
	}
	if event.PeriodStart.IsZero() || event.PeriodEnd.IsZero() {
		t.Error("Expected period bounds to be parsed")
	}
}

func TestParseEvent_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"id": "e1", "type": "account_frozen", "data": {}}`},
		{"missing id", `{"type": "payment_succeeded", "data": {"payment_ref": "r", "amount": "1"}}`},
		{"missing payment_ref", `{"id": "e1", "type": "payment_succeeded", "data": {"amount": "1"}}`},
		{"bad amount", `{"id": "e1", "type": "payment_succeeded", "data": {"payment_ref": "r", "amount": "ten"}}`},
		{"missing subscription_ref", `{"id": "e1", "type": "subscription_updated", "data": {"status": "active"}}`},
		{"bad period", `{"id": "e1", "type": "subscription_updated", "data": {"subscription_ref": "s", "period_start": "yesterday", "period_end": "tomorrow"}}`},
		{"not json", `{{{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tc.raw))
			if !errors.Is(err, store.ErrValidation) {
				t.Fatalf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id": "evt-1"}`)
	secret := "whsec_test"

	if err := VerifySignature(payload, Sign(payload, secret), secret); err != nil {
		t.Fatalf("Valid signature rejected: %v", err)
	}

	if err := VerifySignature(payload, Sign(payload, "wrong"), secret); !errors.Is(err, store.ErrSignatureVerification) {
		t.Fatalf("Expected ErrSignatureVerification for wrong secret, got %v", err)
	}
	if err := VerifySignature(payload, "not-hex", secret); !errors.Is(err, store.ErrSignatureVerification) {
		t.Fatalf("Expected ErrSignatureVerification for malformed header, got %v", err)
	}
	if err := VerifySignature(payload, "", secret); !errors.Is(err, store.ErrSignatureVerification) {
		t.Fatalf("Expected ErrSignatureVerification for empty header, got %v", err)
	}

	tampered := append([]byte{}, payload...)
	tampered[0] = 'X'
	if err := VerifySignature(tampered, Sign(payload, secret), secret); !errors.Is(err, store.ErrSignatureVerification) {
		t.Fatalf("Expected ErrSignatureVerification for tampered payload, got %v", err)
	}
}
