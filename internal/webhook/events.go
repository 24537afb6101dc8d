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

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

// EventType enumerates the closed set of gateway event shapes. Anything
// else is rejected before dispatch.
type EventType string

const (
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionDeleted  EventType = "subscription_deleted"
	EventInvoicePaymentFailed EventType = "invoice_payment_failed"
)

// Event is the validated, tagged form of a gateway payload. Which fields
// are populated depends on Type; ParseEvent enforces the required set.
type Event struct {
	Id              string
	Type            EventType
	PaymentRef      string
	Amount          decimal.Decimal
	Currency        string
	SubscriptionRef string
	Status          string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Reason          string
}

type envelope struct {
	Id   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type paymentData struct {
	PaymentRef      string `json:"payment_ref"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	SubscriptionRef string `json:"subscription_ref"`
	PeriodStart     string `json:"period_start"`
	PeriodEnd       string `json:"period_end"`
	Reason          string `json:"reason"`
}

type subscriptionData struct {
	SubscriptionRef string `json:"subscription_ref"`
	Status          string `json:"status"`
	PeriodStart     string `json:"period_start"`
	PeriodEnd       string `json:"period_end"`
}

// ParseEvent validates the raw payload against the known event shapes.
// Unknown or malformed payloads are rejected without state change.
func ParseEvent(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", store.ErrValidation, err)
	}
	if env.Id == "" {
		return nil, fmt.Errorf("%w: event id is required", store.ErrValidation)
	}

	event := &Event{Id: env.Id, Type: EventType(env.Type)}

	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var data paymentData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: malformed %s data: %v", store.ErrValidation, env.Type, err)
		}
		if data.PaymentRef == "" {
			return nil, fmt.Errorf("%w: %s requires payment_ref", store.ErrValidation, env.Type)
		}
		event.PaymentRef = data.PaymentRef
		event.Currency = data.Currency
		event.SubscriptionRef = data.SubscriptionRef
		event.Reason = data.Reason
		if event.Type == EventPaymentSucceeded {
			amount, err := decimal.NewFromString(data.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid amount %q: %v", store.ErrValidation, data.Amount, err)
			}
			event.Amount = amount
		}
		if data.PeriodStart != "" {
			start, end, err := parsePeriod(data.PeriodStart, data.PeriodEnd)
			if err != nil {
				return nil, err
			}
			event.PeriodStart, event.PeriodEnd = start, end
		}

	case EventSubscriptionUpdated, EventSubscriptionDeleted, EventInvoicePaymentFailed:
		var data subscriptionData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: malformed %s data: %v", store.ErrValidation, env.Type, err)
		}
		if data.SubscriptionRef == "" {
			return nil, fmt.Errorf("%w: %s requires subscription_ref", store.ErrValidation, env.Type)
		}
		event.SubscriptionRef = data.SubscriptionRef
		event.Status = data.Status
		if event.Type != EventInvoicePaymentFailed {
			start, end, err := parsePeriod(data.PeriodStart, data.PeriodEnd)
			if err != nil {
				return nil, err
			}
			event.PeriodStart, event.PeriodEnd = start, end
		}

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", store.ErrValidation, env.Type)
	}

	return event, nil
}

func parsePeriod(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid period_start %q: %v", store.ErrValidation, startStr, err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid period_end %q: %v", store.ErrValidation, endStr, err)
	}
	return start, end, nil
}

// VerifySignature checks the hex HMAC-SHA256 of the payload against the
// shared signing secret. The header value may carry a "sha256=" prefix.
func VerifySignature(payload []byte, signature, secret string) error {
	signature = strings.TrimPrefix(signature, "sha256=")
	expected, err := hex.DecodeString(signature)
	if err != nil || len(expected) == 0 {
		return fmt.Errorf("%w: malformed signature", store.ErrSignatureVerification)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return store.ErrSignatureVerification
	}
	return nil
}

// Sign computes the signature header value for a payload. Used by tests and
// by the replay tooling.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
