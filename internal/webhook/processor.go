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
	"context"
	"errors"
	"fmt"
	"time"

	"billing-ledger-go/internal/cache"
	"billing-ledger-go/internal/metrics"
	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/notify"
	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Processor turns verified gateway events into exactly-once state changes.
// Deduplication is two-layered: a TTL cache absorbs hot replays without a
// database round trip, and the durable event registry inside each store
// transaction guarantees at-most-once application across restarts.
type Processor struct {
	store    store.Store
	dedupe   *cache.TTLStore
	notifier notify.Sink
	billing  *models.BillingConfig
	secret   string
	timeout  time.Duration
	epsilon  decimal.Decimal
}

type ProcessorParams struct {
	Store         store.Store
	Dedupe        *cache.TTLStore
	Notifier      notify.Sink
	Billing       *models.BillingConfig
	SigningSecret string
	Timeout       time.Duration
	Epsilon       decimal.Decimal
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("%w: store is required", store.ErrValidation)
	}
	if params.SigningSecret == "" {
		return nil, fmt.Errorf("%w: signing secret is required", store.ErrValidation)
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.Notifier == nil {
		params.Notifier = notify.LogSink{}
	}
	if params.Billing == nil {
		params.Billing = &models.BillingConfig{}
	}
	return &Processor{
		store:    params.Store,
		dedupe:   params.Dedupe,
		notifier: params.Notifier,
		billing:  params.Billing,
		secret:   params.SigningSecret,
		timeout:  params.Timeout,
		epsilon:  params.Epsilon,
	}, nil
}

// Receive verifies, parses and applies one raw gateway delivery. A nil
// return means the delivery may be acknowledged; duplicates are absorbed
// as success. Signature and shape failures happen before any state change.
func (p *Processor) Receive(ctx context.Context, payload []byte, signature string) error {
	if err := VerifySignature(payload, signature, p.secret); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "signature_failed").Inc()
		return err
	}

	event, err := ParseEvent(payload)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return err
	}

	if p.dedupe != nil && p.dedupe.Contains(event.Id) {
		zap.L().Info("Duplicate event absorbed from cache", zap.String("event_id", event.Id))
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.apply(ctx, event)
	metrics.WebhookProcessingSeconds.WithLabelValues(string(event.Type)).Observe(time.Since(start).Seconds())

	if errors.Is(err, store.ErrDuplicateEvent) {
		zap.L().Info("Duplicate event absorbed", zap.String("event_id", event.Id))
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
		err = nil
	}
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "failed").Inc()
		zap.L().Error("Event processing failed",
			zap.String("event_id", event.Id),
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return err
	}

	if p.dedupe != nil {
		p.dedupe.Put(event.Id)
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "applied").Inc()
	return nil
}

func (p *Processor) apply(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventPaymentSucceeded:
		return p.applyPaymentSucceeded(ctx, event)
	case EventPaymentFailed:
		return p.applyPaymentFailed(ctx, event)
	case EventSubscriptionUpdated:
		return p.applySubscriptionState(ctx, event, event.Status)
	case EventSubscriptionDeleted:
		status := event.Status
		if status == "" {
			status = models.SubscriptionStatusCanceled
		}
		return p.applySubscriptionState(ctx, event, status)
	case EventInvoicePaymentFailed:
		return p.store.ApplyInvoicePaymentFailed(ctx, event.Id, event.SubscriptionRef)
	default:
		return fmt.Errorf("%w: unknown event type %q", store.ErrValidation, event.Type)
	}
}

func (p *Processor) applyPaymentSucceeded(ctx context.Context, event *Event) error {
	payment, err := p.store.GetPaymentByGatewayRef(ctx, event.PaymentRef)
	if errors.Is(err, store.ErrNotFound) {
		// Renewal invoices have no local payment row; only the first cycle
		// does. Anything else with an unknown ref is acknowledged so the
		// gateway stops redelivering; reconciliation owns orphans.
		if event.SubscriptionRef != "" {
			return p.store.ApplyInvoicePaid(ctx, store.InvoicePaidParams{
				EventId:               event.Id,
				GatewaySubscriptionId: event.SubscriptionRef,
				PeriodStart:           event.PeriodStart,
				PeriodEnd:             event.PeriodEnd,
			})
		}
		zap.L().Warn("Event references unknown payment, acknowledged without effect",
			zap.String("event_id", event.Id),
			zap.String("payment_ref", event.PaymentRef))
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "orphaned").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving payment %s: %w", event.PaymentRef, err)
	}

	if payment.Kind == models.PaymentKindSubscription {
		return p.store.ApplyInvoicePaid(ctx, store.InvoicePaidParams{
			EventId:               event.Id,
			PaymentId:             payment.Id,
			GatewaySubscriptionId: event.SubscriptionRef,
			PeriodStart:           event.PeriodStart,
			PeriodEnd:             event.PeriodEnd,
		})
	}

	status, notes := p.classify(payment.Amount, event.Amount)
	tx, err := p.store.ApplyPrepaidPaymentSucceeded(ctx, store.PrepaidSucceededParams{
		EventId:        event.Id,
		PaymentId:      payment.Id,
		GatewayAmount:  event.Amount,
		BonusAmount:    p.billing.BonusFor(payment.Amount),
		IdempotencyKey: "pay-credit:" + payment.Id,
		ReconStatus:    status,
		ReconNotes:     notes,
	})
	if err != nil {
		return err
	}
	zap.L().Info("Prepaid payment credited",
		zap.String("payment_id", payment.Id),
		zap.String("user_id", payment.UserId),
		zap.String("balance", tx.ResultingBalance.String()))
	return nil
}

func (p *Processor) applyPaymentFailed(ctx context.Context, event *Event) error {
	payment, err := p.store.GetPaymentByGatewayRef(ctx, event.PaymentRef)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Event references unknown payment, acknowledged without effect",
			zap.String("event_id", event.Id),
			zap.String("payment_ref", event.PaymentRef))
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "orphaned").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving payment %s: %w", event.PaymentRef, err)
	}
	if err := p.store.ApplyPaymentFailed(ctx, event.Id, payment.Id, event.Reason); err != nil {
		return err
	}
	p.notifier.PaymentFailed(payment.UserId, payment.Id, event.Reason)
	return nil
}

func (p *Processor) applySubscriptionState(ctx context.Context, event *Event, status string) error {
	switch status {
	case models.SubscriptionStatusTrialing, models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue, models.SubscriptionStatusCanceled,
		models.SubscriptionStatusEnded:
	default:
		return fmt.Errorf("%w: unknown subscription status %q", store.ErrValidation, status)
	}
	return p.store.ApplySubscriptionState(ctx, store.SubscriptionStateParams{
		EventId:               event.Id,
		GatewaySubscriptionId: event.SubscriptionRef,
		Status:                status,
		PeriodStart:           event.PeriodStart,
		PeriodEnd:             event.PeriodEnd,
	})
}

// classify compares the recorded intake amount against what the gateway
// reported. Differences within epsilon count as matched.
func (p *Processor) classify(recorded, reported decimal.Decimal) (string, string) {
	diff := recorded.Sub(reported).Abs()
	if diff.LessThanOrEqual(p.epsilon) {
		return models.ReconStatusMatched, ""
	}
	return models.ReconStatusDiscrepancy,
		fmt.Sprintf("amount mismatch: recorded %s, gateway reported %s", recorded.String(), reported.String())
}
