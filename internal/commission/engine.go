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

package commission

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"billing-ledger-go/internal/metrics"
	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/notify"
	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const payoutLockShards = 64

// Engine owns the affiliate commission lifecycle. Commission creation and
// approval ride on subscription events; payout settlement is an operator
// action serialized per affiliate.
type Engine struct {
	store    store.Store
	notifier notify.Sink

	// Fixed-size shard table instead of a per-affiliate map, which would
	// grow without bound in a long-lived process. Two affiliates hashing to
	// the same shard serialize against each other, which is only a
	// throughput cost.
	payoutLocks [payoutLockShards]sync.Mutex
}

func NewEngine(st store.Store, notifier notify.Sink) *Engine {
	if notifier == nil {
		notifier = notify.LogSink{}
	}
	return &Engine{
		store:    st,
		notifier: notifier,
	}
}

// affiliateLock serializes payout processing per affiliate so two operators
// cannot settle overlapping commission sets.
func (e *Engine) affiliateLock(affiliateId string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(affiliateId))
	return &e.payoutLocks[h.Sum32()%payoutLockShards]
}

// OnSubscriptionCreated creates the referrer's pending commission for a new
// subscription. Users without a referrer produce no commission. The unique
// subscription constraint in the store makes retries safe.
func (e *Engine) OnSubscriptionCreated(ctx context.Context, sub *models.Subscription) (*models.AffiliateCommission, error) {
	user, err := e.store.GetUserById(ctx, sub.UserId)
	if err != nil {
		return nil, fmt.Errorf("loading subscriber: %w", err)
	}
	if user.ReferrerId == "" {
		return nil, nil
	}

	plan, err := e.store.GetPlanById(ctx, sub.PlanId)
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", sub.PlanId, err)
	}

	commission, err := e.store.CreateCommission(ctx, models.AffiliateCommission{
		AffiliateId:    user.ReferrerId,
		ReferredUserId: user.Id,
		SubscriptionId: sub.Id,
		Amount:         plan.Price.Mul(plan.CommissionRate),
		Rate:           plan.CommissionRate,
		Status:         models.CommissionStatusPending,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Commission already exists for subscription",
				zap.String("subscription_id", sub.Id))
			return nil, nil
		}
		return nil, err
	}

	zap.L().Info("Commission created",
		zap.String("commission_id", commission.Id),
		zap.String("affiliate_id", commission.AffiliateId),
		zap.String("amount", commission.Amount.String()))
	return commission, nil
}

// ListForAffiliate returns an affiliate's commissions, optionally filtered
// by status.
func (e *Engine) ListForAffiliate(ctx context.Context, affiliateId, status string) ([]models.AffiliateCommission, error) {
	switch status {
	case "", models.CommissionStatusPending, models.CommissionStatusApproved,
		models.CommissionStatusPaid, models.CommissionStatusRejected:
	default:
		return nil, fmt.Errorf("%w: unknown commission status %q", store.ErrValidation, status)
	}
	return e.store.ListCommissionsByAffiliate(ctx, affiliateId, status)
}

// Payout settles a set of approved commissions into one payout. Every
// commission must belong to the affiliate and be approved; any other state
// fails the whole batch before anything is written.
func (e *Engine) Payout(ctx context.Context, params store.PayoutParams) (*models.AffiliatePayout, error) {
	if params.AffiliateId == "" {
		return nil, fmt.Errorf("%w: affiliate id is required", store.ErrValidation)
	}
	if len(params.CommissionIds) == 0 {
		return nil, fmt.Errorf("%w: at least one commission id is required", store.ErrValidation)
	}

	lock := e.affiliateLock(params.AffiliateId)
	lock.Lock()
	defer lock.Unlock()

	commissions, err := e.store.GetCommissionsByIds(ctx, params.CommissionIds)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, c := range commissions {
		if c.AffiliateId != params.AffiliateId {
			return nil, fmt.Errorf("%w: commission %s does not belong to affiliate %s",
				store.ErrValidation, c.Id, params.AffiliateId)
		}
		if c.Status != models.CommissionStatusApproved {
			return nil, fmt.Errorf("%w: commission %s is %s, only approved commissions can be paid",
				store.ErrValidation, c.Id, c.Status)
		}
		total = total.Add(c.Amount)
	}

	payout, err := e.store.SettlePayout(ctx, params, total)
	if err != nil {
		return nil, err
	}

	if err := e.store.AppendAuditEntry(ctx, store.AuditEntryParams{
		ActorId:    params.ProcessedBy,
		Action:     "payout_processed",
		EntityKind: "affiliate_payout",
		EntityId:   payout.Id,
		Detail:     fmt.Sprintf("settled %d commissions for %s", len(params.CommissionIds), total.String()),
	}); err != nil {
		zap.L().Warn("Audit entry failed for payout", zap.String("payout_id", payout.Id), zap.Error(err))
	}

	metrics.PayoutsTotal.Inc()
	e.notifier.PayoutProcessed(params.AffiliateId, payout.Id, payout.Amount.String())
	zap.L().Info("Payout processed",
		zap.String("payout_id", payout.Id),
		zap.String("affiliate_id", params.AffiliateId),
		zap.String("amount", payout.Amount.String()),
		zap.Int("commissions", len(params.CommissionIds)))
	return payout, nil
}
