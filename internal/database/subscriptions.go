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
)

func (s *Service) CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	if sub.Id == "" {
		sub.Id = uuid.New().String()
	}
	if sub.Status == "" {
		sub.Status = models.SubscriptionStatusTrialing
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, queryInsertSubscription,
		sub.Id, sub.UserId, sub.PlanId, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.GatewaySubscriptionId, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return &sub, nil
}

func (s *Service) GetSubscriptionById(ctx context.Context, subscriptionId string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, queryGetSubscriptionById, subscriptionId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, subscriptionId)
	}
	return sub, err
}

func (s *Service) GetSubscriptionByGatewayId(ctx context.Context, gatewaySubscriptionId string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, queryGetSubscriptionByGatewayId, gatewaySubscriptionId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription with gateway id %s", store.ErrNotFound, gatewaySubscriptionId)
	}
	return sub, err
}

// MarkSubscriptionCancelRequested flags a local cancel request. The actual
// status change arrives later via subscription_updated/deleted events.
func (s *Service) MarkSubscriptionCancelRequested(ctx context.Context, subscriptionId string) error {
	result, err := s.db.ExecContext(ctx, queryMarkCancelRequested, subscriptionId)
	if err != nil {
		return fmt.Errorf("failed to mark cancel requested: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: subscription %s", store.ErrNotFound, subscriptionId)
	}
	return nil
}

func scanSubscription(scanner rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var retryFlagged, cancelRequested int
	err := scanner.Scan(&sub.Id, &sub.UserId, &sub.PlanId, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.GatewaySubscriptionId, &retryFlagged, &cancelRequested,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.RetryFlagged = retryFlagged != 0
	sub.CancelRequested = cancelRequested != 0
	return &sub, nil
}
