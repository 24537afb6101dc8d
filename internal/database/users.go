package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, queryGetUserById, userId).Scan(
		&user.Id, &user.Name, &user.Email, &user.Role, &user.ReferrerId, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, queryGetUserByEmail, email).Scan(
		&user.Id, &user.Name, &user.Email, &user.Role, &user.ReferrerId, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user with email %s", store.ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Id, &user.Name, &user.Email, &user.Role,
			&user.ReferrerId, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Service) CreateUser(ctx context.Context, userId, name, email, referrerId string) (*models.User, error) {
	if _, err := s.db.ExecContext(ctx, queryInsertUser, userId, name, email, "user", referrerId); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return s.GetUserById(ctx, userId)
}

func (s *Service) GetPlanById(ctx context.Context, planId string) (*models.Plan, error) {
	var plan models.Plan
	var priceStr, rateStr string
	err := s.db.QueryRowContext(ctx, queryGetPlanById, planId).Scan(
		&plan.Id, &plan.Name, &priceStr, &plan.Currency, &plan.IntervalMonths, &rateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan %s", store.ErrNotFound, planId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	plan.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan price '%s': %w", priceStr, err)
	}
	plan.CommissionRate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commission rate '%s': %w", rateStr, err)
	}
	return &plan, nil
}

func (s *Service) UpsertPlan(ctx context.Context, plan models.Plan) error {
	_, err := s.db.ExecContext(ctx, queryUpsertPlan,
		plan.Id, plan.Name, plan.Price.String(), plan.Currency, plan.IntervalMonths, plan.CommissionRate.String())
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}
