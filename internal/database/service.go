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

package database

import (
	"context"
	"database/sql"
	"fmt"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(cfg.SeedDummyUsers); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceFromDB wraps an existing connection. Used by tests with an
// in-memory database.
func NewServiceFromDB(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

// HealthCheck verifies the database answers a trivial query.
func (s *Service) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Service) InitSchema(seedDummyUsers bool) error {
	schema := `
	-- Users referenced by the ledger and commission components.
	-- referrer_id links a user to the affiliate who referred them.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'user',
		referrer_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_users_referrer ON users(referrer_id);

	-- Billing plans.
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		currency TEXT NOT NULL,
		interval_months INTEGER NOT NULL DEFAULT 1,
		commission_rate TEXT NOT NULL DEFAULT '0'
	);

	-- Account Balances (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS account_balances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		last_transaction_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, currency)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_account_balances_user_currency ON account_balances(user_id, currency);

	-- Prepaid Transactions (Append-only Ledger - Cold Data)
	CREATE TABLE IF NOT EXISTS prepaid_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		delta TEXT NOT NULL,
		resulting_balance TEXT NOT NULL,
		kind TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_prepaid_transactions_user_currency ON prepaid_transactions(user_id, currency);
	CREATE INDEX IF NOT EXISTS idx_prepaid_transactions_created_at ON prepaid_transactions(created_at);

	-- Payments created by intake, transitioned only by webhook events.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		method TEXT NOT NULL DEFAULT '',
		gateway_ref TEXT NOT NULL DEFAULT '',
		plan_id TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id);
	CREATE INDEX IF NOT EXISTS idx_payments_gateway_ref ON payments(gateway_ref);
	CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);
	CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments(created_at);

	-- Subscriptions mirroring the gateway's state.
	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'trialing',
		current_period_start TIMESTAMP NOT NULL,
		current_period_end TIMESTAMP NOT NULL,
		gateway_subscription_id TEXT NOT NULL UNIQUE,
		retry_flagged INTEGER NOT NULL DEFAULT 0,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);

	-- Affiliate commissions; at most one per subscription.
	CREATE TABLE IF NOT EXISTS affiliate_commissions (
		id TEXT PRIMARY KEY,
		affiliate_id TEXT NOT NULL,
		referred_user_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		rate TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payout_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		paid_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_commissions_affiliate_status ON affiliate_commissions(affiliate_id, status);

	-- Affiliate payouts; commission rows point back via payout_id.
	CREATE TABLE IF NOT EXISTS affiliate_payouts (
		id TEXT PRIMARY KEY,
		affiliate_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Reconciliation outcomes; one row per payment.
	CREATE TABLE IF NOT EXISTS reconciliation_records (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL UNIQUE,
		gateway_amount TEXT NOT NULL,
		internal_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_recon_status ON reconciliation_records(status);

	-- Processed webhook events. The UNIQUE event id is the idempotency
	-- guarantee: the row is inserted in the same transaction as the
	-- handler's effects.
	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Append-only audit trail for admin actions.
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_entries(entity_kind, entity_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if seedDummyUsers {
		users := []struct {
			id       string
			name     string
			email    string
			referrer string
		}{
			{uuid.New().String(), "Alice Johnson", "alice.johnson@example.com", ""},
			{uuid.New().String(), "Bob Smith", "bob.smith@example.com", ""},
		}
		// Carol is referred by Alice so commission flows are exercisable.
		carolReferrer := users[0].id
		users = append(users, struct {
			id       string
			name     string
			email    string
			referrer string
		}{uuid.New().String(), "Carol Williams", "carol.williams@example.com", carolReferrer})

		for _, user := range users {
			_, err := s.db.Exec(queryInsertUser, user.id, user.name, user.email, "user", user.referrer)
			if err != nil {
				zap.L().Error("Failed to insert dummy user", zap.String("name", user.name), zap.Error(err))
			} else {
				zap.L().Info("Dummy user created", zap.String("id", user.id), zap.String("name", user.name))
			}
		}
	}

	return nil
}
