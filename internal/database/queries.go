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

const (
	// User queries
	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, role, referrer_id) VALUES (?, ?, ?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, role, referrer_id, created_at, updated_at
		FROM users
		WHERE id = ?`

	queryGetUserByEmail = `
		SELECT id, name, email, role, referrer_id, created_at, updated_at
		FROM users
		WHERE email = ?`

	queryGetUsers = `
		SELECT id, name, email, role, referrer_id, created_at, updated_at
		FROM users
		ORDER BY name`

	// Plan queries
	queryUpsertPlan = `
		INSERT INTO plans (id, name, price, currency, interval_months, commission_rate)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			currency = excluded.currency,
			interval_months = excluded.interval_months,
			commission_rate = excluded.commission_rate`

	queryGetPlanById = `
		SELECT id, name, price, currency, interval_months, commission_rate
		FROM plans
		WHERE id = ?`

	// Balance queries
	queryGetBalance = `
		SELECT balance
		FROM account_balances
		WHERE user_id = ? AND currency = ?`

	queryGetAllBalances = `
		SELECT id, user_id, currency, balance, COALESCE(last_transaction_id, ''), version, updated_at
		FROM account_balances
		WHERE user_id = ? AND balance != '0'
		ORDER BY currency`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE user_id = ? AND currency = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, currency, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND currency = ? AND version = ?`

	// Ledger queries
	queryCheckIdempotencyKey = `
		SELECT id, user_id, currency, delta, resulting_balance, kind, COALESCE(reference_id, ''), idempotency_key, created_at
		FROM prepaid_transactions
		WHERE idempotency_key = ?
		LIMIT 1`

	queryInsertLedgerTransaction = `
		INSERT INTO prepaid_transactions (
			id, user_id, currency, delta, resulting_balance, kind, reference_id, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, user_id, currency, delta, resulting_balance, kind, COALESCE(reference_id, ''), idempotency_key, created_at
		FROM prepaid_transactions
		WHERE user_id = ? AND currency = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	// Payment queries
	queryInsertPayment = `
		INSERT INTO payments (id, user_id, kind, amount, currency, status, method, gateway_ref, plan_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?)`

	queryGetPaymentById = `
		SELECT id, user_id, kind, amount, currency, status, method, gateway_ref, plan_id, fail_reason, created_at, updated_at
		FROM payments
		WHERE id = ?`

	queryGetPaymentByGatewayRef = `
		SELECT id, user_id, kind, amount, currency, status, method, gateway_ref, plan_id, fail_reason, created_at, updated_at
		FROM payments
		WHERE gateway_ref = ?
		LIMIT 1`

	querySetPaymentGatewayRef = `
		UPDATE payments
		SET gateway_ref = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	queryMarkPaymentSucceeded = `
		UPDATE payments
		SET status = 'succeeded', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`

	queryMarkPaymentFailed = `
		UPDATE payments
		SET status = 'failed', fail_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`

	queryListSucceededWithoutMatch = `
		SELECT p.id, p.user_id, p.kind, p.amount, p.currency, p.status, p.method, p.gateway_ref, p.plan_id, p.fail_reason, p.created_at, p.updated_at
		FROM payments p
		LEFT JOIN reconciliation_records r ON r.payment_id = p.id AND r.status IN ('matched', 'resolved')
		WHERE p.status = 'succeeded'
		  AND p.created_at >= ? AND p.created_at < ?
		  AND r.id IS NULL
		ORDER BY p.created_at`

	queryCountStalePending = `
		SELECT COUNT(*)
		FROM payments
		WHERE status = 'pending' AND created_at < ?`

	// Subscription queries
	queryInsertSubscription = `
		INSERT INTO subscriptions (
			id, user_id, plan_id, status, current_period_start, current_period_end,
			gateway_subscription_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetSubscriptionById = `
		SELECT id, user_id, plan_id, status, current_period_start, current_period_end,
		       gateway_subscription_id, retry_flagged, cancel_requested, created_at, updated_at
		FROM subscriptions
		WHERE id = ?`

	queryGetSubscriptionByGatewayId = `
		SELECT id, user_id, plan_id, status, current_period_start, current_period_end,
		       gateway_subscription_id, retry_flagged, cancel_requested, created_at, updated_at
		FROM subscriptions
		WHERE gateway_subscription_id = ?`

	// Applies only when the event is not older than the stored period.
	queryApplySubscriptionState = `
		UPDATE subscriptions
		SET status = ?, current_period_start = ?, current_period_end = ?,
		    retry_flagged = 0, updated_at = CURRENT_TIMESTAMP
		WHERE gateway_subscription_id = ? AND current_period_start <= ?`

	queryAdvanceSubscriptionPeriod = `
		UPDATE subscriptions
		SET status = 'active', current_period_start = ?, current_period_end = ?,
		    retry_flagged = 0, updated_at = CURRENT_TIMESTAMP
		WHERE gateway_subscription_id = ? AND current_period_start <= ?`

	queryFlagSubscriptionRetry = `
		UPDATE subscriptions
		SET retry_flagged = 1, updated_at = CURRENT_TIMESTAMP
		WHERE gateway_subscription_id = ?`

	queryMarkCancelRequested = `
		UPDATE subscriptions
		SET cancel_requested = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	// Commission queries
	queryInsertCommission = `
		INSERT INTO affiliate_commissions (
			id, affiliate_id, referred_user_id, subscription_id, amount, rate, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`

	queryGetCommissionById = `
		SELECT id, affiliate_id, referred_user_id, subscription_id, amount, rate, status, payout_id, created_at, paid_at
		FROM affiliate_commissions
		WHERE id = ?`

	queryListCommissionsByAffiliate = `
		SELECT id, affiliate_id, referred_user_id, subscription_id, amount, rate, status, payout_id, created_at, paid_at
		FROM affiliate_commissions
		WHERE affiliate_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at`

	queryApprovePendingCommission = `
		UPDATE affiliate_commissions
		SET status = 'approved'
		WHERE subscription_id = ? AND status = 'pending'`

	queryMarkCommissionPaid = `
		UPDATE affiliate_commissions
		SET status = 'paid', payout_id = ?, paid_at = ?
		WHERE id = ? AND affiliate_id = ? AND status = 'approved'`

	queryInsertPayout = `
		INSERT INTO affiliate_payouts (id, affiliate_id, amount, method, processed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	// Reconciliation queries
	queryUpsertReconciliation = `
		INSERT INTO reconciliation_records (id, payment_id, gateway_amount, internal_amount, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO UPDATE SET
			gateway_amount = excluded.gateway_amount,
			internal_amount = excluded.internal_amount,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		WHERE reconciliation_records.status != 'resolved'`

	queryGetReconciliationByPayment = `
		SELECT id, payment_id, gateway_amount, internal_amount, status, notes, resolved_by, created_at, updated_at
		FROM reconciliation_records
		WHERE payment_id = ?`

	queryGetReconciliationById = `
		SELECT id, payment_id, gateway_amount, internal_amount, status, notes, resolved_by, created_at, updated_at
		FROM reconciliation_records
		WHERE id = ?`

	queryListDiscrepancies = `
		SELECT id, payment_id, gateway_amount, internal_amount, status, notes, resolved_by, created_at, updated_at
		FROM reconciliation_records
		WHERE status = 'discrepancy'
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryResolveDiscrepancy = `
		UPDATE reconciliation_records
		SET status = 'resolved', notes = ?, resolved_by = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'discrepancy'`

	// Webhook event registry
	queryCheckEventProcessed = `
		SELECT 1 FROM webhook_events WHERE event_id = ? LIMIT 1`

	queryInsertWebhookEvent = `
		INSERT INTO webhook_events (event_id, event_type) VALUES (?, ?)`

	// Audit trail
	queryInsertAuditEntry = `
		INSERT INTO audit_entries (id, actor_id, action, entity_kind, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)
