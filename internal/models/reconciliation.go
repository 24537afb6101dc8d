package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation record statuses.
const (
	ReconStatusMatched     = "matched"
	ReconStatusDiscrepancy = "discrepancy"
	ReconStatusResolved    = "resolved"
)

// ReconciliationRecord captures one comparison of an internal payment
// against the gateway's reported amount. Upserted by PaymentId, never
// duplicated.
type ReconciliationRecord struct {
	Id             string          `db:"id"`
	PaymentId      string          `db:"payment_id"`
	GatewayAmount  decimal.Decimal `db:"gateway_amount"`
	InternalAmount decimal.Decimal `db:"internal_amount"`
	Status         string          `db:"status"`
	Notes          string          `db:"notes"`
	ResolvedBy     string          `db:"resolved_by"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// BatchReconcileSummary is returned by a batch reconciliation run.
type BatchReconcileSummary struct {
	Matched         int
	Discrepancies   int
	TotalAmountDiff decimal.Decimal
	StalePending    int
	Scanned         int
}
