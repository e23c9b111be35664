package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionRow is the persisted collateral balance of one account/asset
// pair, in whole token units.
type PositionRow struct {
	Account   string
	Asset     string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// DebtRow is the persisted outstanding debt of one account.
type DebtRow struct {
	Account   string
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// OperationRecord is one journaled ledger operation.
type OperationRecord struct {
	ID      int64
	Kind    string
	Account string
	// Asset is set for collateral movements, nil for pure debt ops.
	Asset  *string
	Amount decimal.Decimal
	// HealthFactor is nil when the account carried no debt after the
	// operation, or when it could not be computed.
	HealthFactor *decimal.Decimal
	CreatedAt    time.Time
}

// HealthSample represents one scan observation of an account.
type HealthSample struct {
	Account       string
	Bucket        time.Time
	CollateralUSD decimal.Decimal
	Debt          decimal.Decimal
	HealthFactor  *decimal.Decimal
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// AlertRecord captures an emitted liquidation-risk alert for
// de-duplication/auditing.
type AlertRecord struct {
	ID           int64
	Account      string
	SampleTS     time.Time
	HealthFactor decimal.Decimal
	Threshold    decimal.Decimal
	Channels     []string
	CreatedAt    time.Time
}

// Health sample statuses.
const (
	SampleStatusOK      = "ok"
	SampleStatusAtRisk  = "at_risk"
	SampleStatusErrored = "errored"
)
