package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// YtwResult is a persisted outcome of a batch YTW computation.
// Ytw is nil when the engine produced no result; Error is set when the
// index fetch failed.
type YtwResult struct {
	JobID          string
	CUSIP          string
	IndexCode      IndexCode
	SettlementDate time.Time
	Ytw            *decimal.Decimal
	Error          string
	ComputedAt     time.Time
}

// YtwBatch is the queue payload of a batch YTW job.
type YtwBatch struct {
	JobID          string  `json:"job_id,omitempty"`
	SettlementDate string  `json:"settlement_date,omitempty"`
	Bonds          []*Bond `json:"bonds"`
}
