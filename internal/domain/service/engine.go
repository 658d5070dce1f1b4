//go:generate mockgen -source=engine.go -destination=../mocks/mock_engine.go -package=mocks

package service

import (
	"context"
	"time"

	"BondYield/internal/domain/models"

	"github.com/shopspring/decimal"
)

// YieldEngine computes yield-to-worst for a bond given the benchmark index value.
// A nil result means the engine could not produce a YTW; it is not an error.
type YieldEngine interface {
	CalculateYtw(ctx context.Context, bond *models.Bond, settlementDate time.Time, index decimal.Decimal) *decimal.Decimal
}
