package usecase

import (
	"context"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	domsvc "BondYield/internal/domain/service"
	"BondYield/pkg/util"

	"github.com/shopspring/decimal"
)

// YtwCalculator answers "what is this bond's yield-to-worst as of a date" by
// selecting a benchmark index, fetching its value and delegating to the engine.
// It holds no mutable state and is safe for concurrent use.
type YtwCalculator struct {
	engine  domsvc.YieldEngine
	indices domrepo.IndexProvider
	clock   domrepo.TimeSource
}

func NewYtwCalculator(engine domsvc.YieldEngine, indices domrepo.IndexProvider, clock domrepo.TimeSource) *YtwCalculator {
	return &YtwCalculator{engine: engine, indices: indices, clock: clock}
}

// CalculateYtwForBond computes YTW settling today, as reported by the time source.
func (c *YtwCalculator) CalculateYtwForBond(ctx context.Context, bond *models.Bond) (*decimal.Decimal, error) {
	if bond == nil {
		return nil, models.ErrNilBond
	}
	return c.CalculateYtwForBondOn(ctx, bond, util.DateOnly(c.clock.Now()))
}

// CalculateYtwForBondOn computes YTW for the given settlement date.
// Index provider errors are returned unchanged and the engine is not called.
// A nil result with a nil error means the engine could not produce a YTW.
func (c *YtwCalculator) CalculateYtwForBondOn(ctx context.Context, bond *models.Bond, settlementDate time.Time) (*decimal.Decimal, error) {
	if bond == nil {
		return nil, models.ErrNilBond
	}

	code := SelectIndex(bond)

	index, err := c.indices.GetIndex(ctx, code, settlementDate)
	if err != nil {
		return nil, err
	}
	// the caller may have gone away while the provider was finishing
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.engine.CalculateYtw(ctx, bond, settlementDate, index), nil
}
