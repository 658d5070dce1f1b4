package engine

import (
	"context"
	"errors"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	domsvc "BondYield/internal/domain/service"
	xhttp "BondYield/pkg/http"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/util"

	"github.com/shopspring/decimal"
)

const ytwPath = "/ytw"

type ytwRequest struct {
	Bond           *models.Bond    `json:"bond"`
	SettlementDate string          `json:"settlement_date"`
	Index          decimal.Decimal `json:"index"`
}

type ytwResponse struct {
	Ytw *decimal.Decimal `json:"ytw"`
}

// HTTPYieldEngine delegates YTW math to a remote calculation service.
// Any failure to get an answer is reported as "no result", never as an error.
type HTTPYieldEngine struct {
	base     *httpServiceBase
	attempts int
	log      *applogger.Logger
	metrics  domrepo.Metrics
}

type Option func(*HTTPYieldEngine)

func WithRetries(n int) Option {
	return func(e *HTTPYieldEngine) { e.attempts = n + 1 }
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(e *HTTPYieldEngine) { e.metrics = m }
}

func NewHTTPYieldEngine(baseURL string, client *xhttp.Client, retryDelay time.Duration, l *applogger.Logger, opts ...Option) *HTTPYieldEngine {
	if l == nil {
		l = applogger.Nop()
	}
	e := &HTTPYieldEngine{
		base:     newHTTPServiceBase(baseURL, client, retryDelay),
		attempts: 1,
		log:      l,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPYieldEngine) CalculateYtw(ctx context.Context, bond *models.Bond, settlementDate time.Time, index decimal.Decimal) *decimal.Decimal {
	start := time.Now()
	req := ytwRequest{Bond: bond, SettlementDate: util.FormatDate(settlementDate), Index: index}

	var resp ytwResponse
	err := e.base.postJSONWithRetry(ctx, ytwPath, req, &resp, e.attempts)
	if e.metrics != nil {
		e.metrics.RecordLatency("engine_ytw", time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("engine")
		}
		fields := []applogger.Field{
			applogger.String("cusip", bond.CUSIP),
			applogger.Date("settlement_date", settlementDate),
			applogger.Error(errors.Join(models.ErrEngineUnavailable, err)),
		}
		if ctx.Err() != nil {
			e.log.Warn("yield engine call abandoned", fields...)
		} else {
			e.log.Error("yield engine call failed", fields...)
		}
		return nil
	}
	return resp.Ytw
}

var _ domsvc.YieldEngine = (*HTTPYieldEngine)(nil)
