package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	"BondYield/internal/service/metrics"
	"BondYield/internal/service/ratelimit"
	"BondYield/internal/usecase"
	xhttp "BondYield/pkg/http"
	xlogger "BondYield/pkg/logger"
	"BondYield/pkg/util"

	"github.com/labstack/echo/v4"
)

// YtwEchoHandler serves YTW calculations, index lookups and fixing ingestion.
type YtwEchoHandler struct {
	logger    *xlogger.Logger
	calc      *usecase.YtwCalculator
	indices   domrepo.IndexProvider
	clock     domrepo.TimeSource
	proc      *usecase.IndexRateProcessor
	submitter *usecase.YtwBatchSubmitter
	history   domrepo.IndexHistory
	recorder  domrepo.Metrics

	limiter *ratelimit.Limiter
	rps     float64
	burst   int
}

type HandlerOption func(*YtwEchoHandler)

// WithRateLimit enables a per-client token bucket on every /api route.
func WithRateLimit(l *ratelimit.Limiter, rps float64, burst int) HandlerOption {
	return func(h *YtwEchoHandler) {
		h.limiter, h.rps, h.burst = l, rps, burst
	}
}

// WithBatchSubmitter enables POST /api/ytw/batch.
func WithBatchSubmitter(s *usecase.YtwBatchSubmitter) HandlerOption {
	return func(h *YtwEchoHandler) { h.submitter = s }
}

// WithIndexHistory enables GET /api/index/:code/history.
func WithIndexHistory(hist domrepo.IndexHistory) HandlerOption {
	return func(h *YtwEchoHandler) { h.history = hist }
}

func NewYtwEchoHandler(
	logger *xlogger.Logger,
	calc *usecase.YtwCalculator,
	indices domrepo.IndexProvider,
	clock domrepo.TimeSource,
	proc *usecase.IndexRateProcessor,
	recorder domrepo.Metrics,
	opts ...HandlerOption,
) *YtwEchoHandler {
	metrics.Register()
	h := &YtwEchoHandler{
		logger:   logger,
		calc:     calc,
		indices:  indices,
		clock:    clock,
		proc:     proc,
		recorder: recorder,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *YtwEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	if h.limiter != nil {
		g.Use(ratelimit.Middleware(h.limiter, h.rps, h.burst))
	}
	g.POST("/ytw", h.Ytw)
	g.POST("/ytw/batch", h.YtwBatch)
	g.GET("/index/select", h.SelectIndex)
	g.GET("/index/:code", h.IndexValue)
	g.GET("/index/:code/history", h.IndexHistory)
	g.POST("/index-rates", h.IngestRate)
}

// settlement resolves an optional YYYY-MM-DD date, defaulting to today.
func (h *YtwEchoHandler) settlement(s string) time.Time {
	if d, ok := util.ParseDate(s); ok {
		return d
	}
	return util.DateOnly(h.clock.Now())
}

func (h *YtwEchoHandler) Ytw(c echo.Context) error {
	defer h.observe(c, "ytw", time.Now())

	req := &models.YtwRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	bond, err := toBond(req.Bond)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	date := h.settlement(req.SettlementDate)

	ytw, err := h.calc.CalculateYtwForBondOn(c.Request().Context(), bond, date)
	if err != nil {
		h.recorder.RecordYtw(usecase.OutcomeError)
		return h.fail(c, "ytw", err)
	}
	if ytw == nil {
		h.recorder.RecordYtw(usecase.OutcomeNone)
	} else {
		h.recorder.RecordYtw(usecase.OutcomeValue)
	}
	return xhttp.SuccessResponse(c, ytwResponse(bond, usecase.SelectIndex(bond), date, ytw))
}

func (h *YtwEchoHandler) YtwBatch(c echo.Context) error {
	defer h.observe(c, "ytw_batch", time.Now())

	if h.submitter == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("batch jobs are disabled"))
	}
	req := &models.YtwBatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	bonds := make([]*models.Bond, 0, len(req.Bonds))
	for i, br := range req.Bonds {
		b, err := toBond(br)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("bonds[%d]: %v", i, err))
		}
		bonds = append(bonds, b)
	}
	id, err := h.submitter.Submit(c.Request().Context(), bonds, req.SettlementDate)
	if err != nil {
		return h.fail(c, "ytw_batch", err)
	}
	return xhttp.AcceptedResponse(c, map[string]interface{}{"job_id": id, "bonds": len(bonds)})
}

func (h *YtwEchoHandler) SelectIndex(c echo.Context) error {
	req := &models.IndexSelectRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	code := usecase.SelectIndex(&models.Bond{
		CouponType: models.CouponType(req.CouponType),
		BondType:   models.BondType(req.BondType),
	})
	return xhttp.SuccessResponse(c, map[string]models.IndexCode{"index_code": code})
}

func (h *YtwEchoHandler) IndexValue(c echo.Context) error {
	defer h.observe(c, "index_value", time.Now())

	req := &models.IndexValueRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	code := models.IndexCode(req.Code)
	date := h.settlement(req.Date)

	v, err := h.indices.GetIndex(c.Request().Context(), code, date)
	if err != nil {
		return h.fail(c, "index_value", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, map[string]string{
		"code": string(code),
		"date": util.FormatDate(date),
		"rate": v.String(),
	})
}

const (
	defaultHistoryDays  = 30
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func (h *YtwEchoHandler) IndexHistory(c echo.Context) error {
	defer h.observe(c, "index_history", time.Now())

	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("index history is disabled"))
	}
	req := &models.IndexHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	to := util.ParseTimeDefault(req.To, h.clock.Now())
	from := util.ParseTimeDefault(req.From, to.AddDate(0, 0, -defaultHistoryDays))
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from is after to").
			WithParam("from", util.FormatDate(from)).
			WithParam("to", util.FormatDate(to)))
	}
	limit := util.ParseIntDefault(req.Limit, defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	rates, err := h.history.Query(c.Request().Context(), models.IndexCode(req.Code), from, to, limit)
	if err != nil {
		return h.fail(c, "index_history", err)
	}
	if len(rates) == 0 {
		return xhttp.NotFoundResponse(c, xhttp.NotFoundErrorf("no %s fixings between %s and %s", req.Code, util.FormatDate(from), util.FormatDate(to)))
	}
	return xhttp.SuccessResponse(c, rates)
}

func (h *YtwEchoHandler) IngestRate(c echo.Context) error {
	defer h.observe(c, "index_rates", time.Now())

	req := &models.IndexRateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, _ := util.ParseDate(req.Date)
	rate, err := util.ParseDecimal(req.Rate)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("rate must be a decimal number"))
	}
	r := &models.IndexRate{Code: models.IndexCode(req.Code), Date: date, Rate: rate, Source: req.Source}

	if err := h.proc.Process(c.Request().Context(), r); err != nil {
		return h.fail(c, "index_rates", err)
	}
	if h.proc.Backend() == usecase.BackendKafka {
		return xhttp.AcceptedResponse(c, r)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *YtwEchoHandler) observe(c echo.Context, endpoint string, start time.Time) {
	metrics.Observe(endpoint, start, c.Response().Status >= http.StatusInternalServerError)
}

// fail maps domain errors onto HTTP errors.
func (h *YtwEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNilBond):
		return xhttp.AppErrorResponse(c, xhttp.RequiredError("bond").WithError(err))
	case errors.Is(err, models.ErrIndexNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no index fixing for that date").WithError(err))
	case errors.Is(err, models.ErrUnknownIndexCode):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logger.Warn(op+" aborted", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("request timed out").WithError(err))
	}
	h.logger.Error(op+" failed", xlogger.Error(err))
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}
