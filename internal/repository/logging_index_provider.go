package repository

import (
	"context"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	applogger "BondYield/pkg/logger"

	"github.com/shopspring/decimal"
)

// LoggingIndexProvider records every lookup in logs and metrics and passes
// values and errors through untouched.
type LoggingIndexProvider struct {
	next    domrepo.IndexProvider
	l       *applogger.Logger
	metrics domrepo.Metrics
}

func NewLoggingIndexProvider(next domrepo.IndexProvider, l *applogger.Logger, m domrepo.Metrics) *LoggingIndexProvider {
	if l == nil {
		l = applogger.Nop()
	}
	return &LoggingIndexProvider{next: next, l: l, metrics: m}
}

func (p *LoggingIndexProvider) GetIndex(ctx context.Context, code models.IndexCode, date time.Time) (decimal.Decimal, error) {
	start := time.Now()
	v, err := p.next.GetIndex(ctx, code, date)
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordIndexFetch(string(code), err == nil)
		p.metrics.RecordLatency("index_fetch", elapsed.Seconds())
	}

	fields := []applogger.Field{
		applogger.String("code", string(code)),
		applogger.Date("date", date),
		applogger.Duration("duration_ms", elapsed),
	}
	if err != nil {
		if ctx.Err() != nil {
			p.l.Warn("index fetch cancelled", append(fields, applogger.Error(err))...)
		} else {
			p.l.Error("index fetch failed", append(fields, applogger.Error(err))...)
		}
		return v, err
	}
	p.l.Debug("index fetched", append(fields, applogger.Stringer("rate", v))...)
	return v, nil
}

var _ domrepo.IndexProvider = (*LoggingIndexProvider)(nil)
