package repository

import (
	"context"
	"errors"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	"BondYield/pkg/cache"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/util"

	"github.com/shopspring/decimal"
)

const indexCachePrefix = "index"

// CachedIndexProvider is a read-through cache in front of another provider.
// Only successful lookups are cached; errors and misses always reach next.
type CachedIndexProvider struct {
	next  domrepo.IndexProvider
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedIndexProvider(next domrepo.IndexProvider, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedIndexProvider {
	if l == nil {
		l = applogger.Nop()
	}
	return &CachedIndexProvider{next: next, cache: c, ttl: ttl, l: l}
}

func indexCacheKey(code models.IndexCode, date time.Time) string {
	return cache.GenerateKeyWithParams(indexCachePrefix, code, util.FormatDate(date))
}

func (p *CachedIndexProvider) GetIndex(ctx context.Context, code models.IndexCode, date time.Time) (decimal.Decimal, error) {
	key := indexCacheKey(code, date)

	var raw string
	err := p.cache.Get(ctx, key, &raw)
	if err == nil {
		if v, perr := decimal.NewFromString(raw); perr == nil {
			return v, nil
		}
		p.l.Warn("index cache: dropping unparsable entry", applogger.String("key", key))
		_ = p.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		p.l.Warn("index cache: read failed", applogger.String("key", key), applogger.Error(err))
	}

	v, err := p.next.GetIndex(ctx, code, date)
	if err != nil {
		return v, err
	}
	if err := p.cache.Set(ctx, key, v.String(), p.ttl); err != nil {
		p.l.Warn("index cache: write failed", applogger.String("key", key), applogger.Error(err))
	}
	return v, nil
}

// Invalidate drops the cached value for one fixing, used when a rate is re-ingested.
func (p *CachedIndexProvider) Invalidate(ctx context.Context, code models.IndexCode, date time.Time) error {
	return p.cache.Delete(ctx, indexCacheKey(code, date))
}

// InvalidateCode drops every cached date of a series.
func (p *CachedIndexProvider) InvalidateCode(ctx context.Context, code models.IndexCode) error {
	return p.cache.DeleteByPattern(ctx, cache.BuildPattern(cache.GenerateKeyWithParams(indexCachePrefix, code)+":"))
}

var _ domrepo.IndexProvider = (*CachedIndexProvider)(nil)
