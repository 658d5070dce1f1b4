package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	pkgch "BondYield/pkg/clickhouse"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/util"

	"github.com/shopspring/decimal"
)

const indexRatesTable = "index_rates"

// ClickHouseIndexStore keeps daily index fixings. Re-ingesting a (code, date)
// pair replaces the previous value once ReplacingMergeTree merges, and reads
// use FINAL so callers always see the latest one.
type ClickHouseIndexStore struct {
	ch           *pkgch.Client
	table        string
	l            *applogger.Logger
	fetchTimeout time.Duration
}

func NewClickHouseIndexStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseIndexStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseIndexStore{ch: ch, table: ch.Table(indexRatesTable), l: l}
}

// SetFetchTimeout bounds each GetIndex query. Zero leaves ctx as is.
func (s *ClickHouseIndexStore) SetFetchTimeout(d time.Duration) { s.fetchTimeout = d }

func (s *ClickHouseIndexStore) schema() []string {
	stmts := []string{}
	if db := s.ch.Database(); db != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db))
	}
	return append(stmts, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            code        LowCardinality(String),
            date        Date,
            rate        Decimal64(8),
            source      LowCardinality(String),
            ingested_at DateTime64(3, 'UTC')
        )
        ENGINE = ReplacingMergeTree(ingested_at)
        ORDER BY (code, date)
    `, s.table))
}

func (s *ClickHouseIndexStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, s.schema())
}

// GetIndex returns the fixing for exactly date. Missing dates are not filled
// from neighbouring days; that policy belongs to whoever publishes fixings.
func (s *ClickHouseIndexStore) GetIndex(ctx context.Context, code models.IndexCode, date time.Time) (decimal.Decimal, error) {
	if !code.IsKnown() {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrUnknownIndexCode, code)
	}
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	q := fmt.Sprintf("SELECT toString(rate) FROM %s FINAL WHERE code = ? AND date = ? LIMIT 1", s.table)

	var raw string
	err := s.ch.DB().QueryRowContext(ctx, q, string(code), util.DateOnly(date)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s on %s", models.ErrIndexNotFound, code, util.FormatDate(date))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get index %s: %w", code, err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse index %s: %w", code, err)
	}
	return rate, nil
}

func (s *ClickHouseIndexStore) Store(ctx context.Context, r *models.IndexRate) error {
	return s.StoreBatch(ctx, []*models.IndexRate{r})
}

func (s *ClickHouseIndexStore) StoreBatch(ctx context.Context, rates []*models.IndexRate) error {
	rows := make([][]any, 0, len(rates))
	now := time.Now().UTC()
	var invalid error
	for _, r := range rates {
		if err := validateRate(r); err != nil {
			s.l.Warn("clickhouse index store: skipping fixing", applogger.Error(err))
			invalid = err
			continue
		}
		rows = append(rows, indexRateRow(r, now))
	}
	if len(rows) == 0 {
		if invalid != nil {
			return fmt.Errorf("store index rates: no valid fixing in batch of %d: %w", len(rates), invalid)
		}
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (code, date, rate, source, ingested_at)", s.table)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		s.l.Error("clickhouse index store: insert failed",
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("store index rates: %w", err)
	}
	return nil
}

func (s *ClickHouseIndexStore) Query(ctx context.Context, code models.IndexCode, from, to time.Time, limit int) ([]*models.IndexRate, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`
        SELECT code, date, toString(rate), source
        FROM %s FINAL
        WHERE code = ? AND date >= ? AND date <= ?
        ORDER BY date DESC
        LIMIT ?
    `, s.table)
	rows, err := s.ch.DB().QueryContext(ctx, q, string(code), util.DateOnly(from), util.DateOnly(to), limit)
	if err != nil {
		return nil, fmt.Errorf("query index rates: %w", err)
	}
	defer rows.Close()

	var out []*models.IndexRate
	for rows.Next() {
		var (
			r    models.IndexRate
			c    string
			rate string
		)
		if err := rows.Scan(&c, &r.Date, &rate, &r.Source); err != nil {
			return nil, fmt.Errorf("scan index rate: %w", err)
		}
		r.Code = models.IndexCode(c)
		if r.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("parse index rate: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *ClickHouseIndexStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *ClickHouseIndexStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}

func validateRate(r *models.IndexRate) error {
	switch {
	case r == nil:
		return errors.New("nil index rate")
	case !r.Code.IsKnown():
		return fmt.Errorf("%w: %s", models.ErrUnknownIndexCode, r.Code)
	case r.Date.IsZero():
		return fmt.Errorf("index rate %s has no date", r.Code)
	}
	return nil
}

func indexRateRow(r *models.IndexRate, ingestedAt time.Time) []any {
	source := r.Source
	if source == "" {
		source = "unknown"
	}
	return []any{string(r.Code), util.DateOnly(r.Date), r.Rate, source, ingestedAt}
}

var _ domrepo.IndexStore = (*ClickHouseIndexStore)(nil)
