package repository

import (
	"context"
	"fmt"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	pkgch "BondYield/pkg/clickhouse"
	"BondYield/pkg/util"
)

const ytwResultsTable = "ytw_results"

// ClickHouseResultStore persists batch YTW outcomes.
type ClickHouseResultStore struct {
	ch    *pkgch.Client
	table string
}

func NewClickHouseResultStore(ch *pkgch.Client) *ClickHouseResultStore {
	return &ClickHouseResultStore{ch: ch, table: ch.Table(ytwResultsTable)}
}

func (s *ClickHouseResultStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            job_id          String,
            cusip           String,
            index_code      LowCardinality(String),
            settlement_date Date,
            ytw             Nullable(Decimal64(8)),
            error           String,
            computed_at     DateTime64(3, 'UTC')
        )
        ENGINE = MergeTree
        ORDER BY (job_id, cusip)
    `, s.table)})
}

func (s *ClickHouseResultStore) SaveResults(ctx context.Context, results []*models.YtwResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		if r != nil {
			rows = append(rows, resultRow(r))
		}
	}
	q := fmt.Sprintf("INSERT INTO %s (job_id, cusip, index_code, settlement_date, ytw, error, computed_at)", s.table)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("save ytw results: %w", err)
	}
	return nil
}

func resultRow(r *models.YtwResult) []any {
	var ytw any
	if r.Ytw != nil {
		ytw = *r.Ytw
	}
	return []any{r.JobID, r.CUSIP, string(r.IndexCode), util.DateOnly(r.SettlementDate), ytw, r.Error, r.ComputedAt.UTC()}
}

var _ domrepo.ResultStore = (*ClickHouseResultStore)(nil)
