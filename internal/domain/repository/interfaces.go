//go:generate mockgen -destination=../mocks/mock_repository.go -package=mocks BondYield/internal/domain/repository TimeSource,IndexProvider,ResultStore

package repository

import (
	"context"
	"time"

	"BondYield/internal/domain/models"

	"github.com/shopspring/decimal"
)

// TimeSource supplies the current instant.
type TimeSource interface {
	Now() time.Time
}

// IndexProvider returns the benchmark rate of a series for a date.
// Implementations may block on network or storage I/O and must honour ctx.
type IndexProvider interface {
	GetIndex(ctx context.Context, code models.IndexCode, date time.Time) (decimal.Decimal, error)
}

// IndexRateStream is a live feed of index fixings.
type IndexRateStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.IndexRate, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Publisher interface {
	Publish(ctx context.Context, r *models.IndexRate) error
	PublishBatch(ctx context.Context, rates []*models.IndexRate) error
	Close() error
}

// IndexWriter persists fixings.
type IndexWriter interface {
	Store(ctx context.Context, r *models.IndexRate) error
	StoreBatch(ctx context.Context, rates []*models.IndexRate) error
}

// IndexInvalidator drops any cached value of a fixing after it is re-ingested.
type IndexInvalidator interface {
	Invalidate(ctx context.Context, code models.IndexCode, date time.Time) error
}

// IndexHistory lists stored fixings, newest first.
type IndexHistory interface {
	Query(ctx context.Context, code models.IndexCode, from, to time.Time, limit int) ([]*models.IndexRate, error)
}

type IndexStore interface {
	IndexProvider
	IndexWriter
	IndexHistory
	Init(ctx context.Context) error   // ensure tables, health checks
	Health(ctx context.Context) error // ping
	Close() error
}

type ResultStore interface {
	SaveResults(ctx context.Context, results []*models.YtwResult) error
}

type Metrics interface {
	RecordIndexFetch(code string, ok bool)
	RecordRateIngested(backend, code string)
	RecordYtw(outcome string)
	RecordError(kind string)
	RecordLastRate(code string, rate float64)
	RecordLatency(op string, seconds float64)
	RecordCacheLookup(result string)
}
