package usecase

import (
	"context"
	"fmt"
	"time"

	"BondYield/internal/domain/models"
	drepo "BondYield/internal/domain/repository"
	applogger "BondYield/pkg/logger"
)

const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// IndexRateProcessor routes ingested fixings to the configured backend:
// straight into ClickHouse, or onto Kafka for the consumer to store.
type IndexRateProcessor struct {
	pub     drepo.Publisher
	store   drepo.IndexWriter
	inval   drepo.IndexInvalidator
	metrics drepo.Metrics
	backend string
	l       *applogger.Logger
}

// NewIndexRateProcessor creates a processor. inval may be nil when no cache is configured.
func NewIndexRateProcessor(
	pub drepo.Publisher,
	store drepo.IndexWriter,
	inval drepo.IndexInvalidator,
	metrics drepo.Metrics,
	backend string,
	l *applogger.Logger,
) *IndexRateProcessor {
	if l == nil {
		l = applogger.Nop()
	}
	return &IndexRateProcessor{
		pub:     pub,
		store:   store,
		inval:   inval,
		metrics: metrics,
		backend: backend,
		l:       l,
	}
}

// Backend reports where fixings are routed.
func (p *IndexRateProcessor) Backend() string { return p.backend }

// Process routes a single fixing to the configured backend.
func (p *IndexRateProcessor) Process(ctx context.Context, r *models.IndexRate) error {
	if r == nil {
		return fmt.Errorf("index rate is nil")
	}
	start := time.Now()
	var err error

	switch p.backend {
	case BackendKafka:
		err = p.pub.Publish(ctx, r)
	case BackendClickHouse:
		err = p.store.Store(ctx, r)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process index rate: %w", err)
	}

	p.ingested(ctx, r)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch routes several fixings in one backend call.
func (p *IndexRateProcessor) ProcessBatch(ctx context.Context, rates []*models.IndexRate) error {
	if len(rates) == 0 {
		return nil
	}
	start := time.Now()
	var err error

	switch p.backend {
	case BackendKafka:
		err = p.pub.PublishBatch(ctx, rates)
	case BackendClickHouse:
		err = p.store.StoreBatch(ctx, rates)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, r := range rates {
		p.ingested(ctx, r)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

func (p *IndexRateProcessor) ingested(ctx context.Context, r *models.IndexRate) {
	p.metrics.RecordRateIngested(p.backend, string(r.Code))
	p.metrics.RecordLastRate(string(r.Code), r.Rate.InexactFloat64())
	// with the kafka backend the consumer stores and invalidates
	if p.backend == BackendClickHouse {
		invalidate(ctx, p.inval, r, p.l)
	}
}

func invalidate(ctx context.Context, inval drepo.IndexInvalidator, r *models.IndexRate, l *applogger.Logger) {
	if inval == nil {
		return
	}
	if err := inval.Invalidate(ctx, r.Code, r.Date); err != nil {
		l.Warn("index cache invalidation failed",
			applogger.String("code", string(r.Code)),
			applogger.Date("date", r.Date),
			applogger.Error(err))
	}
}

// Close closes the publisher if one is configured.
func (p *IndexRateProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
}
