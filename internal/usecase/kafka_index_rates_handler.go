package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	pkgkafka "BondYield/pkg/kafka"
	applogger "BondYield/pkg/logger"
)

// KafkaIndexRatesHandler consumes published fixings and writes them to storage.
type KafkaIndexRatesHandler struct {
	topic   string
	storage domrepo.IndexWriter
	inval   domrepo.IndexInvalidator
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewKafkaIndexRatesHandler(topic string, storage domrepo.IndexWriter, inval domrepo.IndexInvalidator, metrics domrepo.Metrics, l *applogger.Logger) *KafkaIndexRatesHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &KafkaIndexRatesHandler{topic: topic, storage: storage, inval: inval, metrics: metrics, l: l}
}

func (h *KafkaIndexRatesHandler) Topic() string { return h.topic }

// Handle expects the JSON form of models.IndexRate. Malformed or unknown
// fixings fail permanently so the consumer dead-letters them without retrying.
func (h *KafkaIndexRatesHandler) Handle(ctx context.Context, b []byte) error {
	var r models.IndexRate
	if err := json.Unmarshal(b, &r); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode index rate: %w", err))
	}
	if !r.Code.IsKnown() {
		h.metrics.RecordError("consumer_unknown_code")
		return pkgkafka.Permanent(fmt.Errorf("%w: %q", models.ErrUnknownIndexCode, r.Code))
	}

	start := time.Now()
	err := h.storage.Store(ctx, &r)
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordRateIngested(BackendClickHouse, string(r.Code))
	invalidate(ctx, h.inval, &r, h.l)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaIndexRatesHandler)(nil)
