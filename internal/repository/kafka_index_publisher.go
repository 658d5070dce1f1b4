package repository

import (
	"context"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	pkgkafka "BondYield/pkg/kafka"
)

// KafkaIndexPublisher publishes fixings keyed by index code so each series
// stays ordered within its partition.
type KafkaIndexPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaIndexPublisher(producer *pkgkafka.Producer, topic string) *KafkaIndexPublisher {
	return &KafkaIndexPublisher{producer: producer, topic: topic}
}

func (p *KafkaIndexPublisher) Publish(ctx context.Context, r *models.IndexRate) error {
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{fixingMessage(r)})
}

// fixingMessage carries the feed name in a header so consumers can filter
// without decoding the value.
func fixingMessage(r *models.IndexRate) pkgkafka.Message {
	m := pkgkafka.Message{Key: []byte(r.Code), Value: r}
	if r.Source != "" {
		m.Headers = map[string]string{"source": r.Source}
	}
	return m
}

func (p *KafkaIndexPublisher) PublishBatch(ctx context.Context, rates []*models.IndexRate) error {
	if len(rates) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(rates))
	for i, r := range rates {
		msgs[i] = fixingMessage(r)
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close is a no-op; the producer is shared with the log collector and closed by the app.
func (p *KafkaIndexPublisher) Close() error {
	return nil
}

var _ domrepo.Publisher = (*KafkaIndexPublisher)(nil)
