package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"BondYield/internal/domain/models"
	"BondYield/pkg/metrics"
	"BondYield/pkg/queue"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	stored []*models.IndexRate
}

func (w *fakeWriter) Store(_ context.Context, r *models.IndexRate) error {
	return w.StoreBatch(context.Background(), []*models.IndexRate{r})
}

func (w *fakeWriter) StoreBatch(_ context.Context, rates []*models.IndexRate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.stored = append(w.stored, rates...)
	return nil
}

type fakePublisher struct {
	published []*models.IndexRate
	closed    bool
}

func (p *fakePublisher) Publish(_ context.Context, r *models.IndexRate) error {
	p.published = append(p.published, r)
	return nil
}

func (p *fakePublisher) PublishBatch(_ context.Context, rates []*models.IndexRate) error {
	p.published = append(p.published, rates...)
	return nil
}

func (p *fakePublisher) Close() error { p.closed = true; return nil }

type fakeInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, code models.IndexCode, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, string(code)+"@"+date.Format("2006-01-02"))
	return nil
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	unlock int
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.unlock++
	return nil
}

type fakeQueue struct {
	msg *queue.Message
	err error
}

func (q *fakeQueue) Publish(_ context.Context, msg *queue.Message) error {
	q.msg = msg
	return q.err
}

var errDown = errors.New("backend down")

func testMetrics() *metrics.Recorder {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func fixing(code models.IndexCode, rate string) *models.IndexRate {
	return &models.IndexRate{Code: code, Date: day(2024, 5, 1), Rate: dec(rate), Source: "test"}
}
