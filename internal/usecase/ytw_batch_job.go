package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/queue"
	"BondYield/pkg/util"

	"golang.org/x/sync/errgroup"
)

// YtwBatchType is the queue message type of batch YTW jobs.
const YtwBatchType = "ytw.batch"

const (
	OutcomeValue = "value"
	OutcomeNone  = "none"
	OutcomeError = "error"
)

// Locker guards a job against concurrent processing by several workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// YtwBatchJob computes YTW for every bond of a queued batch and persists
// one result row per bond. Per-bond failures are stored, not returned.
type YtwBatchJob struct {
	calc        *YtwCalculator
	results     domrepo.ResultStore
	locker      Locker
	metrics     domrepo.Metrics
	clock       domrepo.TimeSource
	concurrency int
	lockTTL     time.Duration
	l           *applogger.Logger
}

type YtwBatchOption func(*YtwBatchJob)

// WithBatchConcurrency bounds the number of bonds computed at once.
func WithBatchConcurrency(n int) YtwBatchOption {
	return func(j *YtwBatchJob) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// WithBatchLocker enables per-job locking.
func WithBatchLocker(l Locker, ttl time.Duration) YtwBatchOption {
	return func(j *YtwBatchJob) {
		j.locker = l
		if ttl > 0 {
			j.lockTTL = ttl
		}
	}
}

func NewYtwBatchJob(calc *YtwCalculator, results domrepo.ResultStore, metrics domrepo.Metrics, clock domrepo.TimeSource, l *applogger.Logger, opts ...YtwBatchOption) *YtwBatchJob {
	if l == nil {
		l = applogger.Nop()
	}
	j := &YtwBatchJob{
		calc:        calc,
		results:     results,
		metrics:     metrics,
		clock:       clock,
		concurrency: 8,
		lockTTL:     5 * time.Minute,
		l:           l,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *YtwBatchJob) Type() string { return YtwBatchType }

// Handle runs one queued batch. The job id is the queue message id unless the
// payload names one. Malformed batches are marked permanent so they are not retried.
func (j *YtwBatchJob) Handle(ctx context.Context, msg *queue.Message) error {
	batch, err := queue.Decode[models.YtwBatch](msg)
	if err != nil {
		return err
	}
	if batch.JobID == "" {
		batch.JobID = msg.ID
	}
	if batch.JobID == "" {
		return queue.Permanent(errors.New("ytw batch: missing job id"))
	}

	if j.locker != nil {
		key := "lock:ytw-batch:" + batch.JobID
		ok, err := j.locker.TryLock(ctx, key, j.lockTTL)
		if err != nil {
			return fmt.Errorf("ytw batch lock: %w", err)
		}
		if !ok {
			j.l.Info("ytw batch already running", applogger.String("job_id", batch.JobID))
			return nil
		}
		defer func() { _ = j.locker.Unlock(context.WithoutCancel(ctx), key) }()
	}

	var date time.Time
	if batch.SettlementDate == "" {
		date = util.DateOnly(j.clock.Now())
	} else {
		d, ok := util.ParseDate(batch.SettlementDate)
		if !ok {
			return queue.Permanent(fmt.Errorf("ytw batch %s: bad settlement date %q", batch.JobID, batch.SettlementDate))
		}
		date = d
	}

	start := time.Now()
	results := j.compute(ctx, batch, date)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.results.SaveResults(ctx, results); err != nil {
		j.metrics.RecordError("batch_save")
		return err
	}
	j.metrics.RecordLatency("ytw_batch", time.Since(start).Seconds())
	j.l.Info("ytw batch done",
		applogger.String("job_id", batch.JobID),
		applogger.Int("bonds", len(batch.Bonds)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (j *YtwBatchJob) compute(ctx context.Context, batch *models.YtwBatch, date time.Time) []*models.YtwResult {
	results := make([]*models.YtwResult, len(batch.Bonds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for i, bond := range batch.Bonds {
		g.Go(func() error {
			res := &models.YtwResult{JobID: batch.JobID, SettlementDate: date}
			if bond != nil {
				res.CUSIP = bond.CUSIP
				res.IndexCode = SelectIndex(bond)
			}
			ytw, err := j.calc.CalculateYtwForBondOn(gctx, bond, date)
			res.ComputedAt = time.Now().UTC()
			switch {
			case err != nil:
				res.Error = err.Error()
				j.metrics.RecordYtw(OutcomeError)
			case ytw == nil:
				j.metrics.RecordYtw(OutcomeNone)
			default:
				res.Ytw = ytw
				j.metrics.RecordYtw(OutcomeValue)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// YtwBatchSubmitter enqueues batch jobs.
type YtwBatchSubmitter struct {
	q queue.Publisher
}

func NewYtwBatchSubmitter(q queue.Publisher) *YtwBatchSubmitter {
	return &YtwBatchSubmitter{q: q}
}

// Submit enqueues bonds for computation and returns the job id, which is the
// queue message id. An empty settlementDate means the worker's current date.
func (s *YtwBatchSubmitter) Submit(ctx context.Context, bonds []*models.Bond, settlementDate string) (string, error) {
	if len(bonds) == 0 {
		return "", errors.New("ytw batch: no bonds")
	}
	msg, err := queue.NewMessage(YtwBatchType, &models.YtwBatch{SettlementDate: settlementDate, Bonds: bonds})
	if err != nil {
		return "", err
	}
	if err := s.q.Publish(ctx, msg); err != nil {
		return "", fmt.Errorf("enqueue ytw batch: %w", err)
	}
	return msg.ID, nil
}
