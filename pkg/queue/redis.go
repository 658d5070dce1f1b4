package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"BondYield/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a reliable list queue: workers move a message from the
// pending list to a processing list while it runs, failed messages wait in a
// retry sorted set and exhausted ones end up in a dead letter list.
type RedisQueue struct {
	client    *redis.Client
	log       *logger.Logger
	cfg       Config
	keyPrefix string

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*RedisQueue)

// WithKeyPrefix namespaces every key the queue touches.
func WithKeyPrefix(prefix string) Option {
	return func(q *RedisQueue) { q.keyPrefix = prefix }
}

func NewRedisQueue(client *redis.Client, l *logger.Logger, cfg Config, opts ...Option) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	cfg.normalize()
	q := &RedisQueue{
		client:    client,
		log:       l,
		cfg:       cfg,
		keyPrefix: "bondyield:queue",
		handlers:  make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) pendingKey() string    { return q.keyPrefix + ":pending" }
func (q *RedisQueue) processingKey() string { return q.keyPrefix + ":processing" }
func (q *RedisQueue) retryKey() string      { return q.keyPrefix + ":retry" }
func (q *RedisQueue) deadKey() string       { return q.keyPrefix + ":dead" }

// Register adds the handler for h.Type(). Registering the same type twice is an error.
func (q *RedisQueue) Register(h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[h.Type()]; ok {
		return fmt.Errorf("queue: handler for %q already registered", h.Type())
	}
	q.handlers[h.Type()] = h
	q.log.Info("queue handler registered", logger.String("type", h.Type()))
	return nil
}

func (q *RedisQueue) handler(msgType string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[msgType]
	return h, ok
}

// Publish enqueues msg. Only registered types are accepted.
func (q *RedisQueue) Publish(ctx context.Context, msg *Message) error {
	if _, ok := q.handler(msg.Type); !ok {
		return fmt.Errorf("queue: no handler for %q", msg.Type)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	q.log.Debug("message enqueued", logger.String("id", msg.ID), logger.String("type", msg.Type))
	return nil
}

// Start pings Redis, requeues messages left in processing by a previous run
// and starts the workers and the retry promoter.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("queue: already running")
	}
	q.running = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		cancel()
		return fmt.Errorf("queue: redis ping: %w", err)
	}

	if n, err := q.recoverInFlight(ctx); err != nil {
		q.log.Warn("queue: recovering in-flight messages failed", logger.Error(err))
	} else if n > 0 {
		q.log.Info("queue: requeued in-flight messages", logger.Int("count", n))
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	q.wg.Add(1)
	go q.promote(ctx)

	q.log.Info("redis queue started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("prefix", q.keyPrefix))
	return nil
}

// Stop cancels the workers and waits for in-flight handlers until ctx expires.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	}
}

func (q *RedisQueue) recoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.pendingKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *RedisQueue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		raw, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", q.cfg.PollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Error("queue: blmove failed", logger.Int("worker_id", id), logger.Error(err))
			sleep(ctx, q.cfg.PollTimeout)
			continue
		}
		q.process(ctx, raw)
	}
}

func (q *RedisQueue) process(ctx context.Context, raw string) {
	ack := true
	// the processing entry is removed by its original bytes
	defer func() {
		if !ack {
			return
		}
		if err := q.client.LRem(context.WithoutCancel(ctx), q.processingKey(), 1, raw).Err(); err != nil {
			q.log.Warn("queue: ack failed", logger.Error(err))
		}
	}()

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.log.Error("queue: dropping undecodable message", logger.Error(err))
		q.bury(ctx, &Message{Payload: json.RawMessage(strconv.Quote(raw)), LastError: err.Error()})
		return
	}

	var err error
	if h, ok := q.handler(msg.Type); ok {
		start := time.Now()
		err = h.Handle(ctx, &msg)
		q.log.Debug("message handled",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("elapsed_ms", time.Since(start)))
	} else {
		err = Permanent(fmt.Errorf("no handler for %q", msg.Type))
	}
	if err != nil && ctx.Err() != nil {
		// shutting down: leave it for recoverInFlight
		q.log.Warn("queue: message interrupted", logger.String("id", msg.ID))
		ack = false
		return
	}

	switch next, at := settle(q.cfg, &msg, err, time.Now()); next {
	case outcomeRetry:
		q.log.Warn("queue: message failed, will retry",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempt", msg.Attempts),
			logger.Time("retry_at", at),
			logger.Error(err))
		q.schedule(ctx, &msg, at)
	case outcomeDead:
		q.log.Error("queue: message dead-lettered",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		q.bury(ctx, &msg)
	}
}

func (q *RedisQueue) schedule(ctx context.Context, msg *Message, at time.Time) {
	raw, err := json.Marshal(msg)
	if err == nil {
		err = q.client.ZAdd(context.WithoutCancel(ctx), q.retryKey(), redis.Z{Score: float64(at.Unix()), Member: raw}).Err()
	}
	if err != nil {
		q.log.Error("queue: scheduling retry failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) bury(ctx context.Context, msg *Message) {
	raw, err := json.Marshal(msg)
	if err == nil {
		err = q.client.LPush(context.WithoutCancel(ctx), q.deadKey(), raw).Err()
	}
	if err != nil {
		q.log.Error("queue: dead letter failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

// promote moves due retries back to the pending list.
func (q *RedisQueue) promote(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		due, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(time.Now().Unix(), 10),
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.log.Error("queue: reading retries failed", logger.Error(err))
			}
			continue
		}
		for _, raw := range due {
			_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.ZRem(ctx, q.retryKey(), raw)
				p.LPush(ctx, q.pendingKey(), raw)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				q.log.Error("queue: promoting retry failed", logger.Error(err))
			}
		}
	}
}

// Stats is a snapshot of the queue's lists.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retrying   int64 `json:"retrying"`
	Dead       int64 `json:"dead"`
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var (
		pending, processing, dead *redis.IntCmd
		retrying                  *redis.IntCmd
	)
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, q.pendingKey())
		processing = p.LLen(ctx, q.processingKey())
		retrying = p.ZCard(ctx, q.retryKey())
		dead = p.LLen(ctx, q.deadKey())
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Retrying:   retrying.Val(),
		Dead:       dead.Val(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
