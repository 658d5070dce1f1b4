package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	applogger "BondYield/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// DLQ headers attached to every dead-lettered fixing. The key of the
// original message (the index code) is kept as is.
const (
	HeaderSourceTopic     = "source_topic"
	HeaderSourcePartition = "source_partition"
	HeaderSourceOffset    = "source_offset"
	HeaderAttempts        = "attempts"
	HeaderError           = "error"
	HeaderFailure         = "failure"
	HeaderFailedAt        = "failed_at"
)

// Failure classes reported in HeaderFailure.
const (
	FailurePermanent = "permanent"
	FailureExhausted = "retries_exhausted"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type partitionKey struct {
	topic     string
	partition int
}

// Consumer reads the registered topics and fans messages out to a worker
// pool. Messages of one partition are handled one at a time.
type Consumer struct {
	cfg       *ConsumerConfig
	log       *applogger.Logger
	readers   map[string]messageReader
	handlers  map[string]MessageHandler
	ctx       context.Context // cancelled by Stop
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	msgChan   chan *message
	dlq       messageWriter
	partMu    sync.Mutex
	partLocks map[partitionKey]*sync.Mutex
	hook      ConsumerHook
	metrics   *consumerMetrics
	now       func() time.Time
}

type message struct {
	topic string
	km    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:       cfg,
		log:       cfg.Logger,
		readers:   make(map[string]messageReader),
		handlers:  make(map[string]MessageHandler),
		ctx:       ctx,
		cancel:    cancel,
		msgChan:   make(chan *message, cfg.BufferSize),
		partLocks: make(map[partitionKey]*sync.Mutex),
		hook:      NoopHook{},
		metrics:   newConsumerMetrics(cfg.Registerer),
		now:       time.Now,
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// RegisterHandler registers the handler for handler.Topic(). The first registration wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka consumer: handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		if _, ok := c.readers[topic]; ok {
			continue
		}
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset(c.cfg.AutoOffsetReset),
		})
		c.log.Info("kafka consumer: subscribed",
			applogger.String("topic", topic),
			applogger.String("group_id", c.cfg.GroupID),
			applogger.String("offset_reset", c.cfg.AutoOffsetReset))
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.messageWorker()
	}
	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeMessages(topic, reader)
	}
	c.log.Info("kafka consumer: started", applogger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop stops reading, lets the workers drain and closes the readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.log.Info("kafka consumer: stopping")
		c.cancel()
		stopErr = c.wait(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Error("kafka consumer: close reader", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Error("kafka consumer: close dlq writer", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer: stopped")
		}
	})
	return stopErr
}

// wait gives the workers until ctx expires to finish their current message.
func (c *Consumer) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka consumer: workers still busy: %w", ctx.Err())
	}
}

// consumeMessages fetches until Stop. Fetch errors back off so a broker
// outage does not spin.
func (c *Consumer) consumeMessages(topic string, reader messageReader) {
	defer c.wg.Done()
	failures := 0
	for {
		km, err := reader.FetchMessage(c.ctx)
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			c.log.Error("kafka consumer: fetch message",
				applogger.String("topic", topic),
				applogger.Int("failures", failures),
				applogger.Error(err))
			select {
			case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		failures = 0

		// blocks while the workers are saturated
		select {
		case c.msgChan <- &message{topic: topic, km: km}:
			c.metrics.queueDepth.WithLabelValues(topic).Set(float64(len(c.msgChan)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) messageWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.msgChan:
			c.metrics.queueDepth.WithLabelValues(msg.topic).Set(float64(len(c.msgChan)))
			c.process(msg)
		}
	}
}

// process handles one message, dead-letters it on failure and commits its
// offset unless the failure could not be parked in the DLQ.
func (c *Consumer) process(msg *message) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return
	}
	pl := c.partitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	start := c.now()
	attempts, err := c.handle(handler, msg)
	c.metrics.latency.WithLabelValues(msg.topic).Observe(c.now().Sub(start).Seconds())
	if errors.Is(err, errStopping) {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = failureClass(err)
		c.log.Error("kafka consumer: fixing rejected",
			applogger.String("topic", msg.topic),
			applogger.String("code", string(msg.km.Key)),
			applogger.Int("partition", msg.km.Partition),
			applogger.Int64("offset", msg.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.String("failure", outcome),
			applogger.Error(err))
		if !c.deadLetter(msg, attempts, err) {
			c.metrics.handled.WithLabelValues(msg.topic, "uncommitted").Inc()
			return
		}
	}
	c.metrics.handled.WithLabelValues(msg.topic, outcome).Inc()
	if reader := c.readers[msg.topic]; reader != nil {
		_ = c.commit(reader, msg.km)
	}
}

var errStopping = errors.New("kafka consumer: stopping")

// handle runs the hook chain and the handler, retrying transient failures
// with jittered backoff.
func (c *Consumer) handle(handler MessageHandler, msg *message) (attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	for {
		attempts++
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.km.Value)
		if berr != nil {
			return attempts, berr
		}
		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, msg.topic, hmsg, hdata, err)
		if err == nil || IsPermanent(err) || attempts > c.cfg.RetryMax {
			return attempts, err
		}
		c.hook.OnError(hctx, msg.topic, hmsg, hdata, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.ctx.Done():
			return attempts, errStopping
		}
	}
}

// deadLetter reports whether the offset may be committed.
func (c *Consumer) deadLetter(msg *message, attempts int, err error) bool {
	if c.dlq == nil {
		return false
	}
	dl := deadLetterMessage(msg.topic, msg.km, attempts, err, c.now())
	if werr := c.dlq.WriteMessages(context.Background(), dl); werr != nil {
		c.log.Error("kafka consumer: write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(werr))
		return false
	}
	return true
}

func deadLetterMessage(topic string, km kafka.Message, attempts int, err error, now time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(km.Headers)+7)
	headers = append(headers, km.Headers...)
	return kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Time:  now,
		Headers: append(headers,
			kafka.Header{Key: HeaderSourceTopic, Value: []byte(topic)},
			kafka.Header{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(km.Partition))},
			kafka.Header{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(km.Offset, 10))},
			kafka.Header{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
			kafka.Header{Key: HeaderError, Value: []byte(err.Error())},
			kafka.Header{Key: HeaderFailure, Value: []byte(failureClass(err))},
			kafka.Header{Key: HeaderFailedAt, Value: []byte(now.UTC().Format(time.RFC3339))},
		),
	}
}

func failureClass(err error) string {
	var he *HookError
	if IsPermanent(err) || errors.As(err, &he) {
		return FailurePermanent
	}
	return FailureExhausted
}

// commitAttempts bounds offset commits. A message whose commit still fails
// is redelivered after a rebalance, which handlers tolerate since fixings
// are upserted by (code, date).
const commitAttempts = 3

func (c *Consumer) commit(reader messageReader, km kafka.Message) error {
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < commitAttempts {
			time.Sleep(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt))
		}
	}
	c.log.Error("kafka consumer: commit offset",
		applogger.String("topic", km.Topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err))
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.partMu.Lock()
	defer c.partMu.Unlock()
	k := partitionKey{topic, partition}
	mu, ok := c.partLocks[k]
	if !ok {
		mu = &sync.Mutex{}
		c.partLocks[k] = mu
	}
	return mu
}

func startOffset(reset string) int64 {
	if reset == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

// backoffWithJitter doubles from lo per attempt up to hi and takes off up
// to half so retries of one partition's fixings do not align.
func backoffWithJitter(lo, hi time.Duration, attempt int) time.Duration {
	if lo <= 0 {
		lo = 50 * time.Millisecond
	}
	if hi < lo {
		hi = lo
	}
	d := hi
	if attempt >= 1 && attempt < 32 {
		if exp := lo << (attempt - 1); exp > 0 && exp < hi {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}
