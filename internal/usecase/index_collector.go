package usecase

import (
	"context"
	"errors"
	"time"

	"BondYield/internal/domain/models"
	drepo "BondYield/internal/domain/repository"
	mid "BondYield/internal/middleware"
	applogger "BondYield/pkg/logger"
)

var errStreamClosed = errors.New("ratefeed stream closed")

// IndexCollector pulls fixings from the live feed and hands them to the processor.
type IndexCollector struct {
	stream  drepo.IndexRateStream
	proc    *IndexRateProcessor
	metrics drepo.Metrics
	pipe    *mid.RatePipeline
	l       *applogger.Logger

	backoffBase time.Duration
	backoffMax  time.Duration
}

type CollectorOption func(*IndexCollector)

// WithReconnectBackoff sets the first and the largest wait between failed reconnects.
func WithReconnectBackoff(base, max time.Duration) CollectorOption {
	return func(c *IndexCollector) {
		if base > 0 {
			c.backoffBase = base
		}
		if max >= c.backoffBase {
			c.backoffMax = max
		}
	}
}

// NewIndexCollector creates a collector. pipe may be nil, in which case fixings go straight to proc.
func NewIndexCollector(stream drepo.IndexRateStream, proc *IndexRateProcessor, metrics drepo.Metrics, pipe *mid.RatePipeline, l *applogger.Logger, opts ...CollectorOption) *IndexCollector {
	if l == nil {
		l = applogger.Nop()
	}
	c := &IndexCollector{
		stream:      stream,
		proc:        proc,
		metrics:     metrics,
		pipe:        pipe,
		l:           l,
		backoffBase: 500 * time.Millisecond,
		backoffMax:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoffMax < c.backoffBase {
		c.backoffMax = c.backoffBase
	}
	return c
}

// IsConnected returns true if the feed is connected.
func (c *IndexCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *IndexCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	go c.consume(ctx)
	return nil
}

func (c *IndexCollector) consume(ctx context.Context) {
	for {
		rates, errs := c.stream.Read(ctx)
		err := c.drain(ctx, rates, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.l.Warn("ratefeed stream failed, reconnecting", applogger.Error(err))
		if !c.reconnect(ctx) {
			return
		}
	}
}

// drain handles fixings until the stream fails or both channels close.
func (c *IndexCollector) drain(ctx context.Context, rates <-chan *models.IndexRate, errs <-chan error) error {
	for rates != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return err
		case r, ok := <-rates:
			if !ok {
				rates = nil
				continue
			}
			c.handle(ctx, r)
		}
	}
	return errStreamClosed
}

// reconnect retries with capped exponential backoff until it succeeds or ctx ends.
func (c *IndexCollector) reconnect(ctx context.Context) bool {
	wait := c.backoffBase
	for attempt := 1; ; attempt++ {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.metrics.RecordError("stream_reconnect")
		c.l.Error("ratefeed reconnect failed",
			applogger.Int("attempt", attempt),
			applogger.Duration("retry_in", wait),
			applogger.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
		if wait > c.backoffMax {
			wait = c.backoffMax
		}
	}
}

func (c *IndexCollector) handle(ctx context.Context, r *models.IndexRate) {
	var err error
	if c.pipe != nil {
		err = c.pipe.Process(ctx, r)
	} else {
		err = c.proc.Process(ctx, r)
	}
	if err != nil {
		c.l.Warn("fixing not ingested",
			applogger.String("code", string(r.Code)),
			applogger.Date("date", r.Date),
			applogger.Error(err))
	}
}

func (c *IndexCollector) Stop() error { return c.stream.Close() }

// Processor returns the underlying processor for lifecycle management.
func (c *IndexCollector) Processor() *IndexRateProcessor { return c.proc }

// Shutdown stops the pipeline and closes the feed.
func (c *IndexCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
