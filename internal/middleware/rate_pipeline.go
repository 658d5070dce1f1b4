package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"BondYield/internal/domain/models"
	domrepo "BondYield/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, r *models.IndexRate) error
}

// RatePipeline sits between the live feed and the ingestion processor.
// It validates fixings, throttles each code and buffers fixings the
// processor rejected so they are retried in the background.
type RatePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	interval time.Duration // minimum gap between accepted fixings of one code
	bufSize  int
	bufCh    chan *models.IndexRate
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[models.IndexCode]time.Time
	now      func() time.Time
}

type PipelineOption func(*RatePipeline)

// WithThrottle sets the minimum interval between fixings accepted for the same code.
// Zero disables throttling.
func WithThrottle(d time.Duration) PipelineOption {
	return func(p *RatePipeline) {
		if d >= 0 {
			p.interval = d
		}
	}
}

// WithBufferSize sets the retry buffer size used when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RatePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewRatePipeline creates a new pipeline.
func NewRatePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RatePipeline {
	p := &RatePipeline{
		proc:     proc,
		metrics:  metrics,
		interval: time.Second,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[models.IndexCode]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.IndexRate, p.bufSize)
	return p
}

// Start launches background flushing of buffered fixings.
func (p *RatePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		const minBackoff = 50 * time.Millisecond
		backoff := minBackoff
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case r := <-p.bufCh:
				if err := p.proc.Process(ctx, r); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					}
					select {
					case p.bufCh <- r:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = minBackoff
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *RatePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered reports how many fixings are waiting for a retry.
func (p *RatePipeline) Buffered() int { return len(p.bufCh) }

// Process validates and throttles r, then forwards it downstream, buffering on errors.
func (p *RatePipeline) Process(ctx context.Context, r *models.IndexRate) error {
	start := p.now()
	if err := validateRate(r); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(r.Code, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, r); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- r:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateRate(r *models.IndexRate) error {
	switch {
	case r == nil:
		return fmt.Errorf("fixing nil")
	case !r.Code.IsKnown():
		return fmt.Errorf("%w: %q", models.ErrUnknownIndexCode, r.Code)
	case r.Date.IsZero():
		return fmt.Errorf("fixing date missing")
	}
	return nil
}

func (p *RatePipeline) allow(code models.IndexCode, now time.Time) bool {
	if p.interval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[code]
	if ok && now.Sub(last) < p.interval {
		return false
	}
	p.lastSeen[code] = now
	return true
}
