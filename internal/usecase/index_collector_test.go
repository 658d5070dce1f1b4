package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"BondYield/internal/domain/models"
)

// scriptedStream replays one batch of events per Read call. Like the
// websocket client it closes both channels once it has reported an error.
type scriptedStream struct {
	mu             sync.Mutex
	reads          int
	reconnects     int
	failReconnects int
	closed         bool
	script         [][]interface{}
}

func (s *scriptedStream) Connect(context.Context) error   { return nil }
func (s *scriptedStream) Subscribe(context.Context) error { return nil }
func (s *scriptedStream) IsConnected() bool               { return true }

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	if s.reconnects <= s.failReconnects {
		return errDown
	}
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedStream) Read(ctx context.Context) (<-chan *models.IndexRate, <-chan error) {
	s.mu.Lock()
	var events []interface{}
	if s.reads < len(s.script) {
		events = s.script[s.reads]
	}
	s.reads++
	s.mu.Unlock()

	rates := make(chan *models.IndexRate)
	errs := make(chan error)
	go func() {
		for _, ev := range events {
			switch v := ev.(type) {
			case error:
				select {
				case errs <- v:
				case <-ctx.Done():
				}
				close(rates)
				close(errs)
				return
			case *models.IndexRate:
				select {
				case rates <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return rates, errs
}

func TestIndexCollectorReadsAgainAfterReconnect(t *testing.T) {
	stream := &scriptedStream{script: [][]interface{}{
		{fixing(models.IndexMuniAAA, "0.031"), errDown},
		{fixing(models.IndexUSTreasuryCMT, "0.0425")},
	}}
	w := &fakeWriter{}
	proc := NewIndexRateProcessor(nil, w, nil, testMetrics(), BackendClickHouse, nil)
	c := NewIndexCollector(stream, proc, testMetrics(), nil, nil, WithReconnectBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitStored(t, w, 2)

	stream.mu.Lock()
	reconnects, reads := stream.reconnects, stream.reads
	stream.mu.Unlock()
	if reconnects != 1 || reads != 2 {
		t.Fatalf("reconnects=%d reads=%d", reconnects, reads)
	}
	if w.stored[1].Code != models.IndexUSTreasuryCMT {
		t.Fatalf("unexpected order %+v", w.stored)
	}

	if err := c.Shutdown(ctx); err != nil || !stream.closed {
		t.Fatalf("shutdown: %v closed=%v", err, stream.closed)
	}
}

func TestIndexCollectorRetriesFailedReconnect(t *testing.T) {
	stream := &scriptedStream{
		failReconnects: 2,
		script: [][]interface{}{
			{errDown},
			{fixing(models.IndexMuniAAA, "0.031")},
		},
	}
	w := &fakeWriter{}
	proc := NewIndexRateProcessor(nil, w, nil, testMetrics(), BackendClickHouse, nil)
	c := NewIndexCollector(stream, proc, testMetrics(), nil, nil, WithReconnectBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStored(t, w, 1)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.reconnects != 3 || stream.reads != 2 {
		t.Fatalf("reconnects=%d reads=%d", stream.reconnects, stream.reads)
	}
}

func TestIndexCollectorStopsRetryingOnCancel(t *testing.T) {
	stream := &scriptedStream{failReconnects: 1 << 30, script: [][]interface{}{{errDown}}}
	proc := NewIndexRateProcessor(nil, &fakeWriter{}, nil, testMetrics(), BackendClickHouse, nil)
	c := NewIndexCollector(stream, proc, testMetrics(), nil, nil, WithReconnectBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.consume(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("collector kept retrying after cancel")
	}
}

func waitStored(t *testing.T, w *fakeWriter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		n := len(w.stored)
		w.mu.Unlock()
		if n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d stored fixings, got %d", want, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
