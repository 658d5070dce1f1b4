package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
)

func TestEncodeValue(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"bytes", []byte("raw"), "raw"},
		{"string", "text", "text"},
		{"struct", struct {
			Code string `json:"code"`
		}{"MUNI_AAA"}, `{"code":"MUNI_AAA"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodeValue(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}

	if _, err := encodeValue(make(chan int)); err == nil {
		t.Fatalf("expected marshal error for channel")
	}
}

func TestParseCompression(t *testing.T) {
	if parseCompression("zstd") != kafka.Zstd || parseCompression("snappy") != kafka.Snappy {
		t.Fatalf("unexpected compression mapping")
	}
	if parseCompression("none") != 0 || parseCompression("unknown") != kafka.Gzip {
		t.Fatalf("unexpected fallback mapping")
	}
}

func TestNewProducerValidatesConfig(t *testing.T) {
	reg := prometheus.NewRegistry()
	cases := map[string][]ProducerOption{
		"noBrokers": nil,
		"badAcks":   {WithBrokers([]string{"localhost:9092"}), WithRequiredAcks(2)},
		"badCodec":  {WithBrokers([]string{"localhost:9092"}), WithCompression("brotli")},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewProducer(append(opts, WithProducerRegisterer(reg))...); err == nil {
				t.Fatalf("expected config error")
			}
		})
	}

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"), WithProducerRegisterer(reg))
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	defer p.Close()
	w, ok := p.writer.(*kafka.Writer)
	if !ok || w.Compression != kafka.Zstd || p.metrics == nil {
		t.Fatalf("unexpected writer %+v", p.writer)
	}
}

func TestProducerMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := newProducerMetrics(reg)
	second := newProducerMetrics(reg)
	if first.messages != second.messages {
		t.Fatalf("second producer should reuse the registered collectors")
	}
}

func newCapturingProducer(w *captureWriter) *Producer {
	return &Producer{
		writer:  w,
		metrics: newProducerMetrics(prometheus.NewRegistry()),
		now:     func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestPublishBatchKeysAndHeaders(t *testing.T) {
	w := &captureWriter{}
	p := newCapturingProducer(w)

	err := p.PublishBatch(context.Background(), "bondyield.index-rates", []Message{
		{Key: []byte("MUNI_AAA"), Value: map[string]string{"rate": "0.05"}, Headers: map[string]string{"source": "feed", "content_type": "application/json"}},
		{Key: []byte("USTR_CMT"), Value: "0.0425"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	first := w.msgs[0]
	if string(first.Key) != "MUNI_AAA" || string(first.Value) != `{"rate":"0.05"}` || first.Topic != "bondyield.index-rates" {
		t.Fatalf("unexpected message %+v", first)
	}
	if len(first.Headers) != 2 || first.Headers[0].Key != "content_type" || header(first, "source") != "feed" {
		t.Fatalf("headers should be sorted by key: %+v", first.Headers)
	}
	if w.msgs[1].Headers != nil || !w.msgs[1].Time.Equal(first.Time) {
		t.Fatalf("unexpected second message %+v", w.msgs[1])
	}
	if got := testutil.ToFloat64(p.metrics.messages.WithLabelValues("bondyield.index-rates", "", "ok")); got != 2 {
		t.Fatalf("messages metric = %v", got)
	}
}

func TestPublishBatchFailsWholeBatchOnBadValue(t *testing.T) {
	w := &captureWriter{}
	p := newCapturingProducer(w)
	err := p.PublishBatch(context.Background(), "t", []Message{{Value: "ok"}, {Value: make(chan int)}})
	if err == nil || len(w.msgs) != 0 {
		t.Fatalf("expected no partial write, err=%v msgs=%d", err, len(w.msgs))
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := newCapturingProducer(w)
	err := p.Publish(context.Background(), "bondyield.index-rates", []byte("MUNI_AAA"), "0.05")
	if !errors.Is(err, w.err) {
		t.Fatalf("expected writer error, got %v", err)
	}
	if got := testutil.ToFloat64(p.metrics.errors.WithLabelValues("bondyield.index-rates")); got != 1 {
		t.Fatalf("errors metric = %v", got)
	}
}
