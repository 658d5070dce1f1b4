package logger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches []LogBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.(LogBatch))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b.Entries...)
	}
	return out
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Service: "bondyield", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "index fetch failed", map[string]interface{}{"code": "MUNI_AAA"}, "repo.go:10")
	}
	c.AddLog("error", "index fetch failed", map[string]interface{}{"code": "USTR_CMT"}, "repo.go:10")
	c.Close()

	got := pub.entries()
	if len(got) != 2 {
		t.Fatalf("expected 2 aggregated entries, got %d", len(got))
	}
	counts := map[interface{}]int{}
	for _, e := range got {
		counts[e.Fields["code"]] = e.Count
	}
	if counts["MUNI_AAA"] != 3 || counts["USTR_CMT"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if pub.topics[0] != "logs" || pub.batches[0].Service != "bondyield" {
		t.Fatalf("unexpected batch metadata: %v %+v", pub.topics, pub.batches[0])
	}
}

func TestCollectorFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x")
	c.AddLog("error", "b", nil, "x")

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.entries()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("threshold flush did not happen")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	l.Error("engine call failed", String("cusip", "123456AB7"), Error(errors.New("boom")))
	l.Warn("not collected")
	l.RemoveCollector()

	got := pub.entries()
	if len(got) != 1 || got[0].Message != "engine call failed" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].Fields["error"] != "boom" || got[0].Fields["cusip"] != "123456AB7" {
		t.Fatalf("unexpected fields: %v", got[0].Fields)
	}
}

func TestCollectorWarnLevelAndCaller(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, MinLevel: "warn", Topic: "logs", Publisher: pub})

	l.Warn("index stale", String("code", "MUNI_AAA"))
	l.Info("not collected")
	l.RemoveCollector()

	got := pub.entries()
	if len(got) != 1 || got[0].Level != "warn" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if !strings.HasPrefix(got[0].Caller, "pkg/logger/collector_test.go:") {
		t.Fatalf("caller should be module relative, got %q", got[0].Caller)
	}
}

func TestEntryKeyIgnoresFieldOrder(t *testing.T) {
	a := map[string]interface{}{"code": "MUNI_AAA", "attempt": 2}
	b := map[string]interface{}{"attempt": 2, "code": "MUNI_AAA"}
	if entryKey("error", "m", "c", a) != entryKey("error", "m", "c", b) {
		t.Fatalf("identical fields must hash alike")
	}
	if entryKey("error", "m", "c", a) == entryKey("warn", "m", "c", a) {
		t.Fatalf("level must be part of the key")
	}
}

func TestCollectorCloseTwice(t *testing.T) {
	c := NewLogCollector(&CollectionConfig{Publisher: &capturePublisher{}})
	c.Close()
	c.Close()
}
