package config

import (
	"strings"
	"testing"
	"time"
)

const minimal = `
environment: test
engine:
  url: http://engine:9000
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 8080 || c.Backend.Type != "clickhouse" {
		t.Fatalf("defaults not applied: port=%d backend=%s", c.Server.Port, c.Backend.Type)
	}
	if c.Index.CacheTTL != time.Hour || c.Engine.Timeout != 5*time.Second {
		t.Fatalf("duration defaults not applied: %v %v", c.Index.CacheTTL, c.Engine.Timeout)
	}
	if len(c.RateFeed.Codes) != 2 || c.RateFeed.Codes[1] != "MUNI_AAA" {
		t.Fatalf("unexpected codes: %v", c.RateFeed.Codes)
	}
}

func TestParseYamlOverridesDefaults(t *testing.T) {
	doc := minimal + `
server:
  port: 9090
index:
  cache_ttl: 15m
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 9090 || c.Index.CacheTTL != 15*time.Minute {
		t.Fatalf("overrides not applied: %d %v", c.Server.Port, c.Index.CacheTTL)
	}
	// untouched siblings keep their defaults
	if c.Server.ReadTimeout != 10*time.Second {
		t.Fatalf("sibling default lost: %v", c.Server.ReadTimeout)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing engine", "environment: test\n", "engine.url"},
		{"bad backend", minimal + "backend:\n  type: s3\n", "backend.type"},
		{"kafka backend without brokers", minimal + "backend:\n  type: kafka\n", "kafka.brokers"},
		{"queue without redis", minimal + "queue:\n  enabled: true\n", "redis.enabled"},
		{"feed without url", minimal + "ratefeed:\n  enabled: true\n", "websocket_url"},
		{"bad offset reset", minimal + "kafka:\n  consumer:\n    auto_offset_reset: newest\n", "auto_offset_reset"},
		{"empty redis pool", minimal + "redis:\n  enabled: true\n  pool_size: -1\n", "redis.pool_size"},
		{"bad collector level", minimal + "logging:\n  collector:\n    min_level: info\n", "min_level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := map[string]string{
		"KAFKA_BROKERS": "k1:9092,k2:9092",
		"INDEX_BACKEND": "kafka",
		"ENGINE_URL":    "http://other:9000",
		"REDIS_ADDR":    "redis:6379",
		"LOG_LEVEL":     "debug",
	}
	c.applyEnv(func(k string) string { return env[k] })

	if len(c.Kafka.Brokers) != 2 || !c.Kafka.Enabled {
		t.Fatalf("brokers not applied: %v", c.Kafka.Brokers)
	}
	if c.Backend.Type != "kafka" || c.Engine.URL != "http://other:9000" {
		t.Fatalf("overrides not applied: %s %s", c.Backend.Type, c.Engine.URL)
	}
	if !c.Redis.Enabled || c.Redis.Addr != "redis:6379" || c.Logging.Level != "debug" {
		t.Fatalf("redis/log overrides not applied")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("config should remain valid: %v", err)
	}
}

func TestNeedsProducer(t *testing.T) {
	c, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.NeedsProducer() {
		t.Fatalf("clickhouse-only config should not need a producer")
	}
	c.Backend.Type = "kafka"
	if !c.NeedsProducer() {
		t.Fatalf("kafka backend needs a producer")
	}
	c.Backend.Type = "clickhouse"
	c.Logging.Collector.Enabled = true
	if !c.NeedsProducer() {
		t.Fatalf("log collector needs a producer")
	}
}
