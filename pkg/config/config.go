package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
		HealthTimeout   time.Duration `yaml:"health_timeout" default:"2s"`
		CORS            bool          `yaml:"cors" default:"true"`
		RateLimit       struct {
			Enabled bool    `yaml:"enabled" default:"true"`
			RPS     float64 `yaml:"rps" default:"20"`
			Burst   int     `yaml:"burst" default:"40"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Logging struct {
		Level     string `yaml:"level" default:"info"`
		Format    string `yaml:"format" default:"json"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"bondyield.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			MinLevel  string        `yaml:"min_level" default:"error"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	// Backend selects where ingested index fixings go: kafka or clickhouse.
	Backend struct {
		Type         string        `yaml:"type" default:"clickhouse"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	} `yaml:"backend"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"bondyield.index-rates"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled         bool          `yaml:"enabled"`
			GroupID         string        `yaml:"group_id" default:"bondyield-index-writer"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"earliest"`
			Workers         int           `yaml:"workers" default:"2"`
			BufferSize      int           `yaml:"buffer_size" default:"100"`
			RetryMax        int           `yaml:"retry_max" default:"3"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic        string        `yaml:"dlq_topic" default:"bondyield.index-rates.dlq"`
			MinBytes        int           `yaml:"min_bytes" default:"10000"`
			MaxBytes        int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port"` // 0 picks 9000 (native) or 8123 (http)
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
		Database         string        `yaml:"database" default:"bondyield"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr" default:"localhost:6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		Prefix       string        `yaml:"prefix" default:"bondyield"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
	} `yaml:"redis"`
	Index struct {
		CacheTTL      time.Duration `yaml:"cache_ttl" default:"1h"`
		MemoryTTL     time.Duration `yaml:"memory_ttl" default:"1m"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"5000"`
		MemoryCleanup time.Duration `yaml:"memory_cleanup" default:"5m"`
		FetchTimeout  time.Duration `yaml:"fetch_timeout" default:"3s"`
	} `yaml:"index"`
	Engine struct {
		URL        string        `yaml:"url"`
		Timeout    time.Duration `yaml:"timeout" default:"5s"`
		MaxRetries int           `yaml:"max_retries" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"200ms"`
	} `yaml:"engine"`
	RateFeed struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Codes          []string      `yaml:"codes" default:"[\"USTR_CMT\",\"MUNI_AAA\"]"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		BackoffBase    time.Duration `yaml:"backoff_base" default:"500ms"`
		BackoffMax     time.Duration `yaml:"backoff_max" default:"30s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		Throttle       time.Duration `yaml:"throttle" default:"1s"`
	} `yaml:"ratefeed"`
	Queue struct {
		Enabled       bool          `yaml:"enabled"`
		Workers       int           `yaml:"workers" default:"2"`
		RetryLimit    int           `yaml:"retry_limit" default:"3"`
		RetryDelay    time.Duration `yaml:"retry_delay" default:"10s"`
		MaxRetryDelay time.Duration `yaml:"max_retry_delay" default:"5m"`
		Concurrency   int           `yaml:"concurrency" default:"8"`
	} `yaml:"queue"`
}

// Default returns a config populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, then the YAML document on top, then validates.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("INDEX_BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("ENGINE_URL"); v != "" {
		c.Engine.URL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("RATEFEED_API_KEY"); v != "" {
		c.RateFeed.APIKey = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type != "kafka" && c.Backend.Type != "clickhouse" {
		return fmt.Errorf("backend.type must be 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	if c.Backend.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when backend.type is kafka")
	}
	if c.Kafka.Consumer.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when kafka.consumer is enabled")
	}
	if r := c.Kafka.Consumer.AutoOffsetReset; r != "earliest" && r != "latest" {
		return fmt.Errorf("kafka.consumer.auto_offset_reset must be 'earliest' or 'latest', got '%s'", r)
	}
	if c.Redis.Enabled && c.Redis.PoolSize < 1 {
		return fmt.Errorf("redis.pool_size must be positive")
	}
	if l := c.Logging.Collector.MinLevel; l != "" && l != "warn" && l != "error" {
		return fmt.Errorf("logging.collector.min_level must be 'warn' or 'error', got '%s'", l)
	}
	if c.Logging.Collector.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when logging.collector is enabled")
	}
	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required")
	}
	if c.RateFeed.Enabled {
		if c.RateFeed.WebSocketURL == "" {
			return fmt.Errorf("ratefeed.websocket_url is required when ratefeed is enabled")
		}
		if len(c.RateFeed.Codes) == 0 {
			return fmt.Errorf("ratefeed.codes cannot be empty")
		}
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue requires redis.enabled")
	}
	return nil
}

// NeedsProducer reports whether any component publishes to Kafka.
func (c *Config) NeedsProducer() bool {
	return c.Kafka.Enabled || c.Backend.Type == "kafka" || c.Logging.Collector.Enabled
}
