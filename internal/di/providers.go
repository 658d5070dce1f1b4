package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"BondYield/internal/domain/repository"
	domsvc "BondYield/internal/domain/service"
	"BondYield/internal/handler/api"
	mid "BondYield/internal/middleware"
	internalrepo "BondYield/internal/repository"
	"BondYield/internal/service/clock"
	"BondYield/internal/service/engine"
	"BondYield/internal/service/ratefeed"
	"BondYield/internal/service/ratelimit"
	"BondYield/internal/usecase"
	"BondYield/pkg/cache"
	pkgch "BondYield/pkg/clickhouse"
	"BondYield/pkg/config"
	xhttp "BondYield/pkg/http"
	pkgkafka "BondYield/pkg/kafka"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/metrics"
	"BondYield/pkg/queue"
	"BondYield/pkg/server"
)

const serviceName = "bondyield"

// ProvideLogger builds the application logger. Error (or warn, per
// collector.min_level) logs are aggregated and shipped to Kafka when the
// collector is enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			MinLevel:       cfg.Logging.Collector.MinLevel,
			Topic:          cfg.Logging.Collector.Topic,
			Service:        serviceName,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// ProvideIndexStore creates the fixing store and ensures its table exists.
func ProvideIndexStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) (*internalrepo.ClickHouseIndexStore, error) {
	store := internalrepo.NewClickHouseIndexStore(ch, l)
	store.SetFetchTimeout(cfg.Index.FetchTimeout)

	ctx, cancel := schemaContext()
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("index store schema: %w", err)
	}
	return store, nil
}

// ProvideResultStore creates the batch result store and ensures its table exists.
func ProvideResultStore(ch *pkgch.Client) (*internalrepo.ClickHouseResultStore, error) {
	store := internalrepo.NewClickHouseResultStore(ch)

	ctx, cancel := schemaContext()
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("result store schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when nothing publishes.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.NeedsProducer() {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher wraps the producer for index fixings. Nil without Kafka.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaIndexPublisher(producer, cfg.Kafka.Topic)
}

// ProvideKafkaConsumer creates the fixing consumer, or nil when it is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.RequireKey(), pkgkafka.LoggingHook(l)))
	return consumer, nil
}

// ProvideKafkaIndexRatesHandler creates the handler for the fixings topic.
func ProvideKafkaIndexRatesHandler(
	store *internalrepo.ClickHouseIndexStore,
	inval repository.IndexInvalidator,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.KafkaIndexRatesHandler {
	return usecase.NewKafkaIndexRatesHandler(cfg.Kafka.Topic, store, inval, metrics, l)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(redisPoolSize(cfg), cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// redisPoolSize reserves one connection per queue worker on top of the
// configured pool, since each worker parks a connection in BLMOVE.
func redisPoolSize(cfg *config.Config) int {
	if !cfg.Queue.Enabled {
		return cfg.Redis.PoolSize
	}
	return cfg.Redis.PoolSize + cfg.Queue.Workers
}

// ProvideCache layers memory over Redis when Redis is available, memory only otherwise.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache, metrics repository.Metrics) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Index.MemoryMaxSize),
			cache.WithMemoryCleanup(cfg.Index.MemoryCleanup),
		)
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Index.MemoryMaxSize),
		cache.WithLayeredMemoryTTL(cfg.Index.MemoryTTL),
		cache.WithLayeredMemoryCleanup(cfg.Index.MemoryCleanup),
		cache.WithLayeredRecorder(metrics),
	)
}

// ProvideIndexProvider chains cache -> logging/metrics -> ClickHouse.
func ProvideIndexProvider(
	store *internalrepo.ClickHouseIndexStore,
	c cache.Service,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *internalrepo.CachedIndexProvider {
	logged := internalrepo.NewLoggingIndexProvider(store, l, metrics)
	return internalrepo.NewCachedIndexProvider(logged, c, cfg.Index.CacheTTL, l)
}

// ProvideClock returns the wall clock.
func ProvideClock() repository.TimeSource {
	return clock.System{}
}

// ProvideYieldEngine creates the HTTP client of the remote yield engine.
func ProvideYieldEngine(cfg *config.Config, metrics repository.Metrics, l *applogger.Logger) domsvc.YieldEngine {
	// batch workers call the engine concurrently; keep enough idle connections for all of them
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = max(cfg.Queue.Workers*cfg.Queue.Concurrency, 2)
	client := xhttp.NewClient(
		xhttp.WithHTTPClient(&http.Client{Timeout: cfg.Engine.Timeout, Transport: transport}),
		xhttp.WithHeader("User-Agent", serviceName),
	)
	return engine.NewHTTPYieldEngine(cfg.Engine.URL, client, cfg.Engine.RetryDelay, l,
		engine.WithRetries(cfg.Engine.MaxRetries),
		engine.WithMetrics(metrics),
	)
}

// ProvideYtwCalculator creates the YTW use case.
func ProvideYtwCalculator(e domsvc.YieldEngine, indices repository.IndexProvider, ts repository.TimeSource) *usecase.YtwCalculator {
	return usecase.NewYtwCalculator(e, indices, ts)
}

// ProvideIndexRateProcessor creates the fixing ingestion use case.
func ProvideIndexRateProcessor(
	pub repository.Publisher,
	store *internalrepo.ClickHouseIndexStore,
	inval repository.IndexInvalidator,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.IndexRateProcessor {
	return usecase.NewIndexRateProcessor(pub, store, inval, metrics, cfg.Backend.Type, l)
}

// ProvideIndexCollector creates the live feed collector, or nil when the feed is disabled.
func ProvideIndexCollector(
	processor *usecase.IndexRateProcessor,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.IndexCollector {
	if !cfg.RateFeed.Enabled {
		return nil
	}
	stream := ratefeed.New(
		cfg.RateFeed.APIKey,
		cfg.RateFeed.WebSocketURL,
		cfg.RateFeed.Codes,
		cfg.RateFeed.ReconnectDelay,
		cfg.RateFeed.PingInterval,
		l,
	)
	pipe := mid.NewRatePipeline(processor, metrics,
		mid.WithThrottle(cfg.RateFeed.Throttle),
		mid.WithBufferSize(2000),
	)
	return usecase.NewIndexCollector(stream, processor, metrics, pipe, l,
		usecase.WithReconnectBackoff(cfg.RateFeed.BackoffBase, cfg.RateFeed.BackoffMax))
}

// ProvideYtwBatchJob creates the queue job that computes batches.
func ProvideYtwBatchJob(
	calc *usecase.YtwCalculator,
	results *internalrepo.ClickHouseResultStore,
	c cache.Service,
	metrics repository.Metrics,
	ts repository.TimeSource,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.YtwBatchJob {
	return usecase.NewYtwBatchJob(calc, results, metrics, ts, l,
		usecase.WithBatchConcurrency(cfg.Queue.Concurrency),
		usecase.WithBatchLocker(c, 0),
	)
}

// ProvideBatchQueue creates the Redis job queue, or nil when queueing is disabled.
func ProvideBatchQueue(cfg *config.Config, rc *cache.RedisCache, job *usecase.YtwBatchJob, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(rc.Client(), l, queue.Config{
		Workers:       cfg.Queue.Workers,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    cfg.Queue.RetryDelay,
		MaxRetryDelay: cfg.Queue.MaxRetryDelay,
	}, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	if err := q.Register(job); err != nil {
		l.Error("batch queue: register job failed", applogger.Error(err))
	}
	return q
}

// ProvideHandler creates the HTTP API handler.
func ProvideHandler(
	calc *usecase.YtwCalculator,
	indices repository.IndexProvider,
	ts repository.TimeSource,
	processor *usecase.IndexRateProcessor,
	q *queue.RedisQueue,
	store *internalrepo.ClickHouseIndexStore,
	metrics repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *api.YtwEchoHandler {
	opts := []api.HandlerOption{api.WithIndexHistory(store)}
	if cfg.Server.RateLimit.Enabled {
		opts = append(opts, api.WithRateLimit(ratelimit.New(), cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst))
	}
	if q != nil {
		opts = append(opts, api.WithBatchSubmitter(usecase.NewYtwBatchSubmitter(q)))
	}
	return api.NewYtwEchoHandler(l, calc, indices, ts, processor, metrics, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.YtwEchoHandler,
	collector *usecase.IndexCollector,
	processor *usecase.IndexRateProcessor,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaIndexRatesHandler,
	q *queue.RedisQueue,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	c cache.Service,
) *server.App {
	app := server.New(cfg, l, handler, chClient)
	app.IndexProc = processor
	if collector != nil {
		app.SetCollector(collector)
	}
	if consumer != nil {
		app.SetConsumer(consumer, kh)
	}
	if q != nil {
		app.SetQueue(q)
	}
	if producer != nil {
		app.SetProducer(producer)
	}
	app.SetCache(c)
	return app
}
