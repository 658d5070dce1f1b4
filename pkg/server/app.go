package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"BondYield/internal/usecase"
	"BondYield/pkg/cache"
	pkgch "BondYield/pkg/clickhouse"
	"BondYield/pkg/config"
	xhttp "BondYield/pkg/http"
	pkgkafka "BondYield/pkg/kafka"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	chClient    *pkgch.Client

	// optional components; nil when disabled in config
	collector *usecase.IndexCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	queue     *queue.RedisQueue
	producer  *pkgkafka.Producer
	cache     cache.Service

	IndexProc *usecase.IndexRateProcessor
}

// New creates a new App instance with its mandatory dependencies.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, chClient *pkgch.Client) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, httpHandler: handler, chClient: chClient}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

func (a *App) SetCollector(c *usecase.IndexCollector) { a.collector = c }

func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer, a.kh = c, h
}

func (a *App) SetQueue(q *queue.RedisQueue) { a.queue = q }

func (a *App) SetProducer(p *pkgkafka.Producer) { a.producer = p }

func (a *App) SetCache(c cache.Service) { a.cache = c }

func (a *App) buildServer() *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowRequest),
		xhttp.WithHealthTimeout(a.cfg.Server.HealthTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(a.cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	if a.chClient != nil {
		opts = append(opts, xhttp.WithHealthCheck("clickhouse", a.chClient.Health))
	}
	if a.collector != nil {
		c := a.collector
		opts = append(opts, xhttp.WithHealthCheck("ratefeed", func(context.Context) error {
			if !c.IsConnected() {
				return errFeedDisconnected
			}
			return nil
		}))
	}
	if a.queue != nil {
		q := a.queue
		opts = append(opts, xhttp.WithHealthCheck("queue", func(ctx context.Context) error {
			st, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			if st.Dead > 0 {
				a.log.Warn("batch queue has dead letters", applogger.Int64("dead", st.Dead))
			}
			return nil
		}))
	}
	return xhttp.NewServer(a.httpHandler, a.log, opts...)
}

// Start launches every background component and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.httpServer = a.buildServer()

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			// the feed is optional: serve YTW requests without it
			a.log.Error("ratefeed collector start failed", applogger.Error(err))
		} else {
			a.log.Info("ratefeed collector started", applogger.Strings("codes", a.cfg.RateFeed.Codes))
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("bondyield started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("backend", a.cfg.Backend.Type))
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	cancel()
	return a.Shutdown(context.Background())
}

// Shutdown stops components in reverse start order.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.collector != nil {
		if err := a.collector.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}

	// flush pending error logs while the producer is still open
	a.log.RemoveCollector()

	if a.IndexProc != nil {
		a.IndexProc.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
