//go:build wireinject
// +build wireinject

package di

import (
	"BondYield/internal/domain/repository"
	internalrepo "BondYield/internal/repository"
	"BondYield/pkg/config"
	"BondYield/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Storage and caching
		ProvideClickHouseClient,
		ProvideIndexStore,
		ProvideResultStore,
		ProvideRedisCache,
		ProvideCache,
		ProvideIndexProvider,
		wire.Bind(new(repository.IndexProvider), new(*internalrepo.CachedIndexProvider)),
		wire.Bind(new(repository.IndexInvalidator), new(*internalrepo.CachedIndexProvider)),

		// YTW
		ProvideClock,
		ProvideYieldEngine,
		ProvideYtwCalculator,

		// Ingestion
		ProvidePublisher,
		ProvideIndexRateProcessor,
		ProvideIndexCollector,
		ProvideKafkaConsumer,
		ProvideKafkaIndexRatesHandler,

		// Batch jobs
		ProvideYtwBatchJob,
		ProvideBatchQueue,

		// Application server
		ProvideHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
