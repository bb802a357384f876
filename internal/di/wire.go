//go:build wireinject
// +build wireinject

package di

import (
	"PolyPaper/pkg/config"
	"PolyPaper/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideRateLimiter,

		// Market data clients
		ProvideHTTPClient,
		ProvideDataSource,
		ProvideMarketStream,

		// Storage
		ProvideLedger,
		ProvideLedgerStore,
		ProvideRedisCache,
		ProvideConfigStore,
		ProvideMarketCache,
		ProvideBytesCache,
		ProvideClickHouse,
		ProvideBarStore,
		ProvidePredictionStore,

		// Event bus
		ProvideKafkaProducer,
		ProvideEventPublisher,
		ProvideKafkaConsumer,
		ProvideKafkaTradesHandler,

		// Trading core
		ProvideRegimeDetector,
		ProvideEngine,
		ProvideRiskManager,
		ProvideRiskGate,
		ProvideRegistry,
		ProvideCombiner,
		ProvideReplayAdapter,

		// Use cases
		ProvideTradeWindow,
		ProvideMarketCollector,
		ProvideTradeRouter,
		ProvidePipeline,
		ProvideTradeFeed,
		ProvideTradeCycle,
		ProvideLearnCycle,
		ProvideMarker,
		ProvideBarsQuery,
		ProvideScheduler,

		// Serving layer
		ProvideOpsHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
