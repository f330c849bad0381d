//go:build wireinject
// +build wireinject

package di

import (
	"OtcPull/pkg/config"
	"OtcPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideClock,
		ProvideCatalog,

		// Infrastructure clients
		ProvideSessionCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideJournal,

		// Broker access
		ProvideBrowser,
		ProvideSessions,
		ProvideTransport,

		// Pipeline
		ProvideCandleStore,
		ProvidePredictor,
		ProvideExecutor,
		ProvideScheduler,
		ProvideTickCollector,
		ProvideTradeCollector,
		ProvideSignalConsumer,
		ProvideSignalIntake,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
