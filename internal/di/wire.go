//go:build wireinject
// +build wireinject

package di

import (
	"DeltaSpirit/pkg/config"
	"DeltaSpirit/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideClickHouseClient,

		// Event pipeline
		ProvideEventStore,
		ProvideBroadcaster,
		ProvideMirror,
		ProvideEmitter,

		// Analysis
		ProvideCache,
		ProvideAnalyzer,
		ProvideSampler,
		ProvideLimiter,
		ProvideSignalSource,
		ProvideEngine,

		// Orchestration and distribution
		ProvideQueue,
		ProvideDaemon,
		ProvideHub,
		ProvideKafkaConsumer,
		ProvideIntakeHandler,
		ProvideSpiritHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
