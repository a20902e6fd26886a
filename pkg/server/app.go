package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"DeltaSpirit/internal/daemon"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/internal/gateway"
	pkgch "DeltaSpirit/pkg/clickhouse"
	"DeltaSpirit/pkg/config"
	xhttp "DeltaSpirit/pkg/http"
	pkgkafka "DeltaSpirit/pkg/kafka"
	applogger "DeltaSpirit/pkg/logger"
)

const logChannel = "spirit:logs"

// App encapsulates the entire application lifecycle: durable store, gateway
// hub, spirit daemon, optional Kafka intake, and the HTTP surface.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	redisClient *redis.Client
	chClient    *pkgch.Client
	store       repository.EventStore
	emitter     *emitter.Emitter
	daemon      *daemon.Daemon
	hub         *gateway.Hub
	consumer    *pkgkafka.Consumer
	intake      pkgkafka.MessageHandler
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	redisClient *redis.Client,
	chClient *pkgch.Client,
	store repository.EventStore,
	em *emitter.Emitter,
	d *daemon.Daemon,
	hub *gateway.Hub,
	consumer *pkgkafka.Consumer,
	intake pkgkafka.MessageHandler,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		redisClient: redisClient,
		chClient:    chClient,
		store:       store,
		emitter:     em,
		daemon:      d,
		hub:         hub,
		consumer:    consumer,
		intake:      intake,
	}
}

// SetHTTPHandler allows DI to inject the HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// redisLogPublisher lets the log collector publish aggregated error logs on
// a redis channel for out-of-process log shipping.
type redisLogPublisher struct {
	client *redis.Client
}

func (p *redisLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	return p.client.Publish(ctx, topic, data).Err()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.log.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          logChannel,
		Publisher:      &redisLogPublisher{client: a.redisClient},
	})

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	defer initCancel()
	if err := a.store.Init(initCtx); err != nil {
		return fmt.Errorf("init event store: %w", err)
	}

	go func() {
		if err := a.hub.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("gateway hub exited", applogger.Error(err))
		}
	}()

	if err := a.daemon.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if a.consumer != nil && a.intake != nil {
		a.consumer.RegisterHandler(a.intake)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka intake start error", applogger.Error(err))
		} else {
			a.log.Info("kafka intake started", applogger.String("topic", a.intake.Topic()))
		}
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRequestMetrics(a.log, time.Second),
	)
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.log.Info("spirit gateway listening", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops services in dependency order: producers first, then the
// distribution tier, then infrastructure clients.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Intake and HTTP go first; both emit events, and the daemon closes the
	// emitter behind itself.
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka intake stop error", applogger.Error(err))
		}
	}

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if err := a.daemon.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("daemon shutdown error", applogger.Error(err))
	}

	// Covers the path where the daemon never started; Close is idempotent.
	if err := a.emitter.Close(); err != nil {
		a.log.Warn("emitter close error", applogger.Error(err))
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if err := a.redisClient.Close(); err != nil {
		a.log.Warn("redis close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	a.log.RemoveCollector()
	return nil
}
