package di

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"DeltaSpirit/internal/analyzer"
	"DeltaSpirit/internal/daemon"
	domrepo "DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/internal/engine"
	"DeltaSpirit/internal/gateway"
	"DeltaSpirit/internal/handler/api"
	"DeltaSpirit/internal/intake"
	internalrepo "DeltaSpirit/internal/repository"
	"DeltaSpirit/internal/service/ratelimit"
	"DeltaSpirit/pkg/cache"
	pkgch "DeltaSpirit/pkg/clickhouse"
	"DeltaSpirit/pkg/config"
	pkgkafka "DeltaSpirit/pkg/kafka"
	"DeltaSpirit/pkg/logger"
	"DeltaSpirit/pkg/metrics"
	"DeltaSpirit/pkg/queue"
	"DeltaSpirit/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideRedisClient creates the shared redis client used by the queue, the
// broadcast channel, and the analysis cache.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		PoolTimeout:  cfg.Redis.PoolTimeout,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the
// database exists. Table creation is the event store's Init.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideEventStore creates ClickHouse-backed durable event storage.
func ProvideEventStore(chClient *pkgch.Client, cfg *config.Config) domrepo.EventStore {
	return internalrepo.NewClickHouseEventStore(chClient.DB(), cfg.ClickHouse.Database+".spirit_events")
}

// ProvideBroadcaster creates the redis pub/sub broadcaster.
func ProvideBroadcaster(client *redis.Client, cfg *config.Config, log *logger.Logger) domrepo.Broadcaster {
	return internalrepo.NewRedisBroadcaster(client, cfg.Broadcast.Channel, log)
}

// ProvideMirror creates the Kafka event mirror, or a no-op when Kafka is
// disabled.
func ProvideMirror(cfg *config.Config) (domrepo.Mirror, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopMirror{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaMirror(producer, cfg.Kafka.MirrorTopic), nil
}

// ProvideEmitter creates the single event write path.
func ProvideEmitter(
	store domrepo.EventStore,
	broadcast domrepo.Broadcaster,
	mirror domrepo.Mirror,
	m domrepo.Metrics,
	log *logger.Logger,
) *emitter.Emitter {
	return emitter.New(store, broadcast, mirror, m, log)
}

// ProvideCache creates the layered analysis cache over the shared redis
// connection settings.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(redisCache, cache.WithLayeredMemorySize(256)), nil
}

// ProvideAnalyzer builds the configured analyzer wrapped with the per-symbol
// result cache.
func ProvideAnalyzer(cfg *config.Config, c cache.Service) domrepo.Analyzer {
	var inner domrepo.Analyzer
	switch cfg.Analyzer.Mode {
	case "http":
		inner = analyzer.NewHTTPAnalyzer(cfg.Analyzer.Endpoint, cfg.Analyzer.APIKey, cfg.Analyzer.Model)
	default:
		inner = analyzer.NewMockAnalyzer(cfg.Analyzer.MockLatency)
	}
	return analyzer.NewCachedAnalyzer(inner, c, cfg.Analyzer.CacheTTL)
}

// ProvideSampler creates the escalation sampler.
func ProvideSampler(cfg *config.Config) domrepo.Sampler {
	return daemon.NewRandomSampler(cfg.Daemon.EscalationProbability, time.Now().UnixNano())
}

// ProvideLimiter creates the escalation rate limiter.
func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideSignalSource creates the market signal source.
func ProvideSignalSource() daemon.SignalSource {
	return daemon.NewSimulator(time.Now().UnixNano())
}

// ProvideEngine creates the decision engine from configured thresholds.
func ProvideEngine(cfg *config.Config) *engine.Engine {
	return engine.New(engine.Config{
		CrashChangePct: cfg.Engine.CrashChangePct,
		OversoldRSI:    cfg.Engine.OversoldRSI,
		OverboughtRSI:  cfg.Engine.OverboughtRSI,
		AmbiguityLow:   cfg.Engine.AmbiguityLow,
		AmbiguityHigh:  cfg.Engine.AmbiguityHigh,
	})
}

// ProvideQueue creates the redis job queue with job timing flowing into
// metrics.
func ProvideQueue(log *logger.Logger, cfg *config.Config, client *redis.Client, m domrepo.Metrics) *queue.RedisQueue {
	return queue.NewRedisQueue(log,
		&queue.Config{
			Workers:    cfg.Queue.Workers,
			RetryLimit: cfg.Queue.RetryLimit,
			RetryDelay: cfg.Queue.RetryDelay,
		},
		client,
		queue.WithJobObserver(func(queueName, job string, seconds float64, err error) {
			m.RecordJobDuration(queueName, job, seconds)
			if err != nil {
				m.RecordError("job_" + job)
			}
		}),
	)
}

// ProvideDaemon creates the spirit daemon.
func ProvideDaemon(
	cfg *config.Config,
	q *queue.RedisQueue,
	em *emitter.Emitter,
	eng *engine.Engine,
	an domrepo.Analyzer,
	sampler domrepo.Sampler,
	limiter *ratelimit.Limiter,
	source daemon.SignalSource,
	m domrepo.Metrics,
	log *logger.Logger,
) *daemon.Daemon {
	scans := make([]daemon.Scan, 0, len(cfg.Daemon.ScanTicks))
	for _, tick := range cfg.Daemon.ScanTicks {
		scans = append(scans, daemon.Scan{Name: tick.Name, Symbol: tick.Symbol, Every: tick.Every})
	}
	return daemon.New(
		daemon.Config{
			HeartbeatEvery:      cfg.Daemon.HeartbeatEvery,
			Scans:               scans,
			AnalyzerTimeout:     cfg.Analyzer.Timeout,
			EscalationBurst:     cfg.Daemon.EscalationBurst,
			EscalationPerMinute: cfg.Daemon.EscalationPerMinute,
		},
		q, em, eng, an, sampler, limiter, source, m, log,
	)
}

// ProvideHub creates the gateway distribution hub.
func ProvideHub(cfg *config.Config, broadcast domrepo.Broadcaster, m domrepo.Metrics, log *logger.Logger) *gateway.Hub {
	return gateway.NewHub(
		gateway.Config{
			HistoryCap:       cfg.Gateway.HistoryCap,
			InitEvents:       cfg.Gateway.InitEvents,
			HeartbeatTimeout: cfg.Gateway.HeartbeatTimeout,
		},
		broadcast, m, log,
	)
}

// ProvideKafkaConsumer creates the intake consumer, or nil when the intake
// topic is not configured.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.IntakeTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideIntakeHandler creates the intake topic handler, or nil when intake
// is disabled.
func ProvideIntakeHandler(cfg *config.Config, em *emitter.Emitter, m domrepo.Metrics, log *logger.Logger) pkgkafka.MessageHandler {
	if !cfg.Kafka.Enabled || cfg.Kafka.IntakeTopic == "" {
		return nil
	}
	return intake.NewEventHandler(cfg.Kafka.IntakeTopic, em, m, log)
}

// ProvideSpiritHandler creates the gateway HTTP handler. History reads are
// capped by the same window the hub keeps.
func ProvideSpiritHandler(cfg *config.Config, log *logger.Logger, hub *gateway.Hub, store domrepo.EventStore, em *emitter.Emitter) *api.SpiritHandler {
	return api.NewSpiritHandler(log, hub, store, em, cfg.Gateway.HistoryCap)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	redisClient *redis.Client,
	chClient *pkgch.Client,
	store domrepo.EventStore,
	em *emitter.Emitter,
	d *daemon.Daemon,
	hub *gateway.Hub,
	consumer *pkgkafka.Consumer,
	intakeHandler pkgkafka.MessageHandler,
	handler *api.SpiritHandler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NewHookChain(intake.TimingHook(log)))
	}
	app := server.New(cfg, log, redisClient, chClient, store, em, d, hub, consumer, intakeHandler)
	app.SetHTTPHandler(handler)
	return app
}
