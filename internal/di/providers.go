package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
	domsvc "PolyPaper/internal/domain/service"
	"PolyPaper/internal/handler/api"
	mid "PolyPaper/internal/middleware"
	internalrepo "PolyPaper/internal/repository"
	icache "PolyPaper/internal/service/cache"
	"PolyPaper/internal/service/gamma"
	"PolyPaper/internal/service/ratelimit"
	"PolyPaper/internal/services/paper"
	"PolyPaper/internal/services/regime"
	"PolyPaper/internal/services/replay"
	"PolyPaper/internal/services/risk"
	"PolyPaper/internal/services/signals"
	"PolyPaper/internal/usecase"
	pkgcache "PolyPaper/pkg/cache"
	pkgch "PolyPaper/pkg/clickhouse"
	"PolyPaper/pkg/config"
	phttp "PolyPaper/pkg/http"
	pkgkafka "PolyPaper/pkg/kafka"
	"PolyPaper/pkg/logger"
	"PolyPaper/pkg/metrics"
	"PolyPaper/pkg/sched"
	"PolyPaper/pkg/server"

	kafkago "github.com/segmentio/kafka-go"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRateLimiter creates the shared egress limiter for the market data
// API, with per-endpoint overrides from config.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	def := ratelimit.Rule{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}
	rules := make(map[string]ratelimit.Rule, len(cfg.RateLimit.Endpoints))
	for key, r := range cfg.RateLimit.Endpoints {
		rules[key] = ratelimit.Rule{RPS: r.RPS, Burst: r.Burst}
	}
	return ratelimit.New(def, rules)
}

// ProvideHTTPClient creates the outbound HTTP client for the data source.
func ProvideHTTPClient(cfg *config.Config) *phttp.Client {
	return phttp.NewClient(phttp.WithTimeout(cfg.Gamma.Timeout))
}

// ProvideDataSource creates the REST market data client.
func ProvideDataSource(cfg *config.Config, httpClient *phttp.Client, limiter *ratelimit.Limiter, log *logger.Logger) repository.DataSource {
	return gamma.NewClient(gamma.Config{
		BaseURL:       cfg.Gamma.BaseURL,
		APIKey:        cfg.Gamma.APIKey,
		RetryAttempts: cfg.Gamma.RetryAttempts,
		Timeframe:     repository.NormalizeTimeframe(cfg.Markets.Timeframe),
	}, httpClient, limiter, log)
}

// ProvideMarketStream creates the WebSocket trade stream.
func ProvideMarketStream(cfg *config.Config, log *logger.Logger) repository.MarketStream {
	return gamma.NewStream(gamma.StreamConfig{
		URL:            cfg.Gamma.WebSocketURL,
		APIKey:         cfg.Gamma.APIKey,
		ReconnectDelay: cfg.Gamma.ReconnectDelay,
		PingInterval:   cfg.Gamma.PingInterval,
	}, log)
}

// ProvideLedger opens the SQLite ledger and ensures its schema.
func ProvideLedger(cfg *config.Config) (*internalrepo.SQLiteLedger, error) {
	ledger, err := internalrepo.NewSQLiteLedger(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := ledger.Init(ctx); err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return ledger, nil
}

// ProvideLedgerStore exposes the ledger behind its domain interface.
func ProvideLedgerStore(ledger *internalrepo.SQLiteLedger) repository.LedgerStore {
	return ledger
}

// ProvideRedisCache connects to redis when enabled, nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	c, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix("polypaper"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideConfigStore keeps runtime flags in redis when available so they
// survive a wiped ledger file; the ledger's config table is the fallback.
func ProvideConfigStore(ledger *internalrepo.SQLiteLedger, redisCache *pkgcache.RedisCache) repository.ConfigStore {
	if redisCache != nil {
		return internalrepo.NewRedisConfig(redisCache)
	}
	return internalrepo.NewSQLiteConfig(ledger.DB())
}

// ProvideMarketCache caches market metadata, nil when redis is off. The
// collector tolerates a nil cache. Layered so refresh-heavy metadata reads
// hit the in-process L1 instead of a redis round trip.
func ProvideMarketCache(cfg *config.Config, redisCache *pkgcache.RedisCache) *internalrepo.MarketCache {
	if redisCache == nil {
		return nil
	}
	layered := pkgcache.NewLayeredCache(redisCache, pkgcache.WithLayeredMemorySize(512))
	return internalrepo.NewMarketCache(layered, cfg.Redis.CacheTTL)
}

// ProvideBytesCache backs API response caching with redis when available,
// in-process TTL cache otherwise.
func ProvideBytesCache(redisCache *pkgcache.RedisCache) icache.BytesCache {
	if redisCache != nil {
		return icache.NewRedisCache(redisCache.Client(), "")
	}
	return icache.NewTTLCache()
}

// ProvideClickHouse creates a ClickHouse client, nil when no host is
// configured. Table schemas are owned by the stores that write them.
func ProvideClickHouse(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBarStore persists bars in ClickHouse, in memory when it is absent.
func ProvideBarStore(cfg *config.Config, chClient *pkgch.Client) (repository.BarStore, error) {
	tf := repository.NormalizeTimeframe(cfg.Markets.Timeframe)
	if chClient == nil {
		return internalrepo.NewMemoryBarStore(tf), nil
	}

	store := internalrepo.NewCHBarStore(chClient, tf)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("bar store schema: %w", err)
	}
	return store, nil
}

// ProvidePredictionStore appends signal outputs to ClickHouse, in memory
// when it is absent.
func ProvidePredictionStore(chClient *pkgch.Client) (repository.PredictionStore, error) {
	if chClient == nil {
		return internalrepo.NewMemoryPredictionStore(), nil
	}

	store := internalrepo.NewCHPredictionStore(chClient)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("prediction store schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
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

// ProvideEventPublisher pushes fills and signals onto the bus; a no-op sink
// keeps the trade path identical when kafka is disabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopEvents{}
	}
	return internalrepo.NewKafkaEvents(producer, cfg.Kafka.Topics.Fills, cfg.Kafka.Topics.Signals)
}

// ProvideKafkaConsumer creates the trades consumer, nil unless both kafka
// and its consumer are enabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// consumerAuditHook reports failed and slow message handling through the
// structured logger. The consumer's own metrics cover the aggregate view;
// this surfaces the individual offenders.
func consumerAuditHook(log *logger.Logger) pkgkafka.HookFuncs {
	const slow = 500 * time.Millisecond
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafkago.Message, data []byte) (context.Context, kafkago.Message, []byte, error) {
			return pkgkafka.WithStartTime(ctx, time.Now()), km, data, nil
		},
		After: func(ctx context.Context, topic string, km kafkago.Message, _ []byte, err error) {
			start, ok := pkgkafka.StartTime(ctx)
			if !ok {
				return
			}
			elapsed := time.Since(start)
			if err == nil && elapsed < slow {
				return
			}
			fields := []logger.Field{
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Duration("took", elapsed),
			}
			if err != nil {
				log.Warn("kafka message handling failed", append(fields, logger.Error(err))...)
				return
			}
			log.Warn("kafka message handling slow", fields...)
		},
	}
}

// ProvideTradeWindow keeps the rolling per-token trade tape.
func ProvideTradeWindow() *usecase.TradeWindow {
	return usecase.NewTradeWindow(256)
}

// ProvideKafkaTradesHandler feeds consumed trade events into the window.
func ProvideKafkaTradesHandler(cfg *config.Config, window *usecase.TradeWindow, m repository.Metrics) *usecase.KafkaTradesHandler {
	return usecase.NewKafkaTradesHandler(cfg.Kafka.Topics.Trades, window, m)
}

// ProvideRegimeDetector creates the HMM regime detector.
func ProvideRegimeDetector(cfg *config.Config, log *logger.Logger) (domsvc.RegimeDetector, error) {
	var overrides map[string]models.RegimeParameters
	if len(cfg.Regime.Parameters) > 0 {
		overrides = make(map[string]models.RegimeParameters, len(cfg.Regime.Parameters))
		for name, p := range cfg.Regime.Parameters {
			if !knownRegime(name) {
				return nil, fmt.Errorf("regime detector: unknown regime %q in regime.parameters", name)
			}
			overrides[name] = models.RegimeParameters{
				Regime:           name,
				SizeMultiplier:   p.SizeMultiplier,
				MinConfidence:    p.MinConfidence,
				MinStrength:      p.MinStrength,
				PreferredSignals: p.PreferredSignals,
				AvoidedSignals:   p.AvoidedSignals,
				StopLossMult:     p.StopLossMult,
				TakeProfitMult:   p.TakeProfitMult,
			}
		}
	}
	det, err := regime.NewDetector(regime.Config{
		HistoryWindow:  cfg.Regime.HistoryWindow,
		ObservationCap: cfg.Regime.ObservationCap,
		ReestimateMin:  cfg.Regime.ReestimateMin,
		Parameters:     overrides,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("regime detector: %w", err)
	}
	return det, nil
}

func knownRegime(name string) bool {
	for _, r := range models.RegimeNames {
		if r == name {
			return true
		}
	}
	return false
}

// ProvideEngine creates the paper execution engine and restores persisted
// account and position state.
func ProvideEngine(cfg *config.Config, ledger *internalrepo.SQLiteLedger, log *logger.Logger) (*paper.Engine, error) {
	engine := paper.NewEngine(paper.Config{
		InitialCapital: cfg.Paper.InitialCapital,
		FeeRate:        cfg.Paper.FeeRate,
	}, ledger, log)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := engine.Load(ctx); err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	return engine, nil
}

// ProvideRiskManager assembles the breaker and the order gate, restoring a
// persisted halt flag so a restart does not silently resume trading.
func ProvideRiskManager(
	cfg *config.Config,
	detector domsvc.RegimeDetector,
	engine *paper.Engine,
	store repository.ConfigStore,
	log *logger.Logger,
) (*risk.Manager, error) {
	breaker := risk.NewBreaker(risk.BreakerConfig{
		ConsecutiveLosses: cfg.Risk.Breaker.ConsecutiveLosses,
		DrawdownPct:       cfg.Risk.Breaker.DrawdownPct,
		Cooldown:          cfg.Risk.Breaker.Cooldown,
		ProbeTrades:       cfg.Risk.Breaker.ProbeTrades,
		ProbeSizeFactor:   cfg.Risk.Breaker.ProbeSizeFactor,
		Window:            cfg.Risk.Breaker.Window,
	}, log)
	manager := risk.NewManager(risk.Limits{
		MaxPositionSize:  cfg.Risk.MaxPositionSize,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MaxExposure:      cfg.Risk.MaxExposure,
	}, breaker, detector, engine, store, log)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := manager.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore halt state: %w", err)
	}
	return manager, nil
}

// ProvideRiskGate exposes the manager behind its domain interface.
func ProvideRiskGate(manager *risk.Manager) domsvc.RiskGate {
	return manager
}

// ProvideRegistry builds the detector set with configured weights; unknown
// names in the enabled map are ignored by the registry.
func ProvideRegistry(cfg *config.Config, log *logger.Logger) (*signals.Registry, error) {
	reg := signals.NewRegistry(log)
	detectors := []signals.Signal{
		signals.NewMomentum(cfg.Signals.TTL),
		signals.NewMeanReversion(cfg.Signals.TTL),
		signals.NewOrderFlow(cfg.Signals.TTL),
		signals.NewBookPressure(cfg.Signals.TTL),
		signals.NewWhale(cfg.Signals.TTL),
	}
	for _, s := range detectors {
		w := 1.0
		if bw, ok := cfg.Signals.Weights[s.Name()]; ok {
			w = bw
		}
		if err := reg.Register(s, w); err != nil {
			return nil, fmt.Errorf("register %s: %w", s.Name(), err)
		}
	}
	for name, on := range cfg.Signals.Enabled {
		reg.SetEnabled(name, on)
	}
	return reg, nil
}

// ProvideCombiner creates the weighted signal combiner.
func ProvideCombiner(cfg *config.Config, log *logger.Logger) *signals.Combiner {
	return signals.NewCombiner(cfg.Signals.NeutralBand, log)
}

// ProvideReplayAdapter builds the experience buffer and the weight learner
// over it.
func ProvideReplayAdapter(cfg *config.Config, log *logger.Logger) (*replay.Adapter, error) {
	buffer, err := replay.NewBuffer(replay.Config{
		Capacity:    cfg.Replay.Capacity,
		Prioritized: cfg.Replay.Prioritized,
		Alpha:       cfg.Replay.Alpha,
		Beta:        cfg.Replay.Beta,
		Epsilon:     cfg.Replay.Epsilon,
	})
	if err != nil {
		return nil, fmt.Errorf("replay buffer: %w", err)
	}
	return replay.NewAdapter(buffer, replay.AdapterConfig{
		BatchSize:    cfg.Replay.BatchSize,
		LearningRate: cfg.Replay.LearningRate,
	}, log), nil
}

// ProvideMarketCollector tracks markets and collects their bars.
func ProvideMarketCollector(
	cfg *config.Config,
	src repository.DataSource,
	bars repository.BarStore,
	marketCache *internalrepo.MarketCache,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.MarketCollector {
	return usecase.NewMarketCollector(usecase.CollectorConfig{
		MarketIDs:     cfg.Markets.IDs,
		Discover:      cfg.Markets.Discover,
		DiscoverLimit: cfg.Markets.DiscoverLimit,
		Timeframe:     repository.NormalizeTimeframe(cfg.Markets.Timeframe),
		Lookback:      cfg.Markets.Lookback,
	}, src, bars, marketCache, m, log)
}

// ProvideTradeRouter routes live trades either straight into the window or
// through the trades topic when the consumer path is on.
func ProvideTradeRouter(cfg *config.Config, producer *pkgkafka.Producer, window *usecase.TradeWindow, m repository.Metrics) *usecase.TradeRouter {
	backend := usecase.BackendDirect
	if cfg.Kafka.Enabled && cfg.Kafka.Consumer.Enabled {
		backend = usecase.BackendKafka
	}
	return usecase.NewTradeRouter(backend, cfg.Kafka.Topics.Trades, producer, window, m)
}

// ProvidePipeline sits between the WebSocket stream and the router.
func ProvidePipeline(router *usecase.TradeRouter, m repository.Metrics) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(router, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
}

// ProvideTradeFeed keeps the stream connected and draining.
func ProvideTradeFeed(stream repository.MarketStream, pipe *mid.RealtimePipeline, m repository.Metrics, log *logger.Logger) *usecase.LiveTradeFeed {
	return usecase.NewLiveTradeFeed(stream, pipe, m, log)
}

// ProvideTradeCycle assembles the signal-to-order loop.
func ProvideTradeCycle(
	cfg *config.Config,
	collector *usecase.MarketCollector,
	src repository.DataSource,
	bars repository.BarStore,
	window *usecase.TradeWindow,
	registry *signals.Registry,
	combiner *signals.Combiner,
	detector domsvc.RegimeDetector,
	gate domsvc.RiskGate,
	engine *paper.Engine,
	adapter *replay.Adapter,
	predictions repository.PredictionStore,
	events repository.EventPublisher,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.TradeCycle {
	return usecase.NewTradeCycle(usecase.TradeCycleConfig{
		OrderNotional: cfg.Paper.OrderNotional,
		Lookback:      cfg.Markets.Lookback,
		Timeframe:     repository.NormalizeTimeframe(cfg.Markets.Timeframe),
	}, collector, src, bars, window, registry, combiner, detector, gate, engine, adapter, predictions, events, m, log)
}

// ProvideLearnCycle samples replayed experiences into weight updates.
func ProvideLearnCycle(adapter *replay.Adapter, combiner *signals.Combiner, detector domsvc.RegimeDetector, m repository.Metrics, log *logger.Logger) *usecase.LearnCycle {
	return usecase.NewLearnCycle(adapter, combiner, detector, m, log)
}

// ProvideMarker refreshes marks on open positions between cycles.
func ProvideMarker(cfg *config.Config, engine *paper.Engine, bars repository.BarStore, window *usecase.TradeWindow, m repository.Metrics, log *logger.Logger) *usecase.Marker {
	return usecase.NewMarker(engine, bars, window, repository.NormalizeTimeframe(cfg.Markets.Timeframe), m, log)
}

// ProvideBarsQuery serves bar history to the API.
func ProvideBarsQuery(bars repository.BarStore) *usecase.BarsQuery {
	return usecase.NewBarsQuery(bars)
}

// ProvideScheduler registers the periodic jobs. Missing intervals fall back
// to defaults sized for one-minute bars.
func ProvideScheduler(
	cfg *config.Config,
	collector *usecase.MarketCollector,
	feed *usecase.LiveTradeFeed,
	cycle *usecase.TradeCycle,
	marker *usecase.Marker,
	learner *usecase.LearnCycle,
	log *logger.Logger,
) (*sched.Scheduler, error) {
	s := sched.New(log)
	jobs := []sched.Job{
		sched.NewJob("refresh-markets", jobInterval(cfg.Markets.RefreshInterval, 15*time.Minute), func(ctx context.Context) error {
			if err := collector.RefreshMarkets(ctx); err != nil {
				return err
			}
			// newly tracked tokens must reach the stream subscription
			return feed.Subscribe(ctx, collector.TokenIDs())
		}),
		sched.NewJob("collect-bars", jobInterval(cfg.Jobs.CollectInterval, time.Minute), collector.Collect),
		sched.NewJob("trade-cycle", jobInterval(cfg.Jobs.CycleInterval, time.Minute), cycle.Run),
		sched.NewJob("mark-positions", jobInterval(cfg.Jobs.MarkInterval, 30*time.Second), marker.Run),
		sched.NewJob("learn-weights", jobInterval(cfg.Jobs.LearnInterval, 2*time.Minute), learner.RunLearn),
		sched.NewJob("reestimate-regime", jobInterval(cfg.Jobs.ReestimateInterval, 30*time.Minute), learner.RunReestimate),
	}
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return nil, fmt.Errorf("register job: %w", err)
		}
	}
	return s, nil
}

func jobInterval(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// ProvideOpsHandler creates the HTTP operations handler.
func ProvideOpsHandler(
	log *logger.Logger,
	engine *paper.Engine,
	manager *risk.Manager,
	detector domsvc.RegimeDetector,
	combiner *signals.Combiner,
	barsQuery *usecase.BarsQuery,
	ledger repository.LedgerStore,
	collector *usecase.MarketCollector,
	feed *usecase.LiveTradeFeed,
	scheduler *sched.Scheduler,
	egress *ratelimit.Limiter,
	bytesCache icache.BytesCache,
) *api.OpsHandler {
	h := api.NewOpsHandler(log, engine, manager, detector, combiner, barsQuery, ledger, collector, feed, scheduler, egress)
	h.SetCache(bytesCache)
	return h
}

// ProvideHTTPServer creates the API server with the ops routes mounted.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, handler *api.OpsHandler) *phttp.Server {
	return phttp.NewServer(handler,
		phttp.WithPort(cfg.Server.Port),
		phttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		phttp.WithRequestMetrics(log, 2*time.Second),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	collector *usecase.MarketCollector,
	feed *usecase.LiveTradeFeed,
	scheduler *sched.Scheduler,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTradesHandler,
	httpServer *phttp.Server,
	producer *pkgkafka.Producer,
	ledger *internalrepo.SQLiteLedger,
	chClient *pkgch.Client,
	redisCache *pkgcache.RedisCache,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(consumerAuditHook(log))
	}
	return server.New(cfg, log, collector, feed, scheduler, consumer, kh, httpServer, producer, ledger, chClient, redisCache)
}
