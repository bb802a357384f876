package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalrepo "PolyPaper/internal/repository"
	"PolyPaper/internal/usecase"
	pkgcache "PolyPaper/pkg/cache"
	pkgch "PolyPaper/pkg/clickhouse"
	"PolyPaper/pkg/config"
	xhttp "PolyPaper/pkg/http"
	pkgkafka "PolyPaper/pkg/kafka"
	applogger "PolyPaper/pkg/logger"
	"PolyPaper/pkg/sched"
)

// App encapsulates the entire application lifecycle: the live trade feed,
// the job scheduler, the optional kafka consumer and the HTTP server, plus
// the infrastructure clients it owns and must close.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	collector  *usecase.MarketCollector
	feed       *usecase.LiveTradeFeed
	scheduler  *sched.Scheduler
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	httpServer *xhttp.Server
	producer   *pkgkafka.Producer
	ledger     *internalrepo.SQLiteLedger
	chClient   *pkgch.Client
	redisCache *pkgcache.RedisCache
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.MarketCollector,
	feed *usecase.LiveTradeFeed,
	scheduler *sched.Scheduler,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	ledger *internalrepo.SQLiteLedger,
	chClient *pkgch.Client,
	redisCache *pkgcache.RedisCache,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		collector:  collector,
		feed:       feed,
		scheduler:  scheduler,
		consumer:   consumer,
		kh:         kh,
		httpServer: httpServer,
		producer:   producer,
		ledger:     ledger,
		chClient:   chClient,
		redisCache: redisCache,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ship deduplicated warn/error logs to the log topic when kafka is up.
	if a.producer != nil && a.cfg.Kafka.Topics.Logs != "" {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.Topics.Logs,
			Publisher:      kafkaLogSink{producer: a.producer},
		})
	}

	// The stream subscription needs the token set, so the first market
	// refresh happens before anything else.
	refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
	err := a.collector.RefreshMarkets(refreshCtx)
	refreshCancel()
	if err != nil {
		return fmt.Errorf("initial market refresh: %w", err)
	}
	tokens := a.collector.TokenIDs()
	a.log.Info("markets resolved",
		applogger.Int("markets", len(a.collector.Tracked())),
		applogger.Int("tokens", len(tokens)))

	if err := a.feed.Start(ctx, tokens); err != nil {
		return fmt.Errorf("trade feed: %w", err)
	}

	if a.consumer != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.log.Info("polypaper running",
		applogger.String("environment", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops intake first, drains the jobs, then closes the serving
// layer and the infrastructure clients.
func (a *App) shutdown(ctx context.Context) error {
	if err := a.feed.Stop(); err != nil {
		a.log.Warn("trade feed stop error", applogger.Error(err))
	}

	drain := a.cfg.Jobs.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	drainCtx, drainCancel := context.WithTimeout(ctx, drain)
	defer drainCancel()
	if err := a.scheduler.Stop(drainCtx); err != nil {
		a.log.Warn("scheduler stop error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	// Flushes pending aggregated logs through the producer, so it goes first.
	a.log.RemoveCollector()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.log.Warn("redis close error", applogger.Error(err))
		}
	}
	if err := a.ledger.Close(); err != nil {
		a.log.Warn("ledger close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}

// kafkaLogSink adapts the kafka producer to the log collector's publisher.
type kafkaLogSink struct {
	producer *pkgkafka.Producer
}

func (s kafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.producer.Publish(ctx, topic, nil, payload)
}
