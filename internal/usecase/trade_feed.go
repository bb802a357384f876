package usecase

import (
	"context"
	"sync"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	mid "PolyPaper/internal/middleware"
	"PolyPaper/pkg/logger"
)

// LiveTradeFeed connects the market stream to the realtime pipeline and keeps
// the connection alive. Read channels die with the underlying connection, so
// the feed re-reads after every reconnect.
type LiveTradeFeed struct {
	stream  domrepo.MarketStream
	pipe    *mid.RealtimePipeline
	metrics domrepo.Metrics
	log     *logger.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewLiveTradeFeed(stream domrepo.MarketStream, pipe *mid.RealtimePipeline, metrics domrepo.Metrics, log *logger.Logger) *LiveTradeFeed {
	return &LiveTradeFeed{
		stream:  stream,
		pipe:    pipe,
		metrics: metrics,
		log:     log,
	}
}

// IsConnected reports the underlying stream state for health checks.
func (f *LiveTradeFeed) IsConnected() bool {
	return f.stream.IsConnected()
}

// Subscribe replaces the stream's token set. Called after market refreshes so
// newly tracked tokens start flowing without a feed restart.
func (f *LiveTradeFeed) Subscribe(ctx context.Context, tokenIDs []string) error {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		return nil
	}
	return f.stream.Subscribe(ctx, tokenIDs)
}

// Start connects, subscribes to the given tokens and launches the consume
// loop. A second Start without Stop is a no-op.
func (f *LiveTradeFeed) Start(ctx context.Context, tokenIDs []string) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.done = make(chan struct{})
	f.mu.Unlock()

	if err := f.stream.Connect(ctx); err != nil {
		f.reset()
		return err
	}
	if err := f.stream.Subscribe(ctx, tokenIDs); err != nil {
		f.reset()
		_ = f.stream.Close()
		return err
	}
	f.pipe.Start(ctx)

	go f.run(ctx)
	f.log.Info("live trade feed started", logger.Int("tokens", len(tokenIDs)))
	return nil
}

func (f *LiveTradeFeed) reset() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *LiveTradeFeed) run(ctx context.Context) {
	defer close(f.done)
	for {
		trCh, errCh := f.stream.Read(ctx)
		if stopped := f.consume(ctx, trCh, errCh); stopped {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			default:
			}
			// Reconnect re-subscribes the remembered tokens and waits its
			// own delay between attempts.
			if err := f.stream.Reconnect(ctx); err != nil {
				f.metrics.RecordError("stream_reconnect")
				f.log.Warn("stream reconnect failed", logger.Error(err))
				continue
			}
			break
		}
	}
}

// consume drains one connection's channels. Returns true when the feed should
// stop, false when the connection failed and a reconnect is due.
func (f *LiveTradeFeed) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-f.stopCh:
			return true
		case err := <-errCh:
			if err != nil {
				f.metrics.RecordError("stream")
				f.log.Warn("market stream error", logger.Error(err))
			}
			return false
		case t := <-trCh:
			if t == nil {
				continue
			}
			// pipeline logs and buffers its own failures
			_ = f.pipe.Process(ctx, t)
		}
	}
}

// Stop ends the consume loop, stops the pipeline and closes the stream.
func (f *LiveTradeFeed) Stop() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = false
	close(f.stopCh)
	done := f.done
	f.mu.Unlock()

	f.pipe.Stop()
	err := f.stream.Close()
	<-done
	return err
}
