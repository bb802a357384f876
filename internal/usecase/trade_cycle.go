package usecase

import (
	"context"
	"math"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	domsvc "PolyPaper/internal/domain/service"
	"PolyPaper/internal/service/gamma"
	"PolyPaper/internal/services/features"
	"PolyPaper/internal/services/replay"
	"PolyPaper/internal/services/signals"
	"PolyPaper/pkg/logger"
)

// Exit reasons logged when the cycle flattens a position.
const (
	exitResolved   = "resolved"
	exitStopLoss   = "stop_loss"
	exitTakeProfit = "take_profit"
)

// TradeCycleConfig tunes one decision pass. Zero values fall back to defaults.
type TradeCycleConfig struct {
	OrderNotional  float64           // target notional per entry, default 50
	Lookback       int               // bars per signal context, default 120
	Timeframe      domrepo.Timeframe // bar width read from the store
	WindowTrades   int               // trades per context, default 100
	WalletWindow   time.Duration     // wallet activity lookback, default 1h
	BaseStopLoss   float64           // loss fraction of cost basis, default 0.10
	BaseTakeProfit float64           // gain fraction of cost basis, default 0.20
}

func (c *TradeCycleConfig) defaults() {
	if c.OrderNotional <= 0 {
		c.OrderNotional = 50
	}
	if c.Lookback <= 0 {
		c.Lookback = 120
	}
	if !domrepo.IsValidTimeframe(c.Timeframe) {
		c.Timeframe = domrepo.DefaultTimeframe()
	}
	if c.WindowTrades <= 0 {
		c.WindowTrades = 100
	}
	if c.WalletWindow <= 0 {
		c.WalletWindow = time.Hour
	}
	if c.BaseStopLoss <= 0 {
		c.BaseStopLoss = 0.10
	}
	if c.BaseTakeProfit <= 0 {
		c.BaseTakeProfit = 0.20
	}
}

// pendingExperience is the opening state snapshot held until the position
// closes and the reward is known.
type pendingExperience struct {
	state  []float64
	signal string
}

// TradeCycle runs one full decision pass per tick: exit checks on open
// positions, then per-market signal computation, combination, risk gating and
// execution, then one aggregated regime observation. Decisions in a cycle use
// the regime published by the previous cycle.
type TradeCycle struct {
	cfg         TradeCycleConfig
	markets     *MarketCollector
	src         domrepo.DataSource
	bars        domrepo.BarStore
	window      *TradeWindow
	registry    *signals.Registry
	combiner    *signals.Combiner
	regime      domsvc.RegimeDetector
	risk        domsvc.RiskGate
	exec        domsvc.Executor
	adapter     *replay.Adapter
	predictions domrepo.PredictionStore
	events      domrepo.EventPublisher
	metrics     domrepo.Metrics
	log         *logger.Logger

	mu      sync.Mutex
	pending map[string]pendingExperience
}

func NewTradeCycle(
	cfg TradeCycleConfig,
	markets *MarketCollector,
	src domrepo.DataSource,
	bars domrepo.BarStore,
	window *TradeWindow,
	registry *signals.Registry,
	combiner *signals.Combiner,
	regime domsvc.RegimeDetector,
	risk domsvc.RiskGate,
	exec domsvc.Executor,
	adapter *replay.Adapter,
	predictions domrepo.PredictionStore,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *TradeCycle {
	cfg.defaults()
	return &TradeCycle{
		cfg:         cfg,
		markets:     markets,
		src:         src,
		bars:        bars,
		window:      window,
		registry:    registry,
		combiner:    combiner,
		regime:      regime,
		risk:        risk,
		exec:        exec,
		adapter:     adapter,
		predictions: predictions,
		events:      events,
		metrics:     metrics,
		log:         log,
		pending:     make(map[string]pendingExperience),
	}
}

// Run executes one decision pass.
func (c *TradeCycle) Run(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()

	// policy snapshot: this cycle trades on the regime the previous cycle
	// published; observations collected below take effect next cycle
	params := c.regime.Parameters()
	state := c.regime.State()

	c.runExits(ctx, now, &params, state)

	agg := c.runEntries(ctx, now, &params, state)
	if obs, ok := agg.observation(now); ok {
		st := c.regime.Observe(obs)
		c.metrics.RecordRegime(st.Regime, st.Probability)
	}

	c.metrics.RecordBreakerState(c.risk.BreakerState())
	acct := c.exec.Account()
	c.metrics.RecordCapital(acct.Capital, acct.Available)
	c.metrics.RecordLatency("trade_cycle", time.Since(start).Seconds())
	return ctx.Err()
}

// runExits walks open positions and flattens any that hit the regime-scaled
// stop loss or take profit, or whose market resolved.
func (c *TradeCycle) runExits(ctx context.Context, now time.Time, params *models.RegimeParameters, state models.RegimeState) {
	for _, pos := range c.exec.OpenPositions() {
		if ctx.Err() != nil {
			return
		}
		price := c.exitPrice(ctx, pos)
		if price <= 0 || price > 1 {
			continue
		}

		mk := c.markets.Market(pos.MarketID)
		reason := c.exitReason(pos, mk, price, params)
		if reason == "" {
			continue
		}

		order := &models.Order{
			MarketID:  pos.MarketID,
			TokenID:   pos.TokenID,
			Side:      pos.Side.Opposite(),
			Size:      pos.Size,
			Price:     price,
			Signal:    pos.Signal,
			Reduce:    true,
			Timestamp: now,
		}
		outcome, ok := c.risk.Evaluate(ctx, order, nil)
		if !ok {
			c.metrics.RecordDecision(outcome)
			continue
		}
		fill, err := c.exec.Execute(ctx, order)
		if err != nil {
			c.metrics.RecordError("execute")
			c.log.Error("exit execution failed",
				logger.String("market_id", pos.MarketID),
				logger.String("token_id", pos.TokenID),
				logger.Error(err))
			continue
		}

		c.log.Info("position exited",
			logger.String("reason", reason),
			logger.String("market_id", pos.MarketID),
			logger.String("token_id", pos.TokenID),
			logger.Float64("price", price),
			logger.Float64("realized", fill.Realized))
		c.afterClose(ctx, now, pos, fill, state)
	}
}

// exitPrice prefers the live stream, falls back to the newest stored bar and
// finally the last mark.
func (c *TradeCycle) exitPrice(ctx context.Context, pos *models.Position) float64 {
	if p := c.window.LastPrice(pos.TokenID); p > 0 {
		return p
	}
	if bars, err := c.bars.Latest(ctx, pos.TokenID, 1, c.cfg.Timeframe); err == nil && len(bars) > 0 {
		return bars[len(bars)-1].Close
	}
	return pos.MarkPrice
}

// exitReason returns why the position must close, or "" to keep holding.
// Resolved markets are flattened at the last observed price; settlement
// payout modeling is out of scope.
func (c *TradeCycle) exitReason(pos *models.Position, mk *models.Market, price float64, params *models.RegimeParameters) string {
	if mk != nil && mk.Resolved {
		return exitResolved
	}
	basis := pos.CostBasis()
	if basis <= 0 {
		return ""
	}

	diff := price - pos.AvgEntry
	if pos.Side == models.SideShort {
		diff = -diff
	}
	pnlFrac := diff * pos.Size / basis

	if sl := c.cfg.BaseStopLoss * params.StopLossMult; sl > 0 && pnlFrac <= -sl {
		return exitStopLoss
	}
	if tp := c.cfg.BaseTakeProfit * params.TakeProfitMult; tp > 0 && pnlFrac >= tp {
		return exitTakeProfit
	}
	return ""
}

// obsAccumulator folds per-market observations into one portfolio-level
// observation per cycle, keeping the detector's input cadence at one step
// per cycle regardless of how many markets are tracked.
type obsAccumulator struct {
	rets, vols, rels, moms []float64
}

func (a *obsAccumulator) add(o models.MarketObservation) {
	a.rets = append(a.rets, o.Return)
	a.vols = append(a.vols, o.Volatility)
	a.rels = append(a.rels, o.RelVolume)
	a.moms = append(a.moms, o.Momentum)
}

func (a *obsAccumulator) observation(now time.Time) (models.MarketObservation, bool) {
	if len(a.rets) == 0 {
		return models.MarketObservation{}, false
	}
	return models.MarketObservation{
		Timestamp:  now,
		Return:     meanFloat(a.rets),
		Volatility: meanFloat(a.vols),
		RelVolume:  meanFloat(a.rels),
		Momentum:   meanFloat(a.moms),
	}, true
}

func meanFloat(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (c *TradeCycle) runEntries(ctx context.Context, now time.Time, params *models.RegimeParameters, state models.RegimeState) *obsAccumulator {
	agg := &obsAccumulator{}
	open := make(map[string]struct{})
	for _, pos := range c.exec.OpenPositions() {
		open[posKey(pos.MarketID, pos.TokenID)] = struct{}{}
	}
	base := c.registry.BaseWeights()

	for _, mk := range c.markets.Tracked() {
		if ctx.Err() != nil {
			return agg
		}
		if mk.Resolved {
			continue
		}

		sc := c.assemble(ctx, now, mk)
		if sc == nil {
			continue
		}
		if obs, ok := features.Observation(sc); ok {
			agg.add(obs)
		}

		outputs := c.registry.ComputeAll(ctx, sc)
		for i := range outputs {
			c.metrics.RecordSignal(outputs[i].Signal, string(outputs[i].Direction))
			if err := c.predictions.StoreSignal(ctx, &outputs[i]); err != nil {
				c.metrics.RecordError("prediction_store")
				c.log.Warn("signal store failed",
					logger.String("signal", outputs[i].Signal),
					logger.Error(err))
			}
		}

		combined := c.combiner.Combine(now, outputs, base, params)
		if combined == nil {
			c.metrics.RecordDecision(models.OutcomeNeutral)
			continue
		}
		if err := c.predictions.StoreCombined(ctx, combined); err != nil {
			c.metrics.RecordError("prediction_store")
			c.log.Warn("combined store failed", logger.Error(err))
		}
		if err := c.events.PublishSignal(ctx, combined); err != nil {
			c.metrics.RecordError("publish_signal")
			c.log.Warn("signal publish failed", logger.Error(err))
		}

		c.tryEnter(ctx, now, mk, sc, combined, open, state)
	}
	return agg
}

// assemble builds the immutable context for one market's YES token. Bars are
// required; book, trades and wallet activity are fetched concurrently and
// degrade to nil on failure.
func (c *TradeCycle) assemble(ctx context.Context, now time.Time, mk *models.Market) *models.SignalContext {
	token := mk.YesTokenID
	bars, err := c.bars.Latest(ctx, token, c.cfg.Lookback, c.cfg.Timeframe)
	if err != nil {
		c.metrics.RecordError("context_bars")
		c.log.Warn("bar load failed",
			logger.String("token_id", token),
			logger.Error(err))
		return nil
	}
	if len(bars) == 0 {
		return nil
	}

	var (
		wg      sync.WaitGroup
		book    *models.OrderBookSnapshot
		trades  []models.Trade
		wallets []models.WalletActivity
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		b, err := c.src.OrderBook(ctx, token)
		if err != nil {
			c.metrics.RecordStaleData(gamma.EndpointBook)
			return
		}
		book = b
	}()
	go func() {
		defer wg.Done()
		if live := c.window.Recent(token, c.cfg.WindowTrades); len(live) > 0 {
			trades = live
			return
		}
		ts, err := c.src.RecentTrades(ctx, token, c.cfg.WindowTrades)
		if err != nil {
			c.metrics.RecordStaleData(gamma.EndpointTrades)
			return
		}
		trades = ts
	}()
	go func() {
		defer wg.Done()
		ws, err := c.src.WalletActivity(ctx, mk.ID, now.Add(-c.cfg.WalletWindow))
		if err != nil {
			c.metrics.RecordStaleData(gamma.EndpointActivity)
			return
		}
		wallets = ws
	}()
	wg.Wait()

	return &models.SignalContext{
		Now:          now,
		Market:       mk,
		TokenID:      token,
		Bars:         bars,
		RecentTrades: trades,
		Book:         book,
		Wallets:      wallets,
	}
}

// tryEnter turns one combined opinion into at most one executed order.
func (c *TradeCycle) tryEnter(ctx context.Context, now time.Time, mk *models.Market, sc *models.SignalContext, combined *models.CombinedSignalOutput, open map[string]struct{}, state models.RegimeState) {
	if combined.Direction == models.DirectionNeutral {
		c.metrics.RecordDecision(models.OutcomeNeutral)
		return
	}
	// shorting needs a NO token minted on the venue
	if combined.Direction == models.DirectionShort && !mk.HasNoToken() {
		c.metrics.RecordDecision(models.OutcomeNoShortToken)
		return
	}

	key := posKey(mk.ID, mk.YesTokenID)
	if _, held := open[key]; held {
		// one position per (market, token); no stacking
		c.metrics.RecordDecision(models.OutcomePositionOpen)
		return
	}

	price := entryPrice(sc)
	if price <= 0 || price > 1 {
		c.metrics.RecordError("entry_price")
		return
	}

	mult := c.risk.SizeMultiplier()
	if mult <= 0 {
		c.metrics.RecordDecision(models.OutcomeHalted)
		return
	}

	side := models.SideLong
	if combined.Direction == models.DirectionShort {
		side = models.SideShort
	}
	order := &models.Order{
		MarketID:  mk.ID,
		TokenID:   mk.YesTokenID,
		Side:      side,
		Size:      c.cfg.OrderNotional * mult / price,
		Price:     price,
		Signal:    dominantSignal(combined),
		Timestamp: now,
	}

	outcome, ok := c.risk.Evaluate(ctx, order, combined)
	if !ok {
		c.metrics.RecordDecision(outcome)
		return
	}

	fill, err := c.exec.Execute(ctx, order)
	if err != nil {
		c.metrics.RecordError("execute")
		c.log.Error("entry execution failed",
			logger.String("market_id", mk.ID),
			logger.String("token_id", order.TokenID),
			logger.Error(err))
		return
	}

	c.metrics.RecordDecision(models.OutcomeExecuted)
	c.metrics.RecordFill(string(fill.Side), fill.Fee)
	if err := c.events.PublishFill(ctx, fill); err != nil {
		c.metrics.RecordError("publish_fill")
		c.log.Warn("fill publish failed", logger.Error(err))
	}

	entered := &models.Position{
		MarketID: mk.ID,
		TokenID:  order.TokenID,
		Side:     side,
		Size:     fill.Size,
		AvgEntry: fill.Price,
		OpenedAt: now,
	}
	c.setPending(key, pendingExperience{
		state:  features.StateVector(sc, entered, c.exec.Account(), state),
		signal: order.Signal,
	})
	open[key] = struct{}{}
}

// afterClose records the completed trade for the breaker, the dashboard and
// the replay buffer.
func (c *TradeCycle) afterClose(ctx context.Context, now time.Time, pos *models.Position, fill *models.Fill, state models.RegimeState) {
	c.metrics.RecordDecision(models.OutcomeExecuted)
	c.metrics.RecordFill(string(fill.Side), fill.Fee)
	if err := c.events.PublishFill(ctx, fill); err != nil {
		c.metrics.RecordError("publish_fill")
		c.log.Warn("fill publish failed", logger.Error(err))
	}
	if fill.Realized != 0 {
		c.risk.RecordOutcome(fill.Realized > 0, fill.Realized)
	}

	key := posKey(pos.MarketID, pos.TokenID)
	pend, found := c.takePending(key)
	signal := pos.Signal
	if found && pend.signal != "" {
		signal = pend.signal
	}
	st := pend.state
	if !found {
		// opening snapshot lost across a restart; attribute the reward
		// against the closing state instead
		st = features.StateVector(&models.SignalContext{Now: now, TokenID: pos.TokenID}, pos, c.exec.Account(), state)
	}

	action := models.ActionLong
	if pos.Side == models.SideShort {
		action = models.ActionShort
	}
	reward := fill.Realized
	if basis := pos.CostBasis(); basis > 0 {
		reward = fill.Realized / basis
	}
	c.adapter.Record(models.Experience{
		State:     st,
		Action:    action,
		Reward:    reward,
		Done:      true,
		Signal:    signal,
		MarketID:  pos.MarketID,
		Timestamp: now,
	})
}

func (c *TradeCycle) setPending(key string, p pendingExperience) {
	c.mu.Lock()
	c.pending[key] = p
	c.mu.Unlock()
}

func (c *TradeCycle) takePending(key string) (pendingExperience, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return p, ok
}

// entryPrice prefers the book midpoint over the last bar close.
func entryPrice(sc *models.SignalContext) float64 {
	if sc.Book != nil {
		if mid := sc.Book.MidPrice(); mid > 0 {
			return mid
		}
	}
	return sc.LastPrice()
}

// dominantSignal names the component contributing most to the combined
// opinion; fills and positions carry it for reward attribution.
func dominantSignal(combined *models.CombinedSignalOutput) string {
	best, bestScore := combined.Signal, 0.0
	for _, comp := range combined.Components {
		score := math.Abs(comp.Strength) * comp.Confidence * combined.Weights[comp.Signal]
		if score > bestScore {
			best, bestScore = comp.Signal, score
		}
	}
	return best
}

func posKey(marketID, tokenID string) string {
	return marketID + "|" + tokenID
}
