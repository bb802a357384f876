// Package paper simulates order execution against an in-memory ledger
// backed by a transactional store. Positions move none -> long|short ->
// closed; every fill writes one immutable record and the position and
// account rows in a single store transaction.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
	"PolyPaper/internal/domain/service"
	"PolyPaper/pkg/logger"
)

// Rejections the engine reports before any write happens.
var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInsufficientCapital = errors.New("insufficient available capital")
	ErrPositionConflict    = errors.New("position already open on the opposite side")
	ErrNoPosition          = errors.New("no open position to reduce")
	ErrSideMismatch        = errors.New("reduce side does not match the open position")
)

// Config bounds the simulated account.
type Config struct {
	InitialCapital float64 // seeds the account when the store is empty
	FeeRate        float64 // fee fraction of notional per fill
}

// Engine applies orders to the paper ledger. A per-(market, token) mutex
// serializes fills on the same position; the engine mutex covers the
// validate, persist, commit section so capital checks always see the
// committed account. Store failures abort before any in-memory change.
type Engine struct {
	log   *logger.Logger
	store repository.LedgerStore
	cfg   Config
	clock func() time.Time

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	mu        sync.RWMutex
	positions map[string]*models.Position
	acct      models.Account
}

var _ service.Executor = (*Engine)(nil)

// NewEngine builds an empty engine. Call Load before use to pull the
// persisted ledger.
func NewEngine(cfg Config, store repository.LedgerStore, log *logger.Logger) *Engine {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 1000
	}
	if cfg.FeeRate < 0 {
		cfg.FeeRate = 0
	}
	return &Engine{
		log:       log,
		store:     store,
		cfg:       cfg,
		clock:     time.Now,
		keys:      make(map[string]*sync.Mutex),
		positions: make(map[string]*models.Position),
	}
}

// Load restores the account and open positions from the store, seeding a
// fresh account on first run, and verifies the ledger reconciles.
func (e *Engine) Load(ctx context.Context) error {
	acct, err := e.store.Account(ctx)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct == nil {
		seeded := models.Account{
			Capital:    e.cfg.InitialCapital,
			Available:  e.cfg.InitialCapital,
			PeakEquity: e.cfg.InitialCapital,
			UpdatedAt:  e.clock(),
		}
		if err := e.store.SaveAccount(ctx, &seeded); err != nil {
			return fmt.Errorf("seed account: %w", err)
		}
		acct = &seeded
		e.log.Info("paper account seeded", logger.Float64("capital", seeded.Capital))
	}

	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	e.mu.Lock()
	e.acct = *acct
	e.positions = make(map[string]*models.Position, len(open))
	for _, p := range open {
		cp := *p
		e.positions[positionKey(p.MarketID, p.TokenID)] = &cp
	}
	e.mu.Unlock()

	e.log.Info("paper ledger loaded",
		logger.Int("open_positions", len(open)),
		logger.Float64("capital", acct.Capital),
		logger.Float64("available", acct.Available),
	)
	return e.Reconcile()
}

// Execute applies one validated order and returns the resulting fill.
// Opens and size increases recompute the weighted average entry; reduces
// release cost basis and realize P&L net of the closing fee.
func (e *Engine) Execute(ctx context.Context, order *models.Order) (*models.Fill, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	key := positionKey(order.MarketID, order.TokenID)
	kl := e.keyLock(key)
	kl.Lock()
	defer kl.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.positions[key]
	if order.Reduce {
		return e.reduceLocked(ctx, key, pos, order)
	}
	return e.openLocked(ctx, key, pos, order)
}

func (e *Engine) openLocked(ctx context.Context, key string, existing *models.Position, order *models.Order) (*models.Fill, error) {
	if existing != nil && existing.Side != order.Side {
		return nil, fmt.Errorf("%w: %s held on %s", ErrPositionConflict, existing.Side, key)
	}

	ts := fillTime(order, e.clock)
	notional := order.Notional()
	fee := e.cfg.FeeRate * notional
	cost := notional + fee
	if cost > e.acct.Available+1e-9 {
		return nil, fmt.Errorf("%w: need %.4f, have %.4f", ErrInsufficientCapital, cost, e.acct.Available)
	}

	var next models.Position
	if existing == nil {
		next = models.Position{
			MarketID: order.MarketID,
			TokenID:  order.TokenID,
			Side:     order.Side,
			Size:     order.Size,
			AvgEntry: order.Price,
			Signal:   order.Signal,
			OpenedAt: ts,
		}
	} else {
		next = *existing
		total := next.Size + order.Size
		next.AvgEntry = (next.Size*next.AvgEntry + order.Size*order.Price) / total
		next.Size = total
	}
	next.MarkToMarket(order.Price)

	fill := &models.Fill{
		MarketID:      order.MarketID,
		TokenID:       order.TokenID,
		Side:          order.Side,
		RequestedSize: order.Size,
		Size:          order.Size,
		Price:         order.Price,
		Fee:           fee,
		Signal:        order.Signal,
		Timestamp:     ts,
	}

	acct := e.acct
	acct.Available -= cost
	acct.Capital -= fee
	acct.FeesPaid += fee
	touchEquity(&acct)
	acct.UpdatedAt = ts

	if err := e.store.ApplyFill(ctx, fill, &next, &acct); err != nil {
		return nil, fmt.Errorf("apply fill: %w", err)
	}

	e.positions[key] = &next
	e.acct = acct

	e.log.Info("fill applied",
		logger.String("market_id", fill.MarketID),
		logger.String("token_id", fill.TokenID),
		logger.String("side", string(fill.Side)),
		logger.Float64("size", fill.Size),
		logger.Float64("price", fill.Price),
		logger.Float64("fee", fill.Fee),
	)
	return fill, nil
}

func (e *Engine) reduceLocked(ctx context.Context, key string, pos *models.Position, order *models.Order) (*models.Fill, error) {
	if pos == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, key)
	}
	if order.Side != pos.Side.Opposite() {
		return nil, fmt.Errorf("%w: position %s, order %s", ErrSideMismatch, pos.Side, order.Side)
	}

	ts := fillTime(order, e.clock)
	closed := order.Size
	if closed > pos.Size {
		closed = pos.Size
	}

	fee := e.cfg.FeeRate * closed * order.Price
	diff := order.Price - pos.AvgEntry
	if pos.Side == models.SideShort {
		diff = -diff
	}
	realized := diff*closed - fee
	released := closed * pos.AvgEntry

	next := *pos
	next.Size -= closed
	next.Realized += realized
	next.MarkPrice = order.Price

	fullClose := next.Size <= 1e-9
	if fullClose {
		next.Size = 0
		next.Unrealized = 0
		closedAt := ts
		next.ClosedAt = &closedAt
	} else {
		// Entry price never moves on decreases.
		next.MarkToMarket(order.Price)
	}

	fill := &models.Fill{
		MarketID:      order.MarketID,
		TokenID:       order.TokenID,
		Side:          order.Side,
		RequestedSize: order.Size,
		Size:          closed,
		Price:         order.Price,
		Fee:           fee,
		Signal:        order.Signal,
		Realized:      realized,
		Timestamp:     ts,
	}

	acct := e.acct
	acct.Available += released + realized
	acct.Capital += realized
	acct.RealizedPnL += realized
	acct.FeesPaid += fee
	if fullClose {
		switch {
		case next.Realized > 0:
			acct.Wins++
		case next.Realized < 0:
			acct.Losses++
		}
	}
	touchEquity(&acct)
	acct.UpdatedAt = ts

	if err := e.store.ApplyFill(ctx, fill, &next, &acct); err != nil {
		return nil, fmt.Errorf("apply fill: %w", err)
	}

	if fullClose {
		delete(e.positions, key)
	} else {
		e.positions[key] = &next
	}
	e.acct = acct

	e.log.Info("fill applied",
		logger.String("market_id", fill.MarketID),
		logger.String("token_id", fill.TokenID),
		logger.String("side", string(fill.Side)),
		logger.Float64("size", fill.Size),
		logger.Float64("price", fill.Price),
		logger.Float64("realized", realized),
		logger.Bool("closed", fullClose),
	)
	return fill, nil
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	kl, ok := e.keys[key]
	if !ok {
		kl = &sync.Mutex{}
		e.keys[key] = kl
	}
	return kl
}

func validateOrder(o *models.Order) error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil", ErrInvalidOrder)
	case o.MarketID == "" || o.TokenID == "":
		return fmt.Errorf("%w: missing market or token", ErrInvalidOrder)
	case o.Side != models.SideLong && o.Side != models.SideShort:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case o.Size <= 0 || math.IsNaN(o.Size) || math.IsInf(o.Size, 0):
		return fmt.Errorf("%w: size %v", ErrInvalidOrder, o.Size)
	case o.Price <= 0 || o.Price > 1:
		return fmt.Errorf("%w: price %v outside (0, 1]", ErrInvalidOrder, o.Price)
	}
	return nil
}

func fillTime(o *models.Order, clock func() time.Time) time.Time {
	if o.Timestamp.IsZero() {
		return clock()
	}
	return o.Timestamp
}

// touchEquity rolls peak equity and max drawdown forward after a capital
// change.
func touchEquity(a *models.Account) {
	if a.Capital > a.PeakEquity {
		a.PeakEquity = a.Capital
	}
	if a.PeakEquity > 0 {
		if dd := (a.PeakEquity - a.Capital) / a.PeakEquity; dd > a.MaxDrawdown {
			a.MaxDrawdown = dd
		}
	}
}

func positionKey(marketID, tokenID string) string {
	return marketID + "|" + tokenID
}
