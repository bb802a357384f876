package api

import (
	"encoding/json"
	"net/http"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	domsvc "PolyPaper/internal/domain/service"
	icache "PolyPaper/internal/service/cache"
	"PolyPaper/internal/service/metrics"
	"PolyPaper/internal/service/ratelimit"
	"PolyPaper/internal/services/paper"
	"PolyPaper/internal/services/risk"
	"PolyPaper/internal/services/signals"
	"PolyPaper/internal/usecase"
	xhttp "PolyPaper/pkg/http"
	applogger "PolyPaper/pkg/logger"
	"PolyPaper/pkg/sched"
	"PolyPaper/pkg/util"

	"github.com/labstack/echo/v4"
)

const statusCacheTTL = 5 * time.Second

// OpsHandler exposes the operational surface of the paper trader: health,
// account and position state, bar history and the admin controls.
type OpsHandler struct {
	log       *applogger.Logger
	engine    *paper.Engine
	manager   *risk.Manager
	regime    domsvc.RegimeDetector
	combiner  *signals.Combiner
	bars      *usecase.BarsQuery
	ledger    domrepo.LedgerStore
	collector *usecase.MarketCollector
	feed      *usecase.LiveTradeFeed
	scheduler *sched.Scheduler
	egress    *ratelimit.Limiter

	cache icache.BytesCache
	rl    *ratelimit.Limiter
}

func NewOpsHandler(
	log *applogger.Logger,
	engine *paper.Engine,
	manager *risk.Manager,
	regime domsvc.RegimeDetector,
	combiner *signals.Combiner,
	bars *usecase.BarsQuery,
	ledger domrepo.LedgerStore,
	collector *usecase.MarketCollector,
	feed *usecase.LiveTradeFeed,
	scheduler *sched.Scheduler,
	egress *ratelimit.Limiter,
) *OpsHandler {
	metrics.Register()
	return &OpsHandler{
		log:       log,
		engine:    engine,
		manager:   manager,
		regime:    regime,
		combiner:  combiner,
		bars:      bars,
		ledger:    ledger,
		collector: collector,
		feed:      feed,
		scheduler: scheduler,
		egress:    egress,
		rl:        ratelimit.New(ratelimit.Rule{RPS: 5, Burst: 10}, nil),
	}
}

// SetCache injects a response cache for the status endpoint.
func (h *OpsHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.GET("/fills", h.Fills)
	g.GET("/bars", h.Bars)

	admin := g.Group("/admin")
	admin.POST("/reset-account", h.ResetAccount)
	admin.POST("/halt", h.Halt)
	admin.POST("/clear-halt", h.ClearHalt)
}

// allow applies the per-remote inbound limit and writes the 429 payload on
// rejection.
func (h *OpsHandler) allow(c echo.Context, endpoint string) bool {
	if h.rl.Allow(c.RealIP() + ":" + endpoint) {
		return true
	}
	h.log.Warn("ops rate_limited",
		applogger.String("endpoint", endpoint),
		applogger.String("remote", c.RealIP()))
	return false
}

func (h *OpsHandler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

type healthResponse struct {
	Status     string `json:"status"`
	DataSource string `json:"datasource"`
	BarStore   string `json:"bar_store"`
	Stream     bool   `json:"stream_connected"`
	Scheduler  bool   `json:"scheduler_running"`
}

// Health reports liveness of the upstream data source, the bar store, the
// trade stream and the scheduler. Returns 503 when a dependency is
// unreachable so load balancers rotate the instance out.
func (h *OpsHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	res := healthResponse{
		Status:     "ok",
		DataSource: "ok",
		BarStore:   "ok",
		Stream:     h.feed.IsConnected(),
		Scheduler:  h.scheduler.IsRunning(),
	}
	if err := h.collector.Healthy(ctx); err != nil {
		res.Status = "degraded"
		res.DataSource = err.Error()
	}
	if err := h.bars.Health(ctx); err != nil {
		res.Status = "degraded"
		res.BarStore = err.Error()
	}
	if res.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, res)
	}
	return c.JSON(http.StatusOK, res)
}

type regimeStatus struct {
	Regime       string    `json:"regime"`
	Probability  float64   `json:"probability"`
	Probs        []float64 `json:"probs,omitempty"`
	BarsInRegime int       `json:"bars_in_regime"`
}

type marketStatus struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	YesToken string    `json:"yes_token"`
	NoToken  string    `json:"no_token,omitempty"`
	EndDate  time.Time `json:"end_date"`
	Resolved bool      `json:"resolved"`
}

type statusResponse struct {
	Time            time.Time          `json:"time"`
	Account         models.Account     `json:"account"`
	OpenPositions   []*models.Position `json:"open_positions"`
	Breaker         risk.Status        `json:"breaker"`
	Halted          bool               `json:"halted"`
	HaltReason      string             `json:"halt_reason,omitempty"`
	Regime          regimeStatus       `json:"regime"`
	AdaptiveWeights map[string]float64 `json:"adaptive_weights"`
	Markets         []marketStatus     `json:"markets"`
	Stream          bool               `json:"stream_connected"`
	Jobs            []sched.JobStats   `json:"jobs"`
	RateLimits      []ratelimit.Usage  `json:"rate_limits"`
}

// Status aggregates the trader's account, risk and pipeline state into one
// snapshot. The payload is cached briefly because dashboards poll it.
func (h *OpsHandler) Status(c echo.Context) error {
	start := time.Now()
	endpoint := "status"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}

	const cacheKey = "ops:status"
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err != nil {
			h.log.Warn("ops.status cache_get_error", applogger.Error(err))
		} else if ok {
			return xhttp.SuccessResponse(c, json.RawMessage(b))
		}
	}

	rs := h.regime.State()
	halted, reason := h.manager.Halted()
	res := statusResponse{
		Time:          time.Now().UTC(),
		Account:       h.engine.Account(),
		OpenPositions: h.engine.OpenPositions(),
		Breaker:       h.manager.BreakerStatus(),
		Halted:        halted,
		HaltReason:    reason,
		Regime: regimeStatus{
			Regime:       rs.Regime,
			Probability:  rs.Probability,
			Probs:        rs.Probs,
			BarsInRegime: rs.BarsInRegime,
		},
		AdaptiveWeights: h.combiner.AdaptiveWeights(),
		Stream:          h.feed.IsConnected(),
		Jobs:            h.scheduler.Stats(),
		RateLimits:      h.egress.Usage(),
	}
	for _, mk := range h.collector.Tracked() {
		res.Markets = append(res.Markets, marketStatus{
			ID:       mk.ID,
			Question: mk.Question,
			YesToken: mk.YesTokenID,
			NoToken:  mk.NoTokenID,
			EndDate:  mk.EndDate,
			Resolved: mk.Resolved,
		})
	}

	if h.cache != nil {
		if b, err := json.Marshal(res); err == nil {
			if err := h.cache.SetBytes(cacheKey, b, statusCacheTTL); err != nil {
				h.log.Warn("ops.status cache_set_error", applogger.Error(err))
			}
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *OpsHandler) Positions(c echo.Context) error {
	start := time.Now()
	endpoint := "positions"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.PositionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	positions, err := h.ledger.Positions(c.Request().Context(), req.Status, req.Limit)
	if err != nil {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.log.Error("ops.positions error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, positions, int64(len(positions)))
}

func (h *OpsHandler) Fills(c echo.Context) error {
	start := time.Now()
	endpoint := "fills"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.FillsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	fills, err := h.ledger.Fills(c.Request().Context(), req.Limit)
	if err != nil {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.log.Error("ops.fills error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, fills, int64(len(fills)))
}

func (h *OpsHandler) Bars(c echo.Context) error {
	start := time.Now()
	endpoint := "bars"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	to := time.Now().UTC()
	if req.To != "" {
		t, ok := util.ParseTime(req.To)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to: want RFC3339 or unix seconds"))
		}
		to = t.UTC()
	}
	from := to.Add(-24 * time.Hour)
	if req.From != "" {
		t, ok := util.ParseTime(req.From)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from: want RFC3339 or unix seconds"))
		}
		from = t.UTC()
	}
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be <= to"))
	}

	res, err := h.bars.GetBars(c.Request().Context(), usecase.GetBarsParams{
		TokenID:   req.TokenID,
		From:      from,
		To:        to,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		Limit:     req.Limit,
	})
	if err != nil {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.log.Error("ops.bars error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// ResetAccount wipes the ledger and reseeds capital. Requires confirm=true in
// the body; paper state only, there is nothing to unwind upstream.
func (h *OpsHandler) ResetAccount(c echo.Context) error {
	start := time.Now()
	endpoint := "reset_account"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.ResetAccountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.engine.Reset(c.Request().Context(), req.Capital); err != nil {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.log.Error("ops.reset_account error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.log.Info("account reset", applogger.Float64("capital", req.Capital))
	return xhttp.SuccessResponse(c, h.engine.Account())
}

func (h *OpsHandler) Halt(c echo.Context) error {
	start := time.Now()
	endpoint := "halt"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.HaltRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.manager.Halt(c.Request().Context(), req.Reason); err != nil {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.log.Error("ops.halt error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.log.Warn("trading halted by operator", applogger.String("reason", req.Reason))
	return xhttp.SuccessResponse(c, h.manager.BreakerStatus())
}

func (h *OpsHandler) ClearHalt(c echo.Context) error {
	start := time.Now()
	endpoint := "clear_halt"
	defer h.observe(endpoint, start)

	if !h.allow(c, endpoint) {
		return xhttp.TooManyRequestsResponse(c)
	}
	req := &models.ClearHaltRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.manager.ClearHalt(c.Request().Context()); err != nil {
		metrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.log.Error("ops.clear_halt error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.log.Info("halt cleared by operator", applogger.String("reason", req.Reason))
	return xhttp.SuccessResponse(c, h.manager.BreakerStatus())
}
