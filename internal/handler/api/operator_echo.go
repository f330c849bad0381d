package api

import (
	"net/http"
	"sort"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	domsvc "OtcPull/internal/domain/service"
	"OtcPull/internal/service/metrics"
	"OtcPull/internal/service/ratelimit"
	xhttp "OtcPull/pkg/http"
	xlogger "OtcPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ResultLog is the read side of completed trades.
type ResultLog interface {
	Recent(limit int) []models.TradeResult
	Counts() map[models.TradeState]int
}

// OperatorDeps are the pipeline parts the operator endpoints act on.
type OperatorDeps struct {
	Transport drepo.Transport
	Board     domsvc.TradeBoard
	Sink      domsvc.SignalSink
	Results   ResultLog
	Limiter   *ratelimit.Limiter
	Clock     drepo.Clock
	Assets    []string
	// Stop asks the application to shut down; it must not block.
	Stop func()
}

// OperatorEchoHandler serves status, trades, manual signals, cancel and stop.
type OperatorEchoHandler struct {
	logger    *xlogger.Logger
	deps      OperatorDeps
	startedAt time.Time
}

func NewOperatorEchoHandler(logger *xlogger.Logger, deps OperatorDeps) *OperatorEchoHandler {
	metrics.Register()
	return &OperatorEchoHandler{
		logger:    logger.With(xlogger.String("component", "operator_api")),
		deps:      deps,
		startedAt: deps.Clock.Now(),
	}
}

func (h *OperatorEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.GET("/trades", h.Trades)
	g.POST("/signals", h.Signal)
	g.POST("/trades/:asset/cancel", h.Cancel)
	g.POST("/stop", h.StopPipeline)
}

func (h *OperatorEchoHandler) observe(endpoint string, start time.Time) {
	metrics.OperatorLatency.WithLabelValues(endpoint).Observe(h.deps.Clock.Now().Sub(start).Seconds())
}

func (h *OperatorEchoHandler) readiness() (bool, string) {
	if r, ok := h.deps.Transport.(drepo.Readiness); ok {
		return r.Ready()
	}
	return true, "unknown"
}

// Health answers 503 until the transport can place orders.
func (h *OperatorEchoHandler) Health(c echo.Context) error {
	ready, state := h.readiness()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{
		"ready": ready,
		"state": state,
	})
}

func (h *OperatorEchoHandler) Status(c echo.Context) error {
	defer h.observe("status", h.deps.Clock.Now())
	ready, state := h.readiness()
	now := h.deps.Clock.Now()
	assets := append([]string(nil), h.deps.Assets...)
	sort.Strings(assets)
	return xhttp.SuccessResponse(c, models.RuntimeStatus{
		Transport:  h.deps.Transport.Name(),
		Ready:      ready,
		State:      state,
		Assets:     assets,
		InFlight:   len(h.deps.Board.InFlight()),
		Results:    h.deps.Results.Counts(),
		StartedAt:  h.startedAt,
		UptimeSecs: int64(now.Sub(h.startedAt).Seconds()),
	})
}

func (h *OperatorEchoHandler) Trades(c echo.Context) error {
	defer h.observe("trades", h.deps.Clock.Now())
	req := &models.TradesRequest{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, models.TradesResponse{
		InFlight: h.deps.Board.InFlight(),
		Recent:   h.deps.Results.Recent(req.Limit),
	})
}

// Signal injects a manual prediction. It goes through the same scheduler
// rules as generated ones.
func (h *OperatorEchoHandler) Signal(c echo.Context) error {
	defer h.observe("signals", h.deps.Clock.Now())
	if h.deps.Limiter != nil && !h.deps.Limiter.Allow(c.RealIP()) {
		metrics.OperatorActions.WithLabelValues("signals", "rate_limited").Inc()
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "signal rate limit exceeded")
	}
	req := &models.ManualSignalRequest{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		metrics.OperatorActions.WithLabelValues("signals", "invalid").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}
	dir, err := models.ParseDirection(req.Direction)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	decision, trade := h.deps.Sink.Offer(models.Prediction{
		Asset:          req.Asset,
		Direction:      dir,
		Confidence:     req.Confidence,
		BaseConfidence: req.Confidence,
		Pattern:        "manual",
		DetectedAt:     h.deps.Clock.Now(),
	})
	metrics.OperatorActions.WithLabelValues("signals", string(decision)).Inc()
	h.logger.Info("manual signal",
		xlogger.String("asset", req.Asset),
		xlogger.String("direction", string(dir)),
		xlogger.Float64("confidence", req.Confidence),
		xlogger.String("decision", string(decision)),
	)

	resp := models.SignalResponse{Decision: decision, Trade: trade}
	switch {
	case decision == models.OfferDiscardedUnknown:
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown asset %q", req.Asset).
			WithParam("decision", decision))
	case decision.Accepted():
		return xhttp.CreatedResponse(c, resp)
	default:
		return xhttp.DataResponse(c, http.StatusConflict, resp)
	}
}

func (h *OperatorEchoHandler) Cancel(c echo.Context) error {
	defer h.observe("cancel", h.deps.Clock.Now())
	req := &models.CancelRequest{}
	if verr := xhttp.BindRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.deps.Board.Cancel(req.Asset) {
		metrics.OperatorActions.WithLabelValues("cancel", "not_found").Inc()
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no cancellable trade for %q", req.Asset))
	}
	metrics.OperatorActions.WithLabelValues("cancel", "cancelled").Inc()
	h.logger.Info("trade cancelled by operator", xlogger.String("asset", req.Asset))
	return xhttp.SuccessResponse(c, map[string]string{"asset": req.Asset, "state": "cancelling"})
}

func (h *OperatorEchoHandler) StopPipeline(c echo.Context) error {
	metrics.OperatorActions.WithLabelValues("stop", "requested").Inc()
	h.logger.Warn("stop requested by operator", xlogger.String("remote", c.RealIP()))
	if h.deps.Stop != nil {
		h.deps.Stop()
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]bool{"stopping": true})
}

var _ xhttp.Handler = (*OperatorEchoHandler)(nil)
