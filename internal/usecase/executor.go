package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/internal/service/catalog"
	"OtcPull/pkg/logger"
)

// ExecutorConfig tunes placement and the optional post-expiry check.
type ExecutorConfig struct {
	PlaceTimeout       time.Duration
	ResultGrace        time.Duration
	ResultCheckTimeout time.Duration
	CheckResults       bool
	ResultBuffer       int
}

// DefaultExecutorConfig mirrors the broker deadlines.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		PlaceTimeout:       10 * time.Second,
		ResultGrace:        5 * time.Second,
		ResultCheckTimeout: 5 * time.Second,
		CheckResults:       true,
		ResultBuffer:       256,
	}
}

// Executor places anchored trades through the transport. Each Fire runs on
// the caller's goroutine, so coinciding anchors place in parallel; all
// outcomes land on one merged result stream.
type Executor struct {
	transport drepo.Transport
	catalog   *catalog.Catalog
	clock     drepo.Clock
	journal   drepo.Journal
	log       *logger.Logger
	metrics   drepo.Metrics
	cfg       ExecutorConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	results chan models.TradeResult
}

// NewExecutor wires the transport in at construction. journal may be nil.
func NewExecutor(transport drepo.Transport, cat *catalog.Catalog, clock drepo.Clock, journal drepo.Journal, log *logger.Logger, metrics drepo.Metrics, cfg ExecutorConfig) *Executor {
	def := DefaultExecutorConfig()
	if cfg.PlaceTimeout <= 0 {
		cfg.PlaceTimeout = def.PlaceTimeout
	}
	if cfg.ResultCheckTimeout <= 0 {
		cfg.ResultCheckTimeout = def.ResultCheckTimeout
	}
	if cfg.ResultGrace < 0 {
		cfg.ResultGrace = def.ResultGrace
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = def.ResultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		transport: transport,
		catalog:   cat,
		clock:     clock,
		journal:   journal,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		results:   make(chan models.TradeResult, cfg.ResultBuffer),
	}
}

// Results is the merged stream of every trade outcome.
func (e *Executor) Results() <-chan models.TradeResult { return e.results }

// Fire places t synchronously and interprets the outcome. It never retries.
// If ctx is cancelled while the broker accepts, the trade is orphaned.
func (e *Executor) Fire(ctx context.Context, t models.ScheduledTrade) models.TradeResult {
	res := models.TradeResult{
		TradeID:   t.ID,
		Asset:     t.Asset,
		Direction: t.Direction,
		Anchor:    t.Anchor,
	}

	asset, err := e.catalog.Lookup(t.Asset)
	if err != nil {
		res.State, res.Reason = models.StateFailed, err.Error()
		return e.finish(res)
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PlaceTimeout)
	start := e.clock.Now()
	out := e.transport.Place(pctx, models.OrderRequest{
		Asset:     asset,
		Direction: t.Direction,
		Amount:    t.Amount,
		Duration:  t.Duration,
		Anchor:    t.Anchor,
	})
	cancel()
	e.metrics.RecordLatency("place", e.clock.Now().Sub(start).Seconds())

	switch out.Outcome {
	case models.OutcomeAccepted:
		if out.OrderID == "" {
			res.State, res.Reason = models.StateFailed, "accepted without order id"
			break
		}
		res.Accepted, res.OrderID = true, out.OrderID
		if ctx.Err() != nil {
			res.State = models.StateOrphaned
			e.log.Warn("order accepted after abort",
				logger.String("trade_id", t.ID),
				logger.String("asset", t.Asset),
				logger.String("order_id", out.OrderID),
			)
			break
		}
		res.State = models.StateDone
		e.armResultCheck(t, out.OrderID)
	case models.OutcomeRejected:
		res.State, res.Reason = models.StateFailed, out.Reason
	default:
		res.State, res.Reason = models.StateFailed, unknownReason(out.Err)
	}
	return e.finish(res)
}

// Abort reports a trade that never reached the transport.
func (e *Executor) Abort(t models.ScheduledTrade, reason string) models.TradeResult {
	return e.finish(models.TradeResult{
		TradeID:   t.ID,
		Asset:     t.Asset,
		Direction: t.Direction,
		Anchor:    t.Anchor,
		State:     models.StateCancelled,
		Reason:    reason,
	})
}

func unknownReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, models.ErrPlaceTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return fmt.Sprintf("transport: %v", err)
}

func (e *Executor) armResultCheck(t models.ScheduledTrade, orderID string) {
	checker, ok := e.transport.(drepo.ResultChecker)
	if !ok || !e.cfg.CheckResults || e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		at := t.Anchor.Add(t.Duration + e.cfg.ResultGrace)
		if err := e.clock.SleepUntil(e.ctx, at); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(e.ctx, e.cfg.ResultCheckTimeout)
		defer cancel()
		win, profit, err := checker.CheckResult(cctx, orderID)
		if err != nil {
			e.metrics.RecordError("result_check")
			e.log.Warn("result check failed", logger.String("order_id", orderID), logger.Error(err))
			return
		}
		e.finish(models.TradeResult{
			TradeID:     t.ID,
			Asset:       t.Asset,
			Direction:   t.Direction,
			Anchor:      t.Anchor,
			State:       models.StateDone,
			Accepted:    true,
			OrderID:     orderID,
			Win:         win,
			ProfitDelta: profit,
		})
	}()
}

func (e *Executor) finish(r models.TradeResult) models.TradeResult {
	r.FinishedAt = e.clock.Now()
	e.metrics.RecordTrade(r.Asset, string(r.State))

	fields := []logger.Field{
		logger.String("trade_id", r.TradeID),
		logger.String("asset", r.Asset),
		logger.String("direction", string(r.Direction)),
		logger.Time("anchor", r.Anchor),
		logger.String("state", string(r.State)),
	}
	if r.OrderID != "" {
		fields = append(fields, logger.String("order_id", r.OrderID))
	}
	if r.Reason != "" {
		fields = append(fields, logger.String("reason", r.Reason))
	}
	if r.State == models.StateFailed {
		e.log.Warn("trade failed", fields...)
	} else {
		e.log.Info("trade result", fields...)
	}

	if e.journal != nil {
		jctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.journal.Append(jctx, models.NewJournalEntry(r)); err != nil {
			e.metrics.RecordError("journal")
			e.log.Error("journal append failed", logger.Error(err))
		}
		cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return r
	}
	select {
	case e.results <- r:
	default:
		e.metrics.RecordError("result_dropped")
	}
	return r
}

// Close stops pending result checks and closes the result stream.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.results)
	}
}
