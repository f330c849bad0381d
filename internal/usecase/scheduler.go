package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/internal/service/catalog"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeFirer is the executor side seen by the scheduler.
type TradeFirer interface {
	Fire(ctx context.Context, t models.ScheduledTrade) models.TradeResult
	Abort(t models.ScheduledTrade, reason string) models.TradeResult
}

type SchedulerConfig struct {
	MaxConcurrent int
	Threshold     float64
	Amount        decimal.Decimal
	Duration      time.Duration
	// FireLead is how long before the anchor the trade stops accepting
	// replacements and turns firing.
	FireLead time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrent: 2,
		Threshold:     DefaultMinConfidence,
		Amount:        decimal.NewFromInt(1),
		Duration:      60 * time.Second,
		FireLead:      100 * time.Millisecond,
	}
}

type slot struct {
	trade     models.ScheduledTrade
	cancel    context.CancelFunc
	cancelled bool
}

// Scheduler turns predictions into minute-anchored trades. It keeps at most
// one pending or firing trade per asset and at most MaxConcurrent overall.
type Scheduler struct {
	clock   drepo.Clock
	firer   TradeFirer
	catalog *catalog.Catalog
	log     *logger.Logger
	metrics drepo.Metrics
	cfg     SchedulerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	slots   map[string]*slot
	stopped bool
}

func NewScheduler(clock drepo.Clock, firer TradeFirer, cat *catalog.Catalog, log *logger.Logger, metrics drepo.Metrics, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if !cfg.Amount.IsPositive() {
		cfg.Amount = def.Amount
	}
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.FireLead <= 0 {
		cfg.FireLead = def.FireLead
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		firer:   firer,
		catalog: cat,
		log:     log,
		metrics: metrics,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(map[string]*slot),
	}
}

// Offer may create a trade, replace the asset's pending trade, or discard.
// The returned trade is a copy.
func (s *Scheduler) Offer(p models.Prediction) (models.OfferDecision, *models.ScheduledTrade) {
	s.mu.Lock()
	decision, t := s.offerLocked(p)
	inflight := len(s.slots)
	s.mu.Unlock()

	s.metrics.RecordOffer(p.Asset, string(decision))
	s.metrics.SetInFlight(inflight)
	fields := []logger.Field{
		logger.String("asset", p.Asset),
		logger.String("direction", string(p.Direction)),
		logger.Float64("confidence", p.Confidence),
		logger.String("decision", string(decision)),
	}
	if t != nil {
		fields = append(fields, logger.String("trade_id", t.ID), logger.Time("anchor", t.Anchor))
		s.log.Info("signal scheduled", fields...)
	} else {
		s.log.Debug("signal discarded", fields...)
	}
	return decision, t
}

func (s *Scheduler) offerLocked(p models.Prediction) (models.OfferDecision, *models.ScheduledTrade) {
	if s.stopped {
		return models.OfferDiscardedStopped, nil
	}
	now := s.clock.Now()
	if !util.NextMinute(p.DetectedAt).After(now) {
		return models.OfferDiscardedStale, nil
	}
	anchor := util.NextMinute(now)

	if sl, ok := s.slots[p.Asset]; ok {
		if sl.trade.State == models.StatePending && !sl.cancelled &&
			sl.trade.Anchor.Equal(anchor) &&
			p.Confidence > sl.trade.Confidence && p.Confidence >= s.cfg.Threshold {
			sl.trade.Direction = p.Direction
			sl.trade.Confidence = p.Confidence
			sl.trade.Prediction = p
			out := sl.trade
			return models.OfferReplaced, &out
		}
		return models.OfferDiscardedBusy, nil
	}
	if len(s.slots) >= s.cfg.MaxConcurrent {
		return models.OfferDiscardedCapacity, nil
	}
	if p.Confidence < s.cfg.Threshold {
		return models.OfferDiscardedThreshold, nil
	}
	asset, err := s.catalog.Lookup(p.Asset)
	if err != nil {
		return models.OfferDiscardedUnknown, nil
	}

	t := models.ScheduledTrade{
		ID:         uuid.NewString(),
		Asset:      asset.Name,
		BrokerID:   asset.BrokerID,
		Direction:  p.Direction,
		Amount:     s.cfg.Amount,
		Duration:   s.cfg.Duration,
		Anchor:     anchor,
		State:      models.StatePending,
		Confidence: p.Confidence,
		Prediction: p,
		CreatedAt:  now,
	}
	tctx, cancel := context.WithCancel(s.ctx)
	sl := &slot{trade: t, cancel: cancel}
	s.slots[p.Asset] = sl
	s.wg.Add(1)
	go s.run(tctx, sl)
	return models.OfferScheduled, &t
}

// run sleeps through the pre-fire window and fires at the anchor.
func (s *Scheduler) run(ctx context.Context, sl *slot) {
	defer s.wg.Done()
	defer sl.cancel()

	anchor := sl.trade.Anchor
	if err := s.clock.SleepUntil(ctx, anchor.Add(-s.cfg.FireLead)); err != nil {
		s.abort(sl, "cancelled before fire")
		return
	}

	s.mu.Lock()
	if sl.cancelled {
		s.mu.Unlock()
		s.abort(sl, "cancelled before fire")
		return
	}
	sl.trade.State = models.StateFiring
	trade := sl.trade
	s.mu.Unlock()

	if err := s.clock.SleepUntil(ctx, anchor); err != nil {
		s.abort(sl, "cancelled before fire")
		return
	}

	s.mu.Lock()
	cancelled := sl.cancelled
	s.mu.Unlock()
	if cancelled {
		s.abort(sl, "cancelled before fire")
		return
	}

	res := s.firer.Fire(ctx, trade)
	s.release(sl, res.State)
}

func (s *Scheduler) abort(sl *slot, reason string) {
	s.mu.Lock()
	trade := sl.trade
	s.mu.Unlock()
	s.firer.Abort(trade, reason)
	s.release(sl, models.StateCancelled)
}

func (s *Scheduler) release(sl *slot, state models.TradeState) {
	s.mu.Lock()
	sl.trade.State = state
	if cur, ok := s.slots[sl.trade.Asset]; ok && cur == sl {
		delete(s.slots, sl.trade.Asset)
	}
	n := len(s.slots)
	s.mu.Unlock()
	s.metrics.SetInFlight(n)
}

// Cancel aborts the asset's trade. A pending trade never fires; a firing
// one has its placement context cancelled, which is best effort.
func (s *Scheduler) Cancel(asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[asset]
	if !ok || sl.cancelled {
		return false
	}
	sl.cancelled = true
	sl.cancel()
	return true
}

// InFlight returns copies of pending and firing trades sorted by anchor then asset.
func (s *Scheduler) InFlight() []models.ScheduledTrade {
	s.mu.Lock()
	out := make([]models.ScheduledTrade, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl.trade)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Anchor.Equal(out[j].Anchor) {
			return out[i].Anchor.Before(out[j].Anchor)
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// Stop cancels every in-flight trade and waits for the fire goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, sl := range s.slots {
		sl.cancelled = true
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
