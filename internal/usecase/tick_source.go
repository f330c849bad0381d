package usecase

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/internal/service/catalog"
	"OtcPull/pkg/logger"

	"github.com/shopspring/decimal"
)

// TickSource produces one tick per call: a live quote from the transport
// when it passes the sanity band, otherwise a synthetic jittered price.
type TickSource struct {
	catalog     *catalog.Catalog
	transport   drepo.Transport
	clock       drepo.Clock
	log         *logger.Logger
	metrics     drepo.Metrics
	liveTimeout time.Duration

	mu       sync.Mutex
	rnd      *rand.Rand
	lastLive map[string]decimal.Decimal
	lastAny  map[string]decimal.Decimal
}

type TickSourceOption func(*TickSource)

// WithLiveTimeout bounds the transport price query.
func WithLiveTimeout(d time.Duration) TickSourceOption {
	return func(s *TickSource) {
		if d > 0 {
			s.liveTimeout = d
		}
	}
}

// WithRandSeed makes the synthetic jitter reproducible.
func WithRandSeed(seed uint64) TickSourceOption {
	return func(s *TickSource) { s.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewTickSource builds a source. transport may be nil, in which case every
// tick is synthetic.
func NewTickSource(cat *catalog.Catalog, transport drepo.Transport, clock drepo.Clock, log *logger.Logger, metrics drepo.Metrics, opts ...TickSourceOption) *TickSource {
	s := &TickSource{
		catalog:     cat,
		transport:   transport,
		clock:       clock,
		log:         log,
		metrics:     metrics,
		liveTimeout: 2 * time.Second,
		rnd:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		lastLive:    make(map[string]decimal.Decimal),
		lastAny:     make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next tick for asset. The only error is an unknown asset;
// transport failures fall back to a synthetic tick.
func (s *TickSource) Next(ctx context.Context, asset string) (models.Tick, error) {
	a, err := s.catalog.Lookup(asset)
	if err != nil {
		return models.Tick{}, err
	}

	if price, ok := s.live(ctx, a); ok {
		s.mu.Lock()
		dir := models.Up
		if last, seen := s.lastLive[asset]; seen {
			dir = models.DirectionOf(price, last)
		}
		s.lastLive[asset] = price
		s.lastAny[asset] = price
		s.mu.Unlock()
		return s.emit(models.Tick{Asset: asset, Price: price, Timestamp: s.clock.Now(), Source: models.SourceLive, Direction: dir}), nil
	}

	s.mu.Lock()
	price := s.synthetic(a)
	dir := models.Up
	if last, seen := s.lastAny[asset]; seen {
		dir = models.DirectionOf(price, last)
	}
	s.lastAny[asset] = price
	s.mu.Unlock()
	s.log.Debug("synthetic tick", logger.String("asset", asset), logger.Stringer("price", price))
	return s.emit(models.Tick{Asset: asset, Price: price, Timestamp: s.clock.Now(), Source: models.SourceSynthetic, Direction: dir}), nil
}

func (s *TickSource) live(ctx context.Context, a models.Asset) (decimal.Decimal, bool) {
	if s.transport == nil {
		return decimal.Zero, false
	}
	qctx, cancel := context.WithTimeout(ctx, s.liveTimeout)
	defer cancel()
	price, ok, err := s.transport.LatestPrice(qctx, a)
	if err != nil {
		s.metrics.RecordError("tick_live")
		s.log.Debug("live price unavailable", logger.String("asset", a.Name), logger.Error(err))
		return decimal.Zero, false
	}
	if !ok {
		return decimal.Zero, false
	}
	if !a.InBand(price) {
		s.metrics.RecordError("tick_band")
		s.log.Warn("live price outside sanity band",
			logger.String("asset", a.Name),
			logger.Stringer("price", price),
			logger.Stringer("low", a.BandLow),
			logger.Stringer("high", a.BandHigh),
		)
		return decimal.Zero, false
	}
	return price, true
}

// synthetic draws base*(1+u*j), u uniform in [-1,1), clamped into the band.
// Caller holds mu.
func (s *TickSource) synthetic(a models.Asset) decimal.Decimal {
	u := decimal.NewFromFloat(s.rnd.Float64()*2 - 1)
	p := a.BasePrice.Mul(decimal.NewFromInt(1).Add(u.Mul(a.Volatility.JitterFraction()))).Round(6)
	if p.LessThan(a.BandLow) {
		p = a.BandLow
	}
	if p.GreaterThan(a.BandHigh) {
		p = a.BandHigh
	}
	return p
}

func (s *TickSource) emit(t models.Tick) models.Tick {
	s.metrics.RecordTick(t.Asset, string(t.Source))
	s.metrics.RecordLastPrice(t.Asset, t.Price.InexactFloat64())
	return t
}
