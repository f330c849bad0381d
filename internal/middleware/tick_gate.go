package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	domrepo "OtcPull/internal/domain/repository"
)

// Proc is the minimal processor interface the gate forwards to.
type Proc interface {
	Process(ctx context.Context, t models.Tick) error
}

// TickGate sits between the tick source and the candle pipeline.
// It validates ticks, keeps per-asset emission order and throttles bursts.
type TickGate struct {
	proc        Proc
	metrics     domrepo.Metrics
	minInterval time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-asset last accepted tick time
}

type GateOption func(*TickGate)

// WithMinInterval drops ticks arriving faster than d for one asset.
func WithMinInterval(d time.Duration) GateOption {
	return func(g *TickGate) {
		if d > 0 {
			g.minInterval = d
		}
	}
}

// WithClock times the pipeline on c instead of the wall clock.
func WithClock(c domrepo.Clock) GateOption {
	return func(g *TickGate) { g.now = c.Now }
}

func NewTickGate(proc Proc, metrics domrepo.Metrics, opts ...GateOption) *TickGate {
	g := &TickGate{
		proc:     proc,
		metrics:  metrics,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Process validates and orders t, then forwards it downstream.
// Dropped ticks return nil; only invalid ticks and downstream failures error.
func (g *TickGate) Process(ctx context.Context, t models.Tick) error {
	start := g.now()
	if err := validateTick(t); err != nil {
		g.metrics.RecordError("gate_validate")
		return err
	}
	if !g.admit(t.Asset, t.Timestamp) {
		g.metrics.RecordError("gate_drop")
		return nil
	}
	if err := g.proc.Process(ctx, t); err != nil {
		g.metrics.RecordError("gate_process")
		return fmt.Errorf("gate downstream: %w", err)
	}
	g.metrics.RecordLatency("gate_process", g.now().Sub(start).Seconds())
	return nil
}

func validateTick(t models.Tick) error {
	if t.Asset == "" {
		return fmt.Errorf("tick asset empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("tick timestamp missing")
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("tick price must be positive")
	}
	if t.Direction != models.Up && t.Direction != models.Down {
		return fmt.Errorf("tick direction %q invalid", t.Direction)
	}
	if t.Source != models.SourceLive && t.Source != models.SourceSynthetic {
		return fmt.Errorf("tick source %q invalid", t.Source)
	}
	return nil
}

// admit rejects out-of-order ticks and ticks inside the throttle interval.
func (g *TickGate) admit(asset string, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastSeen[asset]
	if ok {
		if ts.Before(last) {
			return false
		}
		if g.minInterval > 0 && ts.Sub(last) < g.minInterval {
			return false
		}
	}
	g.lastSeen[asset] = ts
	return true
}
