package usecase

import (
	"context"
	"sync"

	"OtcPull/internal/domain/models"
	"OtcPull/pkg/logger"
)

// TradeCollector drains the executor's result stream and keeps the most
// recent results for the operator API.
type TradeCollector struct {
	results <-chan models.TradeResult
	log     *logger.Logger

	mu     sync.RWMutex
	ring   []models.TradeResult
	next   int
	full   bool
	counts map[models.TradeState]int

	started sync.Once
	done    chan struct{}
}

// NewTradeCollector keeps up to capacity results; older ones are overwritten.
func NewTradeCollector(results <-chan models.TradeResult, capacity int, log *logger.Logger) *TradeCollector {
	if capacity <= 0 {
		capacity = 100
	}
	return &TradeCollector{
		results: results,
		log:     log,
		ring:    make([]models.TradeResult, capacity),
		counts:  make(map[models.TradeState]int),
		done:    make(chan struct{}),
	}
}

func (c *TradeCollector) Start(ctx context.Context) error {
	c.started.Do(func() { go c.consume(ctx) })
	return nil
}

func (c *TradeCollector) consume(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-c.results:
			if !ok {
				return
			}
			c.add(r)
		}
	}
}

func (c *TradeCollector) add(r models.TradeResult) {
	c.mu.Lock()
	c.ring[c.next] = r
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.full = true
	}
	// a result-check follow-up repeats the trade; count each trade once
	if r.Win == models.WinUnknown && r.State.Terminal() {
		c.counts[r.State]++
	}
	c.mu.Unlock()
	c.log.Debug("result collected",
		logger.String("trade_id", r.TradeID),
		logger.String("state", string(r.State)),
	)
}

// Recent returns up to limit results, newest first.
func (c *TradeCollector) Recent(limit int) []models.TradeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.next
	if c.full {
		n = len(c.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.TradeResult, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (c.next - i + len(c.ring)) % len(c.ring)
		out = append(out, c.ring[idx])
	}
	return out
}

// Counts returns how many trades ended in each state.
func (c *TradeCollector) Counts() map[models.TradeState]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.TradeState]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Shutdown waits for the drain goroutine to exit after ctx is cancelled or
// the result stream is closed.
func (c *TradeCollector) Shutdown(ctx context.Context) error {
	// never started: nothing to wait for
	c.started.Do(func() { close(c.done) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
