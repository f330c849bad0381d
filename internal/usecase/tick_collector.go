package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	mid "OtcPull/internal/middleware"
	"OtcPull/pkg/logger"
)

// TickCollector polls the tick source for every asset on its own goroutine
// and feeds a single consumer loop through a bounded queue, so ticks of one
// asset are processed in emission order.
type TickCollector struct {
	source   *TickSource
	gate     *mid.TickGate
	clock    drepo.Clock
	log      *logger.Logger
	metrics  drepo.Metrics
	assets   []string
	interval time.Duration
	queue    chan models.Tick

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTickCollector creates a collector. queueSize bounds the hand-off queue.
func NewTickCollector(source *TickSource, gate *mid.TickGate, clock drepo.Clock, log *logger.Logger, metrics drepo.Metrics, assets []string, interval time.Duration, queueSize int) *TickCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &TickCollector{
		source:   source,
		gate:     gate,
		clock:    clock,
		log:      log,
		metrics:  metrics,
		assets:   assets,
		interval: interval,
		queue:    make(chan models.Tick, queueSize),
	}
}

func (c *TickCollector) Start(ctx context.Context) error {
	if len(c.assets) == 0 {
		return errors.New("tick collector: no assets")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	for _, a := range c.assets {
		c.wg.Add(1)
		go c.produce(ctx, a)
	}
	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *TickCollector) produce(ctx context.Context, asset string) {
	defer c.wg.Done()
	next := c.clock.Now()
	for {
		t, err := c.source.Next(ctx, asset)
		if err != nil {
			c.metrics.RecordError("tick_source")
			c.log.Error("tick source stopped", logger.String("asset", asset), logger.Error(err))
			return
		}
		select {
		case c.queue <- t:
		case <-ctx.Done():
			return
		}
		next = next.Add(c.interval)
		if err := c.clock.SleepUntil(ctx, next); err != nil {
			return
		}
	}
}

func (c *TickCollector) consume(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.queue:
			if err := c.gate.Process(ctx, t); err != nil {
				c.log.Warn("tick rejected", logger.String("asset", t.Asset), logger.Error(err))
			}
		}
	}
}

// Shutdown stops producers and the consumer loop.
func (c *TickCollector) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
