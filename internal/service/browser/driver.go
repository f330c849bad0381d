package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/pkg/logger"

	"github.com/google/uuid"
)

var (
	errButtonNotFound = errors.New("trade button not found")
	errNoConfirmation = errors.New("no order confirmation observed")
)

type clickRequest struct {
	ctx   context.Context
	dir   models.Direction
	reply chan models.PlaceResult
}

// driver owns one asset's tab. Every DOM operation runs on its goroutine.
type driver struct {
	asset   models.Asset
	tab     tab
	cfg     Config
	inspect string
	log     *logger.Logger
	metrics drepo.Metrics

	reqs chan clickRequest
	done chan struct{}
}

func newDriver(asset models.Asset, t tab, cfg Config, log *logger.Logger, metrics drepo.Metrics) *driver {
	return &driver{
		asset:   asset,
		tab:     t,
		cfg:     cfg,
		inspect: inspectExpression(cfg.ErrorSelectors, cfg.ConfirmSelector),
		log:     log.With(logger.String("asset", asset.Name)),
		metrics: metrics,
		reqs:    make(chan clickRequest),
		done:    make(chan struct{}),
	}
}

func (d *driver) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.reqs:
			req.reply <- d.click(req.ctx, req.dir)
		}
	}
}

func (d *driver) place(ctx context.Context, dir models.Direction) models.PlaceResult {
	req := clickRequest{ctx: ctx, dir: dir, reply: make(chan models.PlaceResult, 1)}
	select {
	case d.reqs <- req:
	case <-d.done:
		return models.Unknown(models.ErrNotConnected)
	case <-ctx.Done():
		return models.Unknown(ctx.Err())
	}
	select {
	case r := <-req.reply:
		return r
	case <-ctx.Done():
		return models.Unknown(ctx.Err())
	}
}

// click tries each selector with a short timeout. Clicking nothing is a
// transport error, never a silent success.
func (d *driver) click(ctx context.Context, dir models.Direction) models.PlaceResult {
	var used *Selector
	for _, sel := range ButtonSelectors(dir) {
		if ctx.Err() != nil {
			return models.Unknown(ctx.Err())
		}
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SelectorTimeout)
		err := d.tab.Click(sctx, sel.XPath)
		cancel()
		if err == nil {
			used = &sel
			break
		}
	}
	if used == nil {
		d.metrics.RecordError("browser_button")
		return models.Unknown(fmt.Errorf("%s %w", dir, errButtonNotFound))
	}
	d.log.Info("clicked",
		logger.String("direction", string(dir)),
		logger.String("strategy", used.Strategy),
	)
	return d.observe(ctx)
}

// observe watches the page for the observation window after a click.
func (d *driver) observe(ctx context.Context) models.PlaceResult {
	deadline := time.Now().Add(d.cfg.ObservationWindow)
	poll := d.cfg.ObservationWindow / 10
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	for {
		in, err := d.tab.Inspect(ctx, d.inspect)
		switch {
		case err != nil:
			d.log.Debug("inspect failed", logger.Error(err))
		case in.Error != "":
			return models.Rejected(in.Error)
		case in.Confirmed:
			id := in.OrderID
			if id == "" {
				id = "browser-" + uuid.NewString()
			}
			return models.Accepted(id)
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return models.Unknown(ctx.Err())
		case <-time.After(poll):
		}
	}
	if d.cfg.AcceptOnSilence {
		return models.Accepted("browser-" + uuid.NewString())
	}
	return models.Unknown(errNoConfirmation)
}
