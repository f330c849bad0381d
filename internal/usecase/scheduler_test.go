package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"OtcPull/internal/domain/models"
	"OtcPull/internal/service/clock"
	"OtcPull/pkg/logger"

	"github.com/shopspring/decimal"
)

type schedulerRig struct {
	clock *clock.Fake
	tr    *fakeTransport
	exec  *Executor
	sched *Scheduler
}

func newSchedulerRig(t *testing.T, now time.Time, cfg SchedulerConfig, assets ...string) *schedulerRig {
	t.Helper()
	cat := newTestCatalog(t, assets...)
	fc := clock.NewFake(now)
	tr := newFakeTransport()
	exec := NewExecutor(tr, cat, fc, nil, logger.Nop(), nopMetrics{}, ExecutorConfig{
		PlaceTimeout: time.Second,
		ResultBuffer: 16,
	})
	sched := NewScheduler(fc, exec, cat, logger.Nop(), nopMetrics{}, cfg)
	t.Cleanup(func() {
		sched.Stop()
		exec.Close()
	})
	return &schedulerRig{clock: fc, tr: tr, exec: exec, sched: sched}
}

func (r *schedulerRig) result(t *testing.T) models.TradeResult {
	t.Helper()
	select {
	case res := <-r.exec.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no trade result")
	}
	return models.TradeResult{}
}

func pred(asset string, dir models.Direction, conf float64, detected time.Time) models.Prediction {
	return models.Prediction{Asset: asset, Direction: dir, Confidence: conf, DetectedAt: detected, AnalysisType: 7}
}

func TestSchedulerFiresAtAnchor(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 12), DefaultSchedulerConfig(), "UK BRENT")

	store := seeded(t, map[string]string{"UK BRENT": "DDDDDD"})
	_ = store.Observe("UK BRENT", models.Up)
	p := NewPredictor(store, r.clock).Predict("UK BRENT")
	if p == nil {
		t.Fatal("expected prediction")
	}

	decision, trade := r.sched.Offer(*p)
	if decision != models.OfferScheduled || trade == nil {
		t.Fatalf("decision %s", decision)
	}
	if !trade.Anchor.Equal(at(9, 31, 0)) || !trade.Anchor.After(trade.CreatedAt) {
		t.Fatalf("anchor %v created %v", trade.Anchor, trade.CreatedAt)
	}
	if trade.State != models.StatePending {
		t.Fatalf("state %s", trade.State)
	}

	if !r.clock.WaitForSleepers(1, time.Second) {
		t.Fatal("scheduler never slept")
	}
	if n := len(r.tr.placeCalls()); n != 0 {
		t.Fatalf("placed %d orders before anchor", n)
	}

	// inside the pre-fire window the trade turns firing and refuses replacement
	r.clock.Set(at(9, 30, 59).Add(950 * time.Millisecond))
	if !waitFor(time.Second, func() bool {
		in := r.sched.InFlight()
		return len(in) == 1 && in[0].State == models.StateFiring
	}) {
		t.Fatalf("trade not firing: %+v", r.sched.InFlight())
	}
	r.clock.Set(at(9, 30, 59).Add(960 * time.Millisecond))
	late := pred("UK BRENT", models.Down, 0.97, r.clock.Now())
	if d, _ := r.sched.Offer(late); d != models.OfferDiscardedBusy {
		t.Fatalf("firing trade must not be replaced, got %s", d)
	}

	r.clock.Set(at(9, 31, 0))
	select {
	case req := <-r.tr.placed:
		if req.Asset.BrokerID != "BRENT_otc" || req.Direction != models.Up {
			t.Fatalf("placed %s %s", req.Asset.BrokerID, req.Direction)
		}
		if !req.Amount.Equal(decimal.NewFromInt(1)) || req.Duration != 60*time.Second {
			t.Fatalf("amount %s duration %v", req.Amount, req.Duration)
		}
		if !req.Anchor.Equal(at(9, 31, 0)) {
			t.Fatalf("anchor %v", req.Anchor)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no placement at anchor")
	}

	res := r.result(t)
	if res.State != models.StateDone || !res.Accepted || res.OrderID == "" {
		t.Fatalf("result %+v", res)
	}
	if !waitFor(time.Second, func() bool { return len(r.sched.InFlight()) == 0 }) {
		t.Fatal("slot not released")
	}
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 5), DefaultSchedulerConfig(), "UK BRENT", "ETH", "ADA")

	var mu sync.Mutex
	active, peak := 0, 0
	r.tr.place = func(ctx context.Context, req models.OrderRequest) models.PlaceResult {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return models.Accepted("order-" + req.Asset.BrokerID)
	}

	now := r.clock.Now()
	want := []models.OfferDecision{models.OfferScheduled, models.OfferScheduled, models.OfferDiscardedCapacity}
	for i, a := range []string{"UK BRENT", "ETH", "ADA"} {
		if d, _ := r.sched.Offer(pred(a, models.Up, 0.90, now)); d != want[i] {
			t.Fatalf("offer %s: %s, want %s", a, d, want[i])
		}
	}
	if n := len(r.sched.InFlight()); n != 2 {
		t.Fatalf("in flight %d", n)
	}

	if !r.clock.WaitForSleepers(2, time.Second) {
		t.Fatal("trades never slept")
	}
	r.clock.Set(at(9, 31, 0))
	r.result(t)
	r.result(t)

	calls := r.tr.placeCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 placements, got %d", len(calls))
	}
	for _, c := range calls {
		if c.req.Asset.Name == "ADA" {
			t.Fatal("discarded asset was placed")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if peak != 2 {
		t.Fatalf("placements did not overlap, peak %d", peak)
	}
}

func TestSchedulerReplacesPending(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 10), DefaultSchedulerConfig(), "ETH")

	d, first := r.sched.Offer(pred("ETH", models.Up, 0.80, r.clock.Now()))
	if d != models.OfferScheduled {
		t.Fatalf("first offer %s", d)
	}
	if !r.clock.WaitForSleepers(1, time.Second) {
		t.Fatal("trade never slept")
	}

	r.clock.Set(at(9, 30, 40))
	d, second := r.sched.Offer(pred("ETH", models.Down, 0.85, r.clock.Now()))
	if d != models.OfferReplaced || second.ID != first.ID || second.Direction != models.Down {
		t.Fatalf("replace: %s %+v", d, second)
	}

	r.clock.Set(at(9, 31, 0))
	res := r.result(t)
	if res.Direction != models.Down {
		t.Fatalf("result direction %s", res.Direction)
	}
	calls := r.tr.placeCalls()
	if len(calls) != 1 || calls[0].req.Direction != models.Down || calls[0].req.Asset.BrokerID != "ETH_otc" {
		t.Fatalf("calls %+v", calls)
	}
}

func TestSchedulerOfferIdempotent(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 10), DefaultSchedulerConfig(), "ETH")
	p := pred("ETH", models.Up, 0.80, r.clock.Now())
	if d, _ := r.sched.Offer(p); d != models.OfferScheduled {
		t.Fatalf("first %s", d)
	}
	for _, conf := range []float64{0.80, 0.79} {
		p.Confidence = conf
		if d, _ := r.sched.Offer(p); d != models.OfferDiscardedBusy {
			t.Fatalf("conf %v: %s", conf, d)
		}
	}
	if n := len(r.sched.InFlight()); n != 1 {
		t.Fatalf("in flight %d", n)
	}
}

func TestSchedulerDiscards(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 5), DefaultSchedulerConfig(), "ETH", "ADA")
	now := r.clock.Now()

	cases := []struct {
		name string
		p    models.Prediction
		want models.OfferDecision
	}{
		{"stale", pred("ETH", models.Up, 0.9, at(9, 29, 10)), models.OfferDiscardedStale},
		{"below threshold", pred("ETH", models.Up, 0.70, now), models.OfferDiscardedThreshold},
		{"unknown asset", pred("MICROSOFT", models.Up, 0.9, now), models.OfferDiscardedUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d, tr := r.sched.Offer(tc.p); d != tc.want || tr != nil {
				t.Fatalf("got %s", d)
			}
		})
	}
	if n := len(r.sched.InFlight()); n != 0 {
		t.Fatalf("in flight %d", n)
	}
}

func TestSchedulerCancelPending(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 20), DefaultSchedulerConfig(), "ADA")
	if d, _ := r.sched.Offer(pred("ADA", models.Down, 0.88, r.clock.Now())); d != models.OfferScheduled {
		t.Fatalf("offer %s", d)
	}
	if !r.sched.Cancel("ADA") {
		t.Fatal("cancel returned false")
	}
	if r.sched.Cancel("ADA") {
		t.Fatal("second cancel must be a no-op")
	}
	res := r.result(t)
	if res.State != models.StateCancelled {
		t.Fatalf("state %s", res.State)
	}
	if !waitFor(time.Second, func() bool { return len(r.sched.InFlight()) == 0 }) {
		t.Fatal("slot not released")
	}
	r.clock.Set(at(9, 31, 0))
	if n := len(r.tr.placeCalls()); n != 0 {
		t.Fatalf("cancelled trade placed %d orders", n)
	}
}

func TestSchedulerStop(t *testing.T) {
	r := newSchedulerRig(t, at(9, 30, 20), DefaultSchedulerConfig(), "ADA", "ETH")
	r.sched.Offer(pred("ADA", models.Down, 0.88, r.clock.Now()))
	r.sched.Stop()

	res := r.result(t)
	if res.State != models.StateCancelled {
		t.Fatalf("state %s", res.State)
	}
	if d, _ := r.sched.Offer(pred("ETH", models.Up, 0.9, r.clock.Now())); d != models.OfferDiscardedStopped {
		t.Fatalf("offer after stop: %s", d)
	}
}
