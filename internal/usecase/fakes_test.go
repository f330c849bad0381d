package usecase

import (
	"context"
	"sync"
	"time"

	"OtcPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

type nopMetrics struct{}

func (nopMetrics) RecordTick(string, string)       {}
func (nopMetrics) RecordPrediction(string, int)    {}
func (nopMetrics) RecordOffer(string, string)      {}
func (nopMetrics) RecordTrade(string, string)      {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64)   {}
func (nopMetrics) SetInFlight(int)                 {}

type placeCall struct {
	req   models.OrderRequest
	start time.Time
	end   time.Time
}

// fakeTransport records placements. place decides the outcome; nil accepts.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []placeCall
	place    func(ctx context.Context, req models.OrderRequest) models.PlaceResult
	prices   map[string]decimal.Decimal
	priceErr error
	placed   chan models.OrderRequest
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		prices: make(map[string]decimal.Decimal),
		placed: make(chan models.OrderRequest, 16),
	}
}

func (f *fakeTransport) Name() string                { return "fake" }
func (f *fakeTransport) Start(context.Context) error { return nil }
func (f *fakeTransport) Close() error                { return nil }

func (f *fakeTransport) Place(ctx context.Context, req models.OrderRequest) models.PlaceResult {
	start := time.Now()
	var res models.PlaceResult
	if f.place != nil {
		res = f.place(ctx, req)
	} else {
		res = models.Accepted("order-" + req.Asset.BrokerID)
	}
	f.mu.Lock()
	f.calls = append(f.calls, placeCall{req: req, start: start, end: time.Now()})
	f.mu.Unlock()
	f.placed <- req
	return res
}

func (f *fakeTransport) LatestPrice(_ context.Context, a models.Asset) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return decimal.Zero, false, f.priceErr
	}
	p, ok := f.prices[a.Name]
	return p, ok, nil
}

func (f *fakeTransport) setPrice(asset string, p decimal.Decimal) {
	f.mu.Lock()
	f.prices[asset] = p
	f.mu.Unlock()
}

func (f *fakeTransport) placeCalls() []placeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placeCall(nil), f.calls...)
}

// checkingTransport adds a post-expiry result check.
type checkingTransport struct {
	*fakeTransport
	win     models.WinState
	profit  decimal.Decimal
	checked chan string
}

func (c *checkingTransport) CheckResult(_ context.Context, orderID string) (models.WinState, *decimal.Decimal, error) {
	c.checked <- orderID
	p := c.profit
	return c.win, &p, nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []models.JournalEntry
}

func (j *memJournal) Append(_ context.Context, e models.JournalEntry) error {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) all() []models.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.JournalEntry(nil), j.entries...)
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, ss, 0, time.UTC)
}

func dirs(s string) []models.Direction {
	out := make([]models.Direction, 0, len(s))
	for _, c := range s {
		if c == 'U' {
			out = append(out, models.Up)
		} else {
			out = append(out, models.Down)
		}
	}
	return out
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
