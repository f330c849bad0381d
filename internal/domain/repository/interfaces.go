package repository

import (
	"context"
	"time"

	"OtcPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Clock is the only time source of the pipeline.
type Clock interface {
	Now() time.Time
	NowMinute() time.Time
	SleepUntil(ctx context.Context, t time.Time) error
}

// Transport carries an order from intent to the broker's verdict.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Place(ctx context.Context, req models.OrderRequest) models.PlaceResult
	// LatestPrice returns ok=false when no quote is available.
	LatestPrice(ctx context.Context, asset models.Asset) (decimal.Decimal, bool, error)
	Close() error
}

// Readiness is implemented by transports that can report whether orders
// can be placed right now, with a short human-readable state.
type Readiness interface {
	Ready() (bool, string)
}

// FaultReporter is implemented by transports that can stop for good after
// Start. The pipeline cannot continue once a value arrives.
type FaultReporter interface {
	Err() <-chan error
}

// ResultChecker is implemented by transports that see post-expiry results.
type ResultChecker interface {
	CheckResult(ctx context.Context, orderID string) (models.WinState, *decimal.Decimal, error)
}

type SessionProvider interface {
	Current(ctx context.Context) (models.Session, error)
	Invalidate(token string)
}

// CookieSource yields broker cookies from an interactive browser login.
type CookieSource interface {
	CaptureCookies(ctx context.Context) (map[string]string, error)
}

type Journal interface {
	Append(ctx context.Context, e models.JournalEntry) error
	Close() error
}

type Metrics interface {
	RecordTick(asset, source string)
	RecordPrediction(asset string, analysisType int)
	RecordOffer(asset, decision string)
	RecordTrade(asset, state string)
	RecordError(kind string)
	RecordLastPrice(asset string, price float64)
	RecordLatency(op string, seconds float64)
	SetInFlight(n int)
}
